// Command gate runs a standalone Local Permission Gate process. It exposes
// the downstream tool-invocation surface over stdio: each input line is a
// JSON tool-call request, each output line the corresponding result.
//
// This binary wires every package in the module together with an
// in-process demonstration catalog and a single self-issued credential, so
// the gate can be exercised end to end without a running Uniplex control
// plane. A production deployment would instead populate the Cache Store
// from the upstream API (SPEC_FULL.md §4.2) rather than from literals here.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/uniplexprotocol/gate/pkg/cache"
	"github.com/uniplexprotocol/gate/pkg/config"
	"github.com/uniplexprotocol/gate/pkg/constraints"
	"github.com/uniplexprotocol/gate/pkg/contracts"
	"github.com/uniplexprotocol/gate/pkg/crypto"
	"github.com/uniplexprotocol/gate/pkg/observability"
	"github.com/uniplexprotocol/gate/pkg/obligations"
	"github.com/uniplexprotocol/gate/pkg/pipeline"
	"github.com/uniplexprotocol/gate/pkg/ratelimit"
	"github.com/uniplexprotocol/gate/pkg/session"
	"github.com/uniplexprotocol/gate/pkg/toolwrapper"
)

// callRequest is one line of stdin: a downstream tool invocation.
type callRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Meta      struct {
		SessionID    string `json:"session_id"`
		CredentialID string `json:"credential_id"`
	} `json:"meta"`
}

// callResponse is one line of stdout: the gate's verdict plus, on permit,
// the tool's output.
type callResponse struct {
	IsError bool           `json:"isError"`
	Content map[string]any `json:"content,omitempty"`
	Meta    responseMeta   `json:"_meta"`
}

type responseMeta struct {
	Denial      *contracts.Denial             `json:"denial,omitempty"`
	Suggestions []string                      `json:"suggestions,omitempty"`
	Attestation *observability.ToolCallAttestation `json:"attestation,omitempty"`
	Consumption *contracts.ConsumptionReceipt `json:"consumption,omitempty"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	g, err := bootstrap(cfg)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	if err := g.run(os.Stdin, os.Stdout); err != nil && err != io.EOF {
		logger.Error("serve loop exited", "error", err)
		os.Exit(1)
	}
}

// gate bundles the wired-up subsystems the stdio loop dispatches through.
type gate struct {
	wrapper     *toolwrapper.Wrapper
	sessions    *session.Store
	obligations *obligations.Tracker
	health      *observability.HealthRegistry
	demoCred    *contracts.Credential
}

func bootstrap(cfg *config.Config) (*gate, error) {
	signer, err := crypto.NewEd25519Signer(cfg.SigningKeyID)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}

	issuerSigner, err := crypto.NewEd25519Signer("demo-issuer")
	if err != nil {
		return nil, fmt.Errorf("issuer signer: %w", err)
	}
	keyring := crypto.NewIssuerKeyring()
	if err := keyring.Set("demo-issuer", issuerSigner.PublicKey()); err != nil {
		return nil, fmt.Errorf("keyring: %w", err)
	}

	catalog := demoCatalog(cfg.GateID)

	store := cache.New(cache.FailMode(cfg.Cache.FailMode), nil)
	now := time.Now()
	store.SetCatalog(catalog, cfg.Cache.CatalogMaxAge, now)
	store.SetRevocations(nil, cfg.Cache.RevocationMaxAge, now)
	store.SetIssuerKeys(keyring, cfg.Cache.CatalogMaxAge, now)

	limiter := ratelimit.New()
	limiter.RegisterRule("flights:search", 60, time.Minute)
	limiter.RegisterRule("flights:book", 5, time.Minute)

	cumulative := constraints.NewCumulativeTracker(24 * time.Hour)

	anon := pipeline.AnonymousPolicy{
		Enabled: cfg.Anonymous.Enabled,
		AllowedActions: func() map[string]bool {
			m := make(map[string]bool, len(cfg.Anonymous.AllowedActions))
			for _, a := range cfg.Anonymous.AllowedActions {
				m[a] = true
			}
			return m
		}(),
		Constraints: contracts.ConstraintMap{contracts.KeyDataReadOnly: cfg.Anonymous.ReadOnly},
	}

	p := pipeline.New(store, limiter, cumulative, anon)

	registry := toolwrapper.NewRegistry()
	if err := registry.Register(demoSearchTool()); err != nil {
		return nil, err
	}
	if err := registry.Register(demoBookTool()); err != nil {
		return nil, err
	}

	auditLog := observability.NewMemoryAuditLog()
	wrapper := toolwrapper.New(registry, p, signer, cfg.SigningKeyID, auditLog, cfg.GateID)

	demoCred := issueDemoCredential(issuerSigner, cfg.GateID)

	return &gate{
		wrapper:     wrapper,
		sessions:    session.New(),
		obligations: obligations.NewTracker(15 * time.Minute),
		health:      observability.NewHealthRegistry(),
		demoCred:    demoCred,
	}, nil
}

func (g *gate) run(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req callRequest
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(callResponse{IsError: true, Meta: responseMeta{Denial: &contracts.Denial{
				Code: "invalid_request", Message: err.Error(),
			}}})
			continue
		}
		resp := g.handle(req)
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (g *gate) handle(req callRequest) callResponse {
	now := time.Now()
	sess := g.sessions.GetOrCreate(req.Meta.SessionID, now)

	var cred *contracts.Credential
	if sess.Credential != nil {
		cred = sess.Credential
	} else if req.Meta.CredentialID == g.demoCred.CredentialID {
		cred = g.demoCred
		g.sessions.Bind(sess.SessionID, cred, now)
	}

	outcome, err := g.wrapper.Call(context.Background(), req.Name, req.Arguments, toolwrapper.CallContext{
		SessionID:  sess.SessionID,
		Credential: cred,
		SourceID:   sess.SessionID,
		Now:        now,
	})
	if err != nil {
		return callResponse{IsError: true, Meta: responseMeta{Denial: &contracts.Denial{
			Code: "internal_error", Message: err.Error(),
		}}}
	}

	if outcome.Denial != nil {
		g.health.RecordDecision(req.Name, false, outcome.Denial.Code)
		return callResponse{
			IsError: true,
			Meta: responseMeta{
				Denial:      outcome.Denial,
				Suggestions: outcome.Obligations,
				Attestation: &outcome.Attestation,
			},
		}
	}

	g.health.RecordDecision(req.Name, true, "")
	return callResponse{
		IsError: false,
		Content: outcome.Output,
		Meta: responseMeta{
			Attestation: &outcome.Attestation,
			Consumption: outcome.Receipt,
		},
	}
}

// demoCatalog returns a small, in-process stand-in for the signed catalog
// the gate would otherwise fetch from the Uniplex control plane.
func demoCatalog(gateID string) *contracts.Catalog {
	c := &contracts.Catalog{
		GateID:               gateID,
		Version:              1,
		MinCompatibleVersion: 1,
		PublishedAt:          time.Now(),
		Permissions: []contracts.Permission{
			{
				Key:         "flights:search",
				DisplayName: "Search flights",
				Risk:        contracts.RiskLow,
				DefaultConstraints: contracts.ConstraintMap{
					contracts.KeyDataReadOnly:   true,
					contracts.KeyRatePerMinute:  float64(60),
				},
			},
			{
				Key:         "flights:book",
				DisplayName: "Book a flight",
				Risk:        contracts.RiskHigh,
				DefaultConstraints: contracts.ConstraintMap{
					contracts.KeyCostMaxPerAction: float64(50000),
					contracts.KeyPlatformFeeBps:   float64(250),
				},
				UpgradeTemplate: "request a credential with the flights:book claim",
			},
		},
	}
	c.BuildIndex()
	return c
}

func demoSearchTool() *toolwrapper.Tool {
	return &toolwrapper.Tool{
		Name:          "flights.search",
		PermissionKey: "flights:search",
		InputSchema: `{
			"type": "object",
			"properties": {"origin": {"type": "string"}, "destination": {"type": "string"}},
			"required": ["origin", "destination"]
		}`,
		Handler: func(_ context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{
				"results": []map[string]any{
					{"flight": "UX101", "origin": input["origin"], "destination": input["destination"], "price": "212.50"},
				},
			}, nil
		},
	}
}

func demoBookTool() *toolwrapper.Tool {
	return &toolwrapper.Tool{
		Name:          "flights.book",
		PermissionKey: "flights:book",
		InputSchema: `{
			"type": "object",
			"properties": {"flight": {"type": "string"}, "price": {"type": "string"}},
			"required": ["flight", "price"]
		}`,
		Billable: true,
		AmountMapping: &toolwrapper.ConstraintMapping{
			Source:    toolwrapper.AmountInput,
			Path:      "$.price",
			Transform: toolwrapper.TransformDollarsToCents,
		},
		Handler: func(_ context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"confirmation": "CONF-" + fmt.Sprint(input["flight"])}, nil
		},
	}
}

func issueDemoCredential(issuerSigner *crypto.Ed25519Signer, gateID string) *contracts.Credential {
	cred := &contracts.Credential{
		CredentialID: "demo-credential-1",
		IssuerID:     "demo-issuer",
		SubjectID:    "demo-subject-1",
		GateID:       gateID,
		IssuedAt:     time.Now(),
		ExpiresAt:    time.Now().Add(24 * time.Hour),
		Claims: []contracts.Claim{
			{PermissionKey: "flights:search"},
			{PermissionKey: "flights:book", Constraints: contracts.ConstraintMap{
				contracts.KeyCostMaxPerAction: float64(100000),
			}},
		},
	}
	cred.BuildClaimsIndex()
	_ = issuerSigner.SignCredential(cred)
	return cred
}
