// Package toolwrapper implements the gate's Tool Wrapper (SPEC_FULL.md
// §4.8): the boundary between an agent's raw tool call and the verification
// pipeline. A wrapped tool declares its required permission, its input
// schema, and how to pull a billable amount out of its arguments; the
// wrapper validates, binds, calls the pipeline, and — on permit — invokes
// the tool's handler and emits an audit attestation plus, when the
// permission is billable, a consumption receipt.
package toolwrapper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/uniplexprotocol/gate/internal/decimal"
	"github.com/uniplexprotocol/gate/pkg/contracts"
	"github.com/uniplexprotocol/gate/pkg/crypto"
	"github.com/uniplexprotocol/gate/pkg/observability"
	"github.com/uniplexprotocol/gate/pkg/pipeline"
	"github.com/uniplexprotocol/gate/pkg/receipts"
)

// AmountSource selects how a tool's billable amount is obtained.
type AmountSource string

const (
	AmountFixed AmountSource = "fixed"
	AmountInput AmountSource = "input"
)

// Transform names a value transform applied after extraction from input.
type Transform string

const (
	TransformNone           Transform = ""
	TransformDollarsToCents Transform = "dollars_to_cents"
)

// ConstraintMapping binds a value the evaluator needs (an amount, a write
// flag, a PII flag) to either a fixed constant or a JSONPath expression
// evaluated against the tool's input arguments.
type ConstraintMapping struct {
	Source    AmountSource
	Fixed     any
	Path      string
	Transform Transform
}

// Resolve extracts the mapped value from input, applying the transform.
func (m ConstraintMapping) Resolve(input map[string]any) (any, error) {
	switch m.Source {
	case AmountFixed:
		return m.Fixed, nil
	case AmountInput:
		raw, err := jsonpath.Get(m.Path, input)
		if err != nil {
			return nil, fmt.Errorf("jsonpath %q: %w", m.Path, err)
		}
		return applyTransform(m.Transform, raw)
	default:
		return nil, fmt.Errorf("unknown constraint mapping source %q", m.Source)
	}
}

func applyTransform(t Transform, raw any) (any, error) {
	switch t {
	case TransformNone:
		return raw, nil
	case TransformDollarsToCents:
		s, ok := raw.(string)
		if !ok {
			if f, ok := raw.(float64); ok {
				s = fmt.Sprintf("%v", f)
			} else {
				return nil, fmt.Errorf("dollars_to_cents requires a string or number, got %T", raw)
			}
		}
		cents, err := decimal.Normalize(s, 2, decimal.Round)
		if err != nil {
			return nil, err
		}
		return cents, nil
	default:
		return nil, fmt.Errorf("unknown transform %q", t)
	}
}

// Handler runs the tool's actual logic once the call has been permitted.
type Handler func(ctx context.Context, input map[string]any) (map[string]any, error)

// Tool is a single registered tool definition.
type Tool struct {
	Name             string
	PermissionKey    string
	InputSchema      string // JSON Schema document (Draft 2020-12), empty means no validation
	AmountMapping    *ConstraintMapping
	WriteMapping     *ConstraintMapping
	PIIMapping       *ConstraintMapping
	Billable         bool
	PricePerUnitCents int64 // used when Billable and no per-call amount mapping is set
	Handler          Handler

	compiledSchema *jsonschema.Schema
}

// Registry holds registered tools, keyed by name.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register compiles the tool's input schema (if any) and adds it to the
// registry. Registration fails closed: a malformed schema is rejected here,
// not discovered on the first call.
func (r *Registry) Register(t *Tool) error {
	if t.InputSchema != "" {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := "mem://tools/" + t.Name + ".schema.json"
		if err := c.AddResource(url, strings.NewReader(t.InputSchema)); err != nil {
			return fmt.Errorf("tool %q: schema load failed: %w", t.Name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return fmt.Errorf("tool %q: schema compile failed: %w", t.Name, err)
		}
		t.compiledSchema = compiled
	}
	r.tools[t.Name] = t
	return nil
}

func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// CallContext carries the identity and environment a call executes under.
type CallContext struct {
	SessionID    string
	Credential   *contracts.Credential
	SourceID     string
	Now          time.Time
}

// Outcome is the full result of a wrapped call: either a denial or a
// successful result plus its audit attestation and, if billable, receipt.
type Outcome struct {
	Denial       *contracts.Denial
	ReasonCodes  []string
	Obligations  []string
	Output       map[string]any
	Attestation  observability.ToolCallAttestation
	Receipt      *contracts.ConsumptionReceipt
}

// Wrapper ties a tool registry to the verification pipeline, a receipt
// signer, and an audit log.
type Wrapper struct {
	Registry     *Registry
	Pipeline     *pipeline.Pipeline
	Signer       crypto.Signer
	SigningKeyID string
	AuditLog     observability.AuditLog
	GateID       string
}

// New builds a Wrapper from its collaborators. signingKeyID is stamped onto
// every receipt's detached proof so a verifier can look up the right
// issuer key without trial-and-error across a key rotation.
func New(registry *Registry, p *pipeline.Pipeline, signer crypto.Signer, signingKeyID string, auditLog observability.AuditLog, gateID string) *Wrapper {
	return &Wrapper{Registry: registry, Pipeline: p, Signer: signer, SigningKeyID: signingKeyID, AuditLog: auditLog, GateID: gateID}
}

// Call validates input, runs the pipeline, and — on permit — invokes the
// tool handler, emitting an audit attestation and consumption receipt.
func (w *Wrapper) Call(ctx context.Context, toolName string, input map[string]any, callCtx CallContext) (Outcome, error) {
	tool, ok := w.Registry.Lookup(toolName)
	if !ok {
		return Outcome{Denial: &contracts.Denial{Code: contracts.CodePermissionDenied, Message: "unknown tool"}}, nil
	}

	if tool.compiledSchema != nil {
		if err := tool.compiledSchema.Validate(input); err != nil {
			return Outcome{Denial: &contracts.Denial{Code: contracts.CodeInvalidNumeric, Message: "input schema validation failed: " + err.Error()}}, nil
		}
	}

	now := callCtx.Now
	if now.IsZero() {
		now = time.Now()
	}

	req := pipeline.Request{
		Action:     tool.PermissionKey,
		Credential: callCtx.Credential,
		SourceID:   callCtx.SourceID,
		Now:        now,
	}

	// Mapping failures log and skip that mapping; they never fail the call
	// (spec.md §4.8) — a tool still runs at its zero-valued flags/no amount
	// rather than being denied over a malformed extraction expression.
	var amountCents *int64
	if tool.AmountMapping != nil {
		resolved, err := tool.AmountMapping.Resolve(input)
		if err != nil {
			w.logMappingFailure(toolName, "amount", err)
		} else if cents, err := toInt64(resolved); err != nil {
			w.logMappingFailure(toolName, "amount", err)
		} else {
			amountCents = &cents
			req.AmountCanonical = amountCents
		}
	}
	if tool.WriteMapping != nil {
		resolved, err := tool.WriteMapping.Resolve(input)
		if err != nil {
			w.logMappingFailure(toolName, "write", err)
		} else if b, ok := resolved.(bool); ok {
			req.DataIsWrite = b
		}
	}
	if tool.PIIMapping != nil {
		resolved, err := tool.PIIMapping.Resolve(input)
		if err != nil {
			w.logMappingFailure(toolName, "pii", err)
		} else if b, ok := resolved.(bool); ok {
			req.DataIsPII = b
		}
	}

	result := w.Pipeline.Verify(req)

	attestation := observability.ToolCallAttestation{
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
		SessionID:  callCtx.SessionID,
		ToolName:   toolName,
		Decision:   result.Decision,
		Inputs:     input,
		DurationMs: 0,
	}
	if callCtx.Credential != nil {
		attestation.CredentialID = callCtx.Credential.CredentialID
	}
	if result.Denial != nil {
		attestation.DenialCode = result.Denial.Code
	}

	if !result.Permit() {
		if w.AuditLog != nil {
			_ = w.AuditLog.Append(attestation)
		}
		return Outcome{Denial: result.Denial, ReasonCodes: result.ReasonCodes, Obligations: result.Obligations, Attestation: attestation}, nil
	}

	start := time.Now()
	output, err := tool.Handler(ctx, input)
	if !start.IsZero() {
		attestation.DurationMs = time.Since(start).Milliseconds()
	}
	if err != nil {
		if w.AuditLog != nil {
			_ = w.AuditLog.Append(attestation)
		}
		return Outcome{}, fmt.Errorf("tool %q handler failed: %w", toolName, err)
	}
	attestation.Outputs = output

	outcome := Outcome{
		ReasonCodes: result.ReasonCodes,
		Obligations: result.Obligations,
		Output:      output,
		Attestation: attestation,
	}

	if tool.Billable && callCtx.Credential != nil {
		costCents := tool.PricePerUnitCents
		if amountCents != nil {
			costCents = *amountCents
		}
		receipt, err := w.issueReceipt(tool, callCtx, result, costCents, now)
		if err != nil {
			return outcome, fmt.Errorf("receipt issuance failed: %w", err)
		}
		outcome.Receipt = receipt
	}

	if w.AuditLog != nil {
		_ = w.AuditLog.Append(attestation)
	}
	return outcome, nil
}

// issueReceipt delegates to the Receipt Issuer (pkg/receipts) rather than
// re-deriving cost and fee here: the per-call price this call resolved to
// is stamped into the effective constraints' per_call_cents term so
// receipts.Issue's pricing-model derivation reproduces exactly costCents,
// keeping the wrapper's receipts byte-for-byte reconstructable by
// receipts.Verify.
func (w *Wrapper) issueReceipt(tool *Tool, callCtx CallContext, result contracts.VerifyResult, costCents int64, now time.Time) (*contracts.ConsumptionReceipt, error) {
	effective := result.EffectiveConstraints.Clone()
	if effective == nil {
		effective = contracts.ConstraintMap{}
	}
	effective[contracts.KeyPricingModel] = contracts.PricingPerCall
	effective[contracts.KeyPricingPerCallCents] = costCents

	return receipts.Issue(w.Signer, w.SigningKeyID, receipts.IssueInput{
		GateID:               w.GateID,
		SubjectID:            callCtx.Credential.SubjectID,
		CredentialID:         callCtx.Credential.CredentialID,
		PermissionKey:        tool.PermissionKey,
		EffectiveConstraints: effective,
		Units:                1,
		Now:                  now,
	})
}

// logMappingFailure records a skipped constraint mapping. The call proceeds
// without the mapped value rather than failing closed over an extraction
// error (spec.md §4.8).
func (w *Wrapper) logMappingFailure(toolName, mapping string, err error) {
	slog.Warn("tool constraint mapping failed, skipping",
		"tool", toolName, "mapping", mapping, "error", err)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected a numeric amount, got %T", v)
	}
}
