package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/uniplexprotocol/gate/pkg/contracts"
	"github.com/uniplexprotocol/gate/pkg/crypto"
)

// RefresherConfig configures the background refresher's upstream client.
type RefresherConfig struct {
	BaseURL          string
	GateID           string
	GateSecret       string // HS256 signing key for the bearer token
	CatalogInterval  time.Duration
	RevocationInterval time.Duration
	IssuerKeysInterval time.Duration
	HTTPClient       *http.Client
}

// Refresher polls the upstream Uniplex control plane for fresh catalog,
// revocation, and issuer-key snapshots, each on its own ticker so a slow or
// failing fetch of one entry never delays the others (SPEC_FULL.md §4.2).
// A failed fetch leaves the existing entry in place rather than writing a
// partial or empty one — staleness is visible to callers via Store's
// freshness flag, never silently reset.
type Refresher struct {
	store  *Store
	cfg    RefresherConfig
	client *http.Client
	logger *slog.Logger
}

// NewRefresher builds a Refresher bound to a Store.
func NewRefresher(store *Store, cfg RefresherConfig) *Refresher {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Refresher{
		store:  store,
		cfg:    cfg,
		client: client,
		logger: slog.Default().With("component", "cache.refresher"),
	}
}

// gateClaims is the bearer token the refresher presents to the control
// plane, narrowed to what identifies this gate process.
type gateClaims struct {
	jwt.RegisteredClaims
	GateID string `json:"gate_id"`
}

func (r *Refresher) bearerToken() (string, error) {
	now := time.Now().UTC()
	claims := gateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   r.cfg.GateID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		GateID: r.cfg.GateID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(r.cfg.GateSecret))
}

func (r *Refresher) get(ctx context.Context, path string, out any) error {
	tok, err := r.bearerToken()
	if err != nil {
		return fmt.Errorf("sign bearer token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, path, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Start launches the three independent refresh loops. It returns
// immediately; loops stop when ctx is canceled.
func (r *Refresher) Start(ctx context.Context) {
	go r.loop(ctx, "catalog", r.cfg.CatalogInterval, r.refreshCatalog)
	go r.loop(ctx, "revocations", r.cfg.RevocationInterval, r.refreshRevocations)
	go r.loop(ctx, "issuer_keys", r.cfg.IssuerKeysInterval, r.refreshIssuerKeys)
}

func (r *Refresher) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := fn(ctx); err != nil {
		r.logger.WarnContext(ctx, "initial cache refresh failed, serving stale entry", "entry", name, "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				r.logger.WarnContext(ctx, "cache refresh failed, serving stale entry", "entry", name, "error", err)
			}
		}
	}
}

func (r *Refresher) refreshCatalog(ctx context.Context) error {
	var catalog contracts.Catalog
	if err := r.get(ctx, "/v1/gates/"+r.cfg.GateID+"/catalog", &catalog); err != nil {
		return err
	}
	catalog.BuildIndex()
	r.store.SetCatalog(&catalog, r.cfg.CatalogInterval, time.Now())
	return nil
}

func (r *Refresher) refreshRevocations(ctx context.Context) error {
	var body struct {
		CredentialIDs []string `json:"credential_ids"`
	}
	if err := r.get(ctx, "/v1/gates/"+r.cfg.GateID+"/revocations", &body); err != nil {
		return err
	}
	r.store.SetRevocations(body.CredentialIDs, r.cfg.RevocationInterval, time.Now())
	return nil
}

func (r *Refresher) refreshIssuerKeys(ctx context.Context) error {
	var body struct {
		Keys map[string]string `json:"issuer_public_keys"` // issuer_id -> hex pubkey
	}
	if err := r.get(ctx, "/v1/gates/"+r.cfg.GateID+"/issuer-keys", &body); err != nil {
		return err
	}
	ring, err := crypto.NewIssuerKeyringFromHex(body.Keys)
	if err != nil {
		return fmt.Errorf("decode issuer keys: %w", err)
	}
	r.store.SetIssuerKeys(ring, r.cfg.IssuerKeysInterval, time.Now())
	return nil
}
