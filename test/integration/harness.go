// Package integration provides a reusable test harness for end-to-end
// testing of the workflow engine server. It starts a full HTTP server
// with in-memory stores and a test JWT issuer.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/odonata-labs/ledgerflow/internal/config"
	"github.com/odonata-labs/ledgerflow/internal/definition"
	"github.com/odonata-labs/ledgerflow/internal/engine"
	"github.com/odonata-labs/ledgerflow/internal/graph"
	"github.com/odonata-labs/ledgerflow/internal/observability"
	"github.com/odonata-labs/ledgerflow/internal/transport"
)

// TestHarness encapsulates a fully wired engine instance for
// integration testing. All traffic goes through the real router with
// real JWT verification against the harness's own token issuer.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Graphs           *graph.Service
	Engine           *engine.Engine
	IdempotencyStore *engine.MemoryIdempotencyStore
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	seedDirs               []string
	enforceMandatoryEvents bool
	idempotencyEnabled     bool
	handlerTimeout         time.Duration
}

// WithSeeds loads workflow seed YAML files from the given directories
// before the server starts.
func WithSeeds(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.seedDirs = dirs
	}
}

// WithMandatoryEventEnforcement makes fires refuse to leave a state
// whose mandatory events were not logged.
func WithMandatoryEventEnforcement() HarnessOption {
	return func(c *harnessConfig) {
		c.enforceMandatoryEvents = true
	}
}

// WithIdempotency enables fire deduplication with an in-memory store.
func WithIdempotency() HarnessOption {
	return func(c *harnessConfig) {
		c.idempotencyEnabled = true
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// NewHarness builds and starts a complete server over in-memory stores.
func NewHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := harnessConfig{handlerTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&hc)
	}

	issuer := newTokenIssuer(t)

	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Identity.Issuer = issuer.issuer
	cfg.Identity.Audience = issuer.audience
	cfg.Identity.JWKSURL = issuer.JWKSURL()

	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	metrics := observability.InitMetrics(registry)
	graphs := graph.NewService(graph.NewMemoryDefinitionStore(), logger, metrics)

	if len(hc.seedDirs) > 0 {
		seeds, err := definition.NewLoader().LoadAll(hc.seedDirs)
		if err != nil {
			t.Fatalf("load seeds: %v", err)
		}
		if err := definition.NewSeeder(graphs, logger, metrics).Apply(context.Background(), seeds); err != nil {
			t.Fatalf("apply seeds: %v", err)
		}
	}

	engOpts := engine.Options{EnforceMandatoryEvents: hc.enforceMandatoryEvents}
	var idemStore *engine.MemoryIdempotencyStore
	if hc.idempotencyEnabled {
		idemStore = engine.NewMemoryIdempotencyStore()
		engOpts.Idempotency = idemStore
	}
	eng := engine.New(engine.NewMemoryActivityStore(), graphs, logger, metrics, engOpts)

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
	router := transport.NewRouter(transport.Dependencies{
		Config:          cfg,
		Logger:          logger,
		Metrics:         metrics,
		MetricsRegistry: registry,
		Graphs:          graphs,
		Engine:          eng,
		Authenticate:    transport.JWTAuthenticator(cfg.Identity, jwks),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &TestHarness{
		t:                t,
		server:           srv,
		issuer:           issuer,
		Graphs:           graphs,
		Engine:           eng,
		IdempotencyStore: idemStore,
	}
}

// URL returns the base URL of the running server.
func (h *TestHarness) URL() string {
	return h.server.URL
}

// Token mints a valid bearer token for the given principal.
func (h *TestHarness) Token(principalRef string) string {
	return h.issuer.GenerateToken(TestClaims{PrincipalRef: principalRef})
}

// ExpiredToken mints an already expired bearer token.
func (h *TestHarness) ExpiredToken(principalRef string) string {
	return h.issuer.GenerateExpiredToken(TestClaims{PrincipalRef: principalRef})
}

// Response wraps an HTTP response with its decoded body for assertions.
type Response struct {
	Status int
	Body   []byte
}

// Decode unmarshals the response body into out.
func (r Response) Decode(t *testing.T, out any) {
	t.Helper()
	if err := json.Unmarshal(r.Body, out); err != nil {
		t.Fatalf("decode response %q: %v", string(r.Body), err)
	}
}

// ErrorCode extracts the code from an error envelope response.
func (r Response) ErrorCode(t *testing.T) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	r.Decode(t, &body)
	return body.Error.Code
}

// Do sends a request with the given bearer token and optional JSON
// body. An empty token sends the request unauthenticated.
func (h *TestHarness) Do(method, path, token string, body any) Response {
	h.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, h.server.URL+path, &buf)
	if err != nil {
		h.t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.server.Client().Do(req)
	if err != nil {
		h.t.Fatalf("Do %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read body: %v", err)
	}
	return Response{Status: resp.StatusCode, Body: raw}
}

// MustStatus sends a request and fails the test unless the response has
// the wanted status.
func (h *TestHarness) MustStatus(method, path, token string, body any, want int) Response {
	h.t.Helper()
	resp := h.Do(method, path, token, body)
	if resp.Status != want {
		h.t.Fatalf("%s %s status = %d, want %d, body %s",
			method, path, resp.Status, want, string(resp.Body))
	}
	return resp
}

// Paths for common endpoints.
func activityPath(activityID, suffix string) string {
	if suffix == "" {
		return fmt.Sprintf("/v1/activities/%s", activityID)
	}
	return fmt.Sprintf("/v1/activities/%s/%s", activityID, suffix)
}

func workflowPath(workflowID, suffix string) string {
	if suffix == "" {
		return fmt.Sprintf("/v1/workflows/%s", workflowID)
	}
	return fmt.Sprintf("/v1/workflows/%s/%s", workflowID, suffix)
}
