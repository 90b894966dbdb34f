package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/handler"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/cache"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/client"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/observability"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/receipt"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/resilience"
	"github.com/boddenberg/vehicle-tax-portal/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var vehicleRegistration = domain.TaxType{
	ID:   "vehicle-registration",
	Name: "Vehicle Registration",
	FormSchema: []domain.Field{
		{Type: domain.FieldText, Key: "owner_name", Label: "Owner", Required: true},
		{Type: domain.FieldText, Key: "plate_number", Label: "Plate", Required: true},
		{Type: domain.FieldNumber, Key: "seats", Label: "Seats", Required: true},
		{Type: domain.FieldEmail, Key: "email", Label: "Email", Required: true},
	},
}

// fakePortal stands in for the portal's base API.
type fakePortal struct {
	mu       sync.Mutex
	payments []map[string]any
	deleted  []string
	created  int
}

func (p *fakePortal) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /taxpayers/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "NIF123" {
			http.Error(w, "unknown taxpayer", http.StatusNotFound)
			return
		}
		respond(t, w, domain.Taxpayer{ID: "tp-1", NIF: "NIF123", Name: "Jean Mukendi", Address: "Kinshasa"})
	})
	mux.HandleFunc("GET /taxpayers/{id}/declarations", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, []domain.Declaration{})
	})
	mux.HandleFunc("GET /tax-types", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, []domain.TaxType{vehicleRegistration})
	})
	mux.HandleFunc("POST /declarations", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.created++
		n := p.created
		p.mu.Unlock()
		respond(t, w, map[string]any{"id": fmt.Sprintf("decl-%d", n), "reference": fmt.Sprintf("DCL-20260114-%06d", n)})
	})
	mux.HandleFunc("DELETE /declarations/{id}", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.deleted = append(p.deleted, r.PathValue("id"))
		p.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /payments", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		p.mu.Lock()
		p.payments = append(p.payments, body)
		p.mu.Unlock()
		respond(t, w, map[string]any{"id": "pay-1", "reference": "PAY-20260114-000001"})
	})
	return mux
}

func respond(t *testing.T, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

type testServer struct {
	url      string
	portal   *fakePortal
	metrics  *observability.Metrics
	sessions *service.SessionManager
}

type serverOption func(*handler.Deps)

// newTestServer wires the real clients, wizard and renderer against a fake
// portal and an assistant that is always down.
func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	portal := &fakePortal{}
	portalSrv := httptest.NewServer(portal.handler(t))
	t.Cleanup(portalSrv.Close)
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(agentSrv.Close)

	cfg := resilience.Config{MaxRetries: 0, InitialBackoff: time.Millisecond}
	httpClient := &http.Client{Timeout: 5 * time.Second}
	portalClient := client.NewPortalClient(httpClient, portalSrv.URL, resilience.NewCircuitBreaker("portal"), cfg)
	agentClient := client.NewAgentClient(httpClient, agentSrv.URL, resilience.NewCircuitBreaker("agent"), cfg)

	metrics := observability.NewMetrics()
	logger := zap.NewNop()

	taxTypeCache := cache.New[[]domain.TaxType](time.Minute)
	t.Cleanup(taxTypeCache.Close)
	sessionStore := cache.New[*domain.Session](time.Minute)
	t.Cleanup(sessionStore.Close)

	wizard := service.NewWizard(service.Deps{
		Taxpayers:    portalClient,
		TaxTypes:     service.NewCachedTaxTypes(portalClient, taxTypeCache, nil, metrics),
		Declarations: portalClient,
		Assistant:    agentClient,
		Payments:     service.NewPaymentRouter(portalClient),
		Renderer:     receipt.NewRenderer(),
	}, service.Options{Issuer: "Direction Générale des Recettes"}, metrics, logger)

	sessions := service.NewSessionManager(sessionStore, metrics)
	deps := handler.Deps{
		Wizard:   wizard,
		Sessions: sessions,
		Health: []handler.HealthCheck{
			{Name: "portal-api", Check: func(ctx context.Context) error {
				_, err := portalClient.GetTaxTypes(ctx)
				return err
			}},
		},
		Metrics: metrics,
		Logger:  logger,
	}
	for _, o := range opts {
		o(&deps)
	}

	srv := httptest.NewServer(handler.NewRouter(deps))
	t.Cleanup(srv.Close)
	return &testServer{url: srv.URL, portal: portal, metrics: metrics, sessions: sessions}
}

// call sends a JSON request and returns the status and raw body.
func (s *testServer) call(t *testing.T, method, path string, body any, header ...string) (int, []byte, http.Header) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, s.url+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw, resp.Header
}

type sessionResponse struct {
	ID               string              `json:"id"`
	Step             int                 `json:"step"`
	StepName         string              `json:"stepName"`
	DeclarationCount int                 `json:"declarationCount"`
	Forms            []map[string]string `json:"forms"`
	Amount           string              `json:"amount"`
	Completed        bool                `json:"completed"`
	LastError        string              `json:"lastError"`
	FieldErrors      []domain.FieldError `json:"fieldErrors"`
	Taxpayer         *domain.Taxpayer    `json:"taxpayer"`
	Declaration      *domain.Declaration `json:"declaration"`
	Payment          *domain.Payment     `json:"payment"`
}

func decodeSession(t *testing.T, raw []byte) sessionResponse {
	t.Helper()
	var s sessionResponse
	require.NoError(t, json.Unmarshal(raw, &s), string(raw))
	return s
}

func (s *testServer) newSession(t *testing.T, header ...string) sessionResponse {
	t.Helper()
	code, raw, _ := s.call(t, http.MethodPost, "/v1/sessions", nil, header...)
	require.Equal(t, http.StatusCreated, code, string(raw))
	return decodeSession(t, raw)
}
