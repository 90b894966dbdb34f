package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/handler"
	"github.com/boddenberg/vehicle-tax-portal/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	code, raw, _ := srv.call(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, code)

	var health domain.HealthStatus
	require.NoError(t, json.Unmarshal(raw, &health))
	assert.Equal(t, "healthy", health.Status)
	require.Len(t, health.Services, 2)
	assert.Equal(t, "portal-api", health.Services[1].Name)
}

func TestHealthz_DegradedDependency(t *testing.T) {
	srv := newTestServer(t, func(d *handler.Deps) {
		d.Health = append(d.Health, handler.HealthCheck{
			Name:  "agent",
			Check: func(context.Context) error { return &domain.ErrCircuitOpen{Service: "agent"} },
		})
	})

	code, raw, _ := srv.call(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, code)

	var health domain.HealthStatus
	require.NoError(t, json.Unmarshal(raw, &health))
	assert.Equal(t, "degraded", health.Status)
}

func TestOperationalEndpoints(t *testing.T) {
	srv := newTestServer(t)
	srv.newSession(t)

	tests := []struct {
		path     string
		contains string
	}{
		{"/readyz", `"ready"`},
		{"/ping", "."},
		{"/metrics", "portal_sessions_started_total"},
		{"/v1/payment-methods", `"mobile_money"`},
		{"/v1/metrics/wizard", `"sessionsStarted":1`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, raw, _ := srv.call(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, http.StatusOK, code)
			assert.Contains(t, string(raw), tt.contains)
		})
	}
}

func TestLoginRouteAbsentWithoutAuth(t *testing.T) {
	srv := newTestServer(t)
	code, _, _ := srv.call(t, http.MethodPost, "/v1/auth/login", map[string]string{"operatorId": "op-1", "password": "x"})
	assert.Equal(t, http.StatusNotFound, code)
}

// --- auth ---

type operatorStore map[string]*domain.Operator

func (s operatorStore) GetOperator(_ context.Context, id string) (*domain.Operator, error) {
	op, ok := s[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "operator", ID: id}
	}
	return op, nil
}

func withAuth(t *testing.T) serverOption {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	store := operatorStore{
		"op-1": {ID: "op-1", Name: "Agent Kabila", SiteCode: "KIN-01", PasswordHash: string(hash)},
		"op-2": {ID: "op-2", Name: "Agent Tshala", SiteCode: "LUB-02", PasswordHash: string(hash)},
	}
	auth := service.NewAuthService(store, "test-secret", time.Hour, zap.NewNop())
	return func(d *handler.Deps) { d.Auth = auth }
}

func login(t *testing.T, srv *testServer, operatorID string) string {
	t.Helper()
	code, raw, _ := srv.call(t, http.MethodPost, "/v1/auth/login", map[string]string{"operatorId": operatorID, "password": "correct-horse"})
	require.Equal(t, http.StatusOK, code, string(raw))
	var resp domain.LoginResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func TestLogin(t *testing.T) {
	srv := newTestServer(t, withAuth(t))

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"wrong password", map[string]string{"operatorId": "op-1", "password": "nope"}, http.StatusUnauthorized},
		{"unknown operator", map[string]string{"operatorId": "op-9", "password": "correct-horse"}, http.StatusUnauthorized},
		{"blank", map[string]string{"operatorId": " ", "password": ""}, http.StatusUnprocessableEntity},
		{"ok", map[string]string{"operatorId": "op-1", "password": "correct-horse"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, raw, _ := srv.call(t, http.MethodPost, "/v1/auth/login", tt.body)
			assert.Equal(t, tt.want, code, string(raw))
		})
	}
}

func TestSessionsRequireToken(t *testing.T) {
	srv := newTestServer(t, withAuth(t))

	code, _, _ := srv.call(t, http.MethodPost, "/v1/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _, _ = srv.call(t, http.MethodPost, "/v1/sessions", nil, "Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _, _ = srv.call(t, http.MethodPost, "/v1/sessions", nil, "Authorization", "Bearer not.a.jwt")
	assert.Equal(t, http.StatusUnauthorized, code)

	// Public routes stay open.
	code, _, _ = srv.call(t, http.MethodGet, "/v1/payment-methods", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestSessionsAreScopedToOperator(t *testing.T) {
	srv := newTestServer(t, withAuth(t))
	mine := "Bearer " + login(t, srv, "op-1")
	theirs := "Bearer " + login(t, srv, "op-2")

	sess := srv.newSession(t, "Authorization", mine)
	base := "/v1/sessions/" + sess.ID

	code, raw, _ := srv.call(t, http.MethodGet, base, nil, "Authorization", mine)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(string(raw), `"siteCode":"KIN-01"`), string(raw))

	code, _, _ = srv.call(t, http.MethodGet, base, nil, "Authorization", theirs)
	assert.Equal(t, http.StatusNotFound, code)
	code, _, _ = srv.call(t, http.MethodDelete, base, nil, "Authorization", theirs)
	assert.Equal(t, http.StatusNotFound, code)

	code, _, _ = srv.call(t, http.MethodDelete, base, nil, "Authorization", mine)
	assert.Equal(t, http.StatusNoContent, code)
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, func(d *handler.Deps) { d.AllowedOrigins = []string{"https://guichet.example"} })

	code, _, hdr := srv.call(t, http.MethodOptions, "/v1/sessions", nil,
		"Origin", "https://guichet.example",
		"Access-Control-Request-Method", "POST",
	)
	assert.Contains(t, []int{http.StatusOK, http.StatusNoContent}, code)
	assert.Equal(t, "https://guichet.example", hdr.Get("Access-Control-Allow-Origin"))

	_, _, hdr = srv.call(t, http.MethodGet, "/v1/payment-methods", nil, "Origin", "https://guichet.example")
	assert.Contains(t, hdr.Get("Access-Control-Expose-Headers"), "X-Transaction-Completed")

	_, _, hdr = srv.call(t, http.MethodGet, "/v1/payment-methods", nil, "Origin", "https://evil.example")
	assert.Empty(t, hdr.Get("Access-Control-Allow-Origin"))
}
