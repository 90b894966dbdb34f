package observability_test

import (
	"testing"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizardSnapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.SessionStarted()
	m.SessionStarted()
	m.IncrDeclaration()
	m.RecordPayment(domain.MethodCash, "success")
	m.RecordPayment(domain.MethodMobileMoney, "failure")
	m.RecordAI("prefill", true)
	m.RecordAI("validate", false)
	m.RecordAI("amount", false)
	m.RecordAI("plate_match", false)
	m.IncrExternalError("portal-api")
	m.IncrCacheMiss("tax_types")
	m.IncrCacheHit("tax_types")
	m.IncrCacheHit("tax_types")
	m.IncrCacheHit("tax_types")

	snap := m.GetWizardSnapshot()
	assert.Equal(t, int64(2), snap.SessionsStarted)
	assert.Equal(t, int64(1), snap.Declarations)
	assert.Equal(t, int64(1), snap.Payments)
	assert.Equal(t, int64(1), snap.PaymentFailures)
	assert.Equal(t, int64(1), snap.AIFallbacks)
	assert.InDelta(t, 0.25, snap.AIFallbackRate, 1e-9)
	assert.Equal(t, int64(1), snap.ExternalErrors)
	assert.InDelta(t, 0.75, snap.TaxTypeCacheRatio, 1e-9)
}

func TestWizardSnapshot_Empty(t *testing.T) {
	snap := observability.NewMetrics().GetWizardSnapshot()
	assert.Zero(t, snap.AIFallbackRate)
	assert.Zero(t, snap.TaxTypeCacheRatio)
	assert.Equal(t, "all_time", snap.Period)
}

func TestObserveActiveSessions(t *testing.T) {
	m := observability.NewMetrics()
	live := 3
	m.ObserveActiveSessions(func() int { return live })

	read := func() float64 {
		families, err := m.Registry.Gather()
		require.NoError(t, err)
		for _, f := range families {
			if f.GetName() == "portal_active_sessions" {
				return f.GetMetric()[0].GetGauge().GetValue()
			}
		}
		t.Fatal("portal_active_sessions not registered")
		return 0
	}

	assert.Equal(t, float64(3), read())
	live = 1
	assert.Equal(t, float64(1), read())
}
