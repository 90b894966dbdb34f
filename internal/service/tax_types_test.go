package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/cache"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/observability"
	"github.com/boddenberg/vehicle-tax-portal/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedTaxTypes_CachesAndFlagsReproduction(t *testing.T) {
	provider := &mockTaxTypes{types: []domain.TaxType{
		vehicleRegistration(),
		{ID: "duplicate-card", Name: "Duplicate card"},
	}}
	store := cache.New[[]domain.TaxType](time.Minute)
	t.Cleanup(store.Close)
	metrics := observability.NewMetrics()
	c := service.NewCachedTaxTypes(provider, store, []string{"duplicate-card"}, metrics)

	first, err := c.GetTaxTypes(t.Context())
	require.NoError(t, err)
	second, err := c.GetTaxTypes(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls)
	assert.False(t, first[0].Reproduction)
	assert.True(t, first[1].Reproduction)
	assert.Equal(t, first, second)
	assert.InDelta(t, 0.5, metrics.GetWizardSnapshot().TaxTypeCacheRatio, 1e-9)

	first[0].Name = "changed"
	third, _ := c.GetTaxTypes(t.Context())
	assert.Equal(t, "Vehicle Registration", third[0].Name)

	c.Invalidate()
	_, err = c.GetTaxTypes(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestCachedTaxTypes_ErrorsAreNotCached(t *testing.T) {
	provider := &mockTaxTypes{err: errors.New("down")}
	store := cache.New[[]domain.TaxType](time.Minute)
	t.Cleanup(store.Close)
	c := service.NewCachedTaxTypes(provider, store, nil, observability.NewMetrics())

	_, err := c.GetTaxTypes(t.Context())
	require.Error(t, err)

	provider.err = nil
	provider.types = []domain.TaxType{vehicleRegistration()}
	types, err := c.GetTaxTypes(t.Context())
	require.NoError(t, err)
	assert.Len(t, types, 1)
}
