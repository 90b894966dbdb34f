package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/observability"
	"github.com/boddenberg/vehicle-tax-portal/internal/port"

	"go.opentelemetry.io/otel/attribute"
)

const taxTypeCacheKey = "tax_types"

// CachedTaxTypes serves the tax type list from a TTL cache and flags the
// configured reproduction types.
type CachedTaxTypes struct {
	provider       port.TaxTypeProvider
	cache          port.Cache[[]domain.TaxType]
	reproductionID []string
	metrics        *observability.Metrics
}

// NewCachedTaxTypes wraps provider with cache.
func NewCachedTaxTypes(provider port.TaxTypeProvider, cache port.Cache[[]domain.TaxType], reproductionIDs []string, metrics *observability.Metrics) *CachedTaxTypes {
	return &CachedTaxTypes{
		provider:       provider,
		cache:          cache,
		reproductionID: reproductionIDs,
		metrics:        metrics,
	}
}

// GetTaxTypes returns a copy of the cached list, loading it on a miss.
func (c *CachedTaxTypes) GetTaxTypes(ctx context.Context) ([]domain.TaxType, error) {
	ctx, span := tracer.Start(ctx, "CachedTaxTypes.GetTaxTypes")
	defer span.End()

	if types, ok := c.cache.Get(taxTypeCacheKey); ok {
		c.metrics.IncrCacheHit(taxTypeCacheKey)
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return slices.Clone(types), nil
	}
	c.metrics.IncrCacheMiss(taxTypeCacheKey)

	types, err := c.provider.GetTaxTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tax types: %w", err)
	}
	for i := range types {
		if slices.Contains(c.reproductionID, types[i].ID) {
			types[i].Reproduction = true
		}
	}

	c.cache.Set(taxTypeCacheKey, types)
	return slices.Clone(types), nil
}

// Invalidate drops the cached list.
func (c *CachedTaxTypes) Invalidate() {
	c.cache.Delete(taxTypeCacheKey)
}
