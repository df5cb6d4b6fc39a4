package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/npi-gateway/applepay-api/internal/domain"
)

// ShippingZoneRepository serves shipping rates per country from a static zone
// table, mirroring the host commerce system's zone configuration.
type ShippingZoneRepository struct {
	mu    sync.RWMutex
	zones map[string][]domain.ShippingRate
}

// NewShippingZoneRepository constructs a zone table keyed by upper-case ISO
// country code.
func NewShippingZoneRepository(zones map[string][]domain.ShippingRate) *ShippingZoneRepository {
	table := make(map[string][]domain.ShippingRate, len(zones))
	for country, rates := range zones {
		table[strings.ToUpper(strings.TrimSpace(country))] = slices.Clone(rates)
	}
	return &ShippingZoneRepository{zones: table}
}

// RatesForCountry lists the rates configured for a country. An empty slice
// means no zone covers the country.
func (r *ShippingZoneRepository) RatesForCountry(_ context.Context, countryCode string) ([]domain.ShippingRate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rates := r.zones[strings.ToUpper(strings.TrimSpace(countryCode))]
	return slices.Clone(rates), nil
}
