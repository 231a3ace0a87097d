package cost

import (
	"maps"
	"sort"
)

// Rates holds per-call pricing for the paid enrichment providers, in USD,
// keyed by provider name.
type Rates map[string]float64

// Calculator computes spend for provider usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: maps.Clone(rates)}
}

// Call returns the price of one call to provider. Unknown providers are free.
func (c *Calculator) Call(provider string) float64 {
	return c.rates[provider]
}

// Spend is enrichment cost attributed to each provider.
type Spend struct {
	Total      float64            `json:"total_usd"`
	ByProvider map[string]float64 `json:"by_provider_usd"`
}

// Enrichment prices the issued calls per provider.
func (c *Calculator) Enrichment(calls map[string]int) Spend {
	s := Spend{ByProvider: make(map[string]float64, len(calls))}
	names := make([]string, 0, len(calls))
	for name := range calls {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := float64(calls[name]) * c.Call(name)
		s.ByProvider[name] = v
		s.Total += v
	}
	return s
}

// DefaultRates returns list-price estimates per lookup.
func DefaultRates() Rates {
	return Rates{
		"connector_agent": 0.002,
		"anymail":         0.01,
		"apollo":          0.025,
	}
}

// WithOverrides returns r with each entry of o replacing the default.
func (r Rates) WithOverrides(o map[string]float64) Rates {
	out := maps.Clone(r)
	if out == nil {
		out = make(Rates, len(o))
	}
	maps.Copy(out, o)
	return out
}
