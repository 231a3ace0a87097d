package enrich

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// WaterfallConfig tunes individual providers. Priority order is fixed and
// cannot be changed here; only enablement and timeouts.
type WaterfallConfig struct {
	Providers map[string]ProviderTuning `yaml:"providers"`
}

// ProviderTuning holds per-provider settings.
type ProviderTuning struct {
	Enabled     *bool `yaml:"enabled,omitempty"`
	TimeoutSecs int   `yaml:"timeout_secs,omitempty"`
}

// LoadWaterfall reads waterfall tuning from a YAML file with a top-level
// "waterfall" key.
func LoadWaterfall(path string) (*WaterfallConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: read waterfall config %s", path)
	}

	var wrapper struct {
		Waterfall WaterfallConfig `yaml:"waterfall"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "enrich: parse waterfall config")
	}

	for name := range wrapper.Waterfall.Providers {
		if !knownProvider(name) {
			return nil, eris.Errorf("enrich: unknown provider %q in waterfall config", name)
		}
	}
	return &wrapper.Waterfall, nil
}

// Apply drops disabled providers and sorts the rest into waterfall order.
func (w *WaterfallConfig) Apply(providers []Provider) []Provider {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	var out []Provider
	for _, name := range order {
		p, ok := byName[name]
		if !ok {
			continue
		}
		if w != nil {
			if t, ok := w.Providers[name]; ok && t.Enabled != nil && !*t.Enabled {
				continue
			}
		}
		out = append(out, p)
	}
	// Providers outside the fixed list (tests, custom wiring) keep their
	// relative order after the known ones.
	for _, p := range providers {
		if !knownProvider(p.Name()) {
			out = append(out, p)
		}
	}
	return out
}

// Timeout returns the call timeout for a provider, or def when unset.
func (w *WaterfallConfig) Timeout(name string, def time.Duration) time.Duration {
	if w == nil {
		return def
	}
	if t, ok := w.Providers[name]; ok && t.TimeoutSecs > 0 {
		return time.Duration(t.TimeoutSecs) * time.Second
	}
	return def
}

func knownProvider(name string) bool {
	for _, n := range order {
		if n == name {
			return true
		}
	}
	return false
}
