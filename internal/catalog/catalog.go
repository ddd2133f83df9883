// Package catalog holds the static model configuration: which provider owns a
// model, its context limits, per-1000-token pricing, and default sampling
// parameters.
//
// The catalog is loaded once at startup — built-in defaults merged with any
// operator overrides — and is read-only afterwards, so lookups need no
// synchronization.
package catalog

import "fmt"

// ModelConfig describes one model known to the gateway. Immutable after load.
type ModelConfig struct {
	// ID is the model identifier clients send, e.g. "gpt-4".
	ID string

	// Provider is the name of the adapter that serves this model.
	Provider string

	// ContextWindow is the maximum prompt+completion token budget.
	ContextWindow int

	// MaxOutputTokens caps a single completion. 0 means provider default.
	MaxOutputTokens int

	// CostPer1KInput / CostPer1KOutput are USD prices per 1000 tokens.
	CostPer1KInput  float64
	CostPer1KOutput float64

	// DefaultTemperature / DefaultMaxTokens are applied when the caller
	// supplies no override.
	DefaultTemperature float64
	DefaultMaxTokens   int

	// Embedding marks embedding-only models (no chat completions).
	Embedding bool
}

// Registry is an immutable model lookup table.
type Registry struct {
	models map[string]ModelConfig
}

// New builds a Registry from the built-in defaults plus overrides. An override
// with an ID already present replaces the built-in entry; new IDs are added.
// Overrides must name a provider — a missing provider is a startup error, not
// a per-request surprise.
func New(overrides []ModelConfig) (*Registry, error) {
	models := make(map[string]ModelConfig, len(defaults)+len(overrides))
	for _, m := range defaults {
		models[m.ID] = m
	}
	for _, m := range overrides {
		if m.ID == "" {
			return nil, fmt.Errorf("catalog: model override with empty id")
		}
		if m.Provider == "" {
			if base, ok := models[m.ID]; ok {
				m.Provider = base.Provider
			} else {
				return nil, fmt.Errorf("catalog: model %q: provider is required", m.ID)
			}
		}
		models[m.ID] = m
	}
	return &Registry{models: models}, nil
}

// Lookup returns the configuration for model, or false when it is unknown.
func (r *Registry) Lookup(model string) (ModelConfig, bool) {
	m, ok := r.models[model]
	return m, ok
}

// Len returns the number of configured models.
func (r *Registry) Len() int { return len(r.models) }

// Models returns all configured model IDs (unordered).
func (r *Registry) Models() []string {
	out := make([]string, 0, len(r.models))
	for id := range r.models {
		out = append(out, id)
	}
	return out
}
