// Package cost derives dollar cost breakdowns from token usage and model
// pricing. Pure functions, no side effects.
package cost

import "github.com/nulpointcorp/ai-gateway/internal/catalog"

// Breakdown is the cost of a single request in fractional USD.
// Total is always Input + Output, exactly.
type Breakdown struct {
	Input  float64 `json:"input_cost"`
	Output float64 `json:"output_cost"`
	Total  float64 `json:"total_cost"`
}

// Zero is the breakdown attached to cache hits: a memoized completion accrues
// no new spend.
var Zero = Breakdown{}

// Compute maps token counts to dollars using the model's per-1000-token
// prices.
func Compute(m catalog.ModelConfig, promptTokens, completionTokens int) Breakdown {
	in := float64(promptTokens) / 1000 * m.CostPer1KInput
	out := float64(completionTokens) / 1000 * m.CostPer1KOutput
	return Breakdown{
		Input:  in,
		Output: out,
		Total:  in + out,
	}
}
