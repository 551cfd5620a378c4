// Package pricing estimates the USD cost of a completion from its token usage.
package pricing

import "strings"

// ModelPricing holds per-million-token costs in USD.
type ModelPricing struct {
	PromptPer1M     float64
	CompletionPer1M float64
}

// List prices for the OpenAI chat models the router selects by default,
// plus the current general-purpose ones.
var knownModels = map[string]ModelPricing{
	"gpt-4":              {30.00, 60.00},
	"gpt-4-turbo":        {10.00, 30.00},
	"gpt-3.5-turbo":      {0.50, 1.50},
	"gpt-3.5-turbo-1106": {1.00, 2.00},
	"gpt-4o":             {2.50, 10.00},
	"gpt-4o-mini":        {0.15, 0.60},
}

// Lookup returns the pricing for model. A dated snapshot such as
// "gpt-4o-2024-08-06" falls back to its base model.
func Lookup(model string) (ModelPricing, bool) {
	if p, ok := knownModels[model]; ok {
		return p, true
	}
	for base, p := range knownModels {
		if strings.HasPrefix(model, base+"-20") {
			return p, true
		}
	}
	return ModelPricing{}, false
}

// EstimateCost returns the estimated USD cost for the given token counts,
// or 0 for unknown models.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	p, ok := Lookup(model)
	if !ok {
		return 0.0
	}
	return (float64(promptTokens)/1_000_000)*p.PromptPer1M +
		(float64(completionTokens)/1_000_000)*p.CompletionPer1M
}
