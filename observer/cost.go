package observer

// ModelPricing holds per-million-token pricing for a model, as resolved by
// a CostLookup (typically the Model Catalogue Cache's pricing fields).
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// CostLookup resolves a model ID to its per-million-token pricing. ok=false
// for an unknown model. The gateway wires this to the catalogue's cached
// ModelDescription.Pricing rather than duplicating a static price table
// here, so the estimator and this metrics-only calculator never disagree.
type CostLookup func(model string) (ModelPricing, bool)

// CostCalculator computes an approximate USD cost from token counts, purely
// for metrics/tracing purposes. It is a thinner companion to the gateway's
// ActualCost (C4), which additionally accounts for per-request and
// per-attachment fees; this calculator only needs the two headline
// per-million-token rates to label a span or increment a counter.
type CostCalculator struct {
	lookup CostLookup
}

// NewCostCalculator creates a calculator backed by lookup. A nil lookup
// makes every call return 0.
func NewCostCalculator(lookup CostLookup) *CostCalculator {
	if lookup == nil {
		lookup = func(string) (ModelPricing, bool) { return ModelPricing{}, false }
	}
	return &CostCalculator{lookup: lookup}
}

// Calculate returns the cost in USD for the given model and token counts.
// Returns 0.0 for unknown models.
func (c *CostCalculator) Calculate(model string, inputTokens, outputTokens int) float64 {
	p, ok := c.lookup(model)
	if !ok {
		return 0.0
	}
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}
