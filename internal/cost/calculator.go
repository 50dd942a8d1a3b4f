package cost

import "github.com/manash/antika/pkg/models"

const (
	CurrencyUSD = "USD"
)

// Prices used when a model is missing from the registry (gpt-4.1-mini).
const (
	fallbackInputPer1M  = 0.40
	fallbackOutputPer1M = 1.60
)

type Calculator struct {
	registry *models.ModelRegistry
}

func NewCalculator(registry *models.ModelRegistry) *Calculator {
	if registry == nil {
		registry = models.DefaultRegistry()
	}
	return &Calculator{registry: registry}
}

// Calculate prices one request from its token usage. Prices are per 1M tokens.
func (c *Calculator) Calculate(model string, usage models.Usage) *models.CostInfo {
	inputPer1M, outputPer1M := fallbackInputPer1M, fallbackOutputPer1M
	if cap, ok := c.registry.Get(model); ok {
		inputPer1M, outputPer1M = cap.InputPer1M, cap.OutputPer1M
	}

	inputCost := (float64(usage.InputTokens) / 1_000_000) * inputPer1M
	outputCost := (float64(usage.OutputTokens) / 1_000_000) * outputPer1M

	return &models.CostInfo{
		Total:    inputCost + outputCost,
		Currency: CurrencyUSD,
	}
}

// Tally accumulates the cost of the requests made in one run.
type Tally struct {
	Requests     int
	InputTokens  int
	OutputTokens int
	Total        float64
}

func (t *Tally) Add(usage models.Usage, info *models.CostInfo) {
	t.Requests++
	t.InputTokens += usage.InputTokens
	t.OutputTokens += usage.OutputTokens
	if info != nil {
		t.Total += info.Total
	}
}
