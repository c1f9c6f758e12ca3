// Package cost prices token usage per model and aggregates usage across jobs.
package cost

import (
	"math"
	"sort"
	"strings"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// CharsPerToken is the heuristic used when the service reports no token counts.
const CharsPerToken = 4

// Price is USD per one million tokens.
type Price struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPrices is the built-in price table. Config entries override or extend it.
func DefaultPrices() map[string]Price {
	return map[string]Price{
		"gpt-4o":           {InputPerMillion: 2.50, OutputPerMillion: 10.00},
		"gpt-4o-mini":      {InputPerMillion: 0.15, OutputPerMillion: 0.60},
		"gpt-4.1":          {InputPerMillion: 2.00, OutputPerMillion: 8.00},
		"gpt-4.1-mini":     {InputPerMillion: 0.40, OutputPerMillion: 1.60},
		"o3":               {InputPerMillion: 2.00, OutputPerMillion: 8.00},
		"claude-sonnet-4":  {InputPerMillion: 3.00, OutputPerMillion: 15.00},
		"claude-3-5-haiku": {InputPerMillion: 0.80, OutputPerMillion: 4.00},
		"gemini-2.5-pro":   {InputPerMillion: 1.25, OutputPerMillion: 10.00},
		"gemini-2.5-flash": {InputPerMillion: 0.30, OutputPerMillion: 2.50},
	}
}

// Estimator prices usage from a per-model table.
type Estimator struct {
	prices map[string]Price
	keys   []string // longest first, for prefix lookup
}

// NewEstimator merges overrides (model -> price) over the defaults.
func NewEstimator(overrides map[string]common.PriceEntry) *Estimator {
	prices := DefaultPrices()
	for model, p := range overrides {
		prices[strings.ToLower(strings.TrimSpace(model))] = Price{
			InputPerMillion:  p.InputPerMillion,
			OutputPerMillion: p.OutputPerMillion,
		}
	}
	keys := make([]string, 0, len(prices))
	for k := range prices {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return &Estimator{prices: prices, keys: keys}
}

// PriceFor finds a price by exact name, then by the longest matching prefix, so dated
// snapshots ("gpt-4o-2024-08-06") use their family's price.
func (e *Estimator) PriceFor(model string) (Price, bool) {
	m := strings.ToLower(strings.TrimSpace(model))
	if p, ok := e.prices[m]; ok {
		return p, true
	}
	for _, k := range e.keys {
		if strings.HasPrefix(m, k) {
			return e.prices[k], true
		}
	}
	return Price{}, false
}

// Cost returns USD for the given token counts. Unknown models cost 0.
func (e *Estimator) Cost(model string, inputTokens, outputTokens int) float64 {
	p, ok := e.PriceFor(model)
	if !ok {
		return 0
	}
	c := float64(inputTokens)*p.InputPerMillion/1e6 + float64(outputTokens)*p.OutputPerMillion/1e6
	return math.Round(c*1e6) / 1e6
}

// TokensForChars converts a character count to tokens, rounding up.
func TokensForChars(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// EstimateUsage derives usage from character counts. The result is marked Estimated.
func (e *Estimator) EstimateUsage(model string, inputChars, outputChars int) entity.UsageStats {
	in := TokensForChars(inputChars)
	out := TokensForChars(outputChars)
	return entity.UsageStats{
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  in + out,
		CostUSD:      e.Cost(model, in, out),
		Estimated:    true,
	}
}

// Fill prices measured usage that arrived without a cost. Reported costs are kept.
func (e *Estimator) Fill(model string, u *entity.UsageStats) {
	if u == nil {
		return
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	if u.CostUSD == 0 && u.TotalTokens > 0 {
		u.CostUSD = e.Cost(model, u.InputTokens, u.OutputTokens)
	}
}
