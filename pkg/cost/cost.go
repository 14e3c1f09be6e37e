// Package cost estimates what LLM token usage costs.
package cost

import (
	"sort"
	"strings"
	"sync"
)

// BatchDiscount is the share of the online price charged for batch API
// requests.
const BatchDiscount = 0.5

// Price is the cost in USD per 1M tokens.
type Price struct {
	Input  float64
	Output float64
}

// Calculator maps model names to prices. A model without an exact entry
// takes the price of the longest known prefix.
type Calculator struct {
	mu     sync.RWMutex
	prices map[string]Price
}

// NewCalculator creates a calculator with the default price list.
func NewCalculator() *Calculator {
	c := &Calculator{prices: make(map[string]Price, len(defaultPrices))}
	for model, p := range defaultPrices {
		c.prices[model] = p
	}
	return c
}

// SetPrice overrides the price of model.
func (c *Calculator) SetPrice(model string, p Price) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[strings.ToLower(model)] = p
}

// Lookup returns the price of model and whether one is known.
func (c *Calculator) Lookup(model string) (Price, bool) {
	model = strings.ToLower(model)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.prices[model]; ok {
		return p, true
	}
	keys := make([]string, 0, len(c.prices))
	for k := range c.prices {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		if strings.HasPrefix(model, k) {
			return c.prices[k], true
		}
	}
	return Price{}, false
}

// Estimate returns the cost in USD of the given usage. Unknown models cost
// nothing.
func (c *Calculator) Estimate(model string, promptTokens, completionTokens int, batch bool) float64 {
	p, _ := c.Lookup(model)
	usd := float64(promptTokens)/1e6*p.Input + float64(completionTokens)/1e6*p.Output
	if batch {
		usd *= BatchDiscount
	}
	return usd
}

var defaultPrices = map[string]Price{
	"gpt-4o":        {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":   {Input: 0.15, Output: 0.60},
	"gpt-4.1":       {Input: 2.00, Output: 8.00},
	"gpt-4.1-mini":  {Input: 0.40, Output: 1.60},
	"gpt-4.1-nano":  {Input: 0.10, Output: 0.40},
	"gpt-4-turbo":   {Input: 10.00, Output: 30.00},
	"gpt-3.5-turbo": {Input: 0.50, Output: 1.50},
	"o1-mini":       {Input: 3.00, Output: 12.00},

	// OpenAI-compatible hosts
	"qwen/qwen2.5-7b-instruct-turbo":                {Input: 0.30, Output: 0.30},
	"qwen/qwen2.5-72b-instruct-turbo":               {Input: 1.20, Output: 1.20},
	"meta-llama/llama-3.3-70b-instruct-turbo":       {Input: 0.88, Output: 0.88},
	"meta-llama/meta-llama-3.1-8b-instruct-turbo":   {Input: 0.18, Output: 0.18},
	"meta-llama/meta-llama-3.1-405b-instruct-turbo": {Input: 5.00, Output: 15.00},
	"deepseek-ai/deepseek-v3":                       {Input: 1.25, Output: 1.25},
	"deepseek-chat":                                 {Input: 0.27, Output: 1.10},
}
