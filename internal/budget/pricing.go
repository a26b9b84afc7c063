package budget

import (
	"strings"

	"github.com/shopspring/decimal"
)

const perMillion = 1_000_000

// modelRate holds the per-million-token USD rate for a model's input and
// output tokens.
type modelRate struct {
	input  decimal.Decimal
	output decimal.Decimal
}

// pricing is the hand-maintained per-million-token rate table, looked up
// as pricing[provider][model] and falling back to
// pricing[provider]["default"]. Updating it is a manual process.
var pricing = map[string]map[string]modelRate{
	"anthropic": {
		"claude-opus-4-6":          rate(5.0, 25.0),
		"claude-sonnet-4-6":        rate(3.0, 15.0),
		"claude-sonnet-4-20250514": rate(3.0, 15.0),
		"claude-haiku-4-6":         rate(1.0, 5.0),
		"default":                  rate(0, 0),
	},
	"openai": {
		"gpt-5.1":            rate(1.25, 10.0),
		"gpt-4o":             rate(2.50, 10.0),
		"gpt-4o-mini":        rate(0.15, 0.60),
		"openai/gpt-4o-mini": rate(0.15, 0.60),
		"default":            rate(0, 0),
	},
	"mistral": {
		"mistral-large-latest":                      rate(2.0, 6.0),
		"mistral-small-latest":                      rate(0.20, 0.60),
		"mistralai/mistral-small-24b-instruct:free": rate(0, 0),
		"default": rate(0, 0),
	},
	"ollama": {
		"default": rate(0, 0),
	},
	"tavily": {
		"default": rate(0, 0),
	},
}

func rate(input, output float64) modelRate {
	return modelRate{input: decimal.NewFromFloat(input), output: decimal.NewFromFloat(output)}
}

// EstimateCost estimates the USD cost of a completion from its token
// counts, using the pricing table and falling back to the provider's
// "default" entry (zero rate) for unknown models.
func EstimateCost(provider, model string, inputTokens, outputTokens int) decimal.Decimal {
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.TrimSpace(model)

	modelTable, ok := pricing[provider]
	if !ok {
		return decimal.Zero
	}
	rates, ok := modelTable[model]
	if !ok {
		rates, ok = modelTable["default"]
		if !ok {
			return decimal.Zero
		}
	}

	inputCost := decimal.NewFromInt(int64(inputTokens)).Div(decimal.NewFromInt(perMillion)).Mul(rates.input)
	outputCost := decimal.NewFromInt(int64(outputTokens)).Div(decimal.NewFromInt(perMillion)).Mul(rates.output)
	return inputCost.Add(outputCost)
}
