package budget

import (
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/shopspring/decimal"
)

// ModelPricing holds a model's USD rates per million tokens. Models
// with a long-context tier switch to the premium rates once a call's
// total input crosses LongContextThreshold.
type ModelPricing struct {
	InputPerMTok      decimal.Decimal
	OutputPerMTok     decimal.Decimal
	LongInputPerMTok  decimal.Decimal
	LongOutputPerMTok decimal.Decimal
	CacheWritePerMTok decimal.Decimal
	CacheReadPerMTok  decimal.Decimal
	// LongContextThreshold is the input token count above which the
	// long-context rates apply; zero means the model has one tier.
	LongContextThreshold int
}

var million = decimal.NewFromInt(1_000_000)

func perMTok(tokens int, rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(tokens)).Mul(rate).Div(million)
}

func (p ModelPricing) longContext(totalInputTokens int) bool {
	return p.LongContextThreshold > 0 && totalInputTokens > p.LongContextThreshold
}

// CostForInput prices one call's input side: fresh tokens at the input
// rate, cache reads and writes at their own rates. totalInputTokens is
// the call's full input count and decides the pricing tier.
func (p ModelPricing) CostForInput(inputTokens, cacheReadTokens, cacheWriteTokens, totalInputTokens int) decimal.Decimal {
	rate := p.InputPerMTok
	if p.longContext(totalInputTokens) {
		rate = p.LongInputPerMTok
	}
	cost := perMTok(inputTokens, rate)
	cost = cost.Add(perMTok(cacheReadTokens, p.CacheReadPerMTok))
	return cost.Add(perMTok(cacheWriteTokens, p.CacheWritePerMTok))
}

// CostForOutput prices one call's output tokens, at the premium rate
// when the input crossed the long-context threshold.
func (p ModelPricing) CostForOutput(outputTokens, totalInputTokens int) decimal.Decimal {
	rate := p.OutputPerMTok
	if p.longContext(totalInputTokens) {
		rate = p.LongOutputPerMTok
	}
	return perMTok(outputTokens, rate)
}

// DefaultPricing covers the models the Anthropic adapter can be
// configured with, in USD per million tokens.
var DefaultPricing = map[anthropic.Model]ModelPricing{
	anthropic.ModelClaudeOpus4_6: {
		InputPerMTok:         decimal.NewFromFloat(5),
		OutputPerMTok:        decimal.NewFromFloat(25),
		LongInputPerMTok:     decimal.NewFromFloat(10),
		LongOutputPerMTok:    decimal.NewFromFloat(37.5),
		CacheWritePerMTok:    decimal.NewFromFloat(6.25),
		CacheReadPerMTok:     decimal.NewFromFloat(0.5),
		LongContextThreshold: 200_000,
	},
	anthropic.ModelClaudeSonnet4_5: {
		InputPerMTok:         decimal.NewFromFloat(3),
		OutputPerMTok:        decimal.NewFromFloat(15),
		LongInputPerMTok:     decimal.NewFromFloat(6),
		LongOutputPerMTok:    decimal.NewFromFloat(22.5),
		CacheWritePerMTok:    decimal.NewFromFloat(3.75),
		CacheReadPerMTok:     decimal.NewFromFloat(0.3),
		LongContextThreshold: 200_000,
	},
	anthropic.ModelClaudeHaiku4_5: {
		InputPerMTok:      decimal.NewFromFloat(1),
		OutputPerMTok:     decimal.NewFromFloat(5),
		CacheWritePerMTok: decimal.NewFromFloat(1.25),
		CacheReadPerMTok:  decimal.NewFromFloat(0.1),
	},
}
