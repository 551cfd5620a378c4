package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/chatgate/internal/pricing"
)

// Metrics holds every chatgate instrument.
type Metrics struct {
	RequestDuration  metric.Float64Histogram
	LLMCallDuration  metric.Float64Histogram
	TokensUsed       metric.Int64Counter
	LLMCost          metric.Float64Counter
	Turns            metric.Int64Counter
	BudgetRejections metric.Int64Counter
	LLMErrors        metric.Int64Counter
	RateLimitRejects metric.Int64Counter
	StoreSessions    metric.Int64Gauge
	StoreTurns       metric.Int64Gauge
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.RequestDuration, err = meter.Float64Histogram("chatgate.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.LLMCallDuration, err = meter.Float64Histogram("chatgate.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.TokensUsed, err = meter.Int64Counter("chatgate.llm.tokens",
		metric.WithDescription("Tokens reported by the LLM API"),
	); err != nil {
		return nil, err
	}
	if m.LLMCost, err = meter.Float64Counter("chatgate.llm.cost",
		metric.WithDescription("Estimated LLM spend from list prices"),
		metric.WithUnit("USD"),
	); err != nil {
		return nil, err
	}
	if m.Turns, err = meter.Int64Counter("chatgate.chat.turns",
		metric.WithDescription("Completed chat turns by model and routing rule"),
	); err != nil {
		return nil, err
	}
	if m.BudgetRejections, err = meter.Int64Counter("chatgate.chat.budget_rejections",
		metric.WithDescription("Prompts rejected by the token guard"),
	); err != nil {
		return nil, err
	}
	if m.LLMErrors, err = meter.Int64Counter("chatgate.llm.errors",
		metric.WithDescription("Failed LLM calls by error class"),
	); err != nil {
		return nil, err
	}
	if m.RateLimitRejects, err = meter.Int64Counter("chatgate.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	); err != nil {
		return nil, err
	}
	if m.StoreSessions, err = meter.Int64Gauge("chatgate.store.sessions",
		metric.WithDescription("Sessions held by the session store"),
	); err != nil {
		return nil, err
	}
	if m.StoreTurns, err = meter.Int64Gauge("chatgate.store.turns",
		metric.WithDescription("Turns held by the session store"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordStoreSize sets the store gauges. Safe on a nil receiver.
func (m *Metrics) RecordStoreSize(ctx context.Context, sessions, turns int) {
	if m == nil {
		return
	}
	m.StoreSessions.Record(ctx, int64(sessions))
	m.StoreTurns.Record(ctx, int64(turns))
}

// RecordTurn counts a completed turn, the tokens it used and their
// estimated cost.
func (m *Metrics) RecordTurn(ctx context.Context, model, rule string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrModel.String(model), AttrRule.String(rule))
	m.Turns.Add(ctx, 1, attrs)
	m.TokensUsed.Add(ctx, int64(inputTokens), metric.WithAttributes(AttrModel.String(model), attribute.String("direction", "input")))
	m.TokensUsed.Add(ctx, int64(outputTokens), metric.WithAttributes(AttrModel.String(model), attribute.String("direction", "output")))
	if cost := pricing.EstimateCost(model, inputTokens, outputTokens); cost > 0 {
		m.LLMCost.Add(ctx, cost, metric.WithAttributes(AttrModel.String(model)))
	}
}
