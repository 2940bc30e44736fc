// Package otel provides OpenTelemetry metrics and tracing for Parley.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "parley"

// Metrics holds all Parley metric instruments.
type Metrics struct {
	MessagesSaved     metric.Int64Counter
	ConversationsEnd  metric.Int64Counter
	LLMCalls          metric.Int64Counter
	LLMFailures       metric.Int64Counter
	LLMLatency        metric.Float64Histogram
	RankerScores      metric.Float64Histogram
	SessionsStarted   metric.Int64Counter
	SessionsFinished  metric.Int64Counter
	InsightsCacheHits metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.MessagesSaved, err = meter.Int64Counter("parley.messages.saved",
		metric.WithDescription("Number of messages persisted"))
	if err != nil {
		return nil, err
	}

	m.ConversationsEnd, err = meter.Int64Counter("parley.conversations.ended",
		metric.WithDescription("Number of conversations ended"))
	if err != nil {
		return nil, err
	}

	m.LLMCalls, err = meter.Int64Counter("parley.llm.calls",
		metric.WithDescription("Number of LLM upstream calls"))
	if err != nil {
		return nil, err
	}

	m.LLMFailures, err = meter.Int64Counter("parley.llm.failures",
		metric.WithDescription("Number of failed LLM upstream calls"))
	if err != nil {
		return nil, err
	}

	m.LLMLatency, err = meter.Float64Histogram("parley.llm.latency_seconds",
		metric.WithDescription("LLM upstream call latency in seconds"))
	if err != nil {
		return nil, err
	}

	m.RankerScores, err = meter.Float64Histogram("parley.ranker.score",
		metric.WithDescription("Relevance scores assigned by the ranker"))
	if err != nil {
		return nil, err
	}

	m.SessionsStarted, err = meter.Int64Counter("parley.sessions.started",
		metric.WithDescription("Number of websocket agent sessions started"))
	if err != nil {
		return nil, err
	}

	m.SessionsFinished, err = meter.Int64Counter("parley.sessions.finished",
		metric.WithDescription("Number of websocket agent sessions finished"))
	if err != nil {
		return nil, err
	}

	m.InsightsCacheHits, err = meter.Int64Counter("parley.insights.cache_hits",
		metric.WithDescription("Number of insights served from cache"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
