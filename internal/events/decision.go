// Package events publishes domain events to Kafka.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"minerva/internal/adapters/kafka"
	"minerva/internal/domain/run"
	"minerva/pkg/logger"
)

// DefaultTopic carries one event per completed run.
const DefaultTopic = "minerva.decisions"

// DecisionMadeEvent is the wire form of a completed decision.
type DecisionMadeEvent struct {
	RunID            uuid.UUID `json:"run_id"`
	Symbol           string    `json:"symbol"`
	TradeDate        string    `json:"trade_date"`
	ModelID          string    `json:"model_id"`
	AgentVersion     string    `json:"agent_version"`
	FinalDecision    string    `json:"final_decision"`
	InputFingerprint string    `json:"input_fingerprint"`
	CacheHit         bool      `json:"cache_hit"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Publisher emits decision events. Best effort: failures are logged and
// swallowed so event delivery never fails a run.
type Publisher struct {
	producer *kafka.Producer
	topic    string
	log      *logger.Logger
}

// NewPublisher creates a decision event publisher. producer may be nil when
// Kafka is not configured; publishing then becomes a no-op. An empty topic
// selects DefaultTopic.
func NewPublisher(producer *kafka.Producer, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		producer: producer,
		topic:    topic,
		log:      logger.Get().With("component", "decision_events"),
	}
}

// DecisionMade publishes the completion event keyed by symbol, so per-symbol
// ordering is preserved within a partition.
func (p *Publisher) DecisionMade(ctx context.Context, decision *run.Decision, cacheHit bool) {
	if p.producer == nil {
		return
	}

	event := DecisionMadeEvent{
		RunID:            decision.RunID,
		Symbol:           decision.Symbol,
		TradeDate:        decision.TradeDate,
		ModelID:          decision.ModelID,
		AgentVersion:     decision.AgentVersion,
		FinalDecision:    decision.FinalDecision,
		InputFingerprint: decision.InputFingerprint,
		CacheHit:         cacheHit,
		OccurredAt:       time.Now().UTC(),
	}

	if err := p.producer.PublishJSON(ctx, p.topic, decision.Symbol, event); err != nil {
		p.log.Warnw("decision event publish failed",
			"run_id", decision.RunID, "symbol", decision.Symbol, "error", err)
	}
}
