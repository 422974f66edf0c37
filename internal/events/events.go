// Package events publishes committed trades to downstream consumers
// (leaderboard projectors, notifications). Publishing happens after commit
// and is best effort: a lost event never undoes a trade.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/money"
)

// TradeEvent is the wire form of a committed trade.
type TradeEvent struct {
	Type          string         `json:"type"` // always "trade.committed"
	TradeID       string         `json:"trade_id"`
	CompetitionID string         `json:"competition_id"`
	UserID        string         `json:"user_id"`
	Symbol        string         `json:"symbol"`
	Side          model.Side     `json:"side"`
	Quantity      money.Quantity `json:"quantity"`
	Price         money.Money    `json:"price"`
	Amount        money.Money    `json:"amount"`
	RealizedGain  money.Money    `json:"realized_gain"`
	CashAfter     money.Money    `json:"cash_after"`
	Valuation     money.Money    `json:"valuation"`
	Version       int64          `json:"version"`
	ExecutedAt    time.Time      `json:"executed_at"`
}

const TypeTradeCommitted = "trade.committed"

// FromTrade builds the event for a committed trade record.
func FromTrade(t model.TradeRecord, valuation money.Money) TradeEvent {
	return TradeEvent{
		Type:          TypeTradeCommitted,
		TradeID:       t.ID,
		CompetitionID: t.CompetitionID,
		UserID:        t.UserID,
		Symbol:        t.Symbol,
		Side:          t.Side,
		Quantity:      t.Quantity,
		Price:         t.Price,
		Amount:        t.Amount,
		RealizedGain:  t.RealizedGain,
		CashAfter:     t.CashAfter,
		Valuation:     valuation,
		Version:       t.Version,
		ExecutedAt:    t.ExecutedAt,
	}
}

// Key groups a portfolio's events so they stay ordered within a partition.
func (e TradeEvent) Key() string { return e.CompetitionID + "/" + e.UserID }

type Publisher interface {
	Publish(ctx context.Context, e TradeEvent) error
	Close() error
}

// NopPublisher discards events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, TradeEvent) error { return nil }
func (NopPublisher) Close() error                             { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to a Kafka topic.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher creates a publisher for topic on brokers. Messages are
// hash-partitioned by Key.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e TradeEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{Key: []byte(e.Key()), Value: b, Time: e.ExecutedAt}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.TradeID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
