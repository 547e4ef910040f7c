// Package events publishes transaction lifecycle notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/go-kit/log"
	"github.com/segmentio/kafka-go"
	"go-currency-ledger/domain"
	"time"
)

// Type of a lifecycle event
type Type string

const (
	TransactionCreated   Type = "transaction.created"
	TransactionConfirmed Type = "transaction.confirmed"
	TransactionCancelled Type = "transaction.cancelled"
	TransactionFailed    Type = "transaction.failed"
)

// Event a transaction lifecycle notification
type Event struct {
	Type        Type               `json:"eventType"`
	Transaction domain.Transaction `json:"transaction"`
	OccurredAt  time.Time          `json:"timestamp"`
}

// Publisher delivers events to interested parties
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type nop struct{}

// NewNop returns a Publisher that drops every event
func NewNop() Publisher {
	return nop{}
}

func (nop) Publish(context.Context, Event) error { return nil }

func (nop) Close() error { return nil }

// messageWriter the part of kafka.Writer used for publishing
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher publishes events as JSON to topic, keyed by transaction id
// so every event of a transaction lands on the same partition
func NewKafkaPublisher(brokers []string, topic string, logger log.Logger) Publisher {
	return &kafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Log("msg", fmt.Sprintf(msg, args...))
		}),
	}}
}

func (p *kafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Transaction.ID.String()),
		Value: value,
		Time:  e.OccurredAt,
	})
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}
