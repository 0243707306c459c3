package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes betting events to kafka, one writer per topic.
type Publisher struct {
	Matched MessageWriter
	Alerts  MessageWriter
	Log     *zap.Logger

	OnError func(topic string) // metrics hook
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
	}
}

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // synchronous CommitMessages
	})
}

func NewKafkaPublisher(brokers []string, topicMatched, topicAlerts string, log *zap.Logger) *Publisher {
	return &Publisher{
		Matched: NewWriter(brokers, topicMatched),
		Alerts:  NewWriter(brokers, topicAlerts),
		Log:     log,
	}
}

// PublishBetMatched keys the message by fight so one fight's matches stay in
// partition order.
func (p *Publisher) PublishBetMatched(ctx context.Context, e BetMatched) error {
	return p.write(ctx, p.Matched, "bet_matched", e.FightID, e)
}

func (p *Publisher) PublishSettlementFailed(ctx context.Context, e SettlementFailed) error {
	return p.write(ctx, p.Alerts, "settlement_alerts", e.OfferID, e)
}

func (p *Publisher) write(ctx context.Context, w MessageWriter, topic, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(key), Value: value, Time: time.Now()}
	if err := w.WriteMessages(ctx, msg); err != nil {
		p.Log.Error("failed to publish event", zap.String("topic", topic), zap.String("key", key), zap.Error(err))
		if p.OnError != nil {
			p.OnError(topic)
		}
		return err
	}
	p.Log.Debug("published event", zap.String("topic", topic), zap.String("key", key))
	return nil
}

func (p *Publisher) Close() error {
	err := p.Matched.Close()
	if aerr := p.Alerts.Close(); err == nil {
		err = aerr
	}
	return err
}

// Noop drops every event. Used when no brokers are configured.
type Noop struct{}

func (Noop) PublishBetMatched(context.Context, BetMatched) error             { return nil }
func (Noop) PublishSettlementFailed(context.Context, SettlementFailed) error { return nil }
