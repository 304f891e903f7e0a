package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Rendezvous/internal/config"
	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the slice of *kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes room lifecycle events keyed by room code, so every
// event of one room lands on the same partition in order.
type Producer struct {
	writer messageWriter
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			Async:        true,
			BatchTimeout: 50 * time.Millisecond,
			Completion: func(msgs []kafka.Message, err error) {
				if err != nil {
					log.Warn().Err(err).Str("module", "events.kafka").Int("count", len(msgs)).Msg("lifecycle events lost")
				}
			},
		},
	}
}

func (p *Producer) Publish(ctx context.Context, ev core.LifecycleEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.Room), Value: b, Time: ev.At})
}

func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		log.Warn().Err(err).Str("module", "events.kafka").Msg("error closing producer")
		return err
	}
	return nil
}

// NewPublisher picks Kafka when brokers are configured, otherwise events
// are discarded.
func NewPublisher(cfg config.Kafka) core.EventPublisher {
	if len(cfg.Brokers) == 0 {
		log.Info().Str("module", "events").Msg("no kafka brokers, lifecycle events disabled")
		return core.NopPublisher{}
	}
	log.Info().Str("module", "events").Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("publishing lifecycle events to kafka")
	return NewProducer(cfg.Brokers, cfg.Topic)
}
