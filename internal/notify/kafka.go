package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaEmitterConfig contains configurable parameters for the Kafka emitter.
type KafkaEmitterConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic is the topic review events are produced to.
	Topic string

	// MaxAttempts is how many times a produce is retried on transient error.
	// Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout for Write operations.
	// Defaults to 10s if zero.
	WriteTimeout time.Duration
}

// KafkaEmitter produces review lifecycle events to Kafka. The engine treats
// delivery as best-effort: produce failures are logged and swallowed so a
// broker outage can never fail a vote or a promotion.
type KafkaEmitter struct {
	writer      *kafka.Writer
	maxAttempts int
}

func NewKafkaEmitter(cfg KafkaEmitterConfig) (*KafkaEmitter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		// Key-hash balancer keeps events with the same name on one partition.
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})

	return &KafkaEmitter{
		writer:      w,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

type envelope struct {
	Event   string    `json:"event"`
	Ts      time.Time `json:"ts"`
	Payload any       `json:"payload"`
}

// Emit marshals the payload into an event envelope and produces it with
// retries. Errors are logged, never returned.
func (e *KafkaEmitter) Emit(ctx context.Context, event string, payload any) {
	value, err := json.Marshal(envelope{
		Event:   event,
		Ts:      time.Now().UTC(),
		Payload: payload,
	})
	if err != nil {
		log.Printf("notify: marshal %s event: %v", event, err)
		return
	}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		msg := kafka.Message{
			Key:   []byte(event),
			Value: value,
			Time:  time.Now().UTC(),
		}
		ctxAttempt, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := e.writer.WriteMessages(ctxAttempt, msg)
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	log.Printf("notify: produce %s event failed after %d attempts: %v", event, e.maxAttempts, lastErr)
}

// Close shuts down the underlying writer and releases resources.
func (e *KafkaEmitter) Close() error {
	if e == nil || e.writer == nil {
		return nil
	}
	return e.writer.Close()
}
