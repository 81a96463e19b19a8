// Package eventbus forwards committed ledger events to Kafka.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"mavuno/core/events"
	"mavuno/observability"
)

// Config selects the brokers and topic events are published to.
type Config struct {
	Brokers      []string
	Topic        string
	MaxAttempts  int
	BatchTimeout time.Duration
	Buffer       int
}

// Envelope is the JSON value of every published message.
type Envelope struct {
	Type        string            `json:"type"`
	Attributes  map[string]string `json:"attributes"`
	PublishedAt time.Time         `json:"publishedAt"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is an events.Emitter that queues events and writes them to Kafka
// from a background loop. Messages are keyed by pool, or by the account the
// event concerns, so per-key ordering holds on one partition.
type Publisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
	queue  chan events.Event
	now    func() time.Time

	closeOnce sync.Once
	done      chan struct{}
}

func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, broker := range cfg.Brokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("eventbus: at least one broker required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("eventbus: topic required")
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 100 * time.Millisecond
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  strings.TrimSpace(cfg.Topic),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            attempts,
		BatchTimeout:           batchTimeout,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
	}
	return newPublisher(writer, cfg.Topic, cfg.Buffer, logger), nil
}

func newPublisher(writer messageWriter, topic string, buffer int, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 4096
	}
	return &Publisher{
		writer: writer,
		topic:  strings.TrimSpace(topic),
		logger: logger,
		queue:  make(chan events.Event, buffer),
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Emit implements events.Emitter. It never blocks; a full queue drops the
// event.
func (p *Publisher) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.queue <- evt:
	default:
		observability.Events().RecordDrop("kafka")
		p.logger.Warn("eventbus: queue full, dropping event", "type", evt.EventType())
	}
}

// Run publishes queued events until ctx is cancelled, then flushes what is
// left and closes the writer.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.closeOnce.Do(func() { close(p.done) })
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return p.writer.Close()
		case evt := <-p.queue:
			p.publish(ctx, evt)
		}
	}
}

func (p *Publisher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case evt := <-p.queue:
			p.publish(ctx, evt)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, evt events.Event) {
	msg, err := p.message(evt)
	if err != nil {
		p.logger.Error("eventbus: encode event", "type", evt.EventType(), "error", err)
		return
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		observability.Events().RecordDrop("kafka")
		p.logger.Error("eventbus: publish failed", "topic", p.topic, "type", evt.EventType(), "error", err)
		return
	}
	p.logger.Debug("eventbus: published", "topic", p.topic, "type", evt.EventType(), "key", string(msg.Key))
}

func (p *Publisher) message(evt events.Event) (kafka.Message, error) {
	record := evt.Event()
	if record == nil {
		return kafka.Message{}, fmt.Errorf("eventbus: %s has no wire form", evt.EventType())
	}
	value, err := json.Marshal(Envelope{Type: record.Type, Attributes: record.Attributes, PublishedAt: p.now().UTC()})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:     []byte(Key(record.Attributes)),
		Value:   value,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(record.Type)}},
	}, nil
}

var keyAttributes = []string{"pool", "manager", "farmer", "account", "to", "module"}

// Key picks the partition key of an event: its pool when it has one,
// otherwise the first account it concerns.
func Key(attributes map[string]string) string {
	for _, name := range keyAttributes {
		if value := strings.TrimSpace(attributes[name]); value != "" {
			return value
		}
	}
	return ""
}
