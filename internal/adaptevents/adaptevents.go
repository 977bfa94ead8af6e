// Package adaptevents publishes concurrency adaptation events to Kafka so
// dashboards can correlate tuning decisions with upstream behavior. The
// publisher is fire-and-forget: events are dropped when the buffer is full
// rather than ever blocking the run loop.
package adaptevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// Event records one concurrency move made by the executor.
type Event struct {
	RunID       string    `json:"run_id,omitempty"`
	Driver      string    `json:"driver"`
	Concurrency int       `json:"concurrency"`
	Throughput  float64   `json:"throughput,omitempty"`
	Direction   string    `json:"direction"`
	TS          time.Time `json:"ts"`
}

// Publisher fans events out to a Kafka topic through an async producer.
// A nil *Publisher is valid and discards everything, so callers wire it
// unconditionally and only construct one when events are enabled.
type Publisher struct {
	log      *slog.Logger
	topic    string
	producer sarama.AsyncProducer
	buf      chan Event
	done     chan struct{}
}

func NewPublisher(brokers []string, topic string, bufSize int, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	if bufSize <= 0 {
		bufSize = 1024
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("adaptevents: async producer: %w", err)
	}

	p := &Publisher{
		log:      log,
		topic:    topic,
		producer: producer,
		buf:      make(chan Event, bufSize),
		done:     make(chan struct{}),
	}
	go p.pump()
	go p.drainErrors()
	return p, nil
}

// Publish enqueues ev without blocking. The event is dropped when the
// buffer is full or the publisher is nil.
func (p *Publisher) Publish(ev Event) {
	if p == nil {
		return
	}
	select {
	case p.buf <- ev:
	default:
	}
}

// pump serializes buffered events onto the producer. Keying by run id
// keeps each run's events in one partition, so consumers see the moves
// of a single run in order.
func (p *Publisher) pump() {
	defer close(p.done)
	for ev := range p.buf {
		b, err := json.Marshal(ev)
		if err != nil {
			p.log.Error("adaptevents marshal", "err", err)
			continue
		}
		p.producer.Input() <- &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(ev.RunID),
			Value: sarama.ByteEncoder(b),
		}
	}
}

func (p *Publisher) drainErrors() {
	for err := range p.producer.Errors() {
		p.log.Error("adaptevents producer", "err", err)
	}
}

// Close flushes buffered events and shuts the producer down. Safe on nil.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	close(p.buf)
	<-p.done
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("adaptevents: close producer: %w", err)
	}
	return nil
}
