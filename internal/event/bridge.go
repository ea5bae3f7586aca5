package event

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/lifevaluable/brewflow/internal/metrics"
)

// Client builds writers and readers against the shared broker set.
type Client struct {
	Brokers []string
}

func NewClient(brokersCSV string) *Client {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{Brokers: brokers}
}

// NewWriter returns a writer for the topic. The Hash balancer with the order
// id as message key keeps all events for one order on one partition, so a
// single consumer group member observes them in send order.
func (c *Client) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func (c *Client) NewReader(topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.Brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}

// Publisher serializes events and sends them keyed by order id. Delivery is
// at-least-once; the caller decides whether a publish failure is fatal.
type Publisher struct {
	writer *kafka.Writer
	m      *metrics.Metrics
}

func NewPublisher(writer *kafka.Writer, m *metrics.Metrics) *Publisher {
	return &Publisher{writer: writer, m: m}
}

func (p *Publisher) Publish(ctx context.Context, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		p.m.EventsPublished.WithLabelValues(p.writer.Topic, "error").Inc()
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		p.m.EventsPublished.WithLabelValues(p.writer.Topic, "error").Inc()
		return err
	}

	p.m.EventsPublished.WithLabelValues(p.writer.Topic, "ok").Inc()
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Handler processes one decoded message. It must tolerate redelivery of the
// same logical event.
type Handler func(ctx context.Context, msg kafka.Message) error

// Consumer runs a fetch-handle-commit loop over one topic. Handler errors are
// logged and the message is committed anyway; redelivery is a transport
// concern, not ours.
type Consumer struct {
	reader  *kafka.Reader
	handler Handler
	m       *metrics.Metrics
}

func NewConsumer(reader *kafka.Reader, handler Handler, m *metrics.Metrics) *Consumer {
	return &Consumer{reader: reader, handler: handler, m: m}
}

func (c *Consumer) Run(ctx context.Context) error {
	topic := c.reader.Config().Topic
	log.Info().Str("topic", topic).Msg("Consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		if err := c.handler(ctx, msg); err != nil {
			c.m.EventsConsumed.WithLabelValues(topic, "error").Inc()
			log.Error().Err(err).Str("topic", topic).Str("key", string(msg.Key)).
				Int("partition", msg.Partition).Int64("offset", msg.Offset).
				Msg("Event handler failed, committing anyway")
		} else {
			c.m.EventsConsumed.WithLabelValues(topic, "ok").Inc()
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
