package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// ErrMalformed is returned for a message whose payload cannot be decoded.
// The message is committed so it is not redelivered.
var ErrMalformed = errors.New("malformed message")

type Config struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	GroupID string   `yaml:"groupId" json:"groupId"`
	Topic   string   `yaml:"topic" json:"topic"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer[T any] struct {
	reader messageReader
}

func NewConsumer[T any](cfg Config) *Consumer[T] {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
	})
	return &Consumer[T]{reader: r}
}

func newConsumer[T any](r messageReader) *Consumer[T] {
	return &Consumer[T]{reader: r}
}

// Read fetches, decodes and commits the next message.
func (c *Consumer[T]) Read(ctx context.Context) (T, error) {
	var zero T

	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return zero, err
	}

	var payload T
	decodeErr := json.Unmarshal(msg.Value, &payload)

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return zero, err
	}
	if decodeErr != nil {
		return zero, fmt.Errorf("%w at offset %d: %v", ErrMalformed, msg.Offset, decodeErr)
	}
	return payload, nil
}

// Run reads until ctx is done, passing every decoded payload to handle.
// Malformed messages are reported to onError and skipped.
func (c *Consumer[T]) Run(ctx context.Context, handle func(context.Context, T), onError func(error)) error {
	for {
		payload, err := c.Read(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrMalformed):
			onError(err)
		case err != nil:
			return err
		default:
			handle(ctx, payload)
		}
	}
}

func (c *Consumer[T]) Close() error {
	return c.reader.Close()
}
