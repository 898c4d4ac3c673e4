package payloads

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/justprosound/devreg/pkg/logger"
)

const (
	defaultMaxPullMessages = 10
	defaultPullExpiry      = 30 * time.Second
	defaultMaxRetries      = 3
)

// Consumer pulls raw payload messages from a JetStream stream.
type Consumer struct {
	js           jetstream.JetStream
	streamName   string
	consumerName string
	consumer     jetstream.Consumer
	logger       logger.Logger
}

// NewConsumer creates or attaches to a durable pull consumer.
func NewConsumer(ctx context.Context, js jetstream.JetStream, streamName, consumerName, subject string, log logger.Logger) (*Consumer, error) {
	consumer, err := js.Consumer(ctx, streamName, consumerName)
	if err != nil {
		cfg := jetstream.ConsumerConfig{
			Durable:       consumerName,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    3,
			MaxAckPending: 1000,
		}
		if subject != "" {
			cfg.FilterSubject = subject
		}

		consumer, err = js.CreateConsumer(ctx, streamName, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	return &Consumer{
		js:           js,
		streamName:   streamName,
		consumerName: consumerName,
		consumer:     consumer,
		logger:       log,
	}, nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg jetstream.Msg, processor *Processor) {
	metadata, _ := msg.Metadata()

	if err := processor.Process(ctx, msg); err != nil {
		c.logger.Warn().Err(err).
			Str("subject", msg.Subject()).
			Msg("Failed to process message")

		if metadata != nil && metadata.NumDelivered >= defaultMaxRetries {
			c.logger.Warn().
				Str("subject", msg.Subject()).
				Uint64("sequence", metadata.Sequence.Stream).
				Msg("Max retries reached, acknowledging message")

			_ = msg.Ack()

			return
		}

		_ = msg.Nak()

		return
	}

	_ = msg.Ack()
}

// ProcessMessages pulls and processes messages until ctx is canceled.
func (c *Consumer) ProcessMessages(ctx context.Context, processor *Processor) {
	c.logger.Info().
		Str("stream", c.streamName).
		Str("consumer", c.consumerName).
		Msg("Starting pull consumer")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Stopping message processing due to context cancellation")
			return
		default:
			msgs, err := c.consumer.Fetch(defaultMaxPullMessages, jetstream.FetchMaxWait(defaultPullExpiry))
			if err != nil {
				c.logger.Warn().Err(err).Msg("Failed to fetch messages")
				time.Sleep(time.Second)

				continue
			}

			for msg := range msgs.Messages() {
				c.handleMessage(ctx, msg, processor)
			}

			if fetchErr := msgs.Error(); fetchErr != nil {
				c.logger.Warn().Err(fetchErr).Msg("Fetch error")
			}
		}
	}
}
