package payloads

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/justprosound/devreg/pkg/lifecycle"
	"github.com/justprosound/devreg/pkg/logger"
	"github.com/justprosound/devreg/pkg/natsutil"
	"github.com/justprosound/devreg/pkg/registry"
)

// Service runs one manufacturer's payload consumer against the registry.
type Service struct {
	cfg       *ConsumerConfig
	nc        *nats.Conn
	js        jetstream.JetStream
	consumer  *Consumer
	processor *Processor
	logger    logger.Logger
	wg        sync.WaitGroup
}

// NewService creates the consumer service. The registry manager is shared
// across all manufacturer consumers in a process.
func NewService(cfg *ConsumerConfig, manager registry.Manager, log logger.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Service{
		cfg:       cfg,
		processor: NewProcessor(cfg.Manufacturer, manager, log),
		logger:    log,
	}, nil
}

// Start connects to NATS and launches the pull loop.
func (s *Service) Start(ctx context.Context) error {
	nc, err := natsutil.Connect(s.cfg.NATSURL, s.logger)
	if err != nil {
		return err
	}

	s.nc = nc

	js, err := natsutil.NewJetStream(nc, s.cfg.Domain)
	if err != nil {
		nc.Close()
		return err
	}

	s.js = js

	stream, err := js.Stream(ctx, s.cfg.StreamName)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to get stream %s: %w", s.cfg.StreamName, err)
	}

	if _, err = stream.Info(ctx); err != nil {
		nc.Close()
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	s.consumer, err = NewConsumer(ctx, js, s.cfg.StreamName, s.cfg.ConsumerName, s.cfg.Subject, s.logger)
	if err != nil {
		nc.Close()
		return err
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.consumer.ProcessMessages(ctx, s.processor)
	}()

	s.logger.Info().
		Str("stream", s.cfg.StreamName).
		Str("consumer", s.cfg.ConsumerName).
		Str("manufacturer", s.cfg.Manufacturer).
		Msg("Payload consumer started")

	return nil
}

// Stop closes the NATS connection and waits for the pull loop to exit.
func (s *Service) Stop(_ context.Context) error {
	if s.nc != nil {
		s.nc.Close()
	}

	s.wg.Wait()

	s.logger.Info().
		Str("consumer", s.cfg.ConsumerName).
		Msg("Payload consumer stopped")

	return nil
}

var _ lifecycle.Service = (*Service)(nil)
