/*
 * Copyright 2026 JustProSound.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package service assembles the registry, event publishing, and the
// per-manufacturer payload consumers into one runnable unit.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/justprosound/devreg/pkg/consumers/payloads"
	"github.com/justprosound/devreg/pkg/db"
	"github.com/justprosound/devreg/pkg/lifecycle"
	"github.com/justprosound/devreg/pkg/logger"
	"github.com/justprosound/devreg/pkg/models"
	"github.com/justprosound/devreg/pkg/registry"
)

// Config is the devreg service configuration document.
type Config struct {
	Database  models.Database           `json:"database"`
	NATS      models.NATSConfig         `json:"nats"`
	Events    models.EventsConfig       `json:"events"`
	Registry  registry.Config           `json:"registry"`
	Consumers []payloads.ConsumerConfig `json:"consumers"`
	Logging   *logger.Config            `json:"logging,omitempty"`
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Events.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Events.Enabled || len(c.Consumers) > 0 {
		if err := c.NATS.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	for i := range c.Consumers {
		// Consumers inherit the shared NATS settings unless overridden.
		if c.Consumers[i].NATSURL == "" {
			c.Consumers[i].NATSURL = c.NATS.URL
		}

		if c.Consumers[i].Domain == "" {
			c.Consumers[i].Domain = c.NATS.Domain
		}

		if err := c.Consumers[i].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("consumer %d: %w", i, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Service hosts the registry and its payload consumers.
type Service struct {
	cfg       *Config
	registry  *registry.Registry
	db        db.Service
	consumers []*payloads.Service
	logger    logger.Logger
}

// New builds the service graph. The registry is shared by every consumer.
func New(cfg *Config, database db.Service, sink registry.EventSink, log logger.Logger) (*Service, error) {
	reg := registry.NewRegistry(database, sink, cfg.Registry, log)

	svc := &Service{
		cfg:      cfg,
		registry: reg,
		db:       database,
		logger:   log,
	}

	for i := range cfg.Consumers {
		consumer, err := payloads.NewService(&cfg.Consumers[i], reg, log)
		if err != nil {
			return nil, fmt.Errorf("consumer %s: %w", cfg.Consumers[i].ConsumerName, err)
		}

		svc.consumers = append(svc.consumers, consumer)
	}

	return svc, nil
}

// Registry exposes the reconciliation surface for embedding callers.
func (s *Service) Registry() registry.Manager {
	return s.registry
}

// Start launches every payload consumer.
func (s *Service) Start(ctx context.Context) error {
	for _, consumer := range s.consumers {
		if err := consumer.Start(ctx); err != nil {
			return err
		}
	}

	s.logger.Info().
		Int("consumers", len(s.consumers)).
		Msg("Registry service started")

	return nil
}

// Stop shuts down the consumers, then the database.
func (s *Service) Stop(ctx context.Context) error {
	var errs []error

	for _, consumer := range s.consumers {
		if err := consumer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

var _ lifecycle.Service = (*Service)(nil)
