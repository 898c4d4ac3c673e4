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

// devreg runs the canonical device registry: the reconciliation pipeline,
// the discovery queue, and the per-manufacturer payload consumers.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/justprosound/devreg/pkg/config"
	"github.com/justprosound/devreg/pkg/db"
	"github.com/justprosound/devreg/pkg/lifecycle"
	"github.com/justprosound/devreg/pkg/logger"
	"github.com/justprosound/devreg/pkg/natsutil"
	"github.com/justprosound/devreg/pkg/registry"
	"github.com/justprosound/devreg/pkg/service"
)

func main() {
	configPath := flag.String("config", "/etc/devreg/devreg.json", "Path to config file")
	flag.Parse()

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	var cfg service.Config

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logCfg := cfg.Logging
	if logCfg == nil {
		logCfg = logger.DefaultConfig()
	}

	appLogger, err := logger.NewLogger(logCfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	dbService, err := db.New(ctx, &cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("Failed to initialize database service")
	}

	var sink registry.EventSink

	if cfg.Events.Enabled {
		nc, err := natsutil.Connect(cfg.NATS.URL, appLogger)
		if err != nil {
			appLogger.Fatal().Err(err).Msg("Failed to connect to NATS for event publishing")
		}
		defer nc.Close()

		sink, err = natsutil.CreateEventPublisher(ctx, nc, cfg.NATS.Domain,
			cfg.Events.StreamName, cfg.Events.Subjects, appLogger)
		if err != nil {
			appLogger.Fatal().Err(err).Msg("Failed to create event publisher")
		}
	}

	svc, err := service.New(&cfg, dbService, sink, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("Failed to initialize registry service")
	}

	opts := &lifecycle.RunOptions{
		ServiceName: "devreg",
		Service:     svc,
		Logger:      appLogger,
	}

	if err := lifecycle.Run(ctx, opts); err != nil {
		appLogger.Fatal().Err(err).Msg("Service failed")
	}
}
