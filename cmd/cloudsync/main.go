/*
 * Copyright 2025 Carver Automation Corporation.
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

package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/carverauto/cloudsync/pkg/config"
	"github.com/carverauto/cloudsync/pkg/logger"
	"github.com/carverauto/cloudsync/pkg/sync"
)

func main() {
	configPath := flag.String("config", "/etc/cloudsync/cloudsync.json", "Path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgLoader := config.NewConfig()

	var cfg sync.Config

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := cfg.Logger
	if logCfg == nil {
		logCfg = logger.DefaultConfig()
	}

	logg, err := logger.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	svc, err := sync.NewService(&cfg, logg)
	if err != nil {
		logg.Fatal().Err(err).Msg("Failed to create sync service")
	}

	if err := svc.Start(ctx); err != nil {
		logg.Fatal().Err(err).Msg("Sync service failed to start")
	}

	<-ctx.Done()

	svc.Stop()
}
