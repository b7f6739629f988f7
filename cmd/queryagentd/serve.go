// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/kadirpekel/queryagent/pkg/backend"
	"github.com/kadirpekel/queryagent/pkg/config"
	"github.com/kadirpekel/queryagent/pkg/connection"
	"github.com/kadirpekel/queryagent/pkg/llm"
	"github.com/kadirpekel/queryagent/pkg/observability"
	"github.com/kadirpekel/queryagent/pkg/transport"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port  int  `help:"Override the listen port from the config file."`
	Watch bool `help:"Watch the config file for changes and reload."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	loader, err := config.NewLoader(cli.Config)
	if err != nil {
		return err
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	obsManager := observability.NewManager(observability.Config{
		Tracing: observability.TracerConfig{
			Enabled:      cfg.Observability.TracingEnabled,
			ExporterType: cfg.Observability.ExporterType,
			EndpointURL:  cfg.Observability.EndpointURL,
			SamplingRate: cfg.Observability.SamplingRate,
			ServiceName:  cfg.Observability.ServiceName,
		},
		Metrics: observability.MetricsConfig{
			Enabled: cfg.Observability.MetricsEnabled,
			Port:    cfg.Observability.MetricsPort,
		},
	})
	if err := obsManager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	if cfg.Observability.MetricsEnabled {
		go serveMetrics(cfg.Observability.MetricsPort)
	}

	storage := connection.NewStorage(cfg.Store.Path)
	manager := connection.NewManager(storage)
	manager.SetKOSISDefaultAPIKey(cfg.KOSIS.DefaultAPIKey)
	if err := manager.LoadPersisted(); err != nil {
		return fmt.Errorf("failed to load persisted connections: %w", err)
	}
	defer manager.DisconnectAll(context.Background())

	llmClient := llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.DefaultModel)

	srv := transport.NewServer(manager, llmClient, cfg.Orchestrator.Budget)

	if c.Watch {
		go func() {
			err := loader.Watch(ctx, func(newCfg *config.Config) {
				slog.Info("config changed, note: server restart required to apply listen address changes", "path", cli.Config)
				_ = newCfg
			})
			if err != nil && ctx.Err() == nil {
				slog.Error("config watch error", "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Address(),
		Handler: srv.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("queryagentd listening", "address", cfg.Server.Address())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	slog.Info("metrics listening", "address", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server stopped", "error", err)
	}
}
