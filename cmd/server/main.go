// Copyright (c) 2026 John Earle
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

// Serve-evidence mailer: HTTP service
//
// Entry point for the long-running service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects the evidence store, mail transport and (optionally) Redis
//  3. Serves POST /send and GET /health
//  4. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/justlegal/serve-mailer/internal/config"
	"github.com/justlegal/serve-mailer/internal/handler"
	"github.com/justlegal/serve-mailer/internal/pipeline"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting serve-evidence mailer")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"transport", cfg.Transport,
		"evidence_backend", cfg.Evidence.Backend,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Assemble pipeline ---
	rt, err := pipeline.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to assemble pipeline", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	if err := rt.Health(ctx); err != nil {
		slog.Error("dependency check failed", "error", err)
		os.Exit(1)
	}

	// Avoid a typed-nil interface when Redis is not configured.
	var guard handler.Guard
	if rt.Guard != nil {
		guard = rt.Guard
	}

	h := handler.NewHandler(rt.Pipeline, guard)
	ready, stopped, err := handler.Serve(ctx, cfg.Port, h, rt.Health)
	if err != nil {
		slog.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel()
	<-stopped

	slog.Info("serve-evidence mailer stopped")
}
