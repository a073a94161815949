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

// Package handler exposes the mail pipeline over HTTP. POST /send accepts
// a JSON payload and answers with {success, message, data?}.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/justlegal/serve-mailer/internal/models"
	"github.com/justlegal/serve-mailer/internal/pipeline"
)

// maxBodyBytes bounds a request body; inline images make payloads large.
const maxBodyBytes = 25 << 20

// shutdownTimeout bounds how long in-flight sends may drain on shutdown.
const shutdownTimeout = 30 * time.Second

// IdempotencyHeader carries the client's idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// Processor runs one request through the pipeline.
type Processor interface {
	Process(ctx context.Context, body any) pipeline.Response
	Fail(err error) pipeline.Response
}

// Guard claims idempotency keys. Implemented by *dedup.Guard.
type Guard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Handler serves send requests.
type Handler struct {
	processor Processor
	guard     Guard
}

// NewHandler creates a send handler. guard may be nil.
func NewHandler(processor Processor, guard Guard) *Handler {
	return &Handler{
		processor: processor,
		guard:     guard,
	}
}

// ServeSend handles POST /send.
func (h *Handler) ServeSend(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, pipeline.Response{
			Message:    "method not allowed",
			StatusCode: http.StatusMethodNotAllowed,
		})
		return
	}

	log := slog.With("request_id", requestID)
	log.Info("processing request")

	resp := h.handle(r.Context(), w, r, log)

	log.Info("request complete",
		"success", resp.Success,
		"status", resp.StatusCode,
	)
	writeJSON(w, resp)
}

func (h *Handler) handle(ctx context.Context, w http.ResponseWriter, r *http.Request, log *slog.Logger) (resp pipeline.Response) {
	// claimed is set once this request owns an idempotency key; any
	// unsuccessful outcome, a panic included, gives the key back.
	var claimed string
	defer func() {
		if p := recover(); p != nil {
			log.Error("panic while processing request", "panic", p)
			resp = h.processor.Fail(models.NewError(models.KindInternal, "internal error", fmt.Errorf("%v", p)))
		}
		if claimed != "" && !resp.Success {
			// Let the client retry a request that did not send anything.
			if err := h.guard.Release(context.WithoutCancel(ctx), claimed); err != nil {
				log.Warn("failed to release idempotency key", "error", err)
			}
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return h.processor.Fail(models.NewError(models.KindInvalidPayload, "failed to read request body", err))
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" || h.guard == nil {
		return h.processor.Process(ctx, body)
	}

	isNew, err := h.guard.Claim(ctx, key)
	if err != nil {
		log.Warn("idempotency check failed, proceeding", "error", err)
		return h.processor.Process(ctx, body)
	}
	if !isNew {
		log.Info("duplicate request", "idempotency_key", key)
		return h.processor.Fail(models.NewError(models.KindDuplicateRequest,
			"request with this idempotency key was already processed", nil))
	}

	claimed = key
	return h.processor.Process(ctx, body)
}

func writeJSON(w http.ResponseWriter, resp pipeline.Response) {
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// Serve starts the HTTP server on the given port. It binds the port
// immediately and signals readiness via the first returned channel before
// starting to accept connections. Cancelling ctx drains in-flight requests
// and closes the second channel once the server has stopped. health backs
// GET /health.
func Serve(ctx context.Context, port int, handler *Handler, health func(context.Context) error) (ready, stopped <-chan struct{}, err error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/send", handler.ServeSend)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("bind port %d: %w", port, err)
	}

	readyCh := make(chan struct{})
	stoppedCh := make(chan struct{})

	go func() {
		defer close(stoppedCh)
		<-ctx.Done()
		slog.Info("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("server listening", "port", port)
		close(readyCh)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()

	return readyCh, stoppedCh, nil
}
