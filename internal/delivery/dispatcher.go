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

// Package delivery sends composed messages through a configured transport
// with bounded retry.
package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/justlegal/serve-mailer/internal/models"
	"github.com/justlegal/serve-mailer/internal/retry"
)

// Transport is a delivery backend. Each Send is one attempt.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg *models.ComposedMessage) (*models.ProviderResponse, error)
}

// DispatcherConfig holds the retry and timeout settings.
type DispatcherConfig struct {
	Attempts    int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // zero means retry.DefaultMaxDelay
	SendTimeout time.Duration
}

// Dispatcher hands composed messages to a Transport.
type Dispatcher struct {
	transport   Transport
	attempts    int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sendTimeout time.Duration
}

// NewDispatcher creates a dispatcher for the given transport.
func NewDispatcher(transport Transport, cfg DispatcherConfig) *Dispatcher {
	if cfg.Attempts < 1 {
		cfg.Attempts = 3
	}
	return &Dispatcher{
		transport:   transport,
		attempts:    cfg.Attempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		sendTimeout: cfg.SendTimeout,
	}
}

// Transport returns the configured transport.
func (d *Dispatcher) Transport() Transport {
	return d.transport
}

// Dispatch sends msg, retrying failed attempts. On success the transport's
// acknowledgment is returned unmodified. When every attempt fails the
// error is a DeliveryFailed *models.Error wrapping the final attempt's error.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *models.ComposedMessage) (*models.ProviderResponse, error) {
	policy := retry.Policy{
		Attempts:  d.attempts,
		BaseDelay: d.baseDelay,
		MaxDelay:  d.maxDelay,
		OnFailure: func(attempt int, err error) {
			slog.Warn("delivery attempt failed",
				"transport", d.transport.Name(),
				"attempt", attempt,
				"max_attempts", d.attempts,
				"error", err,
			)
		},
	}

	resp, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (*models.ProviderResponse, error) {
		if d.sendTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.sendTimeout)
			defer cancel()
		}
		slog.Info("sending email",
			"transport", d.transport.Name(),
			"attempt", attempt,
			"recipients", len(msg.To),
			"attachments", len(msg.Attachments),
		)
		return d.transport.Send(ctx, msg)
	})
	if err != nil {
		return nil, models.NewError(models.KindDeliveryFailed, "failed to send email", err)
	}

	slog.Info("email sent",
		"transport", d.transport.Name(),
		"provider_id", resp.ID,
	)
	return resp, nil
}
