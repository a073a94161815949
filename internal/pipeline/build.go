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

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/justlegal/serve-mailer/internal/attachment"
	"github.com/justlegal/serve-mailer/internal/augment"
	"github.com/justlegal/serve-mailer/internal/config"
	"github.com/justlegal/serve-mailer/internal/dedup"
	"github.com/justlegal/serve-mailer/internal/delivery"
	"github.com/justlegal/serve-mailer/internal/evidence"
)

// Runtime is a pipeline together with the external clients it owns.
type Runtime struct {
	Pipeline  *Pipeline
	Transport delivery.Transport
	// Guard is nil when no Redis URL is configured.
	Guard *dedup.Guard

	checks  map[string]func(context.Context) error
	closers []func()
}

// Build connects the configured collaborators and assembles a pipeline.
// ctx must outlive the Runtime; it scopes OAuth2 token refreshes.
func Build(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	return build(ctx, cfg, true)
}

// BuildComposer assembles a pipeline without a transport or idempotency
// guard. Its Process reports every request as undeliverable; it exists
// for Compose, which needs only the evidence store.
func BuildComposer(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	return build(ctx, cfg, false)
}

func build(ctx context.Context, cfg *config.Config, deliver bool) (*Runtime, error) {
	rt := &Runtime{checks: make(map[string]func(context.Context) error)}

	store, err := rt.buildStore(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	resolver := attachment.NewResolver(attachment.Config{
		Store:         store,
		Policy:        attachment.Policy(cfg.Attachment.FailurePolicy),
		Filename:      cfg.Attachment.Filename,
		LookupTimeout: config.Duration(cfg.Timeouts.Lookup),
	})
	augmenter := augment.New(augment.Options{EscapeHTML: cfg.EscapeHTMLEnabled()})

	if !deliver {
		rt.Pipeline = New(Config{
			From:      cfg.From,
			Resolver:  resolver,
			Augmenter: augmenter,
			AlwaysOK:  cfg.Response.AlwaysOK,
		})
		return rt, nil
	}

	transport, err := buildTransport(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Transport = transport

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		rt.closers = append(rt.closers, func() { rdb.Close() })
		rt.Guard = dedup.NewGuard(rdb, cfg.IdempotencyTTL)
		rt.checks["redis"] = rt.Guard.Ping
		slog.Info("idempotency guard enabled", "ttl", cfg.IdempotencyTTL)
	}

	dispatcher := delivery.NewDispatcher(transport, delivery.DispatcherConfig{
		Attempts:    cfg.Retry.Attempts,
		BaseDelay:   config.Duration(cfg.Retry.BaseDelay),
		MaxDelay:    config.Duration(cfg.Retry.MaxDelay),
		SendTimeout: config.Duration(cfg.Timeouts.Send),
	})

	rt.Pipeline = New(Config{
		From:      cfg.From,
		Resolver:  resolver,
		Augmenter: augmenter,
		Sender:    dispatcher,
		AlwaysOK:  cfg.Response.AlwaysOK,
	})

	slog.Info("pipeline assembled",
		"transport", transport.Name(),
		"evidence_backend", cfg.Evidence.Backend,
		"attachment_failure_policy", cfg.Attachment.FailurePolicy,
		"retry_attempts", cfg.Retry.Attempts,
	)
	return rt, nil
}

func (rt *Runtime) buildStore(ctx context.Context, cfg *config.Config) (evidence.Store, error) {
	ev := cfg.Evidence
	switch ev.Backend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, ev.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("create Postgres pool: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		store := evidence.NewPGStore(pool, evidence.PGConfig{
			Table:             ev.Table,
			ImageColumn:       ev.ImageField,
			CoordinatesColumn: ev.CoordinatesField,
		})
		rt.checks["postgres"] = store.Ping
		return store, nil
	case config.BackendDocuments:
		return evidence.NewDocumentStore(&http.Client{Timeout: config.Duration(cfg.Timeouts.Lookup)}, evidence.DocumentConfig{
			Endpoint:         ev.Endpoint,
			Project:          ev.Project,
			Key:              ev.Key,
			DatabaseID:       ev.DatabaseID,
			CollectionID:     ev.CollectionID,
			ImageField:       ev.ImageField,
			CoordinatesField: ev.CoordinatesField,
		}), nil
	default:
		return nil, nil
	}
}

func buildTransport(ctx context.Context, cfg *config.Config) (delivery.Transport, error) {
	switch cfg.Transport {
	case config.TransportAPI:
		client := delivery.NewAPIClient(ctx, delivery.APIAuth{
			Key:          cfg.API.Key,
			TokenURL:     cfg.API.TokenURL,
			ClientID:     cfg.API.ClientID,
			ClientSecret: cfg.API.ClientSecret,
		})
		return delivery.NewAPITransport(client, cfg.API.Endpoint), nil
	case config.TransportSMTP:
		return delivery.NewSMTPTransport(delivery.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			TLS:      cfg.SMTP.TLS,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Auth:     cfg.SMTP.Auth,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// Health runs every registered connectivity check.
func (rt *Runtime) Health(ctx context.Context) error {
	for name, check := range rt.checks {
		if err := check(ctx); err != nil {
			return fmt.Errorf("%s unhealthy: %w", name, err)
		}
	}
	return nil
}

// Close releases owned clients.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
