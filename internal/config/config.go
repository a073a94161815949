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

// Package config loads configuration from config.yaml and environment variables.
// The resulting Config is built once at start-up and passed explicitly to
// the pipeline; nothing below cmd/ reads the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "/app/config/config.yaml"

// Transport names.
const (
	TransportAPI  = "api"
	TransportSMTP = "smtp"
)

// Evidence store backends.
const (
	BackendPostgres  = "postgres"
	BackendDocuments = "documents"
	BackendNone      = "none"
)

// MaxRetryAttempts bounds retry.attempts.
const MaxRetryAttempts = 10

// Attachment failure policies.
const (
	PolicyAbort = "abort"
	PolicyOmit  = "omit"
)

// APIConfig configures the transactional email API transport.
type APIConfig struct {
	Endpoint     string `yaml:"endpoint"      env:"MAILER_API_ENDPOINT"`
	Key          string `yaml:"key"           env:"RESEND_KEY"`
	TokenURL     string `yaml:"token_url"     env:"MAILER_API_TOKEN_URL"`
	ClientID     string `yaml:"client_id"     env:"MAILER_API_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"MAILER_API_CLIENT_SECRET"`
}

// SMTPConfig configures the SMTP relay transport.
type SMTPConfig struct {
	Host     string `yaml:"host"     env:"SMTP_HOST"`
	Port     int    `yaml:"port"     env:"SMTP_PORT"`
	TLS      bool   `yaml:"tls"      env:"SMTP_TLS"` // implicit TLS (SMTPS); otherwise STARTTLS when offered
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	Auth     string `yaml:"auth"     env:"SMTP_AUTH"` // plain, login, none
}

// EvidenceConfig selects and configures the external record store.
type EvidenceConfig struct {
	Backend string `yaml:"backend" env:"EVIDENCE_BACKEND"`

	// postgres
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	Table       string `yaml:"table"        env:"EVIDENCE_TABLE"`

	// documents
	Endpoint     string `yaml:"endpoint"      env:"APPWRITE_FUNCTION_API_ENDPOINT"`
	Project      string `yaml:"project"       env:"APPWRITE_FUNCTION_PROJECT_ID"`
	Key          string `yaml:"key"           env:"APPWRITE_FUNCTION_API_KEY"`
	DatabaseID   string `yaml:"database_id"   env:"APPWRITE_FUNCTION_DATABASE_ID"`
	CollectionID string `yaml:"collection_id" env:"APPWRITE_FUNCTION_SERVE_ATTEMPTS_COLLECTION_ID"`

	ImageField       string `yaml:"image_field"       env:"EVIDENCE_IMAGE_FIELD"`
	CoordinatesField string `yaml:"coordinates_field" env:"EVIDENCE_COORDINATES_FIELD"`
}

// AttachmentConfig controls the attachment resolver.
type AttachmentConfig struct {
	FailurePolicy string `yaml:"failure_policy" env:"ATTACHMENT_FAILURE_POLICY"`
	Filename      string `yaml:"filename"       env:"ATTACHMENT_FILENAME"`
}

// RetryConfig controls the delivery retry combinator. Durations are
// pointers so an explicit zero survives default merging.
type RetryConfig struct {
	Attempts  int            `yaml:"attempts"   env:"RETRY_ATTEMPTS"`
	BaseDelay *time.Duration `yaml:"base_delay" env:"RETRY_BASE_DELAY"` // 0 disables waiting
	MaxDelay  *time.Duration `yaml:"max_delay"  env:"RETRY_MAX_DELAY"`  // 0 selects retry.DefaultMaxDelay
}

// TimeoutConfig bounds each external call. Zero disables the bound.
type TimeoutConfig struct {
	Lookup *time.Duration `yaml:"lookup" env:"LOOKUP_TIMEOUT"`
	Send   *time.Duration `yaml:"send"   env:"SEND_TIMEOUT"`
}

// ResponseConfig controls how failures are reported to the caller.
type ResponseConfig struct {
	// AlwaysOK reports every outcome with HTTP 200 and success:false in the
	// body, matching older deployments of the function.
	AlwaysOK bool `yaml:"always_ok" env:"RESPONSE_ALWAYS_OK"`
}

// Config holds all configuration for the mailer service.
type Config struct {
	From       string           `yaml:"from"      env:"MAILER_FROM"`
	Transport  string           `yaml:"transport" env:"MAILER_TRANSPORT"`
	API        APIConfig        `yaml:"api"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Evidence   EvidenceConfig   `yaml:"evidence"`
	Attachment AttachmentConfig `yaml:"attachment"`
	Retry      RetryConfig      `yaml:"retry"`
	Timeouts   TimeoutConfig    `yaml:"timeouts"`
	Response   ResponseConfig   `yaml:"response"`

	// Redis (idempotency guard); empty disables it.
	RedisURL       string        `yaml:"redis_url"       env:"REDIS_URL"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" env:"IDEMPOTENCY_TTL"`

	// EscapeHTML escapes notes and coordinates before they are written into
	// the HTML body. Nil means the default (true).
	EscapeHTML *bool `yaml:"escape_html" env:"ESCAPE_HTML"`

	// Server
	Port int `yaml:"port" env:"PORT"`
}

// Defaults returns the baseline configuration merged under every load.
func Defaults() Config {
	escape := true
	return Config{
		From:      "no-reply@justlegalsolutions.tech",
		Transport: TransportAPI,
		API: APIConfig{
			Endpoint: "https://api.resend.com/emails",
		},
		SMTP: SMTPConfig{
			Port: 587,
			Auth: "plain",
		},
		Evidence: EvidenceConfig{
			Backend:          BackendNone,
			Table:            "serve_attempts",
			ImageField:       "image_data",
			CoordinatesField: "coordinates",
		},
		Attachment: AttachmentConfig{
			FailurePolicy: PolicyAbort,
			Filename:      "serve_evidence.jpeg",
		},
		Retry: RetryConfig{
			Attempts:  3,
			BaseDelay: durationPtr(500 * time.Millisecond),
			MaxDelay:  durationPtr(30 * time.Second),
		},
		Timeouts: TimeoutConfig{
			Lookup: durationPtr(10 * time.Second),
			Send:   durationPtr(15 * time.Second),
		},
		IdempotencyTTL: 24 * time.Hour,
		EscapeHTML:     &escape,
		Port:           8080,
	}
}

// Load reads configuration from the file named by CONFIG_PATH (or the
// default path) and applies environment overrides. The file is optional
// unless CONFIG_PATH is set explicitly.
func Load() (*Config, error) {
	path := envOrDefault("CONFIG_PATH", defaultConfigPath)
	return LoadFile(path, os.Getenv("CONFIG_PATH") != "")
}

// LoadFile loads configuration from path. When required is false a missing
// file is not an error and only environment variables and defaults apply.
func LoadFile(path string, required bool) (*Config, error) {
	cfg, err := ReadFile(path, required)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation.
func Read() (*Config, error) {
	path := envOrDefault("CONFIG_PATH", defaultConfigPath)
	return ReadFile(path, os.Getenv("CONFIG_PATH") != "")
}

// ReadFile is LoadFile without validation. Callers that use only part of
// the configuration validate that part themselves.
func ReadFile(path string, required bool) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !required:
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	defaults := Defaults()
	// Without dereferencing, a pointer set by YAML or env is kept as is
	// (explicit false or 0) and only nil pointers take the default.
	if err := mergo.Merge(c, defaults, mergo.WithoutDereference); err != nil {
		return fmt.Errorf("merge config defaults: %w", err)
	}
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	c.Evidence.Backend = strings.ToLower(strings.TrimSpace(c.Evidence.Backend))
	c.Attachment.FailurePolicy = strings.ToLower(strings.TrimSpace(c.Attachment.FailurePolicy))
	return nil
}

// Validate reports the first setting that makes the service unusable.
func (c *Config) Validate() error {
	if err := c.ValidateCompose(); err != nil {
		return err
	}
	return c.validateTransport()
}

// ValidateCompose checks every setting except the delivery transport, which
// composing a message without sending it never touches.
func (c *Config) ValidateCompose() error {
	if strings.TrimSpace(c.From) == "" {
		return fmt.Errorf("from address is required")
	}

	switch c.Evidence.Backend {
	case BackendNone:
	case BackendPostgres:
		if c.Evidence.DatabaseURL == "" {
			return fmt.Errorf("postgres evidence backend requires evidence.database_url")
		}
	case BackendDocuments:
		if c.Evidence.Endpoint == "" || c.Evidence.DatabaseID == "" || c.Evidence.CollectionID == "" {
			return fmt.Errorf("documents evidence backend requires endpoint, database_id and collection_id")
		}
	default:
		return fmt.Errorf("unknown evidence backend %q", c.Evidence.Backend)
	}

	switch c.Attachment.FailurePolicy {
	case PolicyAbort, PolicyOmit:
	default:
		return fmt.Errorf("unknown attachment failure policy %q (want %q or %q)",
			c.Attachment.FailurePolicy, PolicyAbort, PolicyOmit)
	}

	if c.Retry.Attempts < 1 || c.Retry.Attempts > MaxRetryAttempts {
		return fmt.Errorf("retry.attempts must be between 1 and %d, got %d", MaxRetryAttempts, c.Retry.Attempts)
	}
	for name, d := range map[string]*time.Duration{
		"retry.base_delay": c.Retry.BaseDelay,
		"retry.max_delay":  c.Retry.MaxDelay,
		"timeouts.lookup":  c.Timeouts.Lookup,
		"timeouts.send":    c.Timeouts.Send,
	} {
		if Duration(d) < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

func (c *Config) validateTransport() error {
	switch c.Transport {
	case TransportAPI:
		if c.API.Endpoint == "" {
			return fmt.Errorf("api transport requires api.endpoint")
		}
		if c.API.Key == "" && c.API.TokenURL == "" {
			return fmt.Errorf("api transport requires an API key (RESEND_KEY) or api.token_url")
		}
		if c.API.TokenURL != "" && (c.API.ClientID == "" || c.API.ClientSecret == "") {
			return fmt.Errorf("api.token_url requires api.client_id and api.client_secret")
		}
	case TransportSMTP:
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp transport requires smtp.host")
		}
		if c.SMTP.Port <= 0 {
			return fmt.Errorf("invalid smtp.port %d", c.SMTP.Port)
		}
	default:
		return fmt.Errorf("unknown transport %q (want %q or %q)", c.Transport, TransportAPI, TransportSMTP)
	}
	return nil
}

// Duration dereferences an optional duration setting; nil reads as zero.
func Duration(d *time.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return *d
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}

// EscapeHTMLEnabled reports whether user content is HTML-escaped.
func (c *Config) EscapeHTMLEnabled() bool {
	return c.EscapeHTML == nil || *c.EscapeHTML
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
