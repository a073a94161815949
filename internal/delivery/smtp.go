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

package delivery

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/justlegal/serve-mailer/internal/models"
)

// SMTPConfig configures the relay connection.
type SMTPConfig struct {
	Host     string
	Port     int
	TLS      bool // implicit TLS; otherwise STARTTLS is used when offered
	Username string
	Password string
	Auth     string // plain, login, none
}

// SMTPTransport delivers messages through an SMTP relay, one connection
// per attempt.
type SMTPTransport struct {
	cfg SMTPConfig
	now func() time.Time
}

// NewSMTPTransport creates an SMTP transport.
func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	return &SMTPTransport{cfg: cfg, now: time.Now}
}

// Name implements Transport.
func (t *SMTPTransport) Name() string { return "smtp" }

// Send implements Transport.
func (t *SMTPTransport) Send(ctx context.Context, msg *models.ComposedMessage) (*models.ProviderResponse, error) {
	envelopeFrom := bareAddress(msg.From)
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(envelopeFrom))

	raw, err := buildMIME(msg, messageID, t.now())
	if err != nil {
		return nil, fmt.Errorf("build message: %w", err)
	}

	client, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if !t.cfg.TLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: t.cfg.Host}); err != nil {
				return nil, fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}

	auth, err := t.auth()
	if err != nil {
		return nil, err
	}
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(envelopeFrom); err != nil {
		return nil, fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := client.Rcpt(bareAddress(rcpt)); err != nil {
			return nil, fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return nil, fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("smtp end data: %w", err)
	}
	if err := client.Quit(); err != nil {
		return nil, fmt.Errorf("smtp quit: %w", err)
	}

	ack, err := json.Marshal(map[string]string{"id": messageID})
	if err != nil {
		return nil, fmt.Errorf("marshal smtp ack: %w", err)
	}
	return &models.ProviderResponse{ID: messageID, Raw: ack}, nil
}

func (t *SMTPTransport) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	dialer := &net.Dialer{}

	var (
		conn net.Conn
		err  error
	)
	if t.cfg.TLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: t.cfg.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("smtp dial %s: %w", addr, err)
	}

	// Bound the whole session by the attempt's deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	return client, nil
}

func (t *SMTPTransport) auth() (smtp.Auth, error) {
	if t.cfg.Username == "" {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(t.cfg.Auth)) {
	case "", "plain":
		return smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host), nil
	case "login":
		return &loginAuth{username: t.cfg.Username, password: t.cfg.Password, host: t.cfg.Host}, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported smtp auth %q", t.cfg.Auth)
	}
}

// loginAuth implements the LOGIN SMTP auth mechanism.
type loginAuth struct {
	username string
	password string
	host     string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if server.Name != a.host {
		return "", nil, fmt.Errorf("unexpected server name %s", server.Name)
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch strings.ToLower(string(fromServer)) {
	case "username:", "user:":
		return []byte(a.username), nil
	case "password:", "pass:":
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unexpected login challenge: %s", string(fromServer))
	}
}

// bareAddress strips a display name: "Name <a@b>" becomes "a@b".
func bareAddress(s string) string {
	if addr, err := mail.ParseAddress(s); err == nil {
		return addr.Address
	}
	return strings.TrimSpace(s)
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
