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
	"encoding/json"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/justlegal/serve-mailer/internal/models"
)

// fakeSMTPServer is a minimal relay that records one session.
type fakeSMTPServer struct {
	ln       net.Listener
	rejectTo string

	mu    sync.Mutex
	from  string
	rcpts []string
	data  string
	done  chan struct{}
}

func newFakeSMTPServer(t *testing.T) *fakeSMTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeSMTPServer{ln: ln, done: make(chan struct{})}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *fakeSMTPServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTPServer) serve() {
	defer close(s.done)
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	tp := textproto.NewConn(conn)
	reply := func(line string) { _ = tp.PrintfLine("%s", line) }

	reply("220 fake.local ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch verb {
		case "EHLO", "HELO":
			reply("250 fake.local")
		case "MAIL":
			s.mu.Lock()
			s.from = extractPath(line)
			s.mu.Unlock()
			reply("250 OK")
		case "RCPT":
			rcpt := extractPath(line)
			if rcpt == s.rejectTo {
				reply("550 no such user")
				continue
			}
			s.mu.Lock()
			s.rcpts = append(s.rcpts, rcpt)
			s.mu.Unlock()
			reply("250 OK")
		case "DATA":
			reply("354 go ahead")
			body, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.data = string(body)
			s.mu.Unlock()
			reply("250 queued")
		case "RSET", "NOOP":
			reply("250 OK")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func extractPath(line string) string {
	start := strings.Index(line, "<")
	end := strings.Index(line, ">")
	if start < 0 || end < start {
		return ""
	}
	return line[start+1 : end]
}

func (s *fakeSMTPServer) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("smtp session did not finish")
	}
}

// TestSMTPTransport_Send verifies the envelope, message and ack.
func TestSMTPTransport_Send(t *testing.T) {
	srv := newFakeSMTPServer(t)
	tr := NewSMTPTransport(SMTPConfig{Host: "127.0.0.1", Port: srv.port()})
	tr.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	msg := &models.ComposedMessage{
		From:        "Just Legal <no-reply@example.com>",
		To:          []string{"a@x.com", "Bob <b@x.com>"},
		Subject:     "Serve attempt",
		Text:        "attempt made",
		Attachments: []models.Attachment{{Filename: "serve_evidence.jpeg", Content: "QUJD", Encoding: "base64"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := tr.Send(ctx, msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srv.wait(t)

	if !strings.HasPrefix(resp.ID, "<") || !strings.HasSuffix(resp.ID, "@example.com>") {
		t.Errorf("ID = %q", resp.ID)
	}
	var ack map[string]string
	if err := json.Unmarshal(resp.Raw, &ack); err != nil || ack["id"] != resp.ID {
		t.Errorf("Raw = %s", resp.Raw)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.from != "no-reply@example.com" {
		t.Errorf("MAIL FROM = %q", srv.from)
	}
	if len(srv.rcpts) != 2 || srv.rcpts[0] != "a@x.com" || srv.rcpts[1] != "b@x.com" {
		t.Errorf("RCPT TO = %v", srv.rcpts)
	}
	for _, want := range []string{
		"Subject: Serve attempt",
		"Date: Wed, 01 May 2024 12:00:00 +0000",
		"Message-ID: " + resp.ID,
		"multipart/mixed",
		`filename=serve_evidence.jpeg`,
	} {
		if !strings.Contains(srv.data, want) {
			t.Errorf("DATA missing %q", want)
		}
	}
}

// TestSMTPTransport_RejectedRecipient verifies relay rejections surface.
func TestSMTPTransport_RejectedRecipient(t *testing.T) {
	srv := newFakeSMTPServer(t)
	srv.rejectTo = "nobody@x.com"
	tr := NewSMTPTransport(SMTPConfig{Host: "127.0.0.1", Port: srv.port()})

	msg := testMessage()
	msg.To = []string{"nobody@x.com"}

	_, err := tr.Send(context.Background(), msg)
	if err == nil {
		t.Fatal("expected error, got none")
	}
	if !strings.Contains(err.Error(), "RCPT TO") {
		t.Errorf("error = %v", err)
	}
}

// TestSMTPTransport_DialFailure verifies connection errors are returned.
func TestSMTPTransport_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	tr := NewSMTPTransport(SMTPConfig{Host: "127.0.0.1", Port: port})
	_, err = tr.Send(context.Background(), testMessage())
	if err == nil || !strings.Contains(err.Error(), "smtp dial") {
		t.Errorf("error = %v, want dial failure", err)
	}
}

// TestSMTPTransport_Auth verifies mechanism selection.
func TestSMTPTransport_Auth(t *testing.T) {
	tests := []struct {
		name     string
		cfg      SMTPConfig
		wantNil  bool
		wantErr  bool
		wantType string
	}{
		{name: "no username", cfg: SMTPConfig{Auth: "plain"}, wantNil: true},
		{name: "none", cfg: SMTPConfig{Username: "u", Auth: "none"}, wantNil: true},
		{name: "plain default", cfg: SMTPConfig{Username: "u"}},
		{name: "login", cfg: SMTPConfig{Username: "u", Auth: "LOGIN"}, wantType: "login"},
		{name: "unknown", cfg: SMTPConfig{Username: "u", Auth: "cram-md5"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth, err := NewSMTPTransport(tt.cfg).auth()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (auth == nil) != tt.wantNil {
				t.Errorf("auth = %v, wantNil %v", auth, tt.wantNil)
			}
			if tt.wantType == "login" {
				if _, ok := auth.(*loginAuth); !ok {
					t.Errorf("auth = %T, want *loginAuth", auth)
				}
			}
		})
	}
}

// TestLoginAuth_Next verifies the LOGIN challenge responses.
func TestLoginAuth_Next(t *testing.T) {
	a := &loginAuth{username: "user", password: "pass", host: "h"}

	tests := []struct {
		challenge string
		want      string
		wantErr   bool
	}{
		{challenge: "Username:", want: "user"},
		{challenge: "Password:", want: "pass"},
		{challenge: "Token:", wantErr: true},
	}

	for _, tt := range tests {
		got, err := a.Next([]byte(tt.challenge), true)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Next(%q): expected error", tt.challenge)
			}
			continue
		}
		if err != nil || string(got) != tt.want {
			t.Errorf("Next(%q) = %q, %v; want %q", tt.challenge, got, err, tt.want)
		}
	}
}

// TestBareAddress verifies display names are stripped.
func TestBareAddress(t *testing.T) {
	tests := map[string]string{
		"a@x.com":              "a@x.com",
		"Bob <b@x.com>":        "b@x.com",
		" not an address ":     "not an address",
		`"Doe, J" <j@doe.com>`: "j@doe.com",
	}
	for in, want := range tests {
		if got := bareAddress(in); got != want {
			t.Errorf("bareAddress(%q) = %q, want %q", in, got, want)
		}
	}
	if got := domainOf("nobody"); got != "localhost" {
		t.Errorf("domainOf(nobody) = %q", got)
	}
}
