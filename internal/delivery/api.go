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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/justlegal/serve-mailer/internal/models"
)

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 1 << 20

// APIAuth describes how the transactional API authenticates. A TokenURL
// selects the OAuth2 client-credentials flow; otherwise Key is sent as a
// static bearer token.
type APIAuth struct {
	Key          string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// NewAPIClient returns an HTTP client that authenticates every request.
// ctx governs token fetches for the client-credentials flow and must
// outlive the client.
func NewAPIClient(ctx context.Context, auth APIAuth) *http.Client {
	if auth.TokenURL != "" {
		creds := &clientcredentials.Config{
			ClientID:     auth.ClientID,
			ClientSecret: auth.ClientSecret,
			TokenURL:     auth.TokenURL,
			Scopes:       auth.Scopes,
		}
		return creds.Client(ctx)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: auth.Key,
		TokenType:   "Bearer",
	})
	return oauth2.NewClient(ctx, src)
}

// APITransport posts messages to a transactional email API, one HTTP
// request per attempt.
type APITransport struct {
	httpClient *http.Client
	endpoint   string
}

// NewAPITransport creates an API transport. The httpClient is expected to
// add authentication (see NewAPIClient).
func NewAPITransport(httpClient *http.Client, endpoint string) *APITransport {
	return &APITransport{
		httpClient: httpClient,
		endpoint:   endpoint,
	}
}

// Name implements Transport.
func (t *APITransport) Name() string { return "api" }

type apiRequest struct {
	From        string              `json:"from"`
	To          []string            `json:"to"`
	Subject     string              `json:"subject"`
	HTML        string              `json:"html,omitempty"`
	Text        string              `json:"text,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// Send implements Transport.
func (t *APITransport) Send(ctx context.Context, msg *models.ComposedMessage) (*models.ProviderResponse, error) {
	body, err := json.Marshal(apiRequest{
		From:        msg.From,
		To:          msg.To,
		Subject:     msg.Subject,
		HTML:        msg.HTML,
		Text:        msg.Text,
		Attachments: msg.Attachments,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal api request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build api request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api send: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read api response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("api send failed: %s body=%s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	return parseAPIResponse(respBody), nil
}

// parseAPIResponse keeps the provider body as-is and lifts out its "id".
// A body that is not JSON is carried verbatim as a JSON string.
func parseAPIResponse(body []byte) *models.ProviderResponse {
	if len(bytes.TrimSpace(body)) == 0 || !json.Valid(body) {
		raw, _ := json.Marshal(string(body))
		return &models.ProviderResponse{Raw: raw}
	}

	var ack struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &ack)
	return &models.ProviderResponse{ID: ack.ID, Raw: json.RawMessage(body)}
}
