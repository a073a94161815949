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

package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// DocumentConfig addresses a document collection on a REST document database.
type DocumentConfig struct {
	Endpoint         string
	Project          string
	Key              string
	DatabaseID       string
	CollectionID     string
	ImageField       string
	CoordinatesField string
}

// DocumentStore fetches serve-attempt documents over HTTP.
type DocumentStore struct {
	httpClient *http.Client
	cfg        DocumentConfig
}

// NewDocumentStore creates a document-database client. The httpClient
// should carry a timeout or the caller should bound each call's context.
func NewDocumentStore(httpClient *http.Client, cfg DocumentConfig) *DocumentStore {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &DocumentStore{
		httpClient: httpClient,
		cfg:        cfg,
	}
}

// Lookup fetches one document. HTTP 404 yields ErrNotFound.
func (s *DocumentStore) Lookup(ctx context.Context, id string) (*Record, error) {
	u := fmt.Sprintf("%s/databases/%s/collections/%s/documents/%s",
		s.cfg.Endpoint,
		url.PathEscape(s.cfg.DatabaseID),
		url.PathEscape(s.cfg.CollectionID),
		url.PathEscape(id),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.Project != "" {
		req.Header.Set("X-Appwrite-Project", s.cfg.Project)
	}
	if s.cfg.Key != "" {
		req.Header.Set("X-Appwrite-Key", s.cfg.Key)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		slog.Warn("serve attempt document not found", "serve_id", id)
		return nil, ErrNotFound
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("document store returned HTTP %d for %s: %s",
			resp.StatusCode, id, strings.TrimSpace(string(body)))
	}

	rec, err := parseDocument(resp.Body, id, s.cfg.ImageField, s.cfg.CoordinatesField)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return rec, nil
}

// parseDocument extracts the image and coordinates fields from a document
// body. Absent, null and non-string fields are reported as nil.
func parseDocument(body io.Reader, id, imageField, coordinatesField string) (*Record, error) {
	var doc map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	rec := &Record{ID: id}
	if docID := stringField(doc, "$id"); docID != nil {
		rec.ID = *docID
	}
	rec.ImageData = stringField(doc, imageField)
	rec.Coordinates = stringField(doc, coordinatesField)
	return rec, nil
}

func stringField(doc map[string]json.RawMessage, name string) *string {
	raw, ok := doc[name]
	if !ok || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}
