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

// Package models defines the canonical data structures that flow through the
// serve-evidence mail pipeline.
package models

import (
	"encoding/json"
	"strings"
)

// AttachmentEncoding is the only content encoding the pipeline produces.
const AttachmentEncoding = "base64"

// MessageRequest is the canonical, validated form of an inbound payload.
// It is immutable once returned by the normalizer.
type MessageRequest struct {
	To                  []string `json:"to"`
	Subject             string   `json:"subject"`
	HTML                string   `json:"html,omitempty"`
	Text                string   `json:"text,omitempty"`
	EvidenceReferenceID string   `json:"serveId,omitempty"`
	InlineImage         string   `json:"imageData,omitempty"`
	Coordinates         string   `json:"coordinates,omitempty"`
	Notes               string   `json:"notes,omitempty"`
}

// Attachment is a single base64-encoded file attached to an outgoing message.
type Attachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// ComposedMessage is the working copy that each pipeline stage mutates.
// Augmented records whether the details block has already been injected.
type ComposedMessage struct {
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Subject     string       `json:"subject"`
	HTML        string       `json:"html,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments"`

	Augmented bool `json:"-"`
}

// NewComposedMessage seeds a working message from a validated request.
func NewComposedMessage(from string, req *MessageRequest) *ComposedMessage {
	to := make([]string, len(req.To))
	copy(to, req.To)
	return &ComposedMessage{
		From:        from,
		To:          to,
		Subject:     req.Subject,
		HTML:        req.HTML,
		Text:        req.Text,
		Attachments: []Attachment{},
	}
}

// Coordinates is a parsed "<lat>,<lon>" pair. Raw always holds the
// original string; Parsed is false when the split produced an empty side
// or no comma was present.
type Coordinates struct {
	Raw    string
	Lat    string
	Lon    string
	Parsed bool
}

// ParseCoordinates splits raw on the first comma and trims both halves.
// It never fails; malformed input yields an unparsed value.
func ParseCoordinates(raw string) Coordinates {
	c := Coordinates{Raw: raw}
	lat, lon, ok := strings.Cut(raw, ",")
	if !ok {
		return c
	}
	lat = strings.TrimSpace(lat)
	lon = strings.TrimSpace(lon)
	if lat == "" || lon == "" {
		return c
	}
	c.Lat, c.Lon, c.Parsed = lat, lon, true
	return c
}

// ProviderResponse is a transport's acknowledgment. Raw is passed back to
// the caller unmodified; ID is the provider message id when one was found.
type ProviderResponse struct {
	ID  string          `json:"-"`
	Raw json.RawMessage `json:"-"`
}

// MarshalJSON emits the raw acknowledgment untouched.
func (p ProviderResponse) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return json.Marshal(map[string]string{"id": p.ID})
	}
	return p.Raw, nil
}
