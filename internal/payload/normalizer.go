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

// Package payload turns an inbound request body into a validated
// models.MessageRequest. The body may arrive as raw JSON text or as an
// already-decoded value; both take the same parse path.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/justlegal/serve-mailer/internal/models"
)

// diagnosticPrefixLen is how much of an unparseable body is logged.
const diagnosticPrefixLen = 100

// Recipients accepts either a single address string or an array of
// address strings.
type Recipients []string

func (r *Recipients) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*r = Recipients{single}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("to must be a string or an array of strings")
	}
	*r = list
	return nil
}

// schema is the wire shape of a send request. Required: to, subject and
// one of html/text. Everything else is optional.
type schema struct {
	To          Recipients `json:"to"`
	Subject     string     `json:"subject"`
	HTML        string     `json:"html"`
	Text        string     `json:"text"`
	ServeID     string     `json:"serveId"`
	ImageData   string     `json:"imageData"`
	Coordinates string     `json:"coordinates"`
	Notes       string     `json:"notes"`
}

// Normalize converts body into a MessageRequest.
//
// Accepted inputs: nil (MissingPayload), string, []byte, json.RawMessage,
// a MessageRequest (value or pointer, revalidated as-is) and any other
// JSON-marshalable value such as map[string]any.
func Normalize(body any) (*models.MessageRequest, error) {
	var data []byte

	switch v := body.(type) {
	case nil:
		return nil, missingPayload()
	case *models.MessageRequest:
		if v == nil {
			return nil, missingPayload()
		}
		return fromSchema(schema{
			To:          Recipients(v.To),
			Subject:     v.Subject,
			HTML:        v.HTML,
			Text:        v.Text,
			ServeID:     v.EvidenceReferenceID,
			ImageData:   v.InlineImage,
			Coordinates: v.Coordinates,
			Notes:       v.Notes,
		})
	case models.MessageRequest:
		return Normalize(&v)
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, models.NewError(models.KindInvalidPayload, "failed to parse payload", err)
		}
		data = encoded
	}

	return Parse(data)
}

// Parse decodes raw JSON text into a MessageRequest.
func Parse(data []byte) (*models.MessageRequest, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, missingPayload()
	}

	var raw schema
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		slog.Warn("failed to parse payload",
			"error", err,
			"payload_prefix", truncate(string(trimmed), diagnosticPrefixLen),
		)
		return nil, models.NewError(models.KindInvalidPayload, "failed to parse payload", err)
	}

	return fromSchema(raw)
}

func fromSchema(raw schema) (*models.MessageRequest, error) {
	to := make([]string, 0, len(raw.To))
	for _, addr := range raw.To {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}

	var missing []string
	if len(to) == 0 {
		missing = append(missing, "to")
	}
	if raw.Subject == "" {
		missing = append(missing, "subject")
	}
	if raw.HTML == "" && raw.Text == "" {
		missing = append(missing, "html or text")
	}
	if len(missing) > 0 {
		return nil, &models.Error{
			Kind:    models.KindMissingField,
			Message: "missing required fields (to, subject, and either html or text)",
			Fields:  missing,
		}
	}

	return &models.MessageRequest{
		To:                  to,
		Subject:             raw.Subject,
		HTML:                raw.HTML,
		Text:                raw.Text,
		EvidenceReferenceID: strings.TrimSpace(raw.ServeID),
		InlineImage:         raw.ImageData,
		Coordinates:         raw.Coordinates,
		Notes:               raw.Notes,
	}, nil
}

func missingPayload() error {
	return models.NewError(models.KindMissingPayload, "no valid payload found in request", nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
