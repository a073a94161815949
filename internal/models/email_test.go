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

package models

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestParseCoordinates verifies the "<lat>,<lon>" splitter.
func TestParseCoordinates(t *testing.T) {
	tests := []struct {
		raw        string
		wantParsed bool
		wantLat    string
		wantLon    string
	}{
		{raw: "40.1,-75.2", wantParsed: true, wantLat: "40.1", wantLon: "-75.2"},
		{raw: " 40.1 , -75.2 ", wantParsed: true, wantLat: "40.1", wantLon: "-75.2"},
		{raw: "40.1,-75.2,12", wantParsed: true, wantLat: "40.1", wantLon: "-75.2,12"},
		{raw: "40.1", wantParsed: false},
		{raw: ",-75.2", wantParsed: false},
		{raw: "40.1, ", wantParsed: false},
		{raw: "", wantParsed: false},
		{raw: "near the blue house", wantParsed: false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			c := ParseCoordinates(tt.raw)
			if c.Raw != tt.raw {
				t.Errorf("Raw = %q, want %q", c.Raw, tt.raw)
			}
			if c.Parsed != tt.wantParsed {
				t.Fatalf("Parsed = %v, want %v", c.Parsed, tt.wantParsed)
			}
			if c.Lat != tt.wantLat || c.Lon != tt.wantLon {
				t.Errorf("lat/lon = %q/%q, want %q/%q", c.Lat, c.Lon, tt.wantLat, tt.wantLon)
			}
		})
	}
}

// TestNewComposedMessage verifies the working copy does not alias the request.
func TestNewComposedMessage(t *testing.T) {
	req := &MessageRequest{
		To:      []string{"a@x.com", "b@x.com"},
		Subject: "S",
		HTML:    "<p>hi</p>",
	}

	msg := NewComposedMessage("from@x.com", req)
	msg.To[0] = "changed@x.com"

	if req.To[0] != "a@x.com" {
		t.Errorf("request recipients mutated: %v", req.To)
	}
	if msg.From != "from@x.com" || msg.Subject != "S" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Attachments == nil || len(msg.Attachments) != 0 {
		t.Errorf("attachments = %v, want empty non-nil slice", msg.Attachments)
	}
}

// TestProviderResponse_MarshalJSON verifies the raw ack is passed through.
func TestProviderResponse_MarshalJSON(t *testing.T) {
	resp := ProviderResponse{ID: "abc", Raw: []byte(`{"id":"abc","extra":1}`)}
	data, err := resp.MarshalJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"id":"abc","extra":1}` {
		t.Errorf("got %s", data)
	}

	empty := ProviderResponse{ID: "xyz"}
	data, err = empty.MarshalJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"id":"xyz"}` {
		t.Errorf("got %s", data)
	}
}

// TestKindOf verifies error kind extraction through wrapping.
func TestKindOf(t *testing.T) {
	base := NewError(KindDeliveryFailed, "failed to send email", errors.New("boom"))
	wrapped := fmt.Errorf("outer: %w", base)

	if got := KindOf(wrapped); got != KindDeliveryFailed {
		t.Errorf("KindOf = %q, want %q", got, KindDeliveryFailed)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("KindOf(plain) = %q, want %q", got, KindInternal)
	}
	if !strings.Contains(base.Error(), "boom") {
		t.Errorf("Error() = %q, want underlying cause", base.Error())
	}
}

// TestError_Fields verifies missing fields are listed in the message.
func TestError_Fields(t *testing.T) {
	err := &Error{Kind: KindMissingField, Message: "missing required fields", Fields: []string{"subject"}}
	if got := err.Error(); got != "missing required fields: subject" {
		t.Errorf("Error() = %q", got)
	}
}
