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
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
)

func newTestDocumentStore(t *testing.T, h http.HandlerFunc) *DocumentStore {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewDocumentStore(srv.Client(), DocumentConfig{
		Endpoint:         srv.URL + "/v1/",
		Project:          "proj",
		Key:              "secret",
		DatabaseID:       "db1",
		CollectionID:     "serve_attempts",
		ImageField:       "image_data",
		CoordinatesField: "coordinates",
	})
}

// TestDocumentStore_Lookup verifies the request shape and field extraction.
func TestDocumentStore_Lookup(t *testing.T) {
	store := newTestDocumentStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if want := "/v1/databases/db1/collections/serve_attempts/documents/abc"; r.URL.Path != want {
			t.Errorf("path = %s, want %s", r.URL.Path, want)
		}
		if got := r.Header.Get("X-Appwrite-Project"); got != "proj" {
			t.Errorf("project header = %q", got)
		}
		if got := r.Header.Get("X-Appwrite-Key"); got != "secret" {
			t.Errorf("key header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"$id":"abc","image_data":"data:image/jpeg;base64,QUJD","coordinates":"40.1,-75.2"}`))
	})

	rec, err := store.Lookup(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "abc" {
		t.Errorf("ID = %q", rec.ID)
	}
	if rec.ImageData == nil || *rec.ImageData != "data:image/jpeg;base64,QUJD" {
		t.Errorf("ImageData = %v", rec.ImageData)
	}
	if rec.Coordinates == nil || *rec.Coordinates != "40.1,-75.2" {
		t.Errorf("Coordinates = %v", rec.Coordinates)
	}
}

// TestDocumentStore_MissingFields verifies absent and null fields map to nil.
func TestDocumentStore_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "absent", body: `{"$id":"abc"}`},
		{name: "null", body: `{"$id":"abc","image_data":null,"coordinates":null}`},
		{name: "wrong type", body: `{"$id":"abc","image_data":12,"coordinates":{"lat":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestDocumentStore(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})

			rec, err := store.Lookup(context.Background(), "abc")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.ImageData != nil {
				t.Errorf("ImageData = %q, want nil", *rec.ImageData)
			}
			if rec.Coordinates != nil {
				t.Errorf("Coordinates = %q, want nil", *rec.Coordinates)
			}
		})
	}
}

// TestDocumentStore_Errors verifies non-200 responses and bad bodies.
func TestDocumentStore_Errors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantNotFound bool
		wantContains string
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"message":"Document not found"}`, wantNotFound: true},
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantContains: "HTTP 500"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: "denied", wantContains: "denied"},
		{name: "bad json", status: http.StatusOK, body: "{not json", wantContains: "parse document"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestDocumentStore(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := store.Lookup(context.Background(), "abc")
			if err == nil {
				t.Fatal("expected error, got none")
			}
			if got := errors.Is(err, ErrNotFound); got != tt.wantNotFound {
				t.Errorf("errors.Is(ErrNotFound) = %v, want %v", got, tt.wantNotFound)
			}
			if tt.wantContains != "" && !strings.Contains(err.Error(), tt.wantContains) {
				t.Errorf("error %q does not contain %q", err, tt.wantContains)
			}
		})
	}
}

// TestDocumentStore_EscapesID verifies ids are path-escaped.
func TestDocumentStore_EscapesID(t *testing.T) {
	store := newTestDocumentStore(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.EscapedPath(), "/documents/a%2Fb") {
			t.Errorf("escaped path = %s", r.URL.EscapedPath())
		}
		w.Write([]byte(`{}`))
	})

	rec, err := store.Lookup(context.Background(), "a/b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "a/b" {
		t.Errorf("ID = %q, want fallback to requested id", rec.ID)
	}
}

// TestBuildLookupQuery verifies identifiers are quoted.
func TestBuildLookupQuery(t *testing.T) {
	q := buildLookupQuery(PGConfig{
		Table:             "serve_attempts",
		ImageColumn:       "image_data",
		CoordinatesColumn: `coords"; DROP TABLE x; --`,
	})

	for _, want := range []string{
		`FROM "serve_attempts"`,
		`"image_data"`,
		`"coords""; DROP TABLE x; --"`,
		"WHERE id::text = $1",
	} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q:\n%s", want, q)
		}
	}
}

// fakeRow is a pgx.Row that copies canned values into the scan targets.
// A nil image or coordinates value models a NULL column.
type fakeRow struct {
	id          string
	image       *string
	coordinates *string
	err         error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 3 {
		return fmt.Errorf("scan: %d destinations, want 3", len(dest))
	}
	*dest[0].(*string) = r.id
	*dest[1].(**string) = r.image
	*dest[2].(**string) = r.coordinates
	return nil
}

// TestScanRecord covers row outcomes of the Postgres lookup.
func TestScanRecord(t *testing.T) {
	image := "data:image/jpeg;base64,/9j/4AAQ"
	coords := "37.7749, -122.4194"

	t.Run("no rows", func(t *testing.T) {
		rec, err := scanRecord(fakeRow{err: pgx.ErrNoRows})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
		if rec != nil {
			t.Errorf("record = %+v, want nil", rec)
		}
	})

	t.Run("query error", func(t *testing.T) {
		connErr := errors.New("connection reset")
		_, err := scanRecord(fakeRow{err: connErr})
		if !errors.Is(err, connErr) {
			t.Errorf("err = %v, want wrapped connection error", err)
		}
		if errors.Is(err, ErrNotFound) {
			t.Error("query error reported as not found")
		}
		if err == nil || !strings.Contains(err.Error(), "query evidence record") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("null columns", func(t *testing.T) {
		rec, err := scanRecord(fakeRow{id: "abc"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.ID != "abc" || rec.ImageData != nil || rec.Coordinates != nil {
			t.Errorf("record = %+v, want id only", rec)
		}
	})

	t.Run("values", func(t *testing.T) {
		rec, err := scanRecord(fakeRow{id: "abc", image: &image, coordinates: &coords})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.ImageData == nil || *rec.ImageData != image {
			t.Errorf("ImageData = %v", rec.ImageData)
		}
		if rec.Coordinates == nil || *rec.Coordinates != coords {
			t.Errorf("Coordinates = %v", rec.Coordinates)
		}
	})
}
