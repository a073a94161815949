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

// Package attachment resolves the serve-evidence image for a request,
// either from the inline payload or from the external record store.
package attachment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/justlegal/serve-mailer/internal/evidence"
	"github.com/justlegal/serve-mailer/internal/models"
)

// dataURIMarker introduces the base64 payload in a data URI.
const dataURIMarker = "base64,"

// DefaultFilename is used when no filename is configured.
const DefaultFilename = "serve_evidence.jpeg"

// Policy decides what happens when the record store lookup fails.
type Policy string

const (
	// PolicyAbort fails the whole request with AttachmentFetchFailed.
	PolicyAbort Policy = "abort"
	// PolicyOmit logs the failure and continues without an attachment.
	PolicyOmit Policy = "omit"
)

var errNoStore = errors.New("no evidence store configured")

// Result is the outcome of resolving a request. Attachment is nil when
// nothing is attached. Coordinates is the effective coordinates string:
// the record's value when a lookup supplied one, otherwise the request's.
type Result struct {
	Attachment  *models.Attachment
	Coordinates string
}

// Config holds the resolver's collaborators and settings.
type Config struct {
	Store         evidence.Store
	Policy        Policy
	Filename      string
	LookupTimeout time.Duration
}

// Resolver produces at most one attachment per request.
type Resolver struct {
	store    evidence.Store
	policy   Policy
	filename string
	timeout  time.Duration
}

// NewResolver creates a resolver. A nil Store is allowed; requests that
// carry an evidence reference then fail according to the policy.
func NewResolver(cfg Config) *Resolver {
	if cfg.Policy == "" {
		cfg.Policy = PolicyAbort
	}
	if cfg.Filename == "" {
		cfg.Filename = DefaultFilename
	}
	return &Resolver{
		store:    cfg.Store,
		policy:   cfg.Policy,
		filename: cfg.Filename,
		timeout:  cfg.LookupTimeout,
	}
}

// Resolve applies the priority rule: an evidence reference wins over an
// inline image, and neither source means no attachment.
func (r *Resolver) Resolve(ctx context.Context, req *models.MessageRequest) (*Result, error) {
	res := &Result{Coordinates: req.Coordinates}

	switch {
	case req.EvidenceReferenceID != "":
		return r.resolveReference(ctx, req.EvidenceReferenceID, res)
	case req.InlineImage != "":
		slog.Info("using imageData provided in payload")
		res.Attachment = r.newAttachment(req.InlineImage)
	default:
		slog.Info("no serveId or imageData provided; no image will be attached")
	}
	return res, nil
}

func (r *Resolver) resolveReference(ctx context.Context, id string, res *Result) (*Result, error) {
	slog.Info("fetching serve attempt", "serve_id", id)

	rec, err := r.lookup(ctx, id)
	if err != nil {
		if r.policy == PolicyOmit {
			slog.Warn("serve attempt lookup failed, continuing without attachment",
				"serve_id", id,
				"error", err,
			)
			return res, nil
		}
		slog.Error("failed to fetch serve attempt document",
			"serve_id", id,
			"error", err,
		)
		return nil, models.NewError(models.KindAttachmentFetchFailed,
			"failed to fetch serve attempt document", err)
	}

	if rec.Coordinates != nil {
		res.Coordinates = *rec.Coordinates
	}

	if rec.ImageData == nil || *rec.ImageData == "" {
		slog.Info("no image data found in serve attempt document", "serve_id", id)
		return res, nil
	}

	res.Attachment = r.newAttachment(*rec.ImageData)
	return res, nil
}

func (r *Resolver) lookup(ctx context.Context, id string) (*evidence.Record, error) {
	if r.store == nil {
		return nil, errNoStore
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.store.Lookup(ctx, id)
}

func (r *Resolver) newAttachment(content string) *models.Attachment {
	encoded := ExtractBase64(content)
	slog.Info("extracted base64 content", "base64_len", len(encoded))
	return &models.Attachment{
		Filename: r.filename,
		Content:  encoded,
		Encoding: models.AttachmentEncoding,
	}
}

// ExtractBase64 returns the part of content after the first "base64,"
// marker, or content unchanged when there is no marker.
func ExtractBase64(content string) string {
	if _, after, ok := strings.Cut(content, dataURIMarker); ok {
		return after
	}
	return content
}
