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

// Package pipeline composes the four mail stages: normalize the payload,
// resolve the evidence attachment, augment the bodies and dispatch the
// message. Each call is independent; nothing is shared between requests.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/justlegal/serve-mailer/internal/attachment"
	"github.com/justlegal/serve-mailer/internal/augment"
	"github.com/justlegal/serve-mailer/internal/models"
	"github.com/justlegal/serve-mailer/internal/payload"
)

// AttachmentResolver is implemented by *attachment.Resolver.
type AttachmentResolver interface {
	Resolve(ctx context.Context, req *models.MessageRequest) (*attachment.Result, error)
}

// Sender is implemented by *delivery.Dispatcher.
type Sender interface {
	Dispatch(ctx context.Context, msg *models.ComposedMessage) (*models.ProviderResponse, error)
}

// Response is the outbound result handed to the invoking framework.
type Response struct {
	Success bool                     `json:"success"`
	Message string                   `json:"message"`
	Data    *models.ProviderResponse `json:"data,omitempty"`
	Error   models.ErrorKind         `json:"error,omitempty"`
	Fields  []string                 `json:"fields,omitempty"`

	StatusCode int `json:"-"`
}

// Config wires the pipeline's stages.
type Config struct {
	From      string
	Resolver  AttachmentResolver
	Augmenter *augment.Augmenter
	Sender    Sender
	// AlwaysOK reports failures with status 200.
	AlwaysOK bool
}

// Pipeline runs the compose-and-deliver flow.
type Pipeline struct {
	from      string
	resolver  AttachmentResolver
	augmenter *augment.Augmenter
	sender    Sender
	alwaysOK  bool
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Augmenter == nil {
		cfg.Augmenter = augment.New(augment.Options{EscapeHTML: true})
	}
	return &Pipeline{
		from:      cfg.From,
		resolver:  cfg.Resolver,
		augmenter: cfg.Augmenter,
		sender:    cfg.Sender,
		alwaysOK:  cfg.AlwaysOK,
	}
}

// Compose runs every stage except delivery and returns the finished message.
func (p *Pipeline) Compose(ctx context.Context, body any) (*models.ComposedMessage, error) {
	req, err := payload.Normalize(body)
	if err != nil {
		return nil, err
	}
	return p.compose(ctx, req)
}

func (p *Pipeline) compose(ctx context.Context, req *models.MessageRequest) (*models.ComposedMessage, error) {
	msg := models.NewComposedMessage(p.from, req)

	coordinates := req.Coordinates
	if p.resolver != nil {
		res, err := p.resolver.Resolve(ctx, req)
		if err != nil {
			return nil, err
		}
		if res.Attachment != nil {
			msg.Attachments = append(msg.Attachments, *res.Attachment)
		}
		coordinates = res.Coordinates
	}

	p.augmenter.Augment(msg, augment.Details{
		Coordinates: coordinates,
		Notes:       req.Notes,
	})
	return msg, nil
}

// Process runs the full pipeline for one request body. It always returns
// a Response; failures are reported in it rather than as errors.
func (p *Pipeline) Process(ctx context.Context, body any) Response {
	msg, err := p.Compose(ctx, body)
	if err != nil {
		return p.Fail(err)
	}

	if p.sender == nil {
		return p.Fail(models.NewError(models.KindInternal, "no delivery transport configured", nil))
	}

	ack, err := p.sender.Dispatch(ctx, msg)
	if err != nil {
		return p.Fail(err)
	}

	return Response{
		Success:    true,
		Message:    "Email sent successfully",
		Data:       ack,
		StatusCode: http.StatusOK,
	}
}

// Fail converts err into a failure Response.
func (p *Pipeline) Fail(err error) Response {
	kind := models.KindOf(err)

	resp := Response{
		Success:    false,
		Message:    err.Error(),
		Error:      kind,
		StatusCode: p.statusFor(kind),
	}

	var perr *models.Error
	if errors.As(err, &perr) {
		resp.Fields = perr.Fields
	}

	slog.Error("email request failed",
		"kind", kind,
		"error", err,
	)
	return resp
}

func (p *Pipeline) statusFor(kind models.ErrorKind) int {
	if p.alwaysOK {
		return http.StatusOK
	}
	return StatusFor(kind)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindMissingPayload, models.KindInvalidPayload, models.KindMissingField:
		return http.StatusBadRequest
	case models.KindDuplicateRequest:
		return http.StatusConflict
	case models.KindAttachmentFetchFailed, models.KindDeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
