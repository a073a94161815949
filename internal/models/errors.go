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
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindMissingPayload        ErrorKind = "MissingPayload"
	KindInvalidPayload        ErrorKind = "InvalidPayload"
	KindMissingField          ErrorKind = "MissingField"
	KindAttachmentFetchFailed ErrorKind = "AttachmentFetchFailed"
	KindDeliveryFailed        ErrorKind = "DeliveryFailed"
	KindDuplicateRequest      ErrorKind = "DuplicateRequest"
	KindInternal              ErrorKind = "Internal"
)

// Error is the structured failure produced by any pipeline stage.
type Error struct {
	Kind    ErrorKind
	Message string
	// Fields lists the missing fields for KindMissingField.
	Fields []string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message
	if len(e.Fields) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error of the given kind.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the ErrorKind carried by err, or KindInternal when err is
// not a pipeline error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
