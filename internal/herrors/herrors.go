/*
   Copyright The h5viewer Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package herrors defines the error-kind taxonomy shared by every layer of
// the data-access engine (storage, cache, hdf5, selection, extract,
// lifecycle) so that the HTTP layer can map any error back to a stable code
// and status without needing to know which package produced it.
package herrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure the way §7 of the spec does: one of a fixed set
// of codes, each with a status and a retryability bit baked in.
type Kind int

const (
	// KindUnknown is the zero value; Classify returns it for a nil error
	// and for an error whose chain holds no classified *Error.
	KindUnknown Kind = iota
	KindNotFound
	KindForbidden
	KindBadSelection
	KindUnsupportedElementType
	KindRangeTooLarge
	KindOutOfRange
	KindCorruptContainer
	KindUnsupportedFeature
	KindStale
	KindUnavailable
	KindBusy
	KindCancelled
)

type kindInfo struct {
	code      string
	status    int
	retryable bool
}

var table = map[Kind]kindInfo{
	KindNotFound:               {"NotFound", 404, false},
	KindForbidden:              {"Forbidden", 400, false},
	KindBadSelection:           {"BadSelection", 400, false},
	KindUnsupportedElementType: {"UnsupportedElementType", 422, false},
	KindRangeTooLarge:          {"RangeTooLarge", 413, false},
	KindOutOfRange:             {"OutOfRange", 400, false},
	KindCorruptContainer:       {"CorruptContainer", 500, false},
	KindUnsupportedFeature:     {"UnsupportedFeature", 500, false},
	KindStale:                  {"Stale", 409, true},
	KindUnavailable:            {"Unavailable", 503, true},
	KindBusy:                   {"Busy", 503, true},
	KindCancelled:              {"Cancelled", 499, false},
}

// Code returns the stable string code for k, e.g. "RangeTooLarge".
func (k Kind) Code() string {
	if info, ok := table[k]; ok {
		return info.code
	}
	return "Internal"
}

// HTTPStatus returns the HTTP status code this Kind maps onto.
func (k Kind) HTTPStatus() int {
	if info, ok := table[k]; ok {
		return info.status
	}
	return 500
}

// Retryable reports whether a client may usefully retry the same request.
func (k Kind) Retryable() bool {
	if info, ok := table[k]; ok {
		return info.retryable
	}
	return false
}

// Error is a classified, wrapped error that carries its Kind through
// errors.Wrap chains so upper layers can recover it with Classify.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Cause() error { return e.err }
func (e *Error) Unwrap() error { return e.err }
func (e *Error) Kind() Kind    { return e.kind }

// New builds a new classified error with the given message.
func New(k Kind, msg string) error {
	return &Error{kind: k, msg: msg}
}

// Newf builds a new classified error with a formatted message.
func Newf(k Kind, format string, args ...interface{}) error {
	return &Error{kind: k, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind, preserving it as the error's Cause via
// github.com/pkg/errors' Wrap so %+v still prints the original stack.
func Wrap(k Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{kind: k, msg: msg, err: errors.Wrap(cause, msg)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(k Kind, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	return &Error{kind: k, msg: msg, err: errors.Wrap(cause, msg)}
}

// Classify walks err's Unwrap() chain looking for a *Error and
// returns its Kind, defaulting to KindUnknown (mapped to a 500) if none of
// the chain was classified — which is itself a bug worth noticing upstream.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for err != nil {
		if herr, ok := err.(*Error); ok {
			return herr.kind
		}
		cause := errors.Unwrap(err)
		if cause == nil {
			break
		}
		err = cause
	}
	return KindUnknown
}
