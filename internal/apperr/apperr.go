// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package apperr

import "fmt"

// Kind is the taxonomy of error classes the engine distinguishes so
// callers can branch on failure type instead of matching strings.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindDuplicateKey  Kind = "duplicate_key"
	KindStorage       Kind = "storage"
	KindVectorStore   Kind = "vector_store"
	KindExtraction    Kind = "extraction"
	KindAIValidation  Kind = "ai_validation"
	KindAITransport   Kind = "ai_transport"
	KindRaceLost      Kind = "race_lost"
	KindOrphan        Kind = "orphan"
)

// Error is the engine's wrapped error type. Err is nil-able; String-only
// errors (e.g. RaceLost, Orphan) carry just a Kind and Message.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool // only meaningful for KindExtraction
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func new_(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func NotFound(msg string, err error) *Error     { return new_(KindNotFound, msg, err) }
func DuplicateKey(msg string, err error) *Error { return new_(KindDuplicateKey, msg, err) }
func Storage(msg string, err error) *Error      { return new_(KindStorage, msg, err) }
func VectorStore(msg string, err error) *Error  { return new_(KindVectorStore, msg, err) }
func AIValidation(msg string, err error) *Error { return new_(KindAIValidation, msg, err) }
func AITransport(msg string, err error) *Error  { return new_(KindAITransport, msg, err) }
func RaceLost(msg string) *Error                { return new_(KindRaceLost, msg, nil) }
func Orphan(msg string) *Error                  { return new_(KindOrphan, msg, nil) }

// Extraction wraps a fetch/parse/PDF-extract failure, tagging it as
// transient (drives queue retry/backoff) or permanent (drives immediate
// job failure).
func Extraction(msg string, retryable bool, err error) *Error {
	return &Error{Kind: KindExtraction, Message: msg, Retryable: retryable, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}

// Truncate caps a string to the fixed maximum length the engine uses
// for stored error_info, to prevent unbounded growth (spec.md §9).
const MaxErrorInfoLen = 1000

func Truncate(s string) string {
	if len(s) <= MaxErrorInfoLen {
		return s
	}
	return s[:MaxErrorInfoLen]
}
