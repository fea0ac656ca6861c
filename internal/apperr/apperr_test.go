// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package apperr

import (
	"errors"
	"strings"
	"testing"
)

func TestError_ErrorMessageIncludesWrappedErr(t *testing.T) {
	wrapped := errors.New("disk full")
	err := Storage("write chunk", wrapped)

	msg := err.Error()
	if !strings.Contains(msg, "storage") || !strings.Contains(msg, "write chunk") || !strings.Contains(msg, "disk full") {
		t.Fatalf("expected message to contain kind, message, and wrapped error, got %q", msg)
	}
}

func TestError_ErrorMessageWithoutWrappedErr(t *testing.T) {
	err := RaceLost("lost claim race on object obj-1")
	msg := err.Error()
	if !strings.Contains(msg, "race_lost") || !strings.Contains(msg, "lost claim race") {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestError_Unwrap(t *testing.T) {
	wrapped := errors.New("connection reset")
	err := AITransport("embed", wrapped)
	if !errors.Is(err, wrapped) {
		t.Fatal("expected errors.Is to find the wrapped error via Unwrap")
	}
}

func TestIs_MatchesKind(t *testing.T) {
	err := NotFound("object missing", nil)
	if !Is(err, KindNotFound) {
		t.Fatal("expected Is to match KindNotFound")
	}
	if Is(err, KindStorage) {
		t.Fatal("expected Is to reject a mismatched kind")
	}
}

func TestIs_NonAppErrReturnsFalse(t *testing.T) {
	if Is(errors.New("plain error"), KindStorage) {
		t.Fatal("expected Is to return false for a non-*Error")
	}
}

func TestExtraction_CarriesRetryableFlag(t *testing.T) {
	retryable := Extraction("timeout fetching url", true, errors.New("i/o timeout"))
	if !retryable.Retryable {
		t.Fatal("expected Retryable=true to be preserved")
	}

	permanent := Extraction("404 not found", false, nil)
	if permanent.Retryable {
		t.Fatal("expected Retryable=false to be preserved")
	}
}

func TestTruncate_LeavesShortStringsUntouched(t *testing.T) {
	s := "short error message"
	if got := Truncate(s); got != s {
		t.Fatalf("expected untouched string, got %q", got)
	}
}

func TestTruncate_CapsLongStringsAtMaxErrorInfoLen(t *testing.T) {
	s := strings.Repeat("x", MaxErrorInfoLen+500)
	got := Truncate(s)
	if len(got) != MaxErrorInfoLen {
		t.Fatalf("expected truncated length %d, got %d", MaxErrorInfoLen, len(got))
	}
}
