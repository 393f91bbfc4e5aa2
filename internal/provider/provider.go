// Package provider defines the external analysis interface and its
// LLM-backed implementations.
//
// The engine consumes only the Provider interface; everything else in
// this package (prompting, retries, circuit breaking, response parsing)
// is backend plumbing. Providers report issues by text, not by offset:
// translating a reported original_text back into block offsets is the
// engine's job, because only the engine knows what text it sent.
package provider

import (
	"context"
	"errors"
)

// Request carries one block of text to check, plus short excerpts of the
// surrounding text for disambiguation. Before and After are context
// only: issues must be reported against Text.
type Request struct {
	Text   string
	Before string
	After  string
}

// RawIssue is a single suggestion as reported by a backend, not yet
// anchored to offsets.
type RawIssue struct {
	Category      string `json:"category"`
	OriginalText  string `json:"original_text"`
	SuggestedText string `json:"suggested_text"`
	Explanation   string `json:"explanation,omitempty"`
}

// Provider is an external writing checker.
type Provider interface {
	// Analyze performs a full first-pass check of the request text.
	Analyze(ctx context.Context, req Request) ([]RawIssue, error)

	// Verify performs a lighter re-check, scoped to grammar and
	// agreement-class problems, used by stability passes.
	Verify(ctx context.Context, req Request) ([]RawIssue, error)
}

// ErrNoAPIKey is returned when a backend is constructed without a key.
var ErrNoAPIKey = errors.New("provider API key not set")
