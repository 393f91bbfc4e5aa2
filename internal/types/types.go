// Package types defines the shared data model for the incremental
// analysis engine: text fields, blocks, issues, and analysis results.
package types

import (
	"time"

	"github.com/google/uuid"
)

// IssueCategory classifies a writing issue.
//
// The set is open: providers may report categories beyond the ones
// enumerated here, and unknown values are passed through untouched.
type IssueCategory string

const (
	CategorySpelling IssueCategory = "spelling"
	CategoryGrammar  IssueCategory = "grammar"
	CategoryStyle    IssueCategory = "style"
	CategoryClarity  IssueCategory = "clarity"
	CategoryTone     IssueCategory = "tone"
	CategoryRephrase IssueCategory = "rephrase"
)

// IssueSource records which pass produced an issue.
type IssueSource string

const (
	// SourceAnalysis marks issues found by the first analysis pass.
	SourceAnalysis IssueSource = "analysis"
	// SourceVerification marks issues found by a stability pass.
	SourceVerification IssueSource = "verification"
)

// IssueStatus tracks an issue's lifecycle from discovery to resolution.
type IssueStatus string

const (
	StatusNew      IssueStatus = "new"
	StatusApplied  IssueStatus = "applied"
	StatusVerified IssueStatus = "verified"
	StatusStale    IssueStatus = "stale"
)

// RequestToken identifies a single dispatched provider request.
//
// A block records the token of its most recent request; a response whose
// token no longer matches is stale and must be discarded. The newtype
// exists so tokens are never accidentally compared with unrelated strings.
type RequestToken string

// NewRequestToken returns a fresh unique token.
func NewRequestToken() RequestToken {
	return RequestToken(uuid.New().String())
}

// Zero reports whether the token is unset.
func (t RequestToken) Zero() bool { return t == "" }

// Issue is a single writing suggestion anchored to a range of field text.
type Issue struct {
	ID       string        `json:"id"`
	Category IssueCategory `json:"category"`

	// StartOffset and EndOffset are absolute byte offsets into the owning
	// field's text. Invariant: 0 <= StartOffset < EndOffset <= len(text).
	StartOffset int `json:"start_offset"`
	EndOffset   int `json:"end_offset"`

	// OriginalText equals the field text at [StartOffset, EndOffset) at the
	// moment the issue was created. SuggestedText always differs from it.
	OriginalText  string `json:"original_text"`
	SuggestedText string `json:"suggested_text"`
	Explanation   string `json:"explanation,omitempty"`

	Source  IssueSource `json:"source"`
	Status  IssueStatus `json:"status"`
	Ignored bool        `json:"ignored,omitempty"`
}

// Unapplied reports whether the issue is still pending a user decision.
func (i *Issue) Unapplied() bool {
	return !i.Ignored && (i.Status == StatusNew || i.Status == "")
}

// Clone returns a deep copy. Issues are copied, never aliased, when
// carried across an edit boundary, so shifting one field's offsets can
// never corrupt another's.
func (i *Issue) Clone() *Issue {
	c := *i
	return &c
}

// Block is a contiguous segment of a field's text and the unit of
// (re-)analysis. Blocks in a field are non-overlapping, ordered by
// StartOffset, and concatenate to exactly the field's text.
type Block struct {
	ID          string `json:"id"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Hash        string `json:"hash"`
	Text        string `json:"text"`

	Issues []*Issue `json:"issues,omitempty"`

	IsAnalyzed          bool `json:"is_analyzed"`
	IsAnalyzing         bool `json:"is_analyzing"`
	IsStabilityChecking bool `json:"is_stability_checking"`

	// Confidence is a convergence score in [0,1]. It is seeded by the
	// first pass and adjusted by stability passes; a block is stable once
	// it crosses the threshold with at least one pass behind it.
	Confidence float64 `json:"confidence"`

	// Passes counts completed stability-pass rounds for this block.
	Passes int `json:"passes"`

	// HasUnappliedIssues is true iff any issue is still pending a user
	// decision. Recomputed after every mutation of Issues.
	HasUnappliedIssues bool `json:"has_unapplied_issues"`

	// ActiveToken is the token of the in-flight request, if any.
	ActiveToken RequestToken `json:"-"`
}

// RecomputeUnapplied refreshes HasUnappliedIssues from the issue list.
func (b *Block) RecomputeUnapplied() {
	b.HasUnappliedIssues = false
	for _, iss := range b.Issues {
		if iss.Unapplied() {
			b.HasUnappliedIssues = true
			return
		}
	}
}

// TextField is the analysis state for one editable surface.
type TextField struct {
	FieldID string `json:"field_id"`
	Text    string `json:"text"`

	// Version increments on every reconciliation or merge, so consumers
	// can detect that a cached result is out of date.
	Version int `json:"version"`

	Blocks []*Block `json:"blocks"`
}

// AnalysisResult is the public artifact handed to consumers: the text it
// was computed against and the merged, sorted issue list.
type AnalysisResult struct {
	Text      string    `json:"text"`
	Issues    []*Issue  `json:"issues"`
	Timestamp time.Time `json:"timestamp"`
}
