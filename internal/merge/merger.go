// Package merge collapses per-block issue lists into the single sorted,
// deduplicated, offset-validated list handed to consumers.
package merge

import (
	"sort"
	"time"

	"github.com/prosaic-dev/prosaic/internal/types"
)

// MergeBlockIssues concatenates every block's issues and sorts them by
// start offset. The sort is stable so issues sharing an offset keep
// their block order. Issues are cloned so the result never aliases live
// store state.
func MergeBlockIssues(blocks []*types.Block) []*types.Issue {
	var out []*types.Issue
	for _, b := range blocks {
		for _, iss := range b.Issues {
			out = append(out, iss.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartOffset < out[j].StartOffset
	})
	return out
}

// ValidateIssueOffsets drops issues whose offsets fall outside
// [0, textLength] or that are empty or inverted. Offset arithmetic after
// several edits should never produce these, but a broken issue must not
// reach the consumer.
func ValidateIssueOffsets(issues []*types.Issue, textLength int) []*types.Issue {
	out := issues[:0]
	for _, iss := range issues {
		if iss.StartOffset < 0 || iss.EndOffset > textLength || iss.StartOffset >= iss.EndOffset {
			continue
		}
		out = append(out, iss)
	}
	return out
}

// DeduplicateIssues drops repeated issues keyed by offsets and suggested
// text, keeping the first occurrence.
func DeduplicateIssues(issues []*types.Issue) []*types.Issue {
	type key struct {
		start, end int
		suggested  string
	}
	seen := make(map[key]bool, len(issues))
	out := issues[:0]
	for _, iss := range issues {
		k := key{iss.StartOffset, iss.EndOffset, iss.SuggestedText}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, iss)
	}
	return out
}

// NewAnalysisResult composes the public result for a text and its
// blocks: merged, validated, deduplicated, sorted.
func NewAnalysisResult(text string, blocks []*types.Block) *types.AnalysisResult {
	issues := MergeBlockIssues(blocks)
	issues = ValidateIssueOffsets(issues, len(text))
	issues = DeduplicateIssues(issues)
	return &types.AnalysisResult{
		Text:      text,
		Issues:    issues,
		Timestamp: time.Now(),
	}
}
