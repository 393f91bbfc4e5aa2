package state

import (
	"github.com/google/uuid"
	"github.com/prosaic-dev/prosaic/internal/segment"
	"github.com/prosaic-dev/prosaic/internal/types"
)

// MergeBlockResult folds a provider response into a block.
//
// Responses are keyed by request token: the token must equal the
// block's currently recorded one, or the response belongs to a
// superseded or cancelled request and is rejected without any mutation.
// This is the expected outcome under concurrent edits, not an error.
//
// First-pass results replace the block's issue list wholesale. Stability
// results never delete: issues not already present (keyed by start, end,
// and suggested text) are appended, and confidence is penalized when the
// pass surfaced something new or boosted when it did not.
func (s *Store) MergeBlockResult(fieldID, blockID string, issues []*types.Issue, isStabilityPass bool, token types.RequestToken) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	field, ok := s.fields[fieldID]
	if !ok {
		return false
	}
	b := s.lookupLocked(fieldID, blockID)
	if b == nil {
		return false
	}
	if b.ActiveToken != token {
		return false
	}

	if isStabilityPass {
		existing := make(map[issueKey]bool, len(b.Issues))
		for _, iss := range b.Issues {
			existing[keyOf(iss)] = true
		}
		foundNew := false
		for _, iss := range issues {
			if existing[keyOf(iss)] {
				continue
			}
			c := iss.Clone()
			ensureID(c)
			c.Source = types.SourceVerification
			c.Status = types.StatusNew
			b.Issues = append(b.Issues, c)
			existing[keyOf(c)] = true
			foundNew = true
		}
		if foundNew {
			b.Confidence = clamp01(b.Confidence - ConfidencePenalty)
		} else {
			b.Confidence = clamp01(b.Confidence + ConfidenceBoost)
		}
		b.Passes++
	} else {
		b.Issues = b.Issues[:0]
		for _, iss := range issues {
			c := iss.Clone()
			ensureID(c)
			c.Source = types.SourceAnalysis
			c.Status = types.StatusNew
			b.Issues = append(b.Issues, c)
		}
		if len(b.Issues) == 0 {
			b.Confidence = ConfidenceBoost
		} else {
			b.Confidence = 0
		}
	}

	b.IsAnalyzed = true
	b.IsAnalyzing = false
	b.IsStabilityChecking = false
	b.ActiveToken = ""
	b.RecomputeUnapplied()
	field.Version++
	return true
}

// RemoveIssue deletes an issue from whichever block holds it, after the
// consumer accepted or ignored the suggestion. No re-analysis is
// triggered. Returns false if the issue is unknown.
func (s *Store) RemoveIssue(fieldID, issueID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	field, ok := s.fields[fieldID]
	if !ok {
		return false
	}
	for _, b := range field.Blocks {
		for i, iss := range b.Issues {
			if iss.ID != issueID {
				continue
			}
			b.Issues = append(b.Issues[:i], b.Issues[i+1:]...)
			b.RecomputeUnapplied()
			field.Version++
			return true
		}
	}
	return false
}

// ApplyLocalChange updates state after the host replaced issue's range
// with its suggested text, producing newFullText. Only the affected
// block is re-hashed; later issues in the block and every subsequent
// block (with their issues) shift by the known length delta. This keeps
// an accepted suggestion from forcing a full re-split round trip.
func (s *Store) ApplyLocalChange(fieldID string, issue *types.Issue, newFullText string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	field, ok := s.fields[fieldID]
	if !ok {
		return false
	}

	delta := len(issue.SuggestedText) - len(issue.OriginalText)
	idx := -1
	for i, b := range field.Blocks {
		if issue.StartOffset >= b.StartOffset && issue.EndOffset <= b.EndOffset {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	// Validate the prospective offsets before mutating anything: a
	// rejected call must leave the partition untouched.
	b := field.Blocks[idx]
	newEnd := b.EndOffset + delta
	if b.StartOffset > len(newFullText) || newEnd > len(newFullText) || b.StartOffset > newEnd {
		return false
	}
	b.EndOffset = newEnd
	b.Text = newFullText[b.StartOffset:b.EndOffset]
	b.Hash = segment.Hash(b.Text)
	for _, iss := range b.Issues {
		if iss.ID == issue.ID {
			iss.Status = types.StatusApplied
			continue
		}
		if iss.StartOffset >= issue.EndOffset {
			iss.StartOffset += delta
			iss.EndOffset += delta
		}
	}
	b.RecomputeUnapplied()

	for _, later := range field.Blocks[idx+1:] {
		later.StartOffset += delta
		later.EndOffset += delta
		for _, iss := range later.Issues {
			iss.StartOffset += delta
			iss.EndOffset += delta
		}
	}

	field.Text = newFullText
	field.Version++
	return true
}

type issueKey struct {
	start, end int
	suggested  string
}

func keyOf(iss *types.Issue) issueKey {
	return issueKey{iss.StartOffset, iss.EndOffset, iss.SuggestedText}
}

func ensureID(iss *types.Issue) {
	if iss.ID == "" {
		iss.ID = uuid.New().String()
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
