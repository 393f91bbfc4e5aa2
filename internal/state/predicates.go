package state

import "github.com/prosaic-dev/prosaic/internal/types"

// IsBlockStable reports whether a block has converged: confidence at or
// above the threshold with at least one completed pass behind it.
func IsBlockStable(b *types.Block) bool {
	return b.Confidence >= StableThreshold && b.Passes >= 1
}

// UnstableBlocks returns snapshots of the blocks eligible for a
// stability pass: analyzed, idle, with no suggestion still awaiting a
// user decision, and not yet stable. Blocks that have exhausted their
// pass budget are included so the pass manager can force them stable.
func (s *Store) UnstableBlocks(fieldID string) []types.Block {
	s.mu.Lock()
	defer s.mu.Unlock()

	field, ok := s.fields[fieldID]
	if !ok {
		return nil
	}
	var out []types.Block
	for _, b := range field.Blocks {
		if !b.IsAnalyzed || b.IsAnalyzing || b.IsStabilityChecking {
			continue
		}
		if b.HasUnappliedIssues {
			continue
		}
		if IsBlockStable(b) {
			continue
		}
		out = append(out, snapshot(b))
	}
	return out
}

// HasAnyUnappliedIssues reports whether any block of the field still has
// a new-status issue visible to the user.
func (s *Store) HasAnyUnappliedIssues(fieldID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	field, ok := s.fields[fieldID]
	if !ok {
		return false
	}
	for _, b := range field.Blocks {
		if b.HasUnappliedIssues {
			return true
		}
	}
	return false
}

// AllBlocksClean reports whether nothing in the field is mid-analysis or
// mid-verification.
func (s *Store) AllBlocksClean(fieldID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	field, ok := s.fields[fieldID]
	if !ok {
		return true
	}
	for _, b := range field.Blocks {
		if b.IsAnalyzing || b.IsStabilityChecking {
			return false
		}
	}
	return true
}

// AllBlocksStable reports whether every analyzed block has converged.
// Unanalyzed blocks keep the field unstable.
func (s *Store) AllBlocksStable(fieldID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	field, ok := s.fields[fieldID]
	if !ok {
		return true
	}
	for _, b := range field.Blocks {
		if !b.IsAnalyzed || !IsBlockStable(b) {
			return false
		}
	}
	return true
}
