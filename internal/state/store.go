// Package state owns the authoritative per-field block lists and
// reconciles them across edits without discarding issue state that is
// still valid.
//
// The store's responsibilities are distributed across multiple files:
// - store.go: core struct, constructor, and edit reconciliation
// - merge.go: provider-result merging and issue lifecycle mutations
// - predicates.go: stability predicates used by the pass manager
package state

import (
	"sync"

	"github.com/google/uuid"
	"github.com/prosaic-dev/prosaic/internal/merge"
	"github.com/prosaic-dev/prosaic/internal/segment"
	"github.com/prosaic-dev/prosaic/internal/types"
)

const (
	// StableThreshold is the confidence at which a block is considered
	// converged (together with at least one completed pass).
	StableThreshold = 0.8

	// MaxStabilityPasses bounds re-verification rounds per block. This is
	// the termination guarantee for the stability loop: once a block has
	// been through this many rounds it is forced stable regardless of
	// confidence.
	MaxStabilityPasses = 2

	// ConfidenceBoost is added when a pass finds nothing new (or seeds
	// confidence when the first pass finds no issues at all).
	ConfidenceBoost = 0.5

	// ConfidencePenalty is subtracted when a stability pass surfaces
	// genuinely new issues.
	ConfidencePenalty = 0.3
)

// Store holds analysis state for any number of independent text fields.
// Construct one per host application and hand it to the analyzer and
// pass manager; there is no process-wide instance.
type Store struct {
	mu     sync.Mutex
	fields map[string]*types.TextField
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{fields: make(map[string]*types.TextField)}
}

// UpdateResult reports the outcome of reconciling an edit. The block
// values are snapshots (issues omitted) safe to read without holding the
// store's lock; AllBlocks preserves document order.
type UpdateResult struct {
	DirtyBlocks []types.Block
	CleanBlocks []types.Block
	AllBlocks   []types.Block
}

// UpdateText reconciles a field against its new full text.
//
// On first observation every block is dirty. Afterwards, each new block
// claims at most one unclaimed prior block with an identical content
// hash; claimed blocks are clean and carry over their issues (copied and
// offset-shifted), confidence, and pass count while adopting the new
// block's identity and position. When several prior blocks share a hash
// they are claimed in ascending original-offset order, which makes the
// duplicate-paragraph case deterministic.
func (s *Store) UpdateText(fieldID, newText string) *UpdateResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	field, ok := s.fields[fieldID]
	if !ok {
		field = &types.TextField{FieldID: fieldID}
		s.fields[fieldID] = field
	}

	spans := segment.Split(newText)
	prior := field.Blocks

	// Prior blocks grouped by hash, kept in document order so claiming
	// pops the earliest original occurrence first.
	byHash := make(map[string][]*types.Block, len(prior))
	for _, b := range prior {
		byHash[b.Hash] = append(byHash[b.Hash], b)
	}

	res := &UpdateResult{}
	blocks := make([]*types.Block, 0, len(spans))
	for _, sp := range spans {
		h := segment.Hash(sp.Text)
		nb := &types.Block{
			ID:          uuid.New().String(),
			StartOffset: sp.StartOffset,
			EndOffset:   sp.EndOffset,
			Hash:        h,
			Text:        sp.Text,
		}
		if candidates := byHash[h]; len(candidates) > 0 {
			old := candidates[0]
			byHash[h] = candidates[1:]
			carryOver(nb, old)
			blocks = append(blocks, nb)
			res.CleanBlocks = append(res.CleanBlocks, snapshot(nb))
			res.AllBlocks = append(res.AllBlocks, snapshot(nb))
			continue
		}
		blocks = append(blocks, nb)
		res.DirtyBlocks = append(res.DirtyBlocks, snapshot(nb))
		res.AllBlocks = append(res.AllBlocks, snapshot(nb))
	}

	field.Text = newText
	field.Blocks = blocks
	field.Version++
	return res
}

// carryOver moves analysis state from a claimed prior block onto its
// successor. Issues are cloned, never aliased, and shifted by the
// block's position delta. In-flight markers are not carried: any request
// still referencing the old block ID will simply fail its merge lookup.
func carryOver(nb, old *types.Block) {
	delta := nb.StartOffset - old.StartOffset
	for _, iss := range old.Issues {
		c := iss.Clone()
		c.StartOffset += delta
		c.EndOffset += delta
		nb.Issues = append(nb.Issues, c)
	}
	nb.IsAnalyzed = old.IsAnalyzed
	nb.Confidence = old.Confidence
	nb.Passes = old.Passes
	nb.RecomputeUnapplied()
}

// snapshot returns a value copy of a block with its issue slice dropped,
// suitable for handing outside the lock.
func snapshot(b *types.Block) types.Block {
	c := *b
	c.Issues = nil
	return c
}

// Field returns a deep copy of the field's current state, or nil if the
// field has never been observed.
func (s *Store) Field(fieldID string) *types.TextField {
	s.mu.Lock()
	defer s.mu.Unlock()
	field, ok := s.fields[fieldID]
	if !ok {
		return nil
	}
	out := &types.TextField{FieldID: field.FieldID, Text: field.Text, Version: field.Version}
	for _, b := range field.Blocks {
		c := *b
		c.Issues = nil
		for _, iss := range b.Issues {
			c.Issues = append(c.Issues, iss.Clone())
		}
		out.Blocks = append(out.Blocks, &c)
	}
	return out
}

// Clear drops all state for a field.
func (s *Store) Clear(fieldID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fields, fieldID)
}

// Version returns the field's current version, or 0 if unknown.
func (s *Store) Version(fieldID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if field, ok := s.fields[fieldID]; ok {
		return field.Version
	}
	return 0
}

// MarkAnalyzing flags a block as being analyzed and records a fresh
// request token on it. Returns the token, or false if the block is gone
// (superseded by a newer edit).
func (s *Store) MarkAnalyzing(fieldID, blockID string) (types.RequestToken, bool) {
	return s.markInFlight(fieldID, blockID, false)
}

// MarkStabilityChecking is MarkAnalyzing for verification requests.
func (s *Store) MarkStabilityChecking(fieldID, blockID string) (types.RequestToken, bool) {
	return s.markInFlight(fieldID, blockID, true)
}

func (s *Store) markInFlight(fieldID, blockID string, stability bool) (types.RequestToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.lookupLocked(fieldID, blockID)
	if b == nil {
		return "", false
	}
	token := types.NewRequestToken()
	if stability {
		b.IsStabilityChecking = true
	} else {
		b.IsAnalyzing = true
	}
	b.ActiveToken = token
	return token, true
}

// ClearInFlight resets a block's analyzing/checking flags and token
// without touching its issues. Used on provider errors and pass
// cancellation.
func (s *Store) ClearInFlight(fieldID, blockID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.lookupLocked(fieldID, blockID); b != nil {
		b.IsAnalyzing = false
		b.IsStabilityChecking = false
		b.ActiveToken = ""
	}
}

// ForceStable marks a block converged without sending a request: the
// stability manager uses this for blocks that exhausted their pass
// budget and for verification failures.
func (s *Store) ForceStable(fieldID, blockID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.lookupLocked(fieldID, blockID)
	if b == nil {
		return
	}
	b.Confidence = StableThreshold
	if b.Passes < 1 {
		b.Passes = 1
	}
	b.IsAnalyzing = false
	b.IsStabilityChecking = false
	b.ActiveToken = ""
}

// NeighborContext returns short excerpts of the text immediately before
// and after a block, used to give the provider disambiguating context.
func (s *Store) NeighborContext(fieldID, blockID string, window int) (before, after string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	field, ok := s.fields[fieldID]
	if !ok {
		return "", ""
	}
	b := s.lookupLocked(fieldID, blockID)
	if b == nil {
		return "", ""
	}
	lo := b.StartOffset - window
	if lo < 0 {
		lo = 0
	}
	hi := b.EndOffset + window
	if hi > len(field.Text) {
		hi = len(field.Text)
	}
	return field.Text[lo:b.StartOffset], field.Text[b.EndOffset:hi]
}

// MergedResult composes the public result for a field: all block issues
// merged, offset-validated against the full text, deduplicated, and
// sorted. Returns an empty result for unknown fields.
func (s *Store) MergedResult(fieldID string) *types.AnalysisResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	field, ok := s.fields[fieldID]
	if !ok {
		return merge.NewAnalysisResult("", nil)
	}
	return merge.NewAnalysisResult(field.Text, field.Blocks)
}

// lookupLocked finds a block by ID. Caller holds s.mu.
func (s *Store) lookupLocked(fieldID, blockID string) *types.Block {
	field, ok := s.fields[fieldID]
	if !ok {
		return nil
	}
	for _, b := range field.Blocks {
		if b.ID == blockID {
			return b
		}
	}
	return nil
}
