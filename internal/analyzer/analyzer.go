// Package analyzer coordinates first-pass analysis: it reconciles an
// edit against the store, dispatches only the dirty blocks to the
// provider, and detects completion as out-of-order responses drain.
package analyzer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prosaic-dev/prosaic/internal/provider"
	"github.com/prosaic-dev/prosaic/internal/state"
	"github.com/prosaic-dev/prosaic/internal/types"
)

// ContextWindow is how many bytes of neighboring text accompany each
// block, for disambiguation by the provider.
const ContextWindow = 120

// Callbacks notify the consumer as an analysis progresses. Any field
// may be nil. Callbacks run on request goroutines; implementations must
// be safe for concurrent invocation.
type Callbacks struct {
	OnBlockStart    func(fieldID, blockID string)
	OnBlockComplete func(fieldID, blockID string)
	OnBlockError    func(fieldID, blockID string, err error)

	// OnAllComplete fires once per analysis, when every dispatched block
	// has resolved (successfully or not), with the field's merged result.
	OnAllComplete func(fieldID string, result *types.AnalysisResult)
}

// BlockAnalyzer drives first-pass analysis for any number of fields.
type BlockAnalyzer struct {
	store    *state.Store
	provider provider.Provider

	mu sync.Mutex
	// pending tracks the not-yet-resolved block IDs per field. Completion
	// is "the set emptied", never dispatch order: responses arrive in any
	// order. A newer analysis replaces the field's set wholesale, so
	// leftover goroutines from a superseded run cannot affect it (their
	// block IDs no longer exist).
	pending map[string]map[string]bool
}

// New creates a BlockAnalyzer over the given store and provider.
func New(store *state.Store, p provider.Provider) *BlockAnalyzer {
	return &BlockAnalyzer{
		store:    store,
		provider: p,
		pending:  make(map[string]map[string]bool),
	}
}

// AnalyzeText reconciles the field against text and analyzes whatever
// changed. If nothing is dirty it reports completion synchronously with
// the existing merged result and makes no provider calls.
func (a *BlockAnalyzer) AnalyzeText(ctx context.Context, fieldID, text string, cb Callbacks) {
	res := a.store.UpdateText(fieldID, text)

	if len(res.DirtyBlocks) == 0 {
		a.mu.Lock()
		delete(a.pending, fieldID)
		a.mu.Unlock()
		if cb.OnAllComplete != nil {
			cb.OnAllComplete(fieldID, a.store.MergedResult(fieldID))
		}
		return
	}

	set := make(map[string]bool, len(res.DirtyBlocks))
	for _, b := range res.DirtyBlocks {
		set[b.ID] = true
	}
	a.mu.Lock()
	a.pending[fieldID] = set
	a.mu.Unlock()

	slog.Debug("analysis dispatch", "field", fieldID,
		"dirty", len(res.DirtyBlocks), "clean", len(res.CleanBlocks))

	for _, b := range res.DirtyBlocks {
		token, ok := a.store.MarkAnalyzing(fieldID, b.ID)
		if !ok {
			// Block vanished under a concurrent edit; nothing to send.
			a.finishBlock(fieldID, b.ID, cb)
			continue
		}
		if cb.OnBlockStart != nil {
			cb.OnBlockStart(fieldID, b.ID)
		}
		go a.dispatch(ctx, fieldID, b, token, cb)
	}
}

// Cancel drops completion tracking for a field without touching block
// state. Used when a newer edit supersedes an in-flight analysis; stale
// responses are then rejected by their tokens.
func (a *BlockAnalyzer) Cancel(fieldID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, fieldID)
}

// Pending reports how many blocks are still awaiting responses.
func (a *BlockAnalyzer) Pending(fieldID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending[fieldID])
}

func (a *BlockAnalyzer) dispatch(ctx context.Context, fieldID string, b types.Block, token types.RequestToken, cb Callbacks) {
	before, after := a.store.NeighborContext(fieldID, b.ID, ContextWindow)
	raw, err := a.provider.Analyze(ctx, provider.Request{Text: b.Text, Before: before, After: after})
	if err != nil {
		// Errors never block completion of sibling blocks.
		a.store.ClearInFlight(fieldID, b.ID)
		if cb.OnBlockError != nil {
			cb.OnBlockError(fieldID, b.ID, err)
		}
		a.finishBlock(fieldID, b.ID, cb)
		return
	}

	issues := ResolveIssues(raw, b.Text, b.StartOffset)
	if a.store.MergeBlockResult(fieldID, b.ID, issues, false, token) {
		if cb.OnBlockComplete != nil {
			cb.OnBlockComplete(fieldID, b.ID)
		}
	} else {
		slog.Debug("stale analysis response discarded", "field", fieldID, "block", b.ID)
	}
	a.finishBlock(fieldID, b.ID, cb)
}

// finishBlock removes a block from the pending set and fires completion
// when the set empties. No-ops for superseded runs.
func (a *BlockAnalyzer) finishBlock(fieldID, blockID string, cb Callbacks) {
	a.mu.Lock()
	set, ok := a.pending[fieldID]
	if !ok || !set[blockID] {
		a.mu.Unlock()
		return
	}
	delete(set, blockID)
	done := len(set) == 0
	if done {
		delete(a.pending, fieldID)
	}
	a.mu.Unlock()

	if done && cb.OnAllComplete != nil {
		cb.OnAllComplete(fieldID, a.store.MergedResult(fieldID))
	}
}
