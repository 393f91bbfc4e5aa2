// Package stability re-verifies analyzed blocks once the user goes
// idle, to surface issues that only became visible after earlier
// corrections, while guaranteeing convergence: every block either
// crosses the confidence threshold or exhausts its pass budget.
package stability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prosaic-dev/prosaic/internal/analyzer"
	"github.com/prosaic-dev/prosaic/internal/provider"
	"github.com/prosaic-dev/prosaic/internal/state"
	"github.com/prosaic-dev/prosaic/internal/types"
)

// DefaultIdleDelay is how long a field must stay quiet before a
// scheduled stability pass actually runs.
const DefaultIdleDelay = 1000 * time.Millisecond

// Callbacks notify the consumer as a pass progresses. Any field may be
// nil; implementations must tolerate concurrent invocation.
type Callbacks struct {
	OnPassStart     func(fieldID string, blockIDs []string)
	OnBlockVerified func(fieldID, blockID string)
	OnPassComplete  func(fieldID string, result *types.AnalysisResult)
	OnCancelled     func(fieldID string)
}

// Manager schedules and runs stability passes per field.
type Manager struct {
	store     *state.Store
	provider  provider.Provider
	idleDelay time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	// active tracks the in-flight pass per field: the not-yet-verified
	// block IDs and the callbacks the pass was scheduled with.
	active map[string]*passState
}

type passState struct {
	pending map[string]bool
	cb      Callbacks
}

// New creates a Manager. idleDelay <= 0 selects DefaultIdleDelay.
func New(store *state.Store, p provider.Provider, idleDelay time.Duration) *Manager {
	if idleDelay <= 0 {
		idleDelay = DefaultIdleDelay
	}
	return &Manager{
		store:     store,
		provider:  p,
		idleDelay: idleDelay,
		timers:    make(map[string]*time.Timer),
		active:    make(map[string]*passState),
	}
}

// Schedule (re)starts the field's idle timer; a pending timer for the
// same field is cancelled first, so repeated calls debounce.
func (m *Manager) Schedule(ctx context.Context, fieldID string, cb Callbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[fieldID]; ok {
		t.Stop()
	}
	m.timers[fieldID] = time.AfterFunc(m.idleDelay, func() {
		m.runStabilityPass(ctx, fieldID, cb)
	})
}

// Cancel stops the field's idle timer and any in-flight pass, clearing
// checking flags on affected blocks. Call it whenever the user resumes
// editing or accepts/ignores a suggestion: the text or issue set is no
// longer what the pass was verifying.
func (m *Manager) Cancel(fieldID string) {
	m.mu.Lock()
	if t, ok := m.timers[fieldID]; ok {
		t.Stop()
		delete(m.timers, fieldID)
	}
	ps, running := m.active[fieldID]
	if running {
		delete(m.active, fieldID)
	}
	m.mu.Unlock()

	if !running {
		return
	}
	// Clearing the token also invalidates any response still in flight.
	for blockID := range ps.pending {
		m.store.ClearInFlight(fieldID, blockID)
	}
	if ps.cb.OnCancelled != nil {
		ps.cb.OnCancelled(fieldID)
	}
}

// runStabilityPass fires when the idle timer elapses. The guards run in
// order; any hit aborts the pass without side effects:
//  1. something is still mid-analysis or mid-verification
//  2. a suggestion is still awaiting a user decision (re-verifying under
//     pending suggestions confuses offset math and duplicates prompts)
//  3. every block already converged
//  4. nothing is eligible
func (m *Manager) runStabilityPass(ctx context.Context, fieldID string, cb Callbacks) {
	m.mu.Lock()
	delete(m.timers, fieldID)
	if _, running := m.active[fieldID]; running {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if !m.store.AllBlocksClean(fieldID) {
		return
	}
	if m.store.HasAnyUnappliedIssues(fieldID) {
		return
	}
	if m.store.AllBlocksStable(fieldID) {
		return
	}
	eligible := m.store.UnstableBlocks(fieldID)
	if len(eligible) == 0 {
		return
	}

	var dispatch []types.Block
	for _, b := range eligible {
		if b.Passes >= state.MaxStabilityPasses {
			// Pass budget exhausted: converge locally, no request. This is
			// what bounds total verification work per block.
			m.store.ForceStable(fieldID, b.ID)
			continue
		}
		dispatch = append(dispatch, b)
	}
	if len(dispatch) == 0 {
		return
	}

	ps := &passState{pending: make(map[string]bool, len(dispatch)), cb: cb}
	ids := make([]string, 0, len(dispatch))
	for _, b := range dispatch {
		ps.pending[b.ID] = true
		ids = append(ids, b.ID)
	}
	m.mu.Lock()
	m.active[fieldID] = ps
	m.mu.Unlock()

	slog.Debug("stability pass start", "field", fieldID, "blocks", len(dispatch))
	if cb.OnPassStart != nil {
		cb.OnPassStart(fieldID, ids)
	}

	for _, b := range dispatch {
		token, ok := m.store.MarkStabilityChecking(fieldID, b.ID)
		if !ok {
			m.finishBlock(fieldID, b.ID)
			continue
		}
		go m.verify(ctx, fieldID, b, token)
	}
}

func (m *Manager) verify(ctx context.Context, fieldID string, b types.Block, token types.RequestToken) {
	before, after := m.store.NeighborContext(fieldID, b.ID, analyzer.ContextWindow)
	raw, err := m.provider.Verify(ctx, provider.Request{Text: b.Text, Before: before, After: after})
	if err != nil {
		// A failing verification is treated as converged rather than
		// retried indefinitely; termination beats completeness here.
		slog.Debug("verification failed, forcing block stable", "field", fieldID, "block", b.ID, "error", err)
		m.store.ForceStable(fieldID, b.ID)
		m.finishBlock(fieldID, b.ID)
		return
	}

	issues := analyzer.ResolveIssues(raw, b.Text, b.StartOffset)
	if m.store.MergeBlockResult(fieldID, b.ID, issues, true, token) {
		m.mu.Lock()
		ps := m.active[fieldID]
		m.mu.Unlock()
		if ps != nil && ps.cb.OnBlockVerified != nil {
			ps.cb.OnBlockVerified(fieldID, b.ID)
		}
	}
	m.finishBlock(fieldID, b.ID)
}

// finishBlock drains the pending set; the pass completes when it
// empties. No-ops after cancellation.
func (m *Manager) finishBlock(fieldID, blockID string) {
	m.mu.Lock()
	ps, ok := m.active[fieldID]
	if !ok || !ps.pending[blockID] {
		m.mu.Unlock()
		return
	}
	delete(ps.pending, blockID)
	done := len(ps.pending) == 0
	if done {
		delete(m.active, fieldID)
	}
	m.mu.Unlock()

	if done && ps.cb.OnPassComplete != nil {
		ps.cb.OnPassComplete(fieldID, m.store.MergedResult(fieldID))
	}
}

// Running reports whether a pass is currently in flight for the field.
func (m *Manager) Running(fieldID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[fieldID] != nil
}
