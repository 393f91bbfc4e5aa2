package stability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prosaic-dev/prosaic/internal/provider"
	"github.com/prosaic-dev/prosaic/internal/state"
	"github.com/prosaic-dev/prosaic/internal/types"
)

const testDelay = 10 * time.Millisecond

// fakeVerifier counts Verify calls and returns canned issues keyed by
// request text.
type fakeVerifier struct {
	mu     sync.Mutex
	issues map[string][]provider.RawIssue
	err    error
	calls  int
}

func (f *fakeVerifier) Analyze(ctx context.Context, req provider.Request) ([]provider.RawIssue, error) {
	return nil, errors.New("unexpected Analyze call")
}

func (f *fakeVerifier) Verify(ctx context.Context, req provider.Request) ([]provider.RawIssue, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.issues[req.Text], nil
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// analyzedField seeds a store with one field whose blocks have all been
// through a clean first pass (confidence 0.5, no issues).
func analyzedField(t *testing.T, text string) *state.Store {
	t.Helper()
	s := state.NewStore()
	res := s.UpdateText("f", text)
	for _, b := range res.DirtyBlocks {
		require.True(t, s.MergeBlockResult("f", b.ID, nil, false, ""))
	}
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestPassBoostsCleanBlocksToStable(t *testing.T) {
	s := analyzedField(t, "A fine paragraph.")
	fv := &fakeVerifier{}
	m := New(s, fv, testDelay)

	done := make(chan *types.AnalysisResult, 1)
	m.Schedule(context.Background(), "f", Callbacks{
		OnPassComplete: func(fieldID string, res *types.AnalysisResult) { done <- res },
	})

	select {
	case res := <-done:
		assert.Empty(t, res.Issues)
	case <-time.After(5 * time.Second):
		t.Fatal("pass did not complete")
	}

	assert.Equal(t, 1, fv.callCount())
	assert.True(t, s.AllBlocksStable("f"), "clean verification crosses the threshold in one pass")
	blk := s.Field("f").Blocks[0]
	assert.Equal(t, 1, blk.Passes)
}

func TestScheduleDebounces(t *testing.T) {
	s := analyzedField(t, "A fine paragraph.")
	fv := &fakeVerifier{}
	m := New(s, fv, 50*time.Millisecond)

	done := make(chan struct{}, 3)
	cb := Callbacks{OnPassComplete: func(string, *types.AnalysisResult) { done <- struct{}{} }}
	for i := 0; i < 5; i++ {
		m.Schedule(context.Background(), "f", cb)
		time.Sleep(10 * time.Millisecond)
	}

	<-done
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, fv.callCount(), "rescheduling must reset the timer, not stack passes")
}

func TestPassSkippedWhileAnalysisInFlight(t *testing.T) {
	s := analyzedField(t, "First part.\n\nSecond part.")
	field := s.Field("f")
	_, ok := s.MarkAnalyzing("f", field.Blocks[0].ID)
	require.True(t, ok)

	fv := &fakeVerifier{}
	m := New(s, fv, testDelay)
	m.Schedule(context.Background(), "f", Callbacks{})

	time.Sleep(10 * testDelay)
	assert.Zero(t, fv.callCount(), "pass must not run while a block is mid-analysis")
	assert.False(t, m.Running("f"))
}

func TestPassSkippedWhileIssuesUnapplied(t *testing.T) {
	s := state.NewStore()
	res := s.UpdateText("f", "Teh cat sat.")
	require.True(t, s.MergeBlockResult("f", res.DirtyBlocks[0].ID, []*types.Issue{{
		Category:      types.CategorySpelling,
		StartOffset:   0,
		EndOffset:     3,
		OriginalText:  "Teh",
		SuggestedText: "The",
	}}, false, ""))

	fv := &fakeVerifier{}
	m := New(s, fv, testDelay)
	m.Schedule(context.Background(), "f", Callbacks{})

	time.Sleep(10 * testDelay)
	assert.Zero(t, fv.callCount(), "pending suggestions block verification")
}

func TestPassSkippedWhenAllStable(t *testing.T) {
	s := analyzedField(t, "A fine paragraph.")
	field := s.Field("f")
	s.ForceStable("f", field.Blocks[0].ID)

	fv := &fakeVerifier{}
	m := New(s, fv, testDelay)
	m.Schedule(context.Background(), "f", Callbacks{})

	time.Sleep(10 * testDelay)
	assert.Zero(t, fv.callCount())
}

func TestExhaustedPassBudgetForcesStableWithoutRequests(t *testing.T) {
	s := analyzedField(t, "A stubborn paragraph.")
	fv := &fakeVerifier{issues: map[string][]provider.RawIssue{
		"A stubborn paragraph.": {{OriginalText: "stubborn", SuggestedText: "persistent"}},
	}}
	m := New(s, fv, testDelay)

	// Each pass finds a "new" issue... but we immediately remove it so the
	// unapplied-issue guard does not block the next round. Run rounds until
	// the budget trips.
	for i := 0; i < state.MaxStabilityPasses; i++ {
		done := make(chan struct{}, 1)
		m.Schedule(context.Background(), "f", Callbacks{
			OnPassComplete: func(string, *types.AnalysisResult) { done <- struct{}{} },
		})
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("round %d did not complete", i)
		}
		for _, b := range s.Field("f").Blocks {
			for _, iss := range b.Issues {
				s.RemoveIssue("f", iss.ID)
			}
		}
	}

	blk := s.Field("f").Blocks[0]
	require.Equal(t, state.MaxStabilityPasses, blk.Passes)
	require.False(t, s.AllBlocksStable("f"), "penalties kept confidence below threshold")

	calls := fv.callCount()
	m.Schedule(context.Background(), "f", Callbacks{})
	waitFor(t, func() bool { return s.AllBlocksStable("f") })
	assert.Equal(t, calls, fv.callCount(), "budget-exhausted blocks are forced stable locally")
}

func TestVerifyErrorForcesStable(t *testing.T) {
	s := analyzedField(t, "A fine paragraph.")
	fv := &fakeVerifier{err: errors.New("backend down")}
	m := New(s, fv, testDelay)

	m.Schedule(context.Background(), "f", Callbacks{})
	waitFor(t, func() bool { return s.AllBlocksStable("f") })

	blk := s.Field("f").Blocks[0]
	assert.False(t, blk.IsStabilityChecking)
	assert.GreaterOrEqual(t, blk.Passes, 1)
}

func TestCancelStopsTimerAndClearsFlags(t *testing.T) {
	s := analyzedField(t, "A fine paragraph.")
	fv := &fakeVerifier{}
	m := New(s, fv, time.Hour)

	cancelled := make(chan struct{}, 1)
	m.Schedule(context.Background(), "f", Callbacks{
		OnCancelled: func(string) { cancelled <- struct{}{} },
	})
	m.Cancel("f")

	time.Sleep(5 * testDelay)
	assert.Zero(t, fv.callCount(), "cancelled timer must not fire")
	select {
	case <-cancelled:
		t.Fatal("OnCancelled fired for a pass that never started")
	default:
	}
	assert.False(t, m.Running("f"))
}

func TestVerificationFindingsAppendAndPenalize(t *testing.T) {
	s := analyzedField(t, "A questionable paragraph.")
	fv := &fakeVerifier{issues: map[string][]provider.RawIssue{
		"A questionable paragraph.": {{Category: "grammar", OriginalText: "questionable", SuggestedText: "dubious"}},
	}}
	m := New(s, fv, testDelay)

	verified := make(chan string, 1)
	done := make(chan *types.AnalysisResult, 1)
	m.Schedule(context.Background(), "f", Callbacks{
		OnBlockVerified: func(fieldID, blockID string) { verified <- blockID },
		OnPassComplete:  func(fieldID string, res *types.AnalysisResult) { done <- res },
	})

	var res *types.AnalysisResult
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pass did not complete")
	}
	<-verified

	require.Len(t, res.Issues, 1)
	assert.Equal(t, types.SourceVerification, res.Issues[0].Source)

	blk := s.Field("f").Blocks[0]
	assert.InDelta(t, state.ConfidenceBoost-state.ConfidencePenalty, blk.Confidence, 1e-9)
	assert.Equal(t, 1, blk.Passes)
}
