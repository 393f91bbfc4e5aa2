package analyzer

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

// fakeProvider returns canned issues keyed by the exact request text,
// optionally erroring for specific texts or blocking until released.
type fakeProvider struct {
	mu      sync.Mutex
	issues  map[string][]provider.RawIssue
	errors  map[string]error
	block   chan struct{} // if non-nil, Analyze waits on it
	calls   int
	verbose []string
}

func (f *fakeProvider) Analyze(ctx context.Context, req provider.Request) ([]provider.RawIssue, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls++
	f.verbose = append(f.verbose, req.Text)
	f.mu.Unlock()
	if err, ok := f.errors[req.Text]; ok {
		return nil, err
	}
	return f.issues[req.Text], nil
}

func (f *fakeProvider) Verify(ctx context.Context, req provider.Request) ([]provider.RawIssue, error) {
	return f.Analyze(ctx, req)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
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

func TestAnalyzeTextDispatchesDirtyBlocksAndCompletes(t *testing.T) {
	store := state.NewStore()
	fp := &fakeProvider{issues: map[string][]provider.RawIssue{
		"Teh cat sat.\n\n": {{Category: "spelling", OriginalText: "Teh", SuggestedText: "The"}},
	}}
	a := New(store, fp)

	done := make(chan *types.AnalysisResult, 1)
	var completed sync.Map
	a.AnalyzeText(context.Background(), "f", "Teh cat sat.\n\nIt was happpy.", Callbacks{
		OnBlockComplete: func(fieldID, blockID string) { completed.Store(blockID, true) },
		OnAllComplete:   func(fieldID string, res *types.AnalysisResult) { done <- res },
	})

	select {
	case res := <-done:
		require.Len(t, res.Issues, 1)
		assert.Equal(t, "Teh", res.Issues[0].OriginalText)
		assert.Equal(t, 0, res.Issues[0].StartOffset)
	case <-time.After(5 * time.Second):
		t.Fatal("analysis did not complete")
	}

	assert.Equal(t, 2, fp.callCount(), "both dirty blocks dispatched")
	assert.Zero(t, a.Pending("f"))
}

func TestAnalyzeTextUnchangedIsSynchronous(t *testing.T) {
	store := state.NewStore()
	fp := &fakeProvider{}
	a := New(store, fp)

	text := "Nothing wrong here."
	done := make(chan struct{}, 2)
	a.AnalyzeText(context.Background(), "f", text, Callbacks{
		OnAllComplete: func(string, *types.AnalysisResult) { done <- struct{}{} },
	})
	<-done
	callsAfterFirst := fp.callCount()

	completedSync := false
	a.AnalyzeText(context.Background(), "f", text, Callbacks{
		OnAllComplete: func(fieldID string, res *types.AnalysisResult) {
			completedSync = true
			assert.Equal(t, text, res.Text)
		},
	})
	assert.True(t, completedSync, "no dirty blocks completes before AnalyzeText returns")
	assert.Equal(t, callsAfterFirst, fp.callCount(), "no provider calls for unchanged text")
}

func TestAnalyzeTextProviderErrorStillCompletes(t *testing.T) {
	store := state.NewStore()
	boom := errors.New("backend unavailable")
	fp := &fakeProvider{
		errors: map[string]error{"Bad block.\n\n": boom},
		issues: map[string][]provider.RawIssue{
			"Good blokc.": {{OriginalText: "blokc", SuggestedText: "block"}},
		},
	}
	a := New(store, fp)

	done := make(chan *types.AnalysisResult, 1)
	var gotErr error
	var errMu sync.Mutex
	a.AnalyzeText(context.Background(), "f", "Bad block.\n\nGood blokc.", Callbacks{
		OnBlockError: func(fieldID, blockID string, err error) {
			errMu.Lock()
			gotErr = err
			errMu.Unlock()
		},
		OnAllComplete: func(fieldID string, res *types.AnalysisResult) { done <- res },
	})

	select {
	case res := <-done:
		require.Len(t, res.Issues, 1, "failing block must not lose the sibling's issues")
		assert.Equal(t, "blokc", res.Issues[0].OriginalText)
	case <-time.After(5 * time.Second):
		t.Fatal("error on one block stalled completion")
	}

	errMu.Lock()
	assert.ErrorIs(t, gotErr, boom)
	errMu.Unlock()

	// The failed block is left idle and un-analyzed, ready for retry.
	field := store.Field("f")
	assert.False(t, field.Blocks[0].IsAnalyzed)
	assert.False(t, field.Blocks[0].IsAnalyzing)
}

func TestAnalyzeTextSupersededRunDoesNotComplete(t *testing.T) {
	store := state.NewStore()
	release := make(chan struct{})
	fp := &fakeProvider{block: release}
	a := New(store, fp)

	firstDone := make(chan struct{}, 1)
	a.AnalyzeText(context.Background(), "f", "Old text here.", Callbacks{
		OnAllComplete: func(string, *types.AnalysisResult) { firstDone <- struct{}{} },
	})
	require.Equal(t, 1, a.Pending("f"))

	// A newer edit supersedes the in-flight run.
	a.Cancel("f")
	assert.Zero(t, a.Pending("f"))

	close(release)
	select {
	case <-firstDone:
		t.Fatal("superseded run fired OnAllComplete")
	case <-time.After(100 * time.Millisecond):
	}

	// The next edit proceeds normally regardless of the abandoned run.
	res := store.UpdateText("f", "New text entirely.")
	assert.Len(t, res.DirtyBlocks, 1)
}

func TestResolveIssuesAnchorsVerbatim(t *testing.T) {
	raw := []provider.RawIssue{
		{Category: "spelling", OriginalText: "Teh", SuggestedText: "The", Explanation: "typo"},
	}
	issues := ResolveIssues(raw, "Teh cat sat.", 100)
	require.Len(t, issues, 1)
	assert.Equal(t, 100, issues[0].StartOffset)
	assert.Equal(t, 103, issues[0].EndOffset)
	assert.Equal(t, "Teh", issues[0].OriginalText)
	assert.Equal(t, types.CategorySpelling, issues[0].Category)
	assert.Equal(t, "typo", issues[0].Explanation)
}

func TestResolveIssuesCaseInsensitiveFallback(t *testing.T) {
	raw := []provider.RawIssue{
		{OriginalText: "teh", SuggestedText: "the"},
	}
	issues := ResolveIssues(raw, "Teh cat sat.", 0)
	require.Len(t, issues, 1)
	assert.Equal(t, "Teh", issues[0].OriginalText, "anchored text comes from the block, not the quote")
	assert.Equal(t, 0, issues[0].StartOffset)
}

func TestResolveIssuesFoldMatchSurvivesLengthChangingRunes(t *testing.T) {
	// Lowercasing ẞ (3 bytes) yields ß (2 bytes), so an index computed in
	// a lowered copy of the text would not line up with the original.
	raw := []provider.RawIssue{
		{OriginalText: "fehler", SuggestedText: "Fehler"},
	}
	issues := ResolveIssues(raw, "GROẞE FEHLER hier.", 0)
	require.Len(t, issues, 1)
	assert.Equal(t, "FEHLER", issues[0].OriginalText)
	assert.Equal(t, 8, issues[0].StartOffset)
	assert.Equal(t, 14, issues[0].EndOffset)
}

func TestResolveIssuesFoldMatchDifferentByteLength(t *testing.T) {
	// The quoted span itself may fold to a different byte length than the
	// block text; the anchored offsets must come from the block.
	raw := []provider.RawIssue{
		{OriginalText: "großes", SuggestedText: "riesiges"},
	}
	issues := ResolveIssues(raw, "Ein GROẞES Haus.", 0)
	require.Len(t, issues, 1)
	assert.Equal(t, "GROẞES", issues[0].OriginalText)
	assert.Equal(t, 4, issues[0].StartOffset)
	assert.Equal(t, 4+len("GROẞES"), issues[0].EndOffset)
}

func TestResolveIssuesRepeatedWordClaimsDistinctOccurrences(t *testing.T) {
	raw := []provider.RawIssue{
		{OriginalText: "teh", SuggestedText: "the"},
		{OriginalText: "teh", SuggestedText: "the"},
	}
	issues := ResolveIssues(raw, "teh cat and teh dog", 0)
	require.Len(t, issues, 2)
	assert.Equal(t, 0, issues[0].StartOffset)
	assert.Equal(t, 12, issues[1].StartOffset, "second report anchors to the second occurrence")
}

func TestResolveIssuesDropsUnmatchable(t *testing.T) {
	raw := []provider.RawIssue{
		{OriginalText: "absent", SuggestedText: "present"},
		{OriginalText: "cat", SuggestedText: "cat"},   // no-op suggestion
		{OriginalText: "", SuggestedText: "anything"}, // empty quote
		{OriginalText: "cat", SuggestedText: "dog"},
	}
	issues := ResolveIssues(raw, "the cat sat", 0)
	require.Len(t, issues, 1, "bad entries are dropped individually")
	assert.Equal(t, "cat", issues[0].OriginalText)
}

func TestResolveIssuesUnknownCategoryDefaults(t *testing.T) {
	raw := []provider.RawIssue{
		{Category: "  ", OriginalText: "cat", SuggestedText: "dog"},
	}
	issues := ResolveIssues(raw, "the cat sat", 0)
	require.Len(t, issues, 1)
	assert.Equal(t, types.CategoryRephrase, issues[0].Category)
}
