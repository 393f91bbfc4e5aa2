package events

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := openTestLog(t)

	require.NoError(t, l.Record(Event{FieldID: "f1", Type: EventAnalysisStarted}))
	require.NoError(t, l.Record(Event{
		FieldID: "f1",
		BlockID: "b1",
		Type:    EventBlockAnalyzed,
		Data:    Payload(map[string]int{"issues": 2}),
	}))
	require.NoError(t, l.Record(Event{FieldID: "f2", Type: EventAnalysisStarted}))

	evs, err := l.Recent("", 10)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, EventAnalysisStarted, evs[0].Type, "newest first")
	assert.Equal(t, "f2", evs[0].FieldID)

	analyzed := evs[1]
	assert.Equal(t, EventBlockAnalyzed, analyzed.Type)
	assert.Equal(t, "b1", analyzed.BlockID)
	assert.JSONEq(t, `{"issues":2}`, string(analyzed.Data))
	assert.False(t, analyzed.Timestamp.IsZero())
}

func TestRecentFiltersByField(t *testing.T) {
	l := openTestLog(t)
	require.NoError(t, l.Record(Event{FieldID: "a", Type: EventAnalysisStarted}))
	require.NoError(t, l.Record(Event{FieldID: "b", Type: EventAnalysisStarted}))

	evs, err := l.Recent("a", 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "a", evs[0].FieldID)
}

func TestRecentLimit(t *testing.T) {
	l := openTestLog(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(Event{FieldID: "f", Type: EventBlockAnalyzed}))
	}
	evs, err := l.Recent("f", 3)
	require.NoError(t, err)
	assert.Len(t, evs, 3)
}

func TestCleanup(t *testing.T) {
	l := openTestLog(t)
	require.NoError(t, l.Record(Event{FieldID: "f", Type: EventAnalysisStarted}))

	// A generous retention keeps everything.
	removed, err := l.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	// A cutoff in the future removes everything.
	removed, err = l.Cleanup(-time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	evs, err := l.Recent("f", 10)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestNilLogIsSafe(t *testing.T) {
	var l *Log
	assert.NoError(t, l.Record(Event{FieldID: "f", Type: EventAnalysisStarted}))
	evs, err := l.Recent("f", 10)
	assert.NoError(t, err)
	assert.Nil(t, evs)
	removed, err := l.Cleanup(time.Hour)
	assert.NoError(t, err)
	assert.Zero(t, removed)
	assert.NoError(t, l.Close())
}

func TestPayload(t *testing.T) {
	assert.Nil(t, Payload(nil))
	assert.JSONEq(t, `{"n":1}`, string(Payload(map[string]int{"n": 1})))
	assert.Nil(t, Payload(make(chan int)), "unmarshalable values degrade to nil")
}
