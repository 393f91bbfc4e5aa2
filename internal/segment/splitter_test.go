package segment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requirePartition asserts the core invariant: spans are contiguous,
// non-overlapping, and concatenate to exactly the input.
func requirePartition(t *testing.T, text string, spans []Span) {
	t.Helper()
	var rebuilt strings.Builder
	offset := 0
	for i, sp := range spans {
		require.Equal(t, offset, sp.StartOffset, "span %d must start where the previous ended", i)
		require.Greater(t, sp.EndOffset, sp.StartOffset, "span %d must be non-empty", i)
		require.Equal(t, text[sp.StartOffset:sp.EndOffset], sp.Text, "span %d text must match its offsets", i)
		rebuilt.WriteString(sp.Text)
		offset = sp.EndOffset
	}
	require.Equal(t, text, rebuilt.String(), "spans must concatenate to the input")
}

func TestSplitEmpty(t *testing.T) {
	assert.Empty(t, Split(""))
}

func TestSplitSingleParagraph(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog."
	spans := Split(text)
	require.Len(t, spans, 1)
	assert.Equal(t, text, spans[0].Text)
	requirePartition(t, text, spans)
}

func TestSplitParagraphs(t *testing.T) {
	text := "Teh cat sat.\n\nIt was happpy."
	spans := Split(text)
	require.Len(t, spans, 2)
	assert.Equal(t, "Teh cat sat.\n\n", spans[0].Text)
	assert.Equal(t, "It was happpy.", spans[1].Text)
	requirePartition(t, text, spans)
}

func TestSplitLeadingAndTrailingBlankLines(t *testing.T) {
	text := "\n\nfirst paragraph.\n\nsecond paragraph.\n\n"
	spans := Split(text)
	require.Len(t, spans, 2)
	assert.True(t, strings.HasPrefix(spans[0].Text, "\n\n"), "leading blanks attach to first paragraph")
	assert.True(t, strings.HasSuffix(spans[1].Text, "\n\n"), "trailing blanks attach to last paragraph")
	requirePartition(t, text, spans)
}

func TestSplitMultiLineParagraph(t *testing.T) {
	text := "line one\nline two\nline three"
	spans := Split(text)
	require.Len(t, spans, 1, "adjacent non-blank lines are one paragraph")
	requirePartition(t, text, spans)
}

func TestSplitLongParagraphIntoSentences(t *testing.T) {
	sentence := "This sentence is here to add length to the paragraph under test. "
	text := strings.Repeat(sentence, 12) // ~780 bytes, two sentences per span at most
	spans := Split(text)
	require.Greater(t, len(spans), 1, "paragraph over MaxBlockSize must split")
	for _, sp := range spans {
		assert.LessOrEqual(t, len(sp.Text), MaxBlockSize)
	}
	requirePartition(t, text, spans)
}

func TestSplitPathologicalSentence(t *testing.T) {
	// One giant sentence with no terminal punctuation forces the chunk
	// fallback.
	text := strings.Repeat("word ", 300) // 1500 bytes, no sentence breaks
	spans := Split(text)
	require.Greater(t, len(spans), 2)
	for i, sp := range spans {
		assert.LessOrEqual(t, len(sp.Text), MaxBlockSize)
		if i < len(spans)-1 {
			assert.True(t, strings.HasSuffix(sp.Text, " "), "chunks should break at whitespace")
			assert.GreaterOrEqual(t, len(sp.Text), MinBreakSize, "no tiny fragments when a better boundary exists")
		}
	}
	requirePartition(t, text, spans)
}

func TestSplitNoWhitespaceFallsBackToHardLimit(t *testing.T) {
	text := strings.Repeat("x", 1100)
	spans := Split(text)
	require.Len(t, spans, 3)
	assert.Len(t, spans[0].Text, MaxBlockSize)
	assert.Len(t, spans[1].Text, MaxBlockSize)
	requirePartition(t, text, spans)
}

func TestSplitSentenceTerminators(t *testing.T) {
	long := strings.Repeat("a", 200)
	text := long + ". " + long + "! " + long + "? tail"
	spans := Split(text)
	require.Len(t, spans, 4)
	assert.Equal(t, long+". ", spans[0].Text)
	assert.Equal(t, long+"! ", spans[1].Text)
	assert.Equal(t, long+"? ", spans[2].Text)
	assert.Equal(t, "tail", spans[3].Text)
	requirePartition(t, text, spans)
}

func TestSplitAbbreviationNotMidWord(t *testing.T) {
	// A period not followed by whitespace is not a sentence boundary.
	long := strings.Repeat("b", 550)
	text := "see example.com for details " + long
	spans := Split(text)
	requirePartition(t, text, spans)
	for _, sp := range spans {
		assert.NotEqual(t, "see example.", sp.Text)
	}
}

func TestSplitPartitionProperty(t *testing.T) {
	inputs := []string{
		"a",
		"one.\ntwo.\nthree.",
		"para one.\n\n\n\npara two.",
		strings.Repeat("Sentence here. ", 100),
		strings.Repeat("\n", 5),
		"mixed " + strings.Repeat("content. ", 80) + "\n\nand more\n\n" + strings.Repeat("x", 700),
	}
	for _, text := range inputs {
		spans := Split(text)
		if strings.TrimSpace(text) == "" && text != "" {
			// All-blank text is a single span of separators.
			require.Len(t, spans, 1)
		}
		requirePartition(t, text, spans)
	}
}

func TestHashDeterministic(t *testing.T) {
	assert.Equal(t, Hash("some text"), Hash("some text"))
	assert.NotEqual(t, Hash("some text"), Hash("some text!"))
	assert.Len(t, Hash("some text"), 16)
}

func TestHashEmptySentinel(t *testing.T) {
	assert.Equal(t, EmptyHash, Hash(""))
}
