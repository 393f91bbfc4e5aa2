// Package segment turns free-form text into a stable partition of
// analysis blocks and provides the content hash used for change
// detection.
//
// Splitting is hierarchical: paragraphs first, sentences for oversized
// paragraphs, and fixed-size chunks as a last resort for pathological
// single-sentence input. Paragraph and sentence boundaries are
// semantically stable, so an edit in one block rarely dirties its
// neighbors.
package segment

import (
	"strings"
	"unicode"
)

const (
	// MaxBlockSize is the size threshold above which a span is split
	// further. It bounds the worst-case size of a single provider request.
	MaxBlockSize = 500

	// MinBreakSize is the smallest fragment the chunk fallback will leave
	// behind when a better break point exists.
	MinBreakSize = 50
)

// Span is one contiguous segment of the input text.
type Span struct {
	StartOffset int
	EndOffset   int
	Text        string
}

// Split partitions text into ordered, non-overlapping spans whose
// concatenation equals the input exactly. Empty text yields no spans.
//
// Inter-paragraph separators (blank-line runs) attach to the preceding
// paragraph's span so the partition invariant holds; leading blank lines
// attach to the first paragraph.
func Split(text string) []Span {
	if text == "" {
		return nil
	}

	var spans []Span
	for _, p := range splitParagraphs(text) {
		if len(p.Text) <= MaxBlockSize {
			spans = append(spans, p)
			continue
		}
		for _, s := range splitSentences(p) {
			if len(s.Text) <= MaxBlockSize {
				spans = append(spans, s)
				continue
			}
			spans = append(spans, splitChunks(s)...)
		}
	}
	return spans
}

// splitParagraphs cuts the text at blank-line boundaries. Each span runs
// from the start of a paragraph through the blank-line run that follows
// it, up to the start of the next non-blank line.
func splitParagraphs(text string) []Span {
	var spans []Span
	start := 0
	seenContent := false
	inSeparator := false
	lineStart := 0
	for lineStart < len(text) {
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		var next int
		if lineEnd < 0 {
			lineEnd = len(text)
			next = len(text)
		} else {
			lineEnd += lineStart
			next = lineEnd + 1
		}
		blank := strings.TrimSpace(text[lineStart:lineEnd]) == ""
		switch {
		case blank && seenContent:
			inSeparator = true
		case !blank && inSeparator:
			// First non-blank line after a separator opens a new span.
			spans = append(spans, Span{start, lineStart, text[start:lineStart]})
			start = lineStart
			inSeparator = false
		case !blank:
			seenContent = true
		}
		lineStart = next
	}
	if start < len(text) {
		spans = append(spans, Span{start, len(text), text[start:]})
	}
	return spans
}

// splitSentences cuts a span at terminal punctuation (. ! ?) followed by
// whitespace or end of span. Trailing whitespace after the terminator
// stays with the sentence it closes.
func splitSentences(p Span) []Span {
	var spans []Span
	text := p.Text
	start := 0
	i := 0
	for i < len(text) {
		c := text[i]
		if c == '.' || c == '!' || c == '?' {
			j := i + 1
			if j >= len(text) || isSpace(text[j]) {
				// Absorb the whitespace run following the terminator.
				for j < len(text) && isSpace(text[j]) {
					j++
				}
				spans = append(spans, Span{
					StartOffset: p.StartOffset + start,
					EndOffset:   p.StartOffset + j,
					Text:        text[start:j],
				})
				start = j
				i = j
				continue
			}
		}
		i++
	}
	if start < len(text) {
		spans = append(spans, Span{
			StartOffset: p.StartOffset + start,
			EndOffset:   p.StartOffset + len(text),
			Text:        text[start:],
		})
	}
	return spans
}

// splitChunks cuts an oversized sentence into fixed-size pieces,
// preferring the last whitespace before the limit as the break point.
// A whitespace break is only taken when it leaves at least MinBreakSize
// bytes in the chunk; otherwise the hard limit applies.
func splitChunks(s Span) []Span {
	var spans []Span
	text := s.Text
	start := 0
	for len(text)-start > MaxBlockSize {
		cut := start + MaxBlockSize
		if ws := lastSpaceBefore(text, start, cut); ws > start+MinBreakSize {
			cut = ws + 1 // keep the space with the leading chunk
		}
		spans = append(spans, Span{
			StartOffset: s.StartOffset + start,
			EndOffset:   s.StartOffset + cut,
			Text:        text[start:cut],
		})
		start = cut
	}
	if start < len(text) {
		spans = append(spans, Span{
			StartOffset: s.StartOffset + start,
			EndOffset:   s.StartOffset + len(text),
			Text:        text[start:],
		})
	}
	return spans
}

// lastSpaceBefore returns the index of the last whitespace byte in
// text[start:limit), or -1 if there is none.
func lastSpaceBefore(text string, start, limit int) int {
	for i := limit - 1; i > start; i-- {
		if isSpace(text[i]) {
			return i
		}
	}
	return -1
}

func isSpace(c byte) bool {
	return c < 0x80 && unicode.IsSpace(rune(c))
}
