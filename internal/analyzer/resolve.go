package analyzer

import (
	"strings"
	"unicode/utf8"

	"github.com/prosaic-dev/prosaic/internal/provider"
	"github.com/prosaic-dev/prosaic/internal/types"
)

// ResolveIssues anchors provider-reported issues to absolute offsets.
//
// Providers report issues by quoting the original text, not by offset,
// so each reported span is located inside the block's stored text:
// first verbatim, then case-insensitively, always skipping ranges
// already claimed by an earlier issue so a repeated word cannot anchor
// two issues to the same occurrence. Issues that cannot be located, or
// whose suggestion does not change anything, are dropped individually;
// one unmatchable issue never discards the rest of the response.
func ResolveIssues(raw []provider.RawIssue, blockText string, blockStart int) []*types.Issue {
	var out []*types.Issue
	var claimed [][2]int

	for _, r := range raw {
		if r.OriginalText == "" || r.SuggestedText == r.OriginalText {
			continue
		}
		idx := findUnclaimed(blockText, r.OriginalText, claimed)
		end := idx + len(r.OriginalText)
		if idx < 0 {
			idx, end = findUnclaimedFold(blockText, r.OriginalText, claimed)
		}
		if idx < 0 {
			continue
		}
		claimed = append(claimed, [2]int{idx, end})

		category := types.IssueCategory(strings.ToLower(strings.TrimSpace(r.Category)))
		if category == "" {
			category = types.CategoryRephrase
		}
		out = append(out, &types.Issue{
			Category:      category,
			StartOffset:   blockStart + idx,
			EndOffset:     blockStart + end,
			OriginalText:  blockText[idx:end],
			SuggestedText: r.SuggestedText,
			Explanation:   r.Explanation,
		})
	}
	return out
}

// findUnclaimed returns the first verbatim occurrence of needle in text
// that does not overlap a claimed range, or -1.
func findUnclaimed(text, needle string, claimed [][2]int) int {
	from := 0
	for {
		i := strings.Index(text[from:], needle)
		if i < 0 {
			return -1
		}
		i += from
		if !overlaps(i, i+len(needle), claimed) {
			return i
		}
		from = i + 1
	}
}

// findUnclaimedFold is findUnclaimed with case-insensitive matching,
// for providers that normalize case when quoting. Case folding can
// change byte length (ẞ lowers to the two-byte ß), so matching walks
// rune windows of the original text instead of indexing into a lowered
// copy, and both offsets of the match are returned.
func findUnclaimedFold(text, needle string, claimed [][2]int) (start, end int) {
	n := utf8.RuneCountInString(needle)
	if n == 0 {
		return -1, -1
	}
	for i := 0; i < len(text); {
		j := i
		for r := 0; r < n; r++ {
			_, size := utf8.DecodeRuneInString(text[j:])
			if size == 0 {
				// Fewer than n runes remain; later windows are shorter still.
				return -1, -1
			}
			j += size
		}
		if strings.EqualFold(text[i:j], needle) && !overlaps(i, j, claimed) {
			return i, j
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return -1, -1
}

func overlaps(start, end int, claimed [][2]int) bool {
	for _, c := range claimed {
		if start < c[1] && end > c[0] {
			return true
		}
	}
	return false
}
