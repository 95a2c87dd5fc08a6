// Package history compares recorded translation versions of a page.
package history

import (
	"golang.org/x/text/unicode/norm"

	"github.com/sangwookny/wagner/internal/models"
)

// Version is a history entry annotated with how much it changed against the
// previous version of the same language.
type Version struct {
	models.HistoryEntry
	// Distance and Similarity are relative to the previous version; both
	// are nil for the first version of a language.
	Distance   *int     `json:"distance,omitempty"`
	Similarity *float64 `json:"similarity,omitempty"`
}

// Annotate pairs every entry with its predecessor in the same language.
// Entries must be oldest first.
func Annotate(entries []models.HistoryEntry) []Version {
	out := make([]Version, len(entries))
	previous := make(map[models.Language]string)
	for i, e := range entries {
		out[i] = Version{HistoryEntry: e}
		if prev, ok := previous[e.Language]; ok {
			d := Distance(prev, e.Text)
			s := Similarity(prev, e.Text)
			out[i].Distance = &d
			out[i].Similarity = &s
		}
		previous[e.Language] = e.Text
	}
	return out
}

// Similarity calculates similarity ratio (0.0 to 1.0) using Levenshtein distance
func Similarity(s1, s2 string) float64 {
	r1, r2 := runes(s1), runes(s2)
	if string(r1) == string(r2) {
		return 1.0
	}

	if len(r1) == 0 || len(r2) == 0 {
		return 0.0
	}

	distance := levenshtein(r1, r2)
	maxLen := max(len(r1), len(r2))

	// Convert distance to similarity (0.0 to 1.0)
	return 1.0 - (float64(distance) / float64(maxLen))
}

// Distance is the Levenshtein distance in characters between two texts.
func Distance(s1, s2 string) int {
	return levenshtein(runes(s1), runes(s2))
}

// runes compares composed forms so that a decomposed umlaut equals its
// precomposed spelling.
func runes(s string) []rune {
	return []rune(norm.NFC.String(s))
}

func levenshtein(s1, s2 []rune) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	// two rolling rows of the distance matrix
	prev := make([]int, len(s2)+1)
	cur := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		cur[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}

			deletion := prev[j] + 1
			insertion := cur[j-1] + 1
			substitution := prev[j-1] + cost

			cur[j] = min(deletion, insertion, substitution)
		}
		prev, cur = cur, prev
	}

	return prev[len(s2)]
}
