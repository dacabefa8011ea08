package decomposer

import (
	"strings"
	"unicode"
)

// =============================================================================
// GOAL NORMALIZATION
// =============================================================================

// correctionDictionary is the fixed vocabulary used for nearest-match typo
// correction when the language-model collaborator is unavailable. Order
// matters: ties resolve to the earliest entry, keeping correction
// deterministic.
var correctionDictionary = []string{
	"plan", "holiday", "vacation", "trip", "travel", "flight", "hotel",
	"research", "homework", "essay", "study", "summarize",
	"edit", "video", "photo", "crop", "trim",
	"schedule", "meeting", "calendar", "reminder", "appointment",
	"email", "inbox", "reply", "message",
	"organize", "files", "folder", "sort",
	"analyze", "draft", "write", "review", "compare",
	"book", "search", "find", "send",
}

// dictionarySet speeds up exact-match checks.
var dictionarySet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(correctionDictionary))
	for _, w := range correctionDictionary {
		set[w] = struct{}{}
	}
	return set
}()

// editThreshold scales the allowed edit distance with word length.
func editThreshold(wordLen int) int {
	switch {
	case wordLen <= 4:
		return 1
	case wordLen <= 7:
		return 2
	default:
		return 3
	}
}

// normalizeGoal lowercases the goal and corrects unrecognized words to the
// nearest dictionary entry within the length-scaled edit threshold.
// Words with no close match pass through unchanged.
func normalizeGoal(goal string) string {
	words := strings.FieldsFunc(strings.ToLower(goal), func(r rune) bool {
		return unicode.IsSpace(r)
	})

	for i, word := range words {
		stripped := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if stripped == "" {
			continue
		}
		if _, known := dictionarySet[stripped]; known {
			continue
		}

		threshold := editThreshold(len(stripped))
		best := ""
		bestDist := threshold + 1
		for _, candidate := range correctionDictionary {
			if d := editDistance(stripped, candidate); d < bestDist {
				best = candidate
				bestDist = d
			}
		}
		if best != "" {
			words[i] = strings.Replace(word, stripped, best, 1)
		}
	}

	return strings.Join(words, " ")
}

// editDistance computes the Levenshtein distance between two words.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
