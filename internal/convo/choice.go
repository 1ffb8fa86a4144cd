package convo

import (
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"
)

// fuzzyThreshold is the minimum Jaro-Winkler similarity for treating a reply
// as a match against a presented experience label.
const fuzzyThreshold = 0.85

// ordinals maps spoken selection words to 1-based indices. Speech transcripts
// rarely contain bare digits, so "the second one" must work too.
var ordinals = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
	"1st": 1, "2nd": 2, "3rd": 3, "4th": 4, "5th": 5,
	"6th": 6, "7th": 7, "8th": 8, "9th": 9, "10th": 10,
}

// parseChoice interprets reply as a 1-based selection among labels. It tries,
// in order: a bare integer, an ordinal word anywhere in the reply, and a fuzzy
// match against the labels themselves. Returns (0, false) when nothing
// matches or the selection is out of range.
func parseChoice(reply string, labels []string) (int, bool) {
	n := len(labels)
	if n == 0 {
		return 0, false
	}
	cleaned := strings.ToLower(strings.TrimSpace(reply))
	cleaned = strings.Trim(cleaned, ".!?,")
	if cleaned == "" {
		return 0, false
	}

	if v, err := strconv.Atoi(cleaned); err == nil {
		if v >= 1 && v <= n {
			return v, true
		}
		return 0, false
	}

	for _, word := range strings.Fields(cleaned) {
		word = strings.Trim(word, ".!?,")
		if v, err := strconv.Atoi(word); err == nil && v >= 1 && v <= n {
			return v, true
		}
		if v, ok := ordinals[word]; ok && v <= n {
			return v, true
		}
	}

	best, bestScore := 0, 0.0
	for i, label := range labels {
		score := matchr.JaroWinkler(cleaned, strings.ToLower(label), true)
		if score > bestScore {
			best, bestScore = i+1, score
		}
	}
	if bestScore >= fuzzyThreshold {
		return best, true
	}
	return 0, false
}
