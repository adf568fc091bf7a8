package stages

import (
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"about": true, "after": true, "again": true, "also": true, "been": true,
	"before": true, "being": true, "could": true, "does": true, "from": true,
	"have": true, "having": true, "into": true, "just": true, "like": true,
	"more": true, "most": true, "much": true, "only": true, "other": true,
	"please": true, "should": true, "some": true, "than": true, "that": true,
	"their": true, "them": true, "then": true, "there": true, "these": true,
	"they": true, "this": true, "those": true, "very": true, "want": true,
	"were": true, "what": true, "when": true, "where": true, "which": true,
	"while": true, "will": true, "with": true, "would": true, "your": true,
}

// words lowercases s and splits it on anything that is not a letter or digit.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// phraseIndex matches whole words and phrases.
type phraseIndex string

func newPhraseIndex(s string) phraseIndex {
	return phraseIndex(" " + strings.Join(words(s), " ") + " ")
}

func (p phraseIndex) has(phrase string) bool {
	return strings.Contains(string(p), " "+phrase+" ")
}

// matches returns the phrases of candidates present in p, in order.
func (p phraseIndex) matches(candidates []string) []string {
	var out []string
	for _, c := range candidates {
		if p.has(c) {
			out = append(out, c)
		}
	}
	return out
}

// significantTerms returns up to limit distinct non-stopword terms of at
// least four characters, in order of appearance.
func significantTerms(s string, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range words(s) {
		if len([]rune(w)) < 4 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == limit {
			break
		}
	}
	return out
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// overlap is the Jaccard similarity of the word sets of a and b.
func overlap(a, b string) float64 {
	setA := make(map[string]bool)
	for _, w := range words(a) {
		setA[w] = true
	}
	setB := make(map[string]bool)
	for _, w := range words(b) {
		setB[w] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}
