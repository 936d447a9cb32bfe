package reconcile

import (
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// normalizeText upper-cases s and reduces it to alphanumeric words separated by single spaces.
func normalizeText(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToUpper(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func tokenSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		if len([]rune(tok)) >= 2 {
			set[tok] = struct{}{}
		}
	}
	return set
}

// minEditRatio is the edit similarity below which two texts count as unrelated rather than misspelt.
const minEditRatio = 0.75

// TextSimilarity scores two free-text descriptions in [0, 1]: the best of token overlap
// coefficient, containment of one text in the other and normalized Levenshtein similarity
// (when at least minEditRatio).
func TextSimilarity(a, b string) float64 {
	na, nb := normalizeText(a), normalizeText(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	best := overlapCoefficient(tokenSet(na), tokenSet(nb))

	shorter, longer := na, nb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len([]rune(shorter)) >= 3 && strings.Contains(" "+longer+" ", " "+shorter+" ") {
		best = 1
	}

	// DefaultOptions charges 2 per substitution, so the distance is bounded by the summed lengths.
	ra, rb := []rune(na), []rune(nb)
	dist := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptions)
	if ratio := 1 - float64(dist)/float64(len(ra)+len(rb)); ratio >= minEditRatio && ratio > best {
		best = ratio
	}
	return best
}

func overlapCoefficient(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			common++
		}
	}
	return float64(common) / float64(min(len(a), len(b)))
}
