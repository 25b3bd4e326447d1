package recipe

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// MatcherOption configures a [TitleMatcher].
type MatcherOption func(*TitleMatcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched title to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) MatcherOption {
	return func(m *TitleMatcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) MatcherOption {
	return func(m *TitleMatcher) {
		m.fuzzyThreshold = threshold
	}
}

// TitleMatcher resolves a spoken or typed recipe name to a stored recipe.
// Voice transcripts mangle food words ("pad tie" for "Pad Thai"), so exact
// lookup is not enough: candidates are filtered by Double Metaphone code
// overlap and ranked by Jaro-Winkler similarity, with a stricter pure-fuzzy
// fallback when nothing matches phonetically.
//
// The matcher is read-only after construction and safe for concurrent use.
type TitleMatcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewTitleMatcher returns a [TitleMatcher] configured with the supplied
// options.
func NewTitleMatcher(opts ...MatcherOption) *TitleMatcher {
	m := &TitleMatcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match finds the recipe whose title best matches query. When matched is
// false the returned recipe is the zero value and score is 0.
func (m *TitleMatcher) Match(query string, recipes []Recipe) (match Recipe, score float64, matched bool) {
	queryLower := strings.ToLower(strings.TrimSpace(query))
	if queryLower == "" || len(recipes) == 0 {
		return Recipe{}, 0, false
	}
	queryTokens := strings.Fields(queryLower)
	queryCodes := codesForTokens(queryTokens)

	type candidate struct {
		recipe   Recipe
		score    float64
		phonetic bool
	}
	var best candidate

	for _, r := range recipes {
		titleLower := strings.ToLower(strings.TrimSpace(r.Title))
		if titleLower == "" {
			continue
		}
		titleTokens := strings.Fields(titleLower)

		phoneticMatch := codesOverlap(queryCodes, codesForTokens(titleTokens))
		jwScore := bestJWScore(queryTokens, titleTokens, queryLower, titleLower)

		if phoneticMatch {
			if jwScore >= m.phoneticThreshold {
				if !best.phonetic || jwScore > best.score {
					best = candidate{recipe: r, score: jwScore, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jwScore >= m.fuzzyThreshold && jwScore > best.score {
				best = candidate{recipe: r, score: jwScore, phonetic: false}
			}
		}
	}

	if best.recipe.ID != "" {
		return best.recipe, best.score, true
	}
	return Recipe{}, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the query
// and the title: full strings, space-stripped strings, and the best pairwise
// token score.
func bestJWScore(queryTokens, titleTokens []string, queryFull, titleFull string) float64 {
	score := matchr.JaroWinkler(queryFull, titleFull, false)

	if len(queryTokens) > 1 || len(titleTokens) > 1 {
		concat1 := strings.Join(queryTokens, "")
		concat2 := strings.Join(titleTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, qt := range queryTokens {
		for _, tt := range titleTokens {
			if s := matchr.JaroWinkler(qt, tt, false); s > score {
				score = s
			}
		}
	}
	return score
}
