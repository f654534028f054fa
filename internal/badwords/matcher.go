package badwords

import (
	"regexp"
	"sort"
	"strings"
)

const placeholderTerm = "слово"

var tokenRe = regexp.MustCompile(`\S+`)

// Matcher is the compiled alternation of an effective term list.
type Matcher struct {
	re    *regexp.Regexp
	terms int
}

func newMatcher(terms []Term) (*Matcher, error) {
	expr := GeneratePattern(terms)
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &Matcher{re: re, terms: len(terms)}, nil
}

// GeneratePattern renders the alternation for the given terms. Fragments are
// sorted so the output is stable for the same set.
func GeneratePattern(terms []Term) string {
	if len(terms) == 0 {
		terms = []Term{{Kind: Literal, Source: Normalize(placeholderTerm)}}
	}
	fragments := make([]string, 0, len(terms))
	for _, term := range terms {
		fragments = append(fragments, term.fragment())
	}
	sort.Strings(fragments)
	return "(?i)(?:" + strings.Join(fragments, "|") + ")"
}

// Count returns the number of non-overlapping matches in normalized text.
func (m *Matcher) Count(normalized string) int {
	return len(m.re.FindAllStringIndex(normalized, -1))
}

// Highlight wraps every token of the original text whose normalized form
// contains a term in angle brackets.
func (m *Matcher) Highlight(text string) string {
	return tokenRe.ReplaceAllStringFunc(text, func(token string) string {
		if m.re.MatchString(Normalize(token)) {
			return "<" + token + ">"
		}
		return token
	})
}

func (m *Matcher) Len() int {
	return m.terms
}

func (m *Matcher) String() string {
	return m.re.String()
}
