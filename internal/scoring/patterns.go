package scoring

import (
	"regexp"
	"strings"
)

const (
	wordChar   = `\p{L}\p{N}_`
	handle     = `@[` + wordChar + `]+`
	separator  = `[^` + wordChar + `\n]`
	leftEdge   = `(?:^|` + separator + `)`
	rightEdge  = `(?:$|` + separator + `)`
	arrowGlyph = `\x{27A1}\x{FE0F}?`
)

// baitNearHandle returns the pair of patterns matching bait before and after
// an @-handle on the same line.
func baitNearHandle(words ...string) []*regexp.Regexp {
	bait := `(?:` + strings.Join(words, "|") + `)`
	return []*regexp.Regexp{
		regexp.MustCompile(`(?i)` + leftEdge + bait + `(?:` + separator + `.*?)?` + handle),
		regexp.MustCompile(`(?i)` + handle + `.*?` + separator + bait + rightEdge),
	}
}

var structuralPatterns = func() []*regexp.Regexp {
	patterns := baitNearHandle("премиум", "прем", "premium")
	patterns = append(patterns, baitNearHandle("тут", "here")...)
	patterns = append(patterns,
		regexp.MustCompile(arrowGlyph+`.*?`+handle),
		regexp.MustCompile(handle+`.*?`+arrowGlyph),
	)
	return patterns
}()
