package badwords

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize brings text to the form terms are matched against. It is the
// transliteration with whitespace runs collapsed to a single space.
func Normalize(text string) string {
	return strings.Join(strings.Fields(Transliterate(text)), " ")
}

// Transliterate folds text to lower-case ASCII: compatibility composed, case
// folded, stripped of diacritics. Line structure is kept.
func Transliterate(text string) string {
	text = norm.NFKC.String(text)
	text = cases.Fold().String(text)

	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if stripped, _, err := transform.String(stripper, text); err == nil {
		text = stripped
	}

	return strings.ToLower(unidecode.Unidecode(text))
}
