package badwords

import (
	"errors"
	"regexp"
	"regexp/syntax"
	"strings"

	"github.com/iamwavecut/ngguard/internal/db"
)

// maxPatternInstructions bounds the compiled program of a user-submitted pattern.
const maxPatternInstructions = 2000

var ErrEmptyTerm = errors.New("empty term")

type Kind = db.TermKind

const (
	Literal = db.TermKindLiteral
	Pattern = db.TermKindPattern
)

// Term is a single entry of a badword list. Source is always normalized.
type Term struct {
	Kind   Kind
	Source string
}

// ParseTerm normalizes raw input and classifies it. Input that is not a usable
// pattern becomes a literal instead of being rejected.
func ParseTerm(raw string) (Term, error) {
	literal := Normalize(raw)
	if literal == "" {
		return Term{}, ErrEmptyTerm
	}
	if pattern := foldPattern(raw); isUsablePattern(pattern) {
		return Term{Kind: Pattern, Source: pattern}, nil
	}
	return Term{Kind: Literal, Source: literal}, nil
}

// foldPattern normalizes the text of a pattern and leaves its syntax alone:
// escapes such as \S or \p{Greek}, group names and flags keep their case.
func foldPattern(raw string) string {
	var out, text strings.Builder
	flush := func() {
		out.WriteString(Transliterate(text.String()))
		text.Reset()
	}
	verbatim := func(rs []rune) {
		flush()
		out.WriteString(string(rs))
	}

	rs := []rune(raw)
	for i := 0; i < len(rs); i++ {
		switch {
		case rs[i] == '\\' && i+1 < len(rs):
			end := i + 1
			if strings.ContainsRune("pPx", rs[end]) && end+1 < len(rs) && rs[end+1] == '{' {
				if closing := indexRune(rs, end+1, '}'); closing > 0 {
					end = closing
				}
			}
			verbatim(rs[i : end+1])
			i = end
		case rs[i] == '(' && i+1 < len(rs) && rs[i+1] == '?':
			end := indexAny(rs, i+2, ":)>")
			if end < 0 {
				end = len(rs) - 1
			}
			verbatim(rs[i : end+1])
			i = end
		default:
			text.WriteRune(rs[i])
		}
	}
	flush()
	return strings.Join(strings.Fields(out.String()), " ")
}

func indexRune(rs []rune, from int, r rune) int {
	for i := from; i < len(rs); i++ {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

func indexAny(rs []rune, from int, chars string) int {
	for i := from; i < len(rs); i++ {
		if strings.ContainsRune(chars, rs[i]) {
			return i
		}
	}
	return -1
}

func classify(source string) Term {
	if !isUsablePattern(source) {
		return Term{Kind: Literal, Source: source}
	}
	return Term{Kind: Pattern, Source: source}
}

func isUsablePattern(source string) bool {
	parsed, err := syntax.Parse(source, syntax.Perl)
	if err != nil {
		return false
	}
	prog, err := syntax.Compile(parsed.Simplify())
	if err != nil || len(prog.Inst) > maxPatternInstructions {
		return false
	}
	re, err := regexp.Compile(source)
	if err != nil {
		return false
	}
	return !re.MatchString("")
}

// fragment is the piece of the alternation this term contributes.
func (t Term) fragment() string {
	if t.Kind == Pattern {
		return "(?:" + t.Source + ")"
	}
	return strings.ReplaceAll(regexp.QuoteMeta(t.Source), " ", `\s+`)
}

// fromEntry restores a stored entry. Stored patterns are checked again so a
// row written by an older build cannot break matcher compilation.
func fromEntry(entry *db.BadwordEntry) Term {
	if entry.Kind == Pattern {
		return classify(entry.Term)
	}
	return Term{Kind: Literal, Source: entry.Term}
}
