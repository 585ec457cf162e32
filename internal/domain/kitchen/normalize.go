package kitchen

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// letters that do not decompose into an ASCII base plus combining marks
var ligatures = strings.NewReplacer(
	"ß", "ss",
	"æ", "ae", "Æ", "AE",
	"œ", "oe", "Œ", "OE",
	"ø", "o", "Ø", "O",
	"ł", "l", "Ł", "L",
	"đ", "d", "Đ", "D",
	"þ", "th", "Þ", "TH",
	"‘", "'", "’", "'",
	"“", `"`, "”", `"`,
	"–", "-", "—", "-",
	"…", "...",
	"\u00a0", " ",
)

// NormalizeName transliterates s into printable ASCII for the display. Accents
// are stripped ("Crème" becomes "Creme"), a few common letters are spelled out,
// and anything still unrepresentable is dropped. It never fails.
func NormalizeName(s string) string {
	if isPrintableASCII(s) {
		return s
	}

	s = ligatures.Replace(s)

	// transform.Chain keeps internal state, so a fresh chain is built per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' {
			return ' '
		}
		if r < 0x20 || r > 0x7e {
			return -1
		}
		return r
	}, folded)
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
