// Package alphabet re-encodes free text into the 20-letter amino-acid
// alphabet understood by protein search tools.
package alphabet

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ErrUnencodable is returned for text containing letters with no mapping,
// or for text that encodes to an empty sequence.
var ErrUnencodable = errors.New("unencodable text")

// Letters is the target alphabet.
const Letters = "ACDEFGHIKLMNPQRSTVWY"

// Protein is the default text encoder. The zero value is ready to use and
// safe for concurrent use.
type Protein struct{}

var letterTable = map[rune]byte{
	'a': 'A', 'b': 'P', 'c': 'C', 'd': 'D', 'e': 'E', 'f': 'F', 'g': 'G',
	'h': 'H', 'i': 'I', 'j': 'I', 'k': 'K', 'l': 'L', 'm': 'M', 'n': 'N',
	'o': 'Q', 'p': 'P', 'q': 'K', 'r': 'R', 's': 'S', 't': 'T', 'u': 'V',
	'v': 'V', 'w': 'W', 'x': 'K', 'y': 'Y', 'z': 'S',
	// letters that carry meaning of their own in Nordic text
	'ä': 'E', 'ö': 'Y', 'å': 'Q', 'æ': 'E', 'ø': 'Y',
	// long s and sharp s as found in older prints
	'ſ': 'S', 'ß': 'S',
}

// Encode maps text onto Letters. Letters are case-folded; diacritics other
// than the Nordic vowels are stripped; digits become 'D'; punctuation,
// symbols, whitespace and control characters are dropped.
func (Protein) Encode(text string) (string, error) {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range norm.NFC.String(text) {
		r = unicode.ToLower(r)
		if c, ok := letterTable[r]; ok {
			b.WriteByte(c)
			continue
		}
		switch {
		case unicode.IsDigit(r):
			b.WriteByte('D')
		case unicode.IsLetter(r):
			c, ok := stripMarks(r)
			if !ok {
				return "", fmt.Errorf("%w: letter %q (U+%04X)", ErrUnencodable, r, r)
			}
			b.WriteByte(c)
		case unicode.IsMark(r), unicode.IsPunct(r), unicode.IsSymbol(r), unicode.IsSpace(r), unicode.IsControl(r):
		default:
			return "", fmt.Errorf("%w: rune U+%04X", ErrUnencodable, r)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: no encodable letters", ErrUnencodable)
	}
	return b.String(), nil
}

// stripMarks decomposes r and looks up its base letter.
func stripMarks(r rune) (byte, bool) {
	for _, d := range norm.NFD.String(string(r)) {
		if unicode.IsMark(d) {
			continue
		}
		c, ok := letterTable[unicode.ToLower(d)]
		return c, ok
	}
	return 0, false
}
