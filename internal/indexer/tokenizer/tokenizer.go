// Package tokenizer normalises document and query text into the token stream
// both sides of the engine share: it transliterates to ASCII letters,
// lower-cases, strips everything that is not a letter, splits on whitespace,
// and removes Spanish stop-words. Token positions are offsets into the
// compacted post-stopword stream, not into the raw text.
package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"de": {}, "la": {}, "que": {}, "el": {}, "en": {}, "y": {}, "a": {},
	"los": {}, "del": {}, "se": {}, "las": {}, "por": {}, "un": {},
	"para": {}, "con": {}, "no": {}, "una": {}, "su": {}, "al": {},
	"lo": {}, "como": {}, "mas": {}, "pero": {}, "sus": {}, "le": {},
	"ya": {}, "o": {}, "este": {}, "ha": {}, "me": {}, "si": {},
	"sin": {}, "sobre": {}, "es": {}, "son": {},
}

// stripMarks removes combining marks after NFD decomposition, folding
// accented letters to their base letter (é -> e, ñ -> n).
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// asciiFold covers letters NFD decomposition leaves untouched.
var asciiFold = map[rune]string{
	'ß': "ss", 'æ': "ae", 'œ': "oe", 'ø': "o", 'đ': "d", 'ð': "d", 'þ': "th", 'ł': "l",
}

// Normalize converts raw text into the ordered token stream used for both
// indexing and querying. It never fails; input with no letters yields an
// empty slice.
func Normalize(text string) []string {
	folded, _, err := transform.String(stripMarks, text)
	if err != nil {
		// Malformed UTF-8 sequences pass through; the letter filter below
		// drops whatever survives.
		folded = text
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		default:
			if repl, ok := asciiFold[r]; ok {
				b.WriteString(repl)
			}
		}
	}

	words := strings.Fields(b.String())
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if _, isStop := stopWords[word]; isStop {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// IsStopWord reports whether the already-normalised word is in the stop list.
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}
