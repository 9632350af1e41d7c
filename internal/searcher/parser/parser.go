// Package parser turns a raw query string into the ordered token sequence
// the boolean retrieval engine evaluates. The grammar is word operands,
// cadena(...) exact phrases, patron(...) substring patterns, and the
// operators AND, OR, NOT (case-insensitive); adjacent operands without an
// explicit operator are joined by an implicit OR.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/buscadoc/buscadoc/internal/indexer/tokenizer"
)

// Operator is a boolean connective.
type Operator string

const (
	OpAnd Operator = "AND"
	OpOr  Operator = "OR"
	OpNot Operator = "NOT"
)

// Token is the tagged variant produced by Parse: exactly one of
// OperatorToken, TermToken, PhraseToken, or PatternToken.
type Token interface {
	token()
}

// OperatorToken is an explicit or implicit boolean connective.
type OperatorToken struct {
	Op Operator
}

// TermToken is a single normalised word operand.
type TermToken struct {
	Value string
}

// PhraseToken is the raw argument of a cadena(...) call, normalised later by
// the evaluator.
type PhraseToken struct {
	Value string
}

// PatternToken is the raw argument of a patron(...) call, matched as a
// substring of indexed term text.
type PatternToken struct {
	Value string
}

func (OperatorToken) token() {}
func (TermToken) token()     {}
func (PhraseToken) token()   {}
func (PatternToken) token()  {}

var (
	funcCallRe = regexp.MustCompile(`(cadena|patron)\s*\(([^)]*)\)`)
	operatorRe = regexp.MustCompile(`\s*\b(and|or|not)\b\s*`)
)

type placeholder struct {
	kind  string
	value string
}

// Parse converts a raw query into infix-ordered tokens. An empty or
// all-noise query yields an empty slice; Parse never fails. It does not
// validate operator arity - that is the evaluator's contract to enforce.
func Parse(query string) []Token {
	query = strings.ToLower(query)

	// Extract cadena(...)/patron(...) before any splitting so parentheses
	// and interior spaces in their arguments survive intact.
	placeholders := make(map[string]placeholder)
	counter := 0
	query = funcCallRe.ReplaceAllStringFunc(query, func(match string) string {
		sub := funcCallRe.FindStringSubmatch(match)
		value := strings.TrimSpace(sub[2])
		value = strings.Trim(value, `"'`)
		key := fmt.Sprintf("__placeholder_%d__", counter)
		counter++
		placeholders[key] = placeholder{kind: sub[1], value: value}
		return " " + key + " "
	})

	padded := operatorRe.ReplaceAllString(query, " $1 ")
	rawTokens := strings.Fields(padded)

	tokens := make([]Token, 0, len(rawTokens))
	lastWasOperand := false
	for _, raw := range rawTokens {
		upper := strings.ToUpper(raw)
		switch upper {
		case "AND", "OR", "NOT":
			tokens = append(tokens, OperatorToken{Op: Operator(upper)})
			lastWasOperand = false
			continue
		}

		var operand Token
		if ph, ok := placeholders[raw]; ok {
			if ph.kind == "cadena" {
				operand = PhraseToken{Value: ph.value}
			} else {
				operand = PatternToken{Value: ph.value}
			}
		} else {
			// Single words go through the same normaliser as indexed text;
			// a word that normalises to nothing (stopword, digits, symbols)
			// disappears silently.
			normalized := tokenizer.Normalize(raw)
			if len(normalized) == 0 {
				continue
			}
			operand = TermToken{Value: normalized[0]}
		}

		if lastWasOperand {
			tokens = append(tokens, OperatorToken{Op: OpOr})
		}
		tokens = append(tokens, operand)
		lastWasOperand = true
	}
	return tokens
}

// ScoringTerms flattens the operand tokens into the term list the ranking
// engine scores against: plain terms, pattern values verbatim, and phrase
// arguments decomposed through the normaliser.
func ScoringTerms(tokens []Token) []string {
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		switch t := tok.(type) {
		case TermToken:
			terms = append(terms, t.Value)
		case PatternToken:
			terms = append(terms, t.Value)
		case PhraseToken:
			terms = append(terms, tokenizer.Normalize(t.Value)...)
		}
	}
	return terms
}
