// Package evaluator resolves a parsed boolean query to the set of matching
// document IDs. The infix token stream is converted to postfix with the
// shunting-yard algorithm and evaluated on a stack of ID sets; phrase and
// pattern operands resolve through the storage layer.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/buscadoc/buscadoc/pkg/errors"

	"github.com/buscadoc/buscadoc/internal/indexer/tokenizer"
	"github.com/buscadoc/buscadoc/internal/searcher/parser"
	"github.com/buscadoc/buscadoc/internal/storage"
)

// Set is a document-ID set.
type Set map[int64]struct{}

// Step records one postfix reduction for debug traces.
type Step struct {
	Operation string `json:"operation"`
	Matches   int    `json:"matches"`
}

// Trace captures how an evaluation unfolded. Pass a non-nil Trace to
// Evaluate to fill it in.
type Trace struct {
	Postfix []string `json:"postfix"`
	Steps   []Step   `json:"steps"`
}

// NOT binds tighter than AND, AND tighter than OR; all are left-associative.
var precedence = map[parser.Operator]int{
	parser.OpNot: 3,
	parser.OpAnd: 2,
	parser.OpOr:  1,
}

// Evaluator executes boolean queries against a storage.Reader.
type Evaluator struct {
	store  storage.Reader
	logger *slog.Logger
}

func New(store storage.Reader) *Evaluator {
	return &Evaluator{
		store:  store,
		logger: slog.Default().With("component", "evaluator"),
	}
}

// Evaluate resolves the token stream to the matching document IDs. An empty
// stream matches nothing. An operator with too few operands fails with
// ErrMalformedQuery rather than guessing. When evaluation ends with several
// sets left on the stack (NOT used in connective position, as in
// "gato not perro"), the bottom set is the answer. trace may be nil.
func (e *Evaluator) Evaluate(ctx context.Context, tokens []parser.Token, trace *Trace) (Set, error) {
	if len(tokens) == 0 {
		return Set{}, nil
	}

	postfix := toPostfix(tokens)
	if trace != nil {
		trace.Postfix = describeTokens(postfix)
	}

	// The corpus-wide ID set NOT complements against is fetched at most once
	// per evaluation, and only when a NOT is actually reduced.
	var universe Set

	stack := make([]Set, 0, len(postfix))
	for _, tok := range postfix {
		op, isOperator := tok.(parser.OperatorToken)
		if !isOperator {
			set, err := e.resolveOperand(ctx, tok)
			if err != nil {
				return nil, err
			}
			stack = append(stack, set)
			if trace != nil {
				trace.Steps = append(trace.Steps, Step{Operation: describeToken(tok), Matches: len(set)})
			}
			continue
		}

		var result Set
		switch op.Op {
		case parser.OpNot:
			if len(stack) < 1 {
				return nil, apperrors.New(apperrors.ErrMalformedQuery, 400, "NOT without an operand")
			}
			operand := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if universe == nil {
				ids, err := e.store.AllDocumentIDs(ctx)
				if err != nil {
					return nil, fmt.Errorf("fetching corpus for NOT: %w", err)
				}
				universe = fromIDs(ids)
			}
			result = difference(universe, operand)
		case parser.OpAnd, parser.OpOr:
			if len(stack) < 2 {
				return nil, apperrors.Newf(apperrors.ErrMalformedQuery, 400, "%s with fewer than two operands", op.Op)
			}
			right := stack[len(stack)-1]
			left := stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			if op.Op == parser.OpAnd {
				result = intersection(left, right)
			} else {
				result = union(left, right)
			}
		default:
			return nil, apperrors.Newf(apperrors.ErrMalformedQuery, 400, "unknown operator %q", op.Op)
		}
		stack = append(stack, result)
		if trace != nil {
			trace.Steps = append(trace.Steps, Step{Operation: string(op.Op), Matches: len(result)})
		}
	}

	// A connective-position NOT leaves more than one set behind; the first
	// operand's set is the result.
	return stack[0], nil
}

// toPostfix is the shunting-yard conversion. Operators pop while the stack
// top has equal or higher precedence, which makes every operator
// left-associative.
func toPostfix(tokens []parser.Token) []parser.Token {
	out := make([]parser.Token, 0, len(tokens))
	ops := make([]parser.Operator, 0, 4)
	for _, tok := range tokens {
		op, isOperator := tok.(parser.OperatorToken)
		if !isOperator {
			out = append(out, tok)
			continue
		}
		for len(ops) > 0 && precedence[ops[len(ops)-1]] >= precedence[op.Op] {
			out = append(out, parser.OperatorToken{Op: ops[len(ops)-1]})
			ops = ops[:len(ops)-1]
		}
		ops = append(ops, op.Op)
	}
	for len(ops) > 0 {
		out = append(out, parser.OperatorToken{Op: ops[len(ops)-1]})
		ops = ops[:len(ops)-1]
	}
	return out
}

func (e *Evaluator) resolveOperand(ctx context.Context, tok parser.Token) (Set, error) {
	switch t := tok.(type) {
	case parser.TermToken:
		ids, err := e.store.DocIDsForTerm(ctx, t.Value)
		if err != nil {
			return nil, fmt.Errorf("resolving term %q: %w", t.Value, err)
		}
		return fromIDs(ids), nil
	case parser.PatternToken:
		ids, err := e.store.DocIDsForPattern(ctx, t.Value)
		if err != nil {
			return nil, fmt.Errorf("resolving pattern %q: %w", t.Value, err)
		}
		return fromIDs(ids), nil
	case parser.PhraseToken:
		return e.resolvePhrase(ctx, t.Value)
	default:
		return nil, apperrors.Newf(apperrors.ErrMalformedQuery, 400, "unexpected token %T", tok)
	}
}

// resolvePhrase matches cadena(...) operands: candidate documents are those
// containing every phrase word, narrowed to documents where the words appear
// consecutively in the compacted token stream.
func (e *Evaluator) resolvePhrase(ctx context.Context, phrase string) (Set, error) {
	words := tokenizer.Normalize(phrase)
	if len(words) == 0 {
		return Set{}, nil
	}

	var candidates Set
	for _, word := range words {
		ids, err := e.store.DocIDsForTerm(ctx, word)
		if err != nil {
			return nil, fmt.Errorf("resolving phrase word %q: %w", word, err)
		}
		set := fromIDs(ids)
		if candidates == nil {
			candidates = set
		} else {
			candidates = intersection(candidates, set)
		}
		if len(candidates) == 0 {
			return Set{}, nil
		}
	}
	if len(words) == 1 {
		return candidates, nil
	}

	positions, err := e.store.PostingPositions(ctx, toIDs(candidates), words)
	if err != nil {
		return nil, fmt.Errorf("fetching positions for phrase %q: %w", phrase, err)
	}

	matches := make(Set)
	for docID := range candidates {
		if phraseOccursIn(positions[docID], words) {
			matches[docID] = struct{}{}
		}
	}
	return matches, nil
}

// phraseOccursIn checks whether some occurrence p of the first word has word
// i at position p+i for every following word.
func phraseOccursIn(byTerm map[string][]int, words []string) bool {
	if byTerm == nil {
		return false
	}
	offsets := make([]map[int]struct{}, len(words))
	for i, word := range words {
		positions, ok := byTerm[word]
		if !ok {
			return false
		}
		offsets[i] = make(map[int]struct{}, len(positions))
		for _, p := range positions {
			offsets[i][p] = struct{}{}
		}
	}
	for start := range offsets[0] {
		found := true
		for i := 1; i < len(words); i++ {
			if _, ok := offsets[i][start+i]; !ok {
				found = false
				break
			}
		}
		if found {
			return true
		}
	}
	return false
}

func describeTokens(tokens []parser.Token) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = describeToken(tok)
	}
	return out
}

func describeToken(tok parser.Token) string {
	switch t := tok.(type) {
	case parser.OperatorToken:
		return string(t.Op)
	case parser.TermToken:
		return t.Value
	case parser.PhraseToken:
		return fmt.Sprintf("cadena(%s)", t.Value)
	case parser.PatternToken:
		return fmt.Sprintf("patron(%s)", t.Value)
	default:
		return fmt.Sprintf("%T", tok)
	}
}

func fromIDs(ids []int64) Set {
	set := make(Set, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func toIDs(set Set) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

func intersection(a, b Set) Set {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(Set, len(a))
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func union(a, b Set) Set {
	out := make(Set, len(a)+len(b))
	for id := range a {
		out[id] = struct{}{}
	}
	for id := range b {
		out[id] = struct{}{}
	}
	return out
}

func difference(a, b Set) Set {
	out := make(Set, len(a))
	for id := range a {
		if _, ok := b[id]; !ok {
			out[id] = struct{}{}
		}
	}
	return out
}
