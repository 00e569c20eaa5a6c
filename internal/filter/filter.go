// Package filter provides a small predicate language over documents.
//
// A predicate compiles two ways: to a Go matcher for reconstructed
// documents (point-in-time queries run the predicate after replay, since
// historical state has no table to query), and to a parameterized SQLite
// WHERE fragment over json_extract for current-state queries.
//
// The fragment is deliberately portable: equality, ordered comparison,
// existence, and conjunction/disjunction. No SQL functions leak in from
// callers; every value is parameterized, never interpolated.
package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/pentimento/internal/model"
)

// Predicate is a filter condition over one document.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern enables exhaustive type switches in the SQL
// compiler.
type Predicate interface {
	predicateNode()
}

// Equals matches documents whose leaf at Path equals Value.
type Equals struct {
	Path  string
	Value any
}

func (Equals) predicateNode() {}

// CompareOp is an ordered comparison operator.
type CompareOp string

const (
	OpLT CompareOp = "<"
	OpLE CompareOp = "<="
	OpGT CompareOp = ">"
	OpGE CompareOp = ">="
)

// Compare matches documents whose numeric leaf at Path satisfies the
// comparison. Non-numeric leaves never match.
type Compare struct {
	Path  string
	Op    CompareOp
	Value float64
}

func (Compare) predicateNode() {}

// Exists matches documents that have any value at Path.
type Exists struct {
	Path string
}

func (Exists) predicateNode() {}

// And matches when every child predicate matches. An empty And matches
// everything.
type And struct {
	Preds []Predicate
}

func (And) predicateNode() {}

// Or matches when at least one child predicate matches.
type Or struct {
	Preds []Predicate
}

func (Or) predicateNode() {}

// Match evaluates a predicate against a nested document.
func Match(p Predicate, doc model.Document) bool {
	switch pred := p.(type) {
	case Equals:
		v, ok := lookup(doc, pred.Path)
		return ok && looselyEqual(v, pred.Value)
	case Compare:
		v, ok := lookup(doc, pred.Path)
		if !ok {
			return false
		}
		n, ok := v.(float64)
		if !ok {
			return false
		}
		switch pred.Op {
		case OpLT:
			return n < pred.Value
		case OpLE:
			return n <= pred.Value
		case OpGT:
			return n > pred.Value
		case OpGE:
			return n >= pred.Value
		}
		return false
	case Exists:
		_, ok := lookup(doc, pred.Path)
		return ok
	case And:
		for _, child := range pred.Preds {
			if !Match(child, doc) {
				return false
			}
		}
		return true
	case Or:
		for _, child := range pred.Preds {
			if Match(child, doc) {
				return true
			}
		}
		return false
	}
	return false
}

// Matcher returns a func form of Match for APIs that take a plain
// predicate function.
func Matcher(p Predicate) func(model.Document) bool {
	if p == nil {
		return nil
	}
	return func(doc model.Document) bool { return Match(p, doc) }
}

// SQL compiles a predicate to a parameterized WHERE fragment over the
// doc column. Returns the fragment and its parameters, in order.
func SQL(p Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case Equals:
		path, err := jsonPath(pred.Path)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("json_extract(doc, %s) = ?", path), []any{pred.Value}, nil
	case Compare:
		path, err := jsonPath(pred.Path)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("json_extract(doc, %s) %s ?", path, pred.Op), []any{pred.Value}, nil
	case Exists:
		path, err := jsonPath(pred.Path)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("json_extract(doc, %s) IS NOT NULL", path), nil, nil
	case And:
		return sqlJoin(pred.Preds, " AND ", "1")
	case Or:
		return sqlJoin(pred.Preds, " OR ", "0")
	case nil:
		return "1", nil, nil
	}
	return "", nil, fmt.Errorf("unsupported predicate type %T", p)
}

func sqlJoin(preds []Predicate, sep, empty string) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}
	var (
		parts  []string
		params []any
	)
	for _, child := range preds {
		sql, childParams, err := SQL(child)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, childParams...)
	}
	return strings.Join(parts, sep), params, nil
}

// jsonPath converts a dotted path to a quoted SQLite JSON path literal.
// The path is a literal in the SQL text, so it is validated rather than
// trusted.
func jsonPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty filter path")
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return "", fmt.Errorf("filter path %q has an empty segment", path)
		}
		for _, r := range seg {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z',
				r >= '0' && r <= '9', r == '_':
			default:
				return "", fmt.Errorf("filter path %q has unsupported character %q", path, r)
			}
		}
	}
	return "'$." + path + "'", nil
}

// Parse builds a conjunction from CLI-style terms. Each term is
// "path=value", "path<value", "path<=value", "path>value", "path>=value",
// or a bare "path" meaning existence. Values parse as numbers or booleans
// when they look like them, strings otherwise.
func Parse(terms []string) (Predicate, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	var preds []Predicate
	for _, term := range terms {
		pred, err := parseTerm(term)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return And{Preds: preds}, nil
}

func parseTerm(term string) (Predicate, error) {
	for _, op := range []string{"<=", ">=", "<", ">"} {
		if i := strings.Index(term, op); i > 0 {
			value, err := strconv.ParseFloat(term[i+len(op):], 64)
			if err != nil {
				return nil, fmt.Errorf("term %q: comparison needs a numeric value", term)
			}
			return Compare{Path: term[:i], Op: CompareOp(op), Value: value}, nil
		}
	}
	if i := strings.Index(term, "="); i > 0 {
		return Equals{Path: term[:i], Value: parseValue(term[i+1:])}, nil
	}
	if strings.ContainsAny(term, "=<>") {
		return nil, fmt.Errorf("term %q: expected path=value, path<value or bare path", term)
	}
	return Exists{Path: term}, nil
}

// parseValue mirrors JSON normalization: numbers and booleans take their
// native form so they compare equal to stored leaves.
func parseValue(s string) any {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func lookup(doc model.Document, path string) (any, bool) {
	node := any(doc)
	for _, seg := range strings.Split(path, ".") {
		m, ok := node.(model.Document)
		if !ok {
			return nil, false
		}
		node, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

func looselyEqual(got, want any) bool {
	if gf, ok := got.(float64); ok {
		if wf, ok := want.(float64); ok {
			return gf == wf
		}
		if wi, ok := want.(int); ok {
			return gf == float64(wi)
		}
		return false
	}
	// Scalars only; structured leaves never match an Equals.
	switch got.(type) {
	case string, bool, nil:
		return got == want
	}
	return false
}
