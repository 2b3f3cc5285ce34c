package collect

import (
	"fmt"
	"strings"
	"unicode"

	"coin/internal/domain/model"

	"github.com/shopspring/decimal"
)

// Filter expressions are a closed grammar compiled once at configuration time:
//
//	expr   := and { ("or" | "||") and }
//	and    := clause { ("and" | "&&") clause }
//	clause := field op literal
//	op     := "==" | "=" | "!=" | "<" | "<=" | ">" | ">="
//
// Only the fields in eventFields can be referenced. String fields accept ==
// and != (case-insensitive); numeric fields compare as decimals, timestamp in
// unix milliseconds.

type fieldType int

const (
	fieldString fieldType = iota
	fieldNumber
)

type fieldValue struct {
	str string
	num decimal.Decimal
}

type fieldSpec struct {
	typ fieldType
	get func(ev model.Event) (fieldValue, bool)
}

func str(s string) (fieldValue, bool) { return fieldValue{str: s}, true }
func num(d decimal.Decimal) (fieldValue, bool) { return fieldValue{num: d}, true }

var eventFields = map[string]fieldSpec{
	"kind":  {fieldString, func(ev model.Event) (fieldValue, bool) { return str(string(ev.Kind())) }},
	"venue": {fieldString, func(ev model.Event) (fieldValue, bool) { return str(ev.Venue()) }},
	"pair":  {fieldString, func(ev model.Event) (fieldValue, bool) { return str(ev.Pair()) }},
	"timestamp": {fieldNumber, func(ev model.Event) (fieldValue, bool) {
		return num(decimal.NewFromInt(ev.TimestampMs()))
	}},
	"id": {fieldString, func(ev model.Event) (fieldValue, bool) {
		if t, ok := ev.Trade(); ok {
			return str(t.ID)
		}
		return fieldValue{}, false
	}},
	"side": {fieldString, func(ev model.Event) (fieldValue, bool) {
		if t, ok := ev.Trade(); ok {
			return str(string(t.Side))
		}
		return fieldValue{}, false
	}},
	"price": {fieldNumber, func(ev model.Event) (fieldValue, bool) {
		if t, ok := ev.Trade(); ok {
			return num(t.Price)
		}
		return fieldValue{}, false
	}},
	"volume": {fieldNumber, func(ev model.Event) (fieldValue, bool) {
		if t, ok := ev.Trade(); ok {
			return num(t.Volume)
		}
		if t, ok := ev.Ticker(); ok {
			return num(t.Volume)
		}
		return fieldValue{}, false
	}},
	"bid": {fieldNumber, func(ev model.Event) (fieldValue, bool) {
		if t, ok := ev.Ticker(); ok {
			return num(t.Bid)
		}
		return fieldValue{}, false
	}},
	"ask": {fieldNumber, func(ev model.Event) (fieldValue, bool) {
		if t, ok := ev.Ticker(); ok {
			return num(t.Ask)
		}
		return fieldValue{}, false
	}},
	"last": {fieldNumber, func(ev model.Event) (fieldValue, bool) {
		if t, ok := ev.Ticker(); ok {
			return num(t.Last)
		}
		return fieldValue{}, false
	}},
}

// names used by the old attribute-style filters
var fieldAliases = map[string]string{
	"exchange": "venue",
	"symbol":   "pair",
	"ts":       "timestamp",
}

// Predicate is a compiled filter expression.
type Predicate struct {
	expr string
	or   [][]clause
}

type clause struct {
	field string
	spec  fieldSpec
	op    string
	lit   fieldValue
}

// CompilePredicate parses expr. Unknown fields, operators that do not apply to
// the field type and malformed literals are rejected here, never per event.
func CompilePredicate(expr string) (*Predicate, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, err)
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("filter %q: empty expression", expr)
	}

	p := &Predicate{expr: strings.TrimSpace(expr)}
	var group []clause
	for i := 0; i < len(toks); {
		if len(toks)-i < 3 {
			return nil, fmt.Errorf("filter %q: incomplete comparison near %q", expr, toks[i].text)
		}
		c, err := compileClause(toks[i], toks[i+1], toks[i+2])
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", expr, err)
		}
		group = append(group, c)
		i += 3

		if i == len(toks) {
			break
		}
		switch conj := strings.ToLower(toks[i].text); {
		case toks[i].kind == tokWord && conj == "and", toks[i].kind == tokOp && conj == "&&":
		case toks[i].kind == tokWord && conj == "or", toks[i].kind == tokOp && conj == "||":
			p.or = append(p.or, group)
			group = nil
		default:
			return nil, fmt.Errorf("filter %q: expected and/or, got %q", expr, toks[i].text)
		}
		i++
		if i == len(toks) {
			return nil, fmt.Errorf("filter %q: dangling conjunction", expr)
		}
	}
	p.or = append(p.or, group)
	return p, nil
}

func compileClause(f, op, lit token) (clause, error) {
	if f.kind != tokWord {
		return clause{}, fmt.Errorf("expected field name, got %q", f.text)
	}
	name := strings.ToLower(f.text)
	if alias, ok := fieldAliases[name]; ok {
		name = alias
	}
	spec, ok := eventFields[name]
	if !ok {
		return clause{}, fmt.Errorf("unknown field %q", f.text)
	}
	if op.kind != tokOp {
		return clause{}, fmt.Errorf("expected operator after %q, got %q", f.text, op.text)
	}
	o := op.text
	if o == "=" {
		o = "=="
	}
	switch o {
	case "==", "!=":
	case "<", "<=", ">", ">=":
		if spec.typ != fieldNumber {
			return clause{}, fmt.Errorf("operator %s not allowed on string field %q", o, name)
		}
	default:
		return clause{}, fmt.Errorf("unknown operator %q", op.text)
	}
	if lit.kind == tokOp {
		return clause{}, fmt.Errorf("expected literal after %s, got %q", o, lit.text)
	}

	c := clause{field: name, spec: spec, op: o}
	if spec.typ == fieldNumber {
		if lit.kind == tokString {
			return clause{}, fmt.Errorf("field %q is numeric, got string %q", name, lit.text)
		}
		d, err := decimal.NewFromString(lit.text)
		if err != nil {
			return clause{}, fmt.Errorf("field %q: bad number %q", name, lit.text)
		}
		c.lit = fieldValue{num: d}
	} else {
		c.lit = fieldValue{str: lit.text}
	}
	return c, nil
}

// Match evaluates the predicate. A field missing on ev's kind yields a
// *PredicateError wrapping ErrFieldAbsent.
func (p *Predicate) Match(ev model.Event) (bool, error) {
	for _, group := range p.or {
		ok, err := p.matchAll(group, ev)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (p *Predicate) matchAll(group []clause, ev model.Event) (bool, error) {
	for _, c := range group {
		v, ok := c.spec.get(ev)
		if !ok {
			return false, &PredicateError{
				Expr: p.expr,
				Err:  fmt.Errorf("%w: %s on %s", ErrFieldAbsent, c.field, ev.Kind()),
			}
		}
		if !c.eval(v) {
			return false, nil
		}
	}
	return true, nil
}

func (c clause) eval(v fieldValue) bool {
	if c.spec.typ == fieldString {
		eq := strings.EqualFold(v.str, c.lit.str)
		if c.op == "==" {
			return eq
		}
		return !eq
	}
	cmp := v.num.Cmp(c.lit.num)
	switch c.op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	default: // ">="
		return cmp >= 0
	}
}

func (p *Predicate) String() string { return p.expr }

// ========== tokenizer ==========

type tokKind int

const (
	tokWord tokKind = iota
	tokString
	tokOp
)

type token struct {
	kind tokKind
	text string
}

func tokenize(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '"' || r == '\'':
			j := i + 1
			for j < len(rs) && rs[j] != r {
				j++
			}
			if j == len(rs) {
				return nil, fmt.Errorf("unterminated string at %d", i)
			}
			toks = append(toks, token{tokString, string(rs[i+1 : j])})
			i = j + 1
		case strings.ContainsRune("=!<>&|", r):
			j := i + 1
			if j < len(rs) && strings.ContainsRune("=&|", rs[j]) {
				j++
			}
			op := string(rs[i:j])
			switch op {
			case "==", "=", "!=", "<", "<=", ">", ">=", "&&", "||":
			default:
				return nil, fmt.Errorf("unknown operator %q", op)
			}
			toks = append(toks, token{tokOp, op})
			i = j
		case isWordRune(r):
			j := i
			for j < len(rs) && isWordRune(rs[j]) {
				j++
			}
			toks = append(toks, token{tokWord, string(rs[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", r)
		}
	}
	return toks, nil
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_.-+/:", r)
}
