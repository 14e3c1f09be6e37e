// Package policy evaluates knowledge-graph rules such as
//
//	'症状'='流鼻涕' and ('药品'='阿托品' or '药品'='芬必得')
//
// against an in-memory graph snapshot or a property-graph database.
package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/soundprediction/go-vetgraph/pkg/graph"
)

// ErrParse is returned for rule text that does not follow the grammar.
var ErrParse = errors.New("invalid rule")

// Operators.
const (
	OpEqual    = "="
	OpContains = "~"
	OpRegexp   = "=~"
)

var ruleLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `'[^']*'`},
	{Name: "Op", Pattern: `=~|=|~`},
	{Name: "Ident", Pattern: `[\p{L}\p{N}_\-]+`},
	{Name: "Punct", Pattern: `[(),.]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var ruleParser = participle.MustBuild[start](
	participle.Lexer(ruleLexer),
	participle.Elide("Whitespace"),
	participle.CaseInsensitive("Ident"),
	participle.Map(func(t lexer.Token) (lexer.Token, error) {
		t.Value = t.Value[1 : len(t.Value)-1]
		return t, nil
	}, "String"),
	participle.UseLookahead(4),
)

type start struct {
	Not  *Term `parser:"  'not' @@"`
	Expr *Expr `parser:"| @@"`
}

// Expr is a disjunction.
type Expr struct {
	Or []*AndExpr `parser:"@@ ( 'or' @@ )*"`
}

// AndExpr is a conjunction.
type AndExpr struct {
	And []*Term `parser:"@@ ( 'and' @@ )*"`
}

// Term is an item or a parenthesised expression.
type Term struct {
	Item *Item `parser:"  @@"`
	Sub  *Expr `parser:"| '(' @@ ')'"`
}

// Item tests the nodes of one entity type. Attr is empty for id.
type Item struct {
	Type   string   `parser:"@(Ident | String)"`
	Attr   string   `parser:"( '.' @(Ident | String) )?"`
	Op     string   `parser:"@Op"`
	Values []string `parser:"@(Ident | String) ( ',' @(Ident | String) )*"`
}

// Attribute returns the tested attribute, id by default.
func (it *Item) Attribute() string {
	if it.Attr == "" {
		return graph.AttrID
	}
	return it.Attr
}

// Rule is a parsed rule.
type Rule struct {
	Text string

	root    *start
	regexps map[string]*regexp.Regexp
}

// Parse parses rule text. Equality values may also be given as one
// comma-separated string; every value must then be matched.
func Parse(text string) (*Rule, error) {
	root, err := ruleParser.ParseString("", text)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrParse, text, err)
	}
	r := &Rule{Text: text, root: root, regexps: map[string]*regexp.Regexp{}}
	for _, it := range r.items() {
		if it.Op != OpEqual && len(it.Values) > 1 {
			return nil, fmt.Errorf("%w %q: operator %s takes a single value", ErrParse, text, it.Op)
		}
		if it.Op == OpEqual {
			it.Values = splitValues(it.Values)
			if len(it.Values) == 0 {
				return nil, fmt.Errorf("%w %q: empty value", ErrParse, text)
			}
		}
		if it.Op == OpRegexp {
			re, err := regexp.Compile(`^(?:` + it.Values[0] + `)$`)
			if err != nil {
				return nil, fmt.Errorf("%w %q: %v", ErrParse, text, err)
			}
			r.regexps[it.Values[0]] = re
		}
	}
	return r, nil
}

// MustParse is like Parse but panics on error.
func MustParse(text string) *Rule {
	r, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Rule) String() string { return r.Text }

func (r *Rule) items() []*Item {
	var out []*Item
	var walkExpr func(*Expr)
	walkTerm := func(t *Term) {
		if t.Item != nil {
			out = append(out, t.Item)
			return
		}
		walkExpr(t.Sub)
	}
	walkExpr = func(e *Expr) {
		for _, and := range e.Or {
			for _, t := range and.And {
				walkTerm(t)
			}
		}
	}
	if r.root.Not != nil {
		walkTerm(r.root.Not)
	} else {
		walkExpr(r.root.Expr)
	}
	return out
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
