package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/soundprediction/go-vetgraph/pkg/driver"
	"github.com/soundprediction/go-vetgraph/pkg/graph"
)

// EvalGraph evaluates r against an in-memory graph. An item holds when,
// for each of its values, some node of the item's entity type has a string
// attribute satisfying the operator.
func EvalGraph(r *Rule, g *graph.Graph) bool {
	nodes := g.Nodes()
	if r.root.Not != nil {
		return !r.evalTerm(r.root.Not, nodes)
	}
	return r.evalExpr(r.root.Expr, nodes)
}

func (r *Rule) evalExpr(e *Expr, nodes []*graph.Node) bool {
	for _, and := range e.Or {
		ok := true
		for _, t := range and.And {
			if !r.evalTerm(t, nodes) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func (r *Rule) evalTerm(t *Term, nodes []*graph.Node) bool {
	if t.Sub != nil {
		return r.evalExpr(t.Sub, nodes)
	}
	for _, v := range t.Item.Values {
		if !r.anyNode(t.Item, v, nodes) {
			return false
		}
	}
	return true
}

func (r *Rule) anyNode(it *Item, value string, nodes []*graph.Node) bool {
	attr := it.Attribute()
	for _, n := range nodes {
		if n.EntityType != it.Type {
			continue
		}
		s, ok := n.Props()[attr].(string)
		if !ok {
			continue
		}
		switch it.Op {
		case OpEqual:
			if s == value {
				return true
			}
		case OpContains:
			if strings.Contains(s, value) {
				return true
			}
		case OpRegexp:
			if r.regexps[value].MatchString(s) {
				return true
			}
		}
	}
	return false
}

// Compile translates r into a single Cypher statement returning one boolean
// column, pass. Every item value becomes a CALL subquery counting the
// matching nodes; values travel as parameters.
func Compile(r *Rule) (string, map[string]any) {
	c := &compiler{params: map[string]any{}}
	var cond string
	if r.root.Not != nil {
		cond = "NOT (" + c.term(r.root.Not) + ")"
	} else {
		cond = c.expr(r.root.Expr)
	}
	c.b.WriteString("RETURN ")
	c.b.WriteString(cond)
	c.b.WriteString(" AS pass")
	return c.b.String(), c.params
}

type compiler struct {
	b      strings.Builder
	params map[string]any
	n      int
}

func (c *compiler) expr(e *Expr) string {
	parts := make([]string, len(e.Or))
	for i, and := range e.Or {
		terms := make([]string, len(and.And))
		for j, t := range and.And {
			terms[j] = c.term(t)
		}
		parts[i] = strings.Join(terms, " AND ")
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func (c *compiler) term(t *Term) string {
	if t.Sub != nil {
		return c.expr(t.Sub)
	}
	it := t.Item
	vars := make([]string, len(it.Values))
	for i, v := range it.Values {
		k := c.n
		c.n++
		c.params[fmt.Sprintf("p%d", k)] = v
		fmt.Fprintf(&c.b, "CALL { MATCH (n:%s) WHERE n.%s %s $p%d RETURN count(n) > 0 AS t%d }\n",
			driver.EscapeLabel(it.Type), driver.EscapeLabel(it.Attribute()), cypherOp(it.Op), k, k)
		vars[i] = fmt.Sprintf("t%d", k)
	}
	if len(vars) == 1 {
		return vars[0]
	}
	return "(" + strings.Join(vars, " AND ") + ")"
}

func cypherOp(op string) string {
	switch op {
	case OpContains:
		return "CONTAINS"
	case OpRegexp:
		return "=~"
	default:
		return "="
	}
}

// EvalStore evaluates r against a property store.
func EvalStore(ctx context.Context, store driver.PropertyStore, r *Rule) (bool, error) {
	query, params := Compile(r)
	rows, err := store.Query(ctx, query, params)
	if err != nil {
		return false, fmt.Errorf("evaluate rule %q: %w", r.Text, err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	pass, _ := rows[0]["pass"].(bool)
	return pass, nil
}
