package odata

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var exprOps = map[string]string{"eq": "==", "ne": "!=", "gt": ">", "ge": ">=", "lt": "<", "le": "<="}

// ToExpr renders a parsed filter in expr-lang syntax. Nested paths use
// optional chaining so a missing parent evaluates to nil.
func ToExpr(n Node) string {
	return renderExpr(n, func(path []string) string { return strings.Join(path, "?.") })
}

func renderExpr(n Node, name func([]string) string) string {
	switch n := n.(type) {
	case nil:
		return "true"
	case Logical:
		return "(" + renderExpr(n.Left, name) + " " + n.Op + " " + renderExpr(n.Right, name) + ")"
	case Not:
		return "not (" + renderExpr(n.X, name) + ")"
	case Compare:
		return name(n.Field) + " " + exprOps[n.Op] + " " + exprLiteral(n.Value)
	}
	return "false"
}

func exprLiteral(l Literal) string {
	switch l.Kind {
	case LitString:
		return strconv.Quote(l.String)
	case LitNumber:
		return l.Raw
	case LitBool:
		return strconv.FormatBool(l.Bool)
	default:
		return "nil"
	}
}

// Matcher evaluates a compiled filter against flat records. Field paths are
// bound to generated variable names so record fields can never collide with
// expr builtins such as len or date.
type Matcher struct {
	program *vm.Program
	paths   [][]string
}

// NewMatcher parses an OData filter and compiles it with expr. An empty
// filter matches every record.
func NewMatcher(filter string) (*Matcher, error) {
	n, err := Parse(filter)
	if err != nil {
		return nil, err
	}

	m := &Matcher{}
	index := map[string]int{}
	code := renderExpr(n, func(path []string) string {
		key := strings.Join(path, "/")
		i, ok := index[key]
		if !ok {
			i = len(m.paths)
			index[key] = i
			m.paths = append(m.paths, path)
		}
		return "v" + strconv.Itoa(i)
	})

	m.program, err = expr.Compile(code,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", filter, err)
	}
	return m, nil
}

// Match reports whether the record satisfies the filter. Evaluation errors,
// such as ordering a string against a number, count as no match.
func (m *Matcher) Match(record map[string]any) bool {
	env := make(map[string]any, len(m.paths))
	for i, path := range m.paths {
		env["v"+strconv.Itoa(i)] = lookup(record, path)
	}
	out, err := expr.Run(m.program, env)
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func lookup(record map[string]any, path []string) any {
	var cur any = record
	for _, seg := range path {
		switch m := cur.(type) {
		case map[string]any:
			cur = m[seg]
		case map[string]string:
			v, ok := m[seg]
			if !ok {
				return nil
			}
			cur = v
		default:
			return nil
		}
	}
	return cur
}

// ── SQL ─────────────────────────────────────────────────────

var sqlOps = map[string]string{"eq": "=", "ne": "<>", "gt": ">", "ge": ">=", "lt": "<", "le": "<="}

var safeSegment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ToSQL renders a parsed filter as a WHERE clause over a jsonb column.
// Placeholders are numbered from firstArg ($firstArg, $firstArg+1, ...).
func ToSQL(n Node, column string, firstArg int) (string, []any, error) {
	b := &sqlBuilder{column: column, next: firstArg}
	clause, err := b.build(n)
	if err != nil {
		return "", nil, err
	}
	return clause, b.args, nil
}

type sqlBuilder struct {
	column string
	next   int
	args   []any
}

func (b *sqlBuilder) build(n Node) (string, error) {
	switch n := n.(type) {
	case nil:
		return "TRUE", nil
	case Logical:
		l, err := b.build(n.Left)
		if err != nil {
			return "", err
		}
		r, err := b.build(n.Right)
		if err != nil {
			return "", err
		}
		return "(" + l + " " + strings.ToUpper(n.Op) + " " + r + ")", nil
	case Not:
		x, err := b.build(n.X)
		if err != nil {
			return "", err
		}
		return "NOT (" + x + ")", nil
	case Compare:
		return b.compare(n)
	}
	return "", fmt.Errorf("unsupported filter node %T", n)
}

func (b *sqlBuilder) compare(c Compare) (string, error) {
	for _, seg := range c.Field {
		if !safeSegment.MatchString(seg) {
			return "", fmt.Errorf("%w: field %q cannot be used in SQL", ErrSyntax, strings.Join(c.Field, "/"))
		}
	}
	ref := fmt.Sprintf("(%s #>> '{%s}')", b.column, strings.Join(c.Field, ","))

	if c.Value.Kind == LitNull {
		switch c.Op {
		case "eq":
			return ref + " IS NULL", nil
		case "ne":
			return ref + " IS NOT NULL", nil
		default:
			return "", fmt.Errorf("%w: null only supports eq and ne", ErrSyntax)
		}
	}

	var arg any
	switch c.Value.Kind {
	case LitString:
		arg = c.Value.String
	case LitNumber:
		ref += "::numeric"
		arg = c.Value.Number
	case LitBool:
		ref += "::boolean"
		arg = c.Value.Bool
	}
	b.args = append(b.args, arg)
	placeholder := "$" + strconv.Itoa(b.next)
	b.next++
	return ref + " " + sqlOps[c.Op] + " " + placeholder, nil
}
