// Package expression implements the restricted selector/transform language
// used by expression-kind queries and dataset derive operations: path
// expressions ($.a.b), array flattening ([*]), boolean filters ([?(cond)]),
// arithmetic, and a fixed set of named functions. A bare identifier is
// shorthand for a field on the current record (@.name), so derive
// expressions can read "total / qty". No host-language code is ever
// evaluated.
package expression

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is an AST node produced by Parse.
type Node interface{}

// LiteralNode holds a constant: float64, string, bool, or nil.
type LiteralNode struct {
	Value any
}

// PathNode is a path rooted at $ (the input) or @ (the current record inside
// a filter condition), followed by a series of steps.
type PathNode struct {
	Root  byte // '$' or '@'
	Steps []PathStep
}

// Path step kinds.
const (
	StepField  = "field"  // .name
	StepWild   = "wild"   // [*]
	StepIndex  = "index"  // [n]
	StepFilter = "filter" // [?(cond)]
)

// PathStep is one step of a path.
type PathStep struct {
	Kind  string
	Name  string // field name for StepField
	Index int    // array index for StepIndex
	Cond  Node   // condition for StepFilter
}

// BinaryNode applies an operator to two operands.
type BinaryNode struct {
	Op    string
	Left  Node
	Right Node
}

// UnaryNode negates its operand.
type UnaryNode struct {
	Op      string
	Operand Node
}

// CallNode invokes a named function.
type CallNode struct {
	Name string
	Args []Node
}

// Functions accepted by the evaluator.
var knownFunctions = map[string]bool{
	"sum": true, "avg": true, "min": true, "max": true, "count": true,
	"concat": true, "upper": true, "lower": true, "length": true,
}

type parser struct {
	input string
	pos   int
}

// Parse compiles an expression into its AST. The input is complete: trailing
// tokens after a valid expression are an error.
func Parse(input string) (Node, error) {
	p := &parser{input: input}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("unexpected input at position %d: %q", p.pos, p.input[p.pos:])
	}
	return node, nil
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t' || p.input[p.pos] == '\n') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) accept(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.input[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *parser) expect(tok string) error {
	if !p.accept(tok) {
		return fmt.Errorf("expected %q at position %d", tok, p.pos)
	}
	return nil
}

// parseOr handles ||.
func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: "||", Left: left, Right: right}
	}
	return left, nil
}

// parseAnd handles &&.
func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.accept("&&") {
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: "&&", Left: left, Right: right}
	}
	return left, nil
}

// parseComparison handles ==, !=, <=, >=, <, >.
func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for _, op := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		if p.accept(op) {
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &BinaryNode{Op: op, Left: left, Right: right}, nil
		}
	}
	return left, nil
}

// parseAdditive handles + and -.
func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		if p.accept("+") {
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &BinaryNode{Op: "+", Left: left, Right: right}
		} else if p.acceptMinus() {
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &BinaryNode{Op: "-", Left: left, Right: right}
		} else {
			return left, nil
		}
	}
}

// acceptMinus consumes a binary minus (not part of a number literal).
func (p *parser) acceptMinus() bool {
	p.skipSpace()
	if p.peek() == '-' {
		p.pos++
		return true
	}
	return false
}

// parseMultiplicative handles *, /, %.
func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		switch p.peek() {
		case '*', '/', '%':
			op := string(p.input[p.pos])
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &BinaryNode{Op: op, Left: left, Right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseUnary() (Node, error) {
	p.skipSpace()
	if p.peek() == '-' {
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryNode{Op: "-", Operand: operand}, nil
	}
	if p.peek() == '!' && !strings.HasPrefix(p.input[p.pos:], "!=") {
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryNode{Op: "!", Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	ch := p.peek()
	switch {
	case ch == '(':
		p.pos++
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return node, nil
	case ch == '$' || ch == '@':
		return p.parsePath(ch)
	case ch == '\'' || ch == '"':
		return p.parseString(ch)
	case ch >= '0' && ch <= '9':
		return p.parseNumber()
	case isAlpha(ch):
		return p.parseIdent()
	}
	return nil, fmt.Errorf("unexpected character %q at position %d", ch, p.pos)
}

func isAlpha(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isAlnum(ch byte) bool {
	return isAlpha(ch) || (ch >= '0' && ch <= '9')
}

func (p *parser) parsePath(root byte) (Node, error) {
	p.pos++ // consume $ or @
	path := &PathNode{Root: root}
	if err := p.parseSteps(path); err != nil {
		return nil, err
	}
	return path, nil
}

// parseSteps appends .field, [*], [n] and [?(cond)] steps until the path ends.
func (p *parser) parseSteps(path *PathNode) error {
	for p.pos < len(p.input) {
		ch := p.peek()
		if ch == '.' {
			p.pos++
			start := p.pos
			for p.pos < len(p.input) && isAlnum(p.input[p.pos]) {
				p.pos++
			}
			if p.pos == start {
				return fmt.Errorf("expected field name at position %d", p.pos)
			}
			path.Steps = append(path.Steps, PathStep{Kind: StepField, Name: p.input[start:p.pos]})
			continue
		}
		if ch == '[' {
			p.pos++
			p.skipSpace()
			switch {
			case p.peek() == '*':
				p.pos++
				if err := p.expect("]"); err != nil {
					return err
				}
				path.Steps = append(path.Steps, PathStep{Kind: StepWild})
			case p.peek() == '?':
				p.pos++
				if err := p.expect("("); err != nil {
					return err
				}
				cond, err := p.parseOr()
				if err != nil {
					return err
				}
				if err := p.expect(")"); err != nil {
					return err
				}
				if err := p.expect("]"); err != nil {
					return err
				}
				path.Steps = append(path.Steps, PathStep{Kind: StepFilter, Cond: cond})
			default:
				start := p.pos
				for p.pos < len(p.input) && p.input[p.pos] >= '0' && p.input[p.pos] <= '9' {
					p.pos++
				}
				if p.pos == start {
					return fmt.Errorf("expected index, * or ?(...) at position %d", p.pos)
				}
				idx, _ := strconv.Atoi(p.input[start:p.pos])
				if err := p.expect("]"); err != nil {
					return err
				}
				path.Steps = append(path.Steps, PathStep{Kind: StepIndex, Index: idx})
			}
			continue
		}
		break
	}

	return nil
}

func (p *parser) parseString(quote byte) (Node, error) {
	p.pos++ // opening quote
	var sb strings.Builder
	for p.pos < len(p.input) {
		ch := p.input[p.pos]
		if ch == '\\' && p.pos+1 < len(p.input) {
			p.pos++
			sb.WriteByte(p.input[p.pos])
			p.pos++
			continue
		}
		if ch == quote {
			p.pos++
			return &LiteralNode{Value: sb.String()}, nil
		}
		sb.WriteByte(ch)
		p.pos++
	}
	return nil, fmt.Errorf("unterminated string literal")
}

func (p *parser) parseNumber() (Node, error) {
	start := p.pos
	for p.pos < len(p.input) && ((p.input[p.pos] >= '0' && p.input[p.pos] <= '9') || p.input[p.pos] == '.') {
		p.pos++
	}
	val, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return &LiteralNode{Value: val}, nil
}

func (p *parser) parseIdent() (Node, error) {
	start := p.pos
	for p.pos < len(p.input) && isAlnum(p.input[p.pos]) {
		p.pos++
	}
	word := p.input[start:p.pos]

	switch word {
	case "true":
		return &LiteralNode{Value: true}, nil
	case "false":
		return &LiteralNode{Value: false}, nil
	case "null":
		return &LiteralNode{Value: nil}, nil
	}

	if !p.accept("(") {
		// A bare identifier reads a field off the current record, so derive
		// expressions can say "total / qty" instead of "@.total / @.qty".
		path := &PathNode{Root: '@', Steps: []PathStep{{Kind: StepField, Name: word}}}
		if err := p.parseSteps(path); err != nil {
			return nil, err
		}
		return path, nil
	}

	if !knownFunctions[word] {
		return nil, fmt.Errorf("unknown function %q", word)
	}

	call := &CallNode{Name: word}
	p.skipSpace()
	if p.peek() == ')' {
		p.pos++
		return call, nil
	}
	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		if p.accept(",") {
			continue
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return call, nil
	}
}
