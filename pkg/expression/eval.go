package expression

import (
	"fmt"
	"strings"
)

// Evaluate parses and evaluates an expression against the root input, which
// is typically the record slice produced by the source query ($ = records).
// The result may be a transformed record slice, a projected value list, or a
// scalar, depending on the expression.
func Evaluate(input string, root any) (any, error) {
	node, err := Parse(input)
	if err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}
	// Outside a filter step @ means the whole input, so current starts at root.
	return eval(node, root, root)
}

// EvaluateRecord evaluates a pre-parsed expression with a single record as
// the root. Used by dataset derive operations where the expression runs once
// per row.
func EvaluateRecord(node Node, record map[string]any) (any, error) {
	return eval(node, record, record)
}

// eval walks the AST. root backs $ paths; current backs @ paths (the record
// under test inside a filter step).
func eval(node Node, root any, current any) (any, error) {
	switch n := node.(type) {
	case *LiteralNode:
		return n.Value, nil
	case *PathNode:
		if n.Root == '@' {
			return evalPath(n.Steps, current, current)
		}
		return evalPath(n.Steps, root, current)
	case *UnaryNode:
		return evalUnary(n, root, current)
	case *BinaryNode:
		return evalBinary(n, root, current)
	case *CallNode:
		return evalCall(n, root, current)
	}
	return nil, fmt.Errorf("unsupported expression node %T", node)
}

func evalPath(steps []PathStep, value any, current any) (any, error) {
	for _, step := range steps {
		var err error
		value, err = applyStep(step, value, current)
		if err != nil {
			return nil, err
		}
	}
	return value, nil
}

func applyStep(step PathStep, value any, current any) (any, error) {
	switch step.Kind {
	case StepField:
		switch v := value.(type) {
		case map[string]any:
			return v[step.Name], nil
		case []map[string]any:
			// Field access on a record list projects the field from every record.
			out := make([]any, 0, len(v))
			for _, rec := range v {
				out = append(out, rec[step.Name])
			}
			return out, nil
		case []any:
			out := make([]any, 0, len(v))
			for _, item := range v {
				rec, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("cannot access field %q on %T", step.Name, item)
				}
				out = append(out, rec[step.Name])
			}
			return out, nil
		case nil:
			return nil, nil
		default:
			return nil, fmt.Errorf("cannot access field %q on %T", step.Name, value)
		}
	case StepWild:
		switch v := value.(type) {
		case []any:
			return v, nil
		case []map[string]any:
			out := make([]any, len(v))
			for i, rec := range v {
				out[i] = rec
			}
			return out, nil
		case nil:
			return []any{}, nil
		default:
			return nil, fmt.Errorf("cannot flatten %T with [*]", value)
		}
	case StepIndex:
		items, err := asList(value)
		if err != nil {
			return nil, fmt.Errorf("cannot index %T", value)
		}
		if step.Index < 0 || step.Index >= len(items) {
			return nil, nil
		}
		return items[step.Index], nil
	case StepFilter:
		items, err := asList(value)
		if err != nil {
			return nil, fmt.Errorf("cannot filter %T", value)
		}
		var out []any
		for _, item := range items {
			keep, err := eval(step.Cond, item, item)
			if err != nil {
				return nil, err
			}
			if truthy(keep) {
				out = append(out, item)
			}
		}
		if out == nil {
			out = []any{}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown path step %q", step.Kind)
}

func asList(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case []map[string]any:
		out := make([]any, len(v))
		for i, rec := range v {
			out[i] = rec
		}
		return out, nil
	case nil:
		return []any{}, nil
	}
	return nil, fmt.Errorf("not a list: %T", value)
}

func evalUnary(n *UnaryNode, root any, current any) (any, error) {
	operand, err := eval(n.Operand, root, current)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "-":
		num, ok := toNumber(operand)
		if !ok {
			return nil, fmt.Errorf("cannot negate %T", operand)
		}
		return -num, nil
	case "!":
		return !truthy(operand), nil
	}
	return nil, fmt.Errorf("unknown unary operator %q", n.Op)
}

func evalBinary(n *BinaryNode, root any, current any) (any, error) {
	// Short-circuit logical operators.
	if n.Op == "&&" || n.Op == "||" {
		left, err := eval(n.Left, root, current)
		if err != nil {
			return nil, err
		}
		if n.Op == "&&" && !truthy(left) {
			return false, nil
		}
		if n.Op == "||" && truthy(left) {
			return true, nil
		}
		right, err := eval(n.Right, root, current)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	left, err := eval(n.Left, root, current)
	if err != nil {
		return nil, err
	}
	right, err := eval(n.Right, root, current)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "<", "<=", ">", ">=":
		return compareOrdered(n.Op, left, right)
	case "+":
		// + concatenates when either side is a string.
		if ls, ok := left.(string); ok {
			return ls + stringify(right), nil
		}
		if rs, ok := right.(string); ok {
			return stringify(left) + rs, nil
		}
		return arith(n.Op, left, right)
	case "-", "*", "/", "%":
		return arith(n.Op, left, right)
	}
	return nil, fmt.Errorf("unknown operator %q", n.Op)
}

func arith(op string, left, right any) (any, error) {
	l, lok := toNumber(left)
	r, rok := toNumber(right)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %q requires numbers, got %T and %T", op, left, right)
	}
	switch op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return l / r, nil
	case "%":
		if r == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return float64(int64(l) % int64(r)), nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %q", op)
}

func compareOrdered(op string, left, right any) (any, error) {
	if l, lok := toNumber(left); lok {
		if r, rok := toNumber(right); rok {
			switch op {
			case "<":
				return l < r, nil
			case "<=":
				return l <= r, nil
			case ">":
				return l > r, nil
			case ">=":
				return l >= r, nil
			}
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return nil, fmt.Errorf("cannot compare %T and %T with %q", left, right, op)
}

func evalCall(n *CallNode, root any, current any) (any, error) {
	args := make([]any, len(n.Args))
	for i, argNode := range n.Args {
		val, err := eval(argNode, root, current)
		if err != nil {
			return nil, err
		}
		args[i] = val
	}

	switch n.Name {
	case "sum", "avg", "min", "max":
		nums, err := numericArgs(n.Name, args)
		if err != nil {
			return nil, err
		}
		return aggregate(n.Name, nums)
	case "count":
		items, err := collectArgs(args)
		if err != nil {
			return nil, fmt.Errorf("count: %w", err)
		}
		return float64(len(items)), nil
	case "concat":
		var sb strings.Builder
		for _, arg := range args {
			sb.WriteString(stringify(arg))
		}
		return sb.String(), nil
	case "upper":
		if len(args) != 1 {
			return nil, fmt.Errorf("upper expects 1 argument, got %d", len(args))
		}
		return strings.ToUpper(stringify(args[0])), nil
	case "lower":
		if len(args) != 1 {
			return nil, fmt.Errorf("lower expects 1 argument, got %d", len(args))
		}
		return strings.ToLower(stringify(args[0])), nil
	case "length":
		if len(args) != 1 {
			return nil, fmt.Errorf("length expects 1 argument, got %d", len(args))
		}
		switch v := args[0].(type) {
		case string:
			return float64(len(v)), nil
		case nil:
			return float64(0), nil
		default:
			items, err := asList(v)
			if err != nil {
				return nil, fmt.Errorf("length: %w", err)
			}
			return float64(len(items)), nil
		}
	}
	return nil, fmt.Errorf("unknown function %q", n.Name)
}

// collectArgs flattens call arguments: a single list argument contributes its
// elements, so both sum($[*].total) and sum(1, 2, 3) work.
func collectArgs(args []any) ([]any, error) {
	var items []any
	for _, arg := range args {
		if list, err := asList(arg); err == nil {
			items = append(items, list...)
			continue
		}
		items = append(items, arg)
	}
	return items, nil
}

// numericArgs flattens arguments and converts them to floats, skipping nulls.
func numericArgs(fn string, args []any) ([]float64, error) {
	items, err := collectArgs(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	nums := make([]float64, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		num, ok := toNumber(item)
		if !ok {
			return nil, fmt.Errorf("%s: non-numeric value %v (%T)", fn, item, item)
		}
		nums = append(nums, num)
	}
	return nums, nil
}

func aggregate(fn string, nums []float64) (any, error) {
	if len(nums) == 0 {
		if fn == "sum" {
			return float64(0), nil
		}
		return nil, nil
	}
	switch fn {
	case "sum":
		var total float64
		for _, n := range nums {
			total += n
		}
		return total, nil
	case "avg":
		var total float64
		for _, n := range nums {
			total += n
		}
		return total / float64(len(nums)), nil
	case "min":
		least := nums[0]
		for _, n := range nums[1:] {
			if n < least {
				least = n
			}
		}
		return least, nil
	case "max":
		most := nums[0]
		for _, n := range nums[1:] {
			if n > most {
				most = n
			}
		}
		return most, nil
	}
	return nil, fmt.Errorf("unknown aggregate %q", fn)
}

// toNumber converts the numeric types that show up in decoded JSON and
// database rows.
func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	default:
		if num, ok := toNumber(v); ok {
			return num != 0
		}
		return true
	}
}

// looseEqual compares across the numeric types JSON decoding produces.
func looseEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	if l, lok := toNumber(left); lok {
		if r, rok := toNumber(right); rok {
			return l == r
		}
		return false
	}
	return left == right
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		// Render integral floats without a trailing ".0" so concat output
		// matches what users expect for counts and IDs.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	}
	return fmt.Sprintf("%v", value)
}
