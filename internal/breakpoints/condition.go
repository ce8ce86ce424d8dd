package breakpoints

import (
	"strconv"
	"strings"

	"github.com/jkolo/clrdbg-core/internal/dbgerr"
)

// ConditionContext supplies the values a Condition evaluates against.
type ConditionContext struct {
	HitCount int
	ThreadID int
}

// conditionOp is a recognized hitCount comparison operator.
type conditionOp int

const (
	opEq conditionOp = iota
	opNe
	opLt
	opLe
	opGt
	opGe
)

// Condition is a parsed, ready-to-evaluate break condition.
type Condition struct {
	raw        string
	kind        conditionKind
	op          conditionOp
	operand     int
	modulus     int
	boolLiteral bool
}

type conditionKind int

const (
	kindAlwaysTrue conditionKind = iota
	kindBoolLiteral
	kindHitCountCompare
	kindHitCountModulo
)

// ParseCondition validates and compiles expr. An empty or whitespace
// expression is unconditional (always true). Returns a *dbgerr.Error
// with a Position on the first unrecognized token.
func ParseCondition(expr string) (*Condition, *dbgerr.Error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return &Condition{raw: expr, kind: kindAlwaysTrue}, nil
	}

	if err := validateBalance(trimmed); err != nil {
		return nil, err
	}

	lower := strings.ToLower(trimmed)
	if lower == "true" || lower == "false" {
		return &Condition{raw: expr, kind: kindBoolLiteral, boolLiteral: lower == "true"}, nil
	}

	if !strings.HasPrefix(lower, "hitcount") {
		return nil, dbgerr.New(dbgerr.Argument, "unrecognized condition %q", expr).WithPosition(0)
	}

	rest := strings.TrimSpace(trimmed[len("hitCount"):])

	if strings.HasPrefix(rest, "%") {
		rest = strings.TrimSpace(rest[1:])
		parts := strings.SplitN(rest, "==", 2)
		if len(parts) != 2 {
			return nil, dbgerr.New(dbgerr.Argument, "expected 'hitCount %% N == M' in %q", expr).
				WithPosition(len("hitCount"))
		}
		modulus, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || modulus <= 0 {
			return nil, dbgerr.New(dbgerr.Argument, "modulus must be a positive integer in %q", expr).
				WithPosition(len("hitCount") + 1)
		}
		operand, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || operand < 0 {
			return nil, dbgerr.New(dbgerr.Argument, "operand must be a non-negative integer in %q", expr).
				WithPosition(len(trimmed))
		}
		return &Condition{raw: expr, kind: kindHitCountModulo, modulus: modulus, operand: operand}, nil
	}

	op, opLen, ok := matchOperator(rest)
	if !ok {
		return nil, dbgerr.New(dbgerr.Argument, "expected a comparison operator after hitCount in %q", expr).
			WithPosition(len("hitCount"))
	}
	numStr := strings.TrimSpace(rest[opLen:])
	if numStr == "" {
		return nil, dbgerr.New(dbgerr.Argument, "trailing comparison operator in %q", expr).
			WithPosition(len(trimmed))
	}
	operand, err := strconv.Atoi(numStr)
	if err != nil || operand < 0 {
		return nil, dbgerr.New(dbgerr.Argument, "operand must be a non-negative integer in %q", expr).
			WithPosition(len(trimmed) - len(numStr))
	}

	return &Condition{raw: expr, kind: kindHitCountCompare, op: op, operand: operand}, nil
}

func matchOperator(s string) (conditionOp, int, bool) {
	switch {
	case strings.HasPrefix(s, "=="):
		return opEq, 2, true
	case strings.HasPrefix(s, "!="):
		return opNe, 2, true
	case strings.HasPrefix(s, "<="):
		return opLe, 2, true
	case strings.HasPrefix(s, ">="):
		return opGe, 2, true
	case strings.HasPrefix(s, "<"):
		return opLt, 1, true
	case strings.HasPrefix(s, ">"):
		return opGt, 1, true
	default:
		return 0, 0, false
	}
}

// validateBalance rejects unbalanced parentheses and adjacent/trailing
// comparison operators; v1's grammar never needs parentheses or
// multiple operators, so any of these is a syntax error.
func validateBalance(s string) *dbgerr.Error {
	depth := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return dbgerr.New(dbgerr.Argument, "unbalanced parentheses in %q", s).WithPosition(i)
			}
		}
	}
	if depth != 0 {
		return dbgerr.New(dbgerr.Argument, "unbalanced parentheses in %q", s).WithPosition(len(s))
	}

	ops := []string{"==", "!=", "<=", ">=", "<", ">"}
	for i := 0; i < len(s); i++ {
		for _, op := range ops {
			if strings.HasPrefix(s[i:], op) {
				rest := strings.TrimSpace(s[i+len(op):])
				for _, op2 := range ops {
					if strings.HasPrefix(rest, op2) {
						return dbgerr.New(dbgerr.Argument, "adjacent comparison operators in %q", s).WithPosition(i)
					}
				}
			}
		}
	}
	return nil
}

// Evaluate runs the condition against ctx. A kindAlwaysTrue or
// kindBoolLiteral(true) condition, or one with no recognized kind,
// simply returns its literal; arithmetic errors are impossible here
// because ParseCondition already rejected anything that would cause
// one.
func (c *Condition) Evaluate(ctx ConditionContext) bool {
	switch c.kind {
	case kindAlwaysTrue:
		return true
	case kindBoolLiteral:
		return c.boolLiteral
	case kindHitCountCompare:
		return compare(ctx.HitCount, c.op, c.operand)
	case kindHitCountModulo:
		return ctx.HitCount%c.modulus == c.operand
	default:
		return true
	}
}

func compare(value int, op conditionOp, operand int) bool {
	switch op {
	case opEq:
		return value == operand
	case opNe:
		return value != operand
	case opLt:
		return value < operand
	case opLe:
		return value <= operand
	case opGt:
		return value > operand
	case opGe:
		return value >= operand
	default:
		return true
	}
}

// String returns the original expression text.
func (c *Condition) String() string {
	return c.raw
}
