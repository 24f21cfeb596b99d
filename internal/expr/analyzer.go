package expr

import (
	"fmt"
	"sort"
	"strings"
)

// Analysis is the result of analyzing one expression.
type Analysis struct {
	// ReferencedSensors are the identifiers that are neither function names
	// nor numeric literals, sorted and deduplicated.
	ReferencedSensors []string

	// IsBoolean reports whether the expression contains a top-level
	// comparison and therefore yields a boolean.
	IsBoolean bool

	// Canonical is the expression lowered to CEL: doubles everywhere,
	// canonical operators, sensors as s["name"] lookups. Empty when Errors
	// is non-empty.
	Canonical string

	Errors []string
}

// Valid reports whether analysis found no errors.
func (a *Analysis) Valid() bool { return len(a.Errors) == 0 }

// Analyze tokenizes and validates an expression against the restricted
// grammar and produces its canonical lowering.
func Analyze(src string) *Analysis {
	a := &Analysis{}
	if strings.TrimSpace(src) == "" {
		a.Errors = append(a.Errors, "empty expression")
		return a
	}

	toks, errs := tokenize(src)
	a.Errors = append(a.Errors, errs...)
	if len(toks) == 0 {
		if len(a.Errors) == 0 {
			a.Errors = append(a.Errors, "empty expression")
		}
		return a
	}

	sensors := map[string]struct{}{}
	depth := 0
	topCmp := 0
	var canon []string

	for i, t := range toks {
		var prev *token
		if i > 0 {
			prev = &toks[i-1]
		}

		switch t.kind {
		case tokNumber:
			canon = append(canon, asDouble(t.text))

		case tokIdent:
			if _, isFn := Functions[t.text]; isFn {
				// function calls need a parenthesized argument list
				if i+1 >= len(toks) || toks[i+1].kind != tokLParen {
					a.Errors = append(a.Errors, fmt.Sprintf("function %q requires a parenthesized argument list", t.text))
					continue
				}
				if i+2 < len(toks) && toks[i+2].kind == tokRParen {
					a.Errors = append(a.Errors, fmt.Sprintf("function %q requires at least one argument", t.text))
				}
				canon = append(canon, t.text)
			} else {
				sensors[t.text] = struct{}{}
				canon = append(canon, `s["`+t.text+`"]`)
			}

		case tokArith:
			if t.text == "-" {
				// unary minus is fine after nothing, an operator, '(' or ','
				if prev == nil || prev.kind == tokArith || prev.kind == tokCmp ||
					prev.kind == tokLParen || prev.kind == tokComma {
					canon = append(canon, "-")
					continue
				}
			}
			if prev == nil {
				a.Errors = append(a.Errors, fmt.Sprintf("expression must not start with operator %q", t.text))
			} else if prev.kind == tokArith || prev.kind == tokCmp || prev.kind == tokComma {
				a.Errors = append(a.Errors, fmt.Sprintf("invalid operator sequence %q %q", prev.text, t.text))
			} else if prev.kind == tokLParen {
				a.Errors = append(a.Errors, fmt.Sprintf("operator %q cannot follow %q", t.text, "("))
			}
			canon = append(canon, t.text)

		case tokCmp:
			if prev == nil {
				a.Errors = append(a.Errors, fmt.Sprintf("expression must not start with operator %q", t.text))
			} else if prev.kind == tokArith || prev.kind == tokCmp || prev.kind == tokLParen || prev.kind == tokComma {
				a.Errors = append(a.Errors, fmt.Sprintf("invalid operator sequence %q %q", prev.text, t.text))
			}
			if depth == 0 {
				topCmp++
			}
			canon = append(canon, t.text)

		case tokLParen:
			depth++
			canon = append(canon, "(")

		case tokRParen:
			depth--
			if depth < 0 {
				a.Errors = append(a.Errors, "unbalanced parentheses")
				depth = 0
			}
			canon = append(canon, ")")

		case tokComma:
			if depth == 0 {
				a.Errors = append(a.Errors, "comma outside function call")
			}
			canon = append(canon, ",")
		}
	}

	if depth != 0 {
		a.Errors = append(a.Errors, "unbalanced parentheses")
	}
	if last := toks[len(toks)-1]; last.kind == tokArith || last.kind == tokCmp {
		a.Errors = append(a.Errors, fmt.Sprintf("expression must not end with operator %q", last.text))
	}
	if topCmp > 1 {
		a.Errors = append(a.Errors, "chained comparisons are not supported")
	}

	a.IsBoolean = topCmp == 1
	for s := range sensors {
		a.ReferencedSensors = append(a.ReferencedSensors, s)
	}
	sort.Strings(a.ReferencedSensors)
	if a.Valid() {
		a.Canonical = strings.Join(canon, " ")
	}
	return a
}

// AnalyzeBoolean analyzes a condition expression, which must yield a boolean.
func AnalyzeBoolean(src string) *Analysis {
	a := Analyze(src)
	if a.Valid() && !a.IsBoolean {
		a.Errors = append(a.Errors, "expression must contain a top-level comparison operator")
		a.Canonical = ""
	}
	return a
}

// asDouble forces a numeric literal into double form so lowered arithmetic
// never hits integer semantics.
func asDouble(lit string) string {
	if strings.ContainsAny(lit, ".eE") {
		return lit
	}
	return lit + ".0"
}
