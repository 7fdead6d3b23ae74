package formula

import (
	"regexp"
	"strings"
)

var (
	oneLineIfRe    = regexp.MustCompile(`^if\s*\((.+)\)\s*return\s+(.+?)\s*;?$`)
	ifElseRe       = regexp.MustCompile(`^if\s*\((.+)\)\s*\{?\s*return\s+(.+?)\s*;?\s*\}?\s*else\s*\{?\s*return\s+(.+?)\s*;?\s*\}?$`)
	returnPrefixRe = regexp.MustCompile(`^return\s+(.+?)\s*;?$`)
)

// Normalize rewrites an operator-authored snippet into a single expression
// the evaluator can run:
//
//   - a bare expression (no control-flow keywords) is used as-is, the
//     implicit return;
//   - a `condition ? a : b` ternary is likewise used as-is;
//   - `return EXPR;` is unwrapped to EXPR;
//   - `if (cond) return a;` becomes `cond ? a : value`, falling back to the
//     in-flight value when the condition does not hold;
//   - `if (cond) return a; else return b;` becomes `cond ? a : b`.
//
// Anything more elaborate is left untouched and will be rejected downstream.
func Normalize(src string) string {
	s := strings.TrimSpace(src)
	s = strings.TrimSuffix(s, ";")
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	if m := ifElseRe.FindStringSubmatch(s); m != nil {
		return "(" + m[1] + ") ? (" + m[2] + ") : (" + m[3] + ")"
	}
	if m := oneLineIfRe.FindStringSubmatch(s); m != nil {
		return "(" + m[1] + ") ? (" + m[2] + ") : value"
	}
	if m := returnPrefixRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}
