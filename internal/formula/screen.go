package formula

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// ErrUnsafe marks a snippet rejected by the safety screen. Execution never
// proceeds on a rejected snippet.
var ErrUnsafe = errors.New("formula rejected by safety screen")

// allowedFunctions is the fixed call allow-list: math, string, array,
// type-check, and date/JSON utilities only. No file, process, or
// dynamic-include primitives exist in the grammar, but an explicit list
// keeps rejections descriptive and the surface reviewable.
var allowedFunctions = map[string]bool{
	// math
	"abs": true, "ceil": true, "floor": true, "round": true,
	"min": true, "max": true, "sum": true, "mean": true,
	// string
	"trim": true, "trimPrefix": true, "trimSuffix": true,
	"upper": true, "lower": true, "split": true, "join": true,
	"replace": true, "repeat": true, "indexOf": true,
	"hasPrefix": true, "hasSuffix": true,
	// type
	"int": true, "float": true, "string": true, "type": true, "len": true,
	// date / JSON
	"date": true, "now": true, "duration": true,
	"toJSON": true, "fromJSON": true,
}

// Screen statically vets a normalized snippet before execution. String
// literal contents are stripped first so literal text that merely resembles
// a forbidden construct does not trip the lexical checks; the structural
// checks then run over the parsed tree.
func Screen(src string) error {
	stripped := stripStringLiterals(src)

	if strings.ContainsAny(stripped, "$`") {
		return fmt.Errorf("%w: global state reference", ErrUnsafe)
	}
	if strings.Contains(stripped, "->") || strings.Contains(stripped, "::") {
		return fmt.Errorf("%w: method or static-call syntax", ErrUnsafe)
	}
	for _, kw := range []string{"function", "func", "class", "interface"} {
		if containsWord(stripped, kw) {
			return fmt.Errorf("%w: %s definitions are not allowed", ErrUnsafe, kw)
		}
	}

	tree, err := parser.Parse(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafe, err)
	}

	v := &screenVisitor{}
	ast.Walk(&tree.Node, v)
	return v.err
}

type screenVisitor struct {
	err error
}

func (v *screenVisitor) Visit(node *ast.Node) {
	if v.err != nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.CallNode:
		ident, ok := n.Callee.(*ast.IdentifierNode)
		if !ok {
			v.err = fmt.Errorf("%w: dynamic call target", ErrUnsafe)
			return
		}
		if !allowedFunctions[ident.Value] {
			v.err = fmt.Errorf("%w: function %q is not allowed", ErrUnsafe, ident.Value)
		}
	case *ast.BuiltinNode:
		if !allowedFunctions[n.Name] {
			v.err = fmt.Errorf("%w: function %q is not allowed", ErrUnsafe, n.Name)
		}
	case *ast.MemberNode:
		v.err = fmt.Errorf("%w: property or method access", ErrUnsafe)
	case *ast.ClosureNode:
		v.err = fmt.Errorf("%w: closures are not allowed", ErrUnsafe)
	}
}

// stripStringLiterals blanks the contents of single- and double-quoted
// literals, keeping the quotes.
func stripStringLiterals(src string) string {
	var b strings.Builder
	var quote rune
	escaped := false
	for _, r := range src {
		switch {
		case quote != 0:
			if escaped {
				escaped = false
				continue
			}
			if r == '\\' {
				escaped = true
				continue
			}
			if r == quote {
				b.WriteRune(r)
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(rune(s[start-1]))
		afterOK := end == len(s) || !isWordChar(rune(s[end]))
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
