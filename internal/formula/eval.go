package formula

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"feedport/internal/record"
)

var (
	// ErrDisabled is returned when the formula mode is switched off by
	// configuration; callers degrade to direct mode.
	ErrDisabled = errors.New("formula evaluation disabled")
	// ErrEval wraps any runtime fault of a screened snippet.
	ErrEval = errors.New("formula evaluation failed")
)

// conventionalAliases are guaranteed to exist inside every snippet even if
// absent from the record, so common formulas never trip on a missing field.
var conventionalAliases = map[string]any{
	"name":     "",
	"sku":      "",
	"price":    0.0,
	"category": "",
	"brand":    "",
	"weight":   0.0,
	"gtin":     "",
	"mpn":      "",
	"ean":      "",
}

// Switch gates formula execution. It is consulted on every evaluation so
// a settings change takes effect without a restart.
type Switch interface {
	FormulaEnabled(ctx context.Context) bool
}

// StaticSwitch is a fixed Switch for tools and tests.
type StaticSwitch bool

func (s StaticSwitch) FormulaEnabled(context.Context) bool { return bool(s) }

// Evaluator runs operator-authored snippets in an isolated scope: the only
// reachable state is the explicit binding set built from the record, and the
// grammar has no file, process, or host primitives.
type Evaluator struct {
	sw Switch
}

func NewEvaluator(sw Switch) *Evaluator {
	return &Evaluator{sw: sw}
}

// Evaluate normalizes, screens, and executes a snippet against the value
// under transformation and the full record. Any fault is reported as an
// error; the caller decides the fallback.
func (e *Evaluator) Evaluate(ctx context.Context, src string, value any, rec *record.Record) (any, error) {
	if e.sw == nil || !e.sw.FormulaEnabled(ctx) {
		return nil, ErrDisabled
	}

	normalized := Normalize(src)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty formula", ErrEval)
	}
	if err := Screen(normalized); err != nil {
		return nil, err
	}

	env := BuildEnv(value, rec)
	program, err := expr.Compile(normalized, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEval, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEval, err)
	}
	return out, nil
}

// BuildEnv binds every record key as a same-named variable (non-identifier
// characters folded to underscore), guarantees the conventional aliases,
// and binds the in-flight value as "value" with precedence over any record
// field of that name.
func BuildEnv(value any, rec *record.Record) map[string]any {
	env := make(map[string]any, rec.Len()+len(conventionalAliases)+1)
	for k, v := range conventionalAliases {
		env[k] = v
	}
	rec.Each(func(path string, v any) {
		env[foldIdentifier(path)] = coerce(v)
	})
	env["value"] = coerce(value)
	return env
}

// coerce turns numeric-looking strings into floats so arithmetic formulas
// work against text feeds.
func coerce(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return s
}

// foldIdentifier maps a catalogue path to a legal variable name.
func foldIdentifier(path string) string {
	var b strings.Builder
	for i, r := range path {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
