package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"feedport/internal/formula"
	"feedport/internal/mapping"
	"feedport/internal/record"
)

// AITransformer is the external transform collaborator. It must be treated
// as potentially slow and failing.
type AITransformer interface {
	Transform(ctx context.Context, value, prompt, provider string, recordContext map[string]string) (string, error)
}

// Processor executes one of four processing modes per field. It never
// returns an error to the caller: every internal failure is logged and the
// field degrades to its safest available value, so one bad mapping cannot
// abort a chunk.
type Processor struct {
	eval *formula.Evaluator
	ai   AITransformer
}

func New(eval *formula.Evaluator, ai AITransformer) *Processor {
	return &Processor{eval: eval, ai: ai}
}

// Process transforms a resolved source value according to the entry's mode,
// with the full record as context.
func (p *Processor) Process(ctx context.Context, value any, entry mapping.Entry, rec *record.Record) any {
	out, err := p.run(ctx, value, entry, rec)
	if err != nil {
		slog.WarnContext(ctx, "field transform degraded to fallback",
			"mode", string(entry.Mode), "source", entry.Source, "error", err)
		return Direct(value)
	}
	return out
}

// run is the fallible core; Process applies the uniform fallback.
func (p *Processor) run(ctx context.Context, value any, entry mapping.Entry, rec *record.Record) (any, error) {
	switch entry.Mode {
	case mapping.ModeFormula:
		return p.runFormula(ctx, value, entry.Formula, rec)
	case mapping.ModeAI:
		return p.runAI(ctx, value, entry, rec)
	case mapping.ModeHybrid:
		return p.runHybrid(ctx, value, entry, rec)
	default:
		return Direct(value), nil
	}
}

func (p *Processor) runFormula(ctx context.Context, value any, src string, rec *record.Record) (any, error) {
	if strings.TrimSpace(src) == "" {
		return Direct(value), nil
	}
	out, err := p.eval.Evaluate(ctx, src, value, rec)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Processor) runAI(ctx context.Context, value any, entry mapping.Entry, rec *record.Record) (any, error) {
	if p.ai == nil || strings.TrimSpace(entry.Prompt) == "" {
		return Direct(value), nil
	}
	out, err := p.ai.Transform(ctx, stringify(value), entry.Prompt, entry.Provider, RecordContext(rec))
	if err != nil {
		// AI failures keep the original value rather than the direct
		// rendering, so nothing authored upstream is lost.
		slog.WarnContext(ctx, "ai transform failed, keeping original value", "error", err)
		return value, nil
	}
	return out, nil
}

// runHybrid applies the AI step first, then feeds its output through the
// formula step; either half may be absent.
func (p *Processor) runHybrid(ctx context.Context, value any, entry mapping.Entry, rec *record.Record) (any, error) {
	current := value
	if strings.TrimSpace(entry.Prompt) != "" {
		out, err := p.runAI(ctx, current, entry, rec)
		if err == nil {
			current = out
		}
	}
	if strings.TrimSpace(entry.Formula) != "" {
		out, err := p.runFormula(ctx, current, entry.Formula, rec)
		if err != nil {
			return Direct(current), nil
		}
		return out, nil
	}
	return current, nil
}

// ProcessBatch applies Process per target field and then the field-kind
// sanitizer, returning the transformed values keyed by target field.
func (p *Processor) ProcessBatch(ctx context.Context, values map[string]any, cfg mapping.Config, rec *record.Record) map[string]any {
	out := make(map[string]any, len(values))
	for field, value := range values {
		out[field] = Sanitize(field, p.Process(ctx, value, cfg.Entry(field), rec))
	}
	return out
}

// Direct is the direct-mode transform: arrays are flattened into a
// comma-joined, scalar-only string; strings are trimmed; other scalars pass
// through unchanged. Applying it twice is a no-op.
func Direct(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return strings.TrimSpace(v)
	case []any:
		var parts []string
		for _, item := range v {
			if s, ok := scalarString(item); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(v, ", ")
	default:
		return v
	}
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case int, int32, int64, float32, float64, bool:
		return fmt.Sprint(t), true
	default:
		return "", false
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(Direct(v))
}

// contextFields is the small fixed subset of the record handed to the AI
// collaborator.
var contextFields = []string{"name", "title", "category", "brand", "price", "sku", "gtin", "mpn", "ean"}

// RecordContext builds the AI prompt context defensively; it never errors
// when a field is absent.
func RecordContext(rec *record.Record) map[string]string {
	out := map[string]string{}
	if rec == nil {
		return out
	}
	for _, f := range contextFields {
		if v := rec.GetString(f); v != "" {
			out[f] = v
		}
	}
	return out
}
