package processor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"feedport/internal/formula"
	"feedport/internal/mapping"
	"feedport/internal/processor"
	"feedport/internal/record"
)

type MockAI struct {
	mock.Mock
}

func (m *MockAI) Transform(ctx context.Context, value, prompt, provider string, recordContext map[string]string) (string, error) {
	args := m.Called(ctx, value, prompt, provider, recordContext)
	return args.String(0), args.Error(1)
}

func newProcessor(ai processor.AITransformer) *processor.Processor {
	return processor.New(formula.NewEvaluator(formula.StaticSwitch(true)), ai)
}

func TestDirect(t *testing.T) {
	t.Run("TrimsStrings", func(t *testing.T) {
		assert.Equal(t, "Widget", processor.Direct("  Widget  "))
	})

	t.Run("FlattensArraysScalarOnly", func(t *testing.T) {
		in := []any{"a", 1, map[string]any{"nested": true}, "b"}
		assert.Equal(t, "a, 1, b", processor.Direct(in))
	})

	t.Run("ScalarsPassThrough", func(t *testing.T) {
		assert.Equal(t, 42, processor.Direct(42))
		assert.Nil(t, processor.Direct(nil))
	})

	t.Run("Idempotent", func(t *testing.T) {
		once := processor.Direct("  spaced  ")
		assert.Equal(t, once, processor.Direct(once))
	})
}

func TestProcess_FormulaMode(t *testing.T) {
	p := newProcessor(nil)
	rec := record.FromPairs("price", "10")

	out := p.Process(context.Background(), "10", mapping.Entry{
		Mode:    mapping.ModeFormula,
		Formula: "price * 1.2",
	}, rec)
	assert.InDelta(t, 12.0, out.(float64), 1e-9)
}

func TestProcess_FormulaFallsBackToDirect(t *testing.T) {
	p := newProcessor(nil)
	rec := record.FromPairs("x", "1")

	out := p.Process(context.Background(), "  original  ", mapping.Entry{
		Mode:    mapping.ModeFormula,
		Formula: "return eval($x);",
	}, rec)
	// Rejected snippet degrades to the direct-mode result of the input.
	assert.Equal(t, "original", out)
}

func TestProcess_FormulaDisabledDegradesToDirect(t *testing.T) {
	p := processor.New(formula.NewEvaluator(formula.StaticSwitch(false)), nil)

	out := p.Process(context.Background(), " v ", mapping.Entry{
		Mode:    mapping.ModeFormula,
		Formula: "price * 2",
	}, record.New())
	assert.Equal(t, "v", out)
}

func TestProcess_AIMode(t *testing.T) {
	ai := new(MockAI)
	ai.On("Transform", mock.Anything, "Widget", "translate to German", "gemini-pro", mock.Anything).
		Return("Wunderding", nil)

	p := newProcessor(ai)
	rec := record.FromPairs("name", "Widget", "brand", "Acme")

	out := p.Process(context.Background(), "Widget", mapping.Entry{
		Mode:     mapping.ModeAI,
		Prompt:   "translate to German",
		Provider: "gemini-pro",
	}, rec)
	assert.Equal(t, "Wunderding", out)
	ai.AssertExpectations(t)
}

func TestProcess_AIFailureKeepsOriginal(t *testing.T) {
	ai := new(MockAI)
	ai.On("Transform", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("remote unavailable"))

	p := newProcessor(ai)

	out := p.Process(context.Background(), "Widget", mapping.Entry{
		Mode:   mapping.ModeAI,
		Prompt: "rewrite",
	}, record.New())
	assert.Equal(t, "Widget", out)
}

func TestProcess_HybridAppliesAIThenFormula(t *testing.T) {
	ai := new(MockAI)
	ai.On("Transform", mock.Anything, "widget", "rewrite", "", mock.Anything).
		Return("rewritten widget", nil)

	p := newProcessor(ai)

	out := p.Process(context.Background(), "widget", mapping.Entry{
		Mode:    mapping.ModeHybrid,
		Prompt:  "rewrite",
		Formula: "upper(value)",
	}, record.New())
	assert.Equal(t, "REWRITTEN WIDGET", out)
}

func TestProcess_HybridHalvesOptional(t *testing.T) {
	p := newProcessor(nil)

	// Formula only.
	out := p.Process(context.Background(), "abc", mapping.Entry{
		Mode:    mapping.ModeHybrid,
		Formula: "upper(value)",
	}, record.New())
	assert.Equal(t, "ABC", out)

	// Neither half configured: value passes through.
	out = p.Process(context.Background(), "abc", mapping.Entry{Mode: mapping.ModeHybrid}, record.New())
	assert.Equal(t, "abc", out)
}

func TestRecordContext_Defensive(t *testing.T) {
	ctx := processor.RecordContext(record.FromPairs("name", "Widget", "price", "9.99"))
	assert.Equal(t, "Widget", ctx["name"])
	assert.Equal(t, "9.99", ctx["price"])
	_, ok := ctx["brand"]
	assert.False(t, ok)

	assert.Empty(t, processor.RecordContext(nil))
}

func TestProcessBatch_AppliesSanitizers(t *testing.T) {
	p := newProcessor(nil)
	rec := record.FromPairs("price", "EUR 9,99")

	out := p.ProcessBatch(context.Background(), map[string]any{
		"price":        "EUR 9,99",
		"stock_status": "SOLD OUT",
		"sku":          "AB 123/X",
		"images":       []any{"https://cdn.example.com/a.jpg", "not a url"},
	}, mapping.Config{}, rec)

	assert.Equal(t, "9.99", out["price"])
	assert.Equal(t, "instock", out["stock_status"])
	assert.Equal(t, "AB123X", out["sku"])
	assert.Equal(t, "https://cdn.example.com/a.jpg", out["images"])
}
