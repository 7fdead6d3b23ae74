package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"feedport/internal/settings"
)

const defaultModel = "gemini-2.0-flash"

// DynamicTransformer rewrites field values through Gemini. The API key
// comes from settings on every call, so rotating the key takes effect
// without a restart.
type DynamicTransformer struct {
	settingsSvc *settings.Service
	client      *genai.Client
	currentKey  string
	mu          sync.RWMutex
	clientOpts  []option.ClientOption
}

func NewDynamicTransformer(svc *settings.Service, opts ...option.ClientOption) *DynamicTransformer {
	return &DynamicTransformer{
		settingsSvc: svc,
		clientOpts:  opts,
	}
}

// Transform sends the value and prompt to the model named by provider
// and returns the rewritten value. recordContext carries sibling fields
// of the record so the prompt can reference them.
func (t *DynamicTransformer) Transform(ctx context.Context, value, prompt, provider string, recordContext map[string]string) (string, error) {
	s, err := t.settingsSvc.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get settings: %w", err)
	}

	if s.GeminiAPIKey == "" {
		return "", fmt.Errorf("gemini api key not configured")
	}

	client, err := t.getClient(ctx, s.GeminiAPIKey)
	if err != nil {
		return "", err
	}

	modelName := provider
	if modelName == "" {
		modelName = defaultModel
	}

	model := client.GenerativeModel(modelName)
	res, err := model.GenerateContent(ctx, genai.Text(buildPrompt(value, prompt, recordContext)))
	if err != nil {
		return "", err
	}

	out := extractText(res)
	if out == "" {
		return "", fmt.Errorf("empty response from model %s", modelName)
	}

	return out, nil
}

func buildPrompt(value, prompt string, recordContext map[string]string) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nField value:\n")
	b.WriteString(value)

	if len(recordContext) > 0 {
		b.WriteString("\n\nRecord context:\n")
		for k, v := range recordContext {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nRespond with the transformed value only, no explanation.")
	return b.String()
}

func extractText(res *genai.GenerateContentResponse) string {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

func (t *DynamicTransformer) getClient(ctx context.Context, key string) (*genai.Client, error) {
	t.mu.RLock()
	if t.client != nil && t.currentKey == key {
		defer t.mu.RUnlock()
		return t.client, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double check
	if t.client != nil && t.currentKey == key {
		return t.client, nil
	}

	if t.client != nil {
		if err := t.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append(t.clientOpts, option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	t.client = client
	t.currentKey = key
	return client, nil
}
