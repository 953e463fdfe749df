package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lexcodex/cellmate/framework"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiClient wraps the generateContent endpoint.
type GeminiClient struct {
	BaseURL string
	APIKey  string
	Model   string
	client  *http.Client
	Debug   bool
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"system_instruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature float64 `json:"temperature"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// NewGeminiClient builds a client for the cloud API.
func NewGeminiClient(apiKey, model string) *GeminiClient {
	return &GeminiClient{
		BaseURL: defaultGeminiBaseURL,
		APIKey:  apiKey,
		Model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Chat sends the conversation to generateContent. The first system message
// becomes system_instruction; later system messages (such as retry nudges) are
// sent as user turns because the contents list only accepts user and model.
func (c *GeminiClient) Chat(ctx context.Context, req framework.ChatRequest) (string, error) {
	t := &transport{provider: framework.ProviderGemini, client: c.client, debug: c.Debug}
	if c.APIKey == "" {
		return "", t.fail(http.StatusUnauthorized, "missing API key")
	}
	payload := geminiRequest{
		GenerationConfig: &geminiGenerationConfig{Temperature: req.Options.Temperature},
	}
	last := lastUserIndex(req.Messages)
	for i, msg := range req.Messages {
		if msg.Role == framework.RoleSystem && payload.SystemInstruction == nil && len(payload.Contents) == 0 {
			payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: msg.Content}}}
			continue
		}
		content := geminiContent{Role: mapRole(msg.Role), Parts: []geminiPart{{Text: msg.Content}}}
		for _, img := range attachmentsFor(req, i, last) {
			content.Parts = append(content.Parts, geminiPart{InlineData: &geminiInlineData{MimeType: img.MIME(), Data: img.Base64()}})
		}
		payload.Contents = append(payload.Contents, content)
	}
	base := c.BaseURL
	if base == "" {
		base = defaultGeminiBaseURL
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		strings.TrimRight(base, "/"), url.PathEscape(c.model(req.Options)), url.QueryEscape(c.APIKey))
	var raw geminiResponse
	if err := t.postJSON(ctx, endpoint, nil, payload, &raw); err != nil {
		return "", err
	}
	if len(raw.Candidates) == 0 {
		message := "no candidates in response"
		if raw.PromptFeedback != nil && raw.PromptFeedback.BlockReason != "" {
			message += " (blocked: " + raw.PromptFeedback.BlockReason + ")"
		}
		return "", t.fail(http.StatusOK, message)
	}
	var b strings.Builder
	for _, part := range raw.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String(), nil
}

func (c *GeminiClient) model(options framework.LLMOptions) string {
	if options.Model != "" {
		return options.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return "gemini-1.5-flash"
}

func mapRole(role framework.Role) string {
	if role == framework.RoleAssistant {
		return "model"
	}
	return "user"
}
