package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/lexcodex/cellmate/framework"
)

// OpenAIClient talks to an OpenAI-compatible completions server such as LM
// Studio.
type OpenAIClient struct {
	Endpoint string
	Model    string
	APIKey   string
	client   *http.Client
	Debug    bool
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature float64         `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewOpenAIClient builds a client for an OpenAI-style server.
func NewOpenAIClient(endpoint, model string) *OpenAIClient {
	if endpoint == "" {
		endpoint = "http://localhost:1234"
	}
	return &OpenAIClient{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Model:    model,
		client:   &http.Client{Timeout: localTimeout},
	}
}

// Chat posts to /v1/chat/completions. A message carrying images is sent as a
// list of content parts with data URLs.
func (c *OpenAIClient) Chat(ctx context.Context, req framework.ChatRequest) (string, error) {
	payload := openAIRequest{
		Model:       c.model(req.Options),
		Messages:    c.convertMessages(req),
		Stream:      false,
		Temperature: req.Options.Temperature,
	}
	var header http.Header
	if c.APIKey != "" {
		header = http.Header{"Authorization": []string{"Bearer " + c.APIKey}}
	}
	t := &transport{provider: framework.ProviderLMStudio, client: c.client, debug: c.Debug}
	var raw openAIResponse
	if err := t.postJSON(ctx, c.Endpoint+"/v1/chat/completions", header, payload, &raw); err != nil {
		return "", err
	}
	if len(raw.Choices) == 0 {
		return "", t.fail(http.StatusOK, "no choices in response")
	}
	return raw.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) model(options framework.LLMOptions) string {
	if options.Model != "" {
		return options.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return "local-model"
}

func (c *OpenAIClient) convertMessages(req framework.ChatRequest) []openAIMessage {
	last := lastUserIndex(req.Messages)
	out := make([]openAIMessage, 0, len(req.Messages))
	for i, msg := range req.Messages {
		images := attachmentsFor(req, i, last)
		if len(images) == 0 {
			out = append(out, openAIMessage{Role: string(msg.Role), Content: msg.Content})
			continue
		}
		parts := []openAIContentPart{{Type: "text", Text: msg.Content}}
		for _, img := range images {
			parts = append(parts, openAIContentPart{Type: "image_url", ImageURL: &openAIImageURL{URL: img.DataURL()}})
		}
		out = append(out, openAIMessage{Role: string(msg.Role), Content: parts})
	}
	return out
}
