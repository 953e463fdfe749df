package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/lexcodex/cellmate/framework"
)

// Client talks to a local Ollama server through /api/chat.
type Client struct {
	Endpoint string
	Model    string
	client   *http.Client
	Debug    bool
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string         `json:"response"`
	Message  *ollamaMessage `json:"message"`
	Error    string         `json:"error"`
}

// NewClient builds a new Ollama client.
func NewClient(endpoint, model string) *Client {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Model:    model,
		client:   &http.Client{Timeout: localTimeout},
	}
}

// Chat sends the conversation and returns the assistant text. Images travel
// base64-encoded in the message's images field.
func (c *Client) Chat(ctx context.Context, req framework.ChatRequest) (string, error) {
	payload := ollamaChatRequest{
		Model:    c.model(req.Options),
		Messages: c.convertMessages(req),
		Stream:   false,
		Options:  map[string]interface{}{"temperature": req.Options.Temperature},
	}
	t := &transport{provider: framework.ProviderOllama, client: c.client, debug: c.Debug}
	var raw ollamaResponse
	if err := t.postJSON(ctx, c.Endpoint+"/api/chat", nil, payload, &raw); err != nil {
		return "", err
	}
	if raw.Error != "" {
		return "", t.fail(0, raw.Error)
	}
	if raw.Message != nil && raw.Message.Content != "" {
		return raw.Message.Content, nil
	}
	return raw.Response, nil
}

func (c *Client) model(options framework.LLMOptions) string {
	if options.Model != "" {
		return options.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return "llama3"
}

func (c *Client) convertMessages(req framework.ChatRequest) []ollamaMessage {
	last := lastUserIndex(req.Messages)
	out := make([]ollamaMessage, 0, len(req.Messages))
	for i, msg := range req.Messages {
		m := ollamaMessage{Role: string(msg.Role), Content: msg.Content}
		for _, img := range attachmentsFor(req, i, last) {
			m.Images = append(m.Images, img.Base64())
		}
		out = append(out, m)
	}
	return out
}
