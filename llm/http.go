package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/lexcodex/cellmate/framework"
)

// Local backends answer slowly on large prompts.
const localTimeout = 20 * time.Minute

// transport is the shared JSON-over-HTTP plumbing of every backend client.
type transport struct {
	provider framework.Provider
	client   *http.Client
	debug    bool
}

func (t *transport) httpClient() *http.Client {
	if t.client != nil {
		return t.client
	}
	t.client = &http.Client{Timeout: localTimeout}
	return t.client
}

// postJSON sends payload to url and decodes the JSON reply into out. Every
// failure is either framework.ErrCancelled or a *framework.BackendError.
func (t *transport) postJSON(ctx context.Context, url string, header http.Header, payload, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return framework.ErrCancelled
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return t.fail(0, "encode request: "+err.Error())
	}
	t.logf("request %s payload: %s", redactKey(url), truncate(string(body), 2048))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return t.fail(0, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	resp, err := t.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return framework.ErrCancelled
		}
		var urlErr *neturl.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return t.fail(0, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := strings.TrimSpace(string(msg))
		if detail == "" {
			detail = resp.Status
		}
		return t.fail(resp.StatusCode, detail)
	}
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return framework.ErrCancelled
		}
		return t.fail(resp.StatusCode, err.Error())
	}
	t.logf("response %s payload: %s", redactKey(url), truncate(string(responseBody), 2048))
	if err := json.Unmarshal(responseBody, out); err != nil {
		return t.fail(resp.StatusCode, "decode response: "+err.Error())
	}
	return nil
}

func (t *transport) fail(status int, message string) error {
	return &framework.BackendError{Provider: string(t.provider), Status: status, Message: message}
}

func (t *transport) logf(format string, args ...interface{}) {
	if !t.debug {
		return
	}
	log.Printf("["+string(t.provider)+"] "+format, args...)
}

func redactKey(url string) string {
	if i := strings.Index(url, "key="); i >= 0 {
		return url[:i] + "key=***"
	}
	return url
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// lastUserIndex locates the message an image attachment belongs to.
func lastUserIndex(messages []framework.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == framework.RoleUser {
			return i
		}
	}
	return -1
}

// attachmentsFor merges images already on the message with the request-level
// attachment when i is the last user message.
func attachmentsFor(req framework.ChatRequest, i, last int) []framework.Image {
	images := req.Messages[i].Images
	if req.Image != nil && i == last {
		images = append(append([]framework.Image(nil), images...), *req.Image)
	}
	return images
}
