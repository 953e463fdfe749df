package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lexcodex/cellmate/framework"
)

// InstrumentedModel wraps a LanguageModel and emits telemetry for requests and replies.
type InstrumentedModel struct {
	Inner     framework.LanguageModel
	Telemetry framework.Telemetry
	Debug     bool
}

func NewInstrumentedModel(inner framework.LanguageModel, telemetry framework.Telemetry, debug bool) *InstrumentedModel {
	return &InstrumentedModel{Inner: inner, Telemetry: telemetry, Debug: debug}
}

// Send implements framework.LanguageModel.
func (m *InstrumentedModel) Send(ctx context.Context, req framework.ChatRequest) (string, error) {
	m.emitRequest(ctx, req)
	start := time.Now()
	text, err := m.Inner.Send(ctx, req)
	m.emitReply(ctx, req, text, err, time.Since(start))
	return text, err
}

func (m *InstrumentedModel) emitRequest(ctx context.Context, req framework.ChatRequest) {
	if m == nil || m.Telemetry == nil {
		return
	}
	roles := make([]string, 0, len(req.Messages))
	for _, msg := range req.Messages {
		roles = append(roles, string(msg.Role))
	}
	metadata := map[string]interface{}{
		"provider":      string(req.Options.Provider),
		"model":         req.Options.Model,
		"message_count": len(req.Messages),
		"roles":         roles,
		"has_image":     req.Image != nil,
	}
	if m.Debug && len(req.Messages) > 0 {
		full := make([]map[string]interface{}, 0, len(req.Messages))
		for _, msg := range req.Messages {
			full = append(full, map[string]interface{}{
				"role":    msg.Role,
				"content": clip(msg.Content, 8192),
			})
		}
		metadata["messages"] = full
	}
	m.emit(ctx, framework.Event{
		Type:     framework.EventModelRequest,
		Status:   framework.StatusRunning,
		Message:  fmt.Sprintf("%s request", providerName(req)),
		Metadata: metadata,
	})
}

func (m *InstrumentedModel) emitReply(ctx context.Context, req framework.ChatRequest, text string, err error, elapsed time.Duration) {
	if m == nil || m.Telemetry == nil {
		return
	}
	metadata := map[string]interface{}{
		"provider":     string(req.Options.Provider),
		"duration_ms":  elapsed.Milliseconds(),
		"text_preview": clip(text, 1024),
	}
	status := framework.StatusSuccess
	switch {
	case errors.Is(err, framework.ErrCancelled):
		status = framework.StatusCancelled
	case err != nil:
		status = framework.StatusError
		metadata["error"] = err.Error()
	}
	m.emit(ctx, framework.Event{
		Type:     framework.EventModelReply,
		Status:   status,
		Message:  fmt.Sprintf("%s reply", providerName(req)),
		Metadata: metadata,
	})
}

func (m *InstrumentedModel) emit(ctx context.Context, event framework.Event) {
	if inv, ok := framework.InvocationFrom(ctx); ok {
		event.InvocationID = inv.ID
		event.Metadata["invocation_kind"] = string(inv.Kind)
	}
	framework.Emit(m.Telemetry, event)
}

func providerName(req framework.ChatRequest) string {
	if req.Options.Provider == "" {
		return string(framework.ProviderOllama)
	}
	return string(req.Options.Provider)
}

func clip(s string, max int) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
