package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lexcodex/cellmate/framework"
)

var (
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	cancelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

const timelineMessageWidth = 96

func statusStyle(status string) lipgloss.Style {
	switch status {
	case framework.StatusSuccess:
		return successStyle
	case framework.StatusError:
		return errorStyle
	case framework.StatusCancelled:
		return cancelStyle
	case framework.StatusSkipped:
		return faintStyle
	default:
		return runningStyle
	}
}

// renderEvent formats one telemetry event as a single timeline line.
func renderEvent(e framework.Event) string {
	style := statusStyle(e.Status)
	var label, detail string
	switch e.Type {
	case framework.EventLoopStart:
		label, detail = "start", e.Message
	case framework.EventModelRequest:
		label, detail = "model", e.Message
		if model, ok := e.Metadata["model"].(string); ok && model != "" {
			detail = fmt.Sprintf("%s (%s)", e.Message, model)
		}
	case framework.EventModelReply:
		label, detail = "reply", e.Message
		if ms, ok := e.Metadata["duration_ms"]; ok {
			detail = fmt.Sprintf("%s (%vms)", e.Message, ms)
		}
	case framework.EventToolCall:
		label, detail = "tool", fmt.Sprintf("[%d/%d] %s", e.Step, e.Total, e.Tool)
	case framework.EventToolResult:
		label, detail = "result", e.Message
	case framework.EventBatchStart:
		label, detail = "batch", fmt.Sprintf("%d rows: %s", e.Total, e.Message)
	case framework.EventBatchRow:
		label, detail = "row", fmt.Sprintf("[%d/%d] %s %s", e.Step, e.Total, e.Status, e.Message)
	case framework.EventLoopFinish, framework.EventBatchFinish:
		label, detail = e.Status, e.Message
	case framework.EventNotice:
		label, detail = "notice", e.Message
	default:
		label, detail = string(e.Type), e.Message
	}
	detail = strings.Join(strings.Fields(detail), " ")
	if r := []rune(detail); len(r) > timelineMessageWidth {
		detail = string(r[:timelineMessageWidth]) + "…"
	}
	return fmt.Sprintf("%s %s %s",
		timeStyle.Render(e.Timestamp.Local().Format("15:04:05")),
		style.Bold(true).Render(fmt.Sprintf("%-8s", label)),
		detail,
	)
}

// timelineWriter prints events as they arrive; used by the one-shot commands.
type timelineWriter struct {
	out func(string)
}

func (w timelineWriter) Emit(e framework.Event) {
	if w.out != nil {
		w.out(renderEvent(e))
	}
}
