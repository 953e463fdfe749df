package framework

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// EventType categorizes step and status events.
type EventType string

const (
	EventLoopStart    EventType = "loop_start"
	EventLoopFinish   EventType = "loop_finish"
	EventModelRequest EventType = "model_request"
	EventModelReply   EventType = "model_reply"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventBatchStart   EventType = "batch_start"
	EventBatchRow     EventType = "batch_row"
	EventBatchFinish  EventType = "batch_finish"
	EventNotice       EventType = "notice"
)

// Event status values.
const (
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
	StatusSkipped   = "skipped"
)

// Event is emitted at every observable step of a loop or batch run.
type Event struct {
	Type         EventType              `json:"type"`
	InvocationID string                 `json:"invocation_id,omitempty"`
	Iteration    int                    `json:"iteration,omitempty"`
	Step         int                    `json:"step,omitempty"`
	Total        int                    `json:"total,omitempty"`
	Tool         string                 `json:"tool,omitempty"`
	Status       string                 `json:"status,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Telemetry receives events. Hosts wire it to their own presentation; the
// core never writes to a global sink.
type Telemetry interface {
	Emit(event Event)
}

// TelemetryFunc adapts a function into a Telemetry sink.
type TelemetryFunc func(Event)

// Emit calls f.
func (f TelemetryFunc) Emit(event Event) { f(event) }

// Emit stamps the event and forwards it when a sink is configured.
func Emit(t Telemetry, event Event) {
	if t == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	t.Emit(event)
}

// MultiplexTelemetry broadcasts events to multiple sinks.
type MultiplexTelemetry struct {
	Sinks []Telemetry
}

// Emit forwards the event to all registered sinks.
func (m MultiplexTelemetry) Emit(event Event) {
	for _, s := range m.Sinks {
		if s != nil {
			s.Emit(event)
		}
	}
}

// ChannelTelemetry pushes events onto a channel without blocking the loop;
// events are dropped when the consumer falls behind.
type ChannelTelemetry struct {
	Ch chan<- Event
}

// Emit performs a non-blocking send.
func (c ChannelTelemetry) Emit(event Event) {
	if c.Ch == nil {
		return
	}
	select {
	case c.Ch <- event:
	default:
	}
}

// JSONFileTelemetry writes events as newline-delimited JSON to a file.
type JSONFileTelemetry struct {
	path string
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewJSONFileTelemetry opens (or creates) the log file.
func NewJSONFileTelemetry(path string) (*JSONFileTelemetry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONFileTelemetry{
		path: path,
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Emit writes the JSON record.
func (j *JSONFileTelemetry) Emit(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc != nil {
		_ = j.enc.Encode(event)
	}
}

// Close releases the file handle.
func (j *JSONFileTelemetry) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

// LoggerTelemetry emits events via the standard logger.
type LoggerTelemetry struct {
	Logger *log.Logger
}

// Emit logs the event.
func (t LoggerTelemetry) Emit(event Event) {
	logger := t.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[%s] run=%s iter=%d step=%d/%d tool=%s status=%s msg=%s\n",
		event.Type, event.InvocationID, event.Iteration, event.Step, event.Total, event.Tool, event.Status, event.Message)
}
