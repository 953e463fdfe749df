package framework

import "context"

// Default limits applied when a Config field is left at zero.
const (
	DefaultMaxIterations     = 8
	DefaultHistoryWindow     = 2
	DefaultHistoryCharBudget = 200
	DefaultSnapshotMaxRows   = 20
	DefaultSnapshotMaxChars  = 1000
	DefaultReadMaxChars      = 1500
	DefaultTemperature       = 0.1
)

// Provider names a supported model backend.
type Provider string

const (
	ProviderOllama   Provider = "ollama"
	ProviderLMStudio Provider = "lmstudio"
	ProviderGemini   Provider = "gemini"
)

// LLMOptions carries per-request model settings.
type LLMOptions struct {
	Provider    Provider
	Model       string
	Temperature float64
}

// ChatRequest is one non-streaming round trip to a backend. Image, when set,
// is attached to the last user message.
type ChatRequest struct {
	Options  LLMOptions
	Messages []Message
	Image    *Image
}

// LanguageModel returns one complete assistant reply per request. Cancelling
// ctx must surface as ErrCancelled rather than a BackendError.
type LanguageModel interface {
	Send(ctx context.Context, req ChatRequest) (string, error)
}

// Config contains the knobs shared by the loop, the batch runner and the
// tools. The history and snapshot limits bound prompt size; they are fields so
// hosts can tune them without touching control flow.
type Config struct {
	Provider          Provider
	Model             string
	Temperature       float64
	MaxIterations     int
	HistoryWindow     int
	HistoryCharBudget int
	SnapshotMaxRows   int
	SnapshotMaxChars  int
	ReadMaxChars      int
	DebugLLM          bool
	DebugAgent        bool
	Telemetry         Telemetry
}

// DefaultConfig returns the stock limits for the given backend.
func DefaultConfig(provider Provider, model string) *Config {
	cfg := &Config{Provider: provider, Model: model}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued limits.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderOllama
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	// A negative window disables history replay.
	if c.HistoryWindow == 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	if c.HistoryCharBudget <= 0 {
		c.HistoryCharBudget = DefaultHistoryCharBudget
	}
	if c.SnapshotMaxRows <= 0 {
		c.SnapshotMaxRows = DefaultSnapshotMaxRows
	}
	if c.SnapshotMaxChars <= 0 {
		c.SnapshotMaxChars = DefaultSnapshotMaxChars
	}
	if c.ReadMaxChars <= 0 {
		c.ReadMaxChars = DefaultReadMaxChars
	}
}

// Options returns the request options derived from the config.
func (c *Config) Options() LLMOptions {
	return LLMOptions{Provider: c.Provider, Model: c.Model, Temperature: c.Temperature}
}
