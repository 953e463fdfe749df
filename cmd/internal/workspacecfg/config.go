package workspacecfg

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lexcodex/cellmate/framework"
	"github.com/lexcodex/cellmate/llm"
)

// Config models the persisted workspace settings.
type Config struct {
	// Workspace is the directory the config was loaded from; relative paths
	// below resolve against it.
	Workspace      string          `yaml:"-"`
	Provider       string          `yaml:"provider"`
	Model          string          `yaml:"model"`
	Endpoints      EndpointsConfig `yaml:"endpoints"`
	GeminiKeyEnv   string          `yaml:"gemini_key_env"`
	Workbook       string          `yaml:"workbook"`
	HistoryDB      string          `yaml:"history_db"`
	// HistoryBackend is sqlite, file or memory.
	HistoryBackend string          `yaml:"history_backend"`
	Templates      string          `yaml:"templates"`
	ServerAddr     string          `yaml:"server_addr"`
	// AllowedTools limits the tools offered to the model; entries are glob
	// patterns. Empty allows all.
	AllowedTools   []string        `yaml:"allowed_tools,omitempty"`
	Agent          AgentLimits     `yaml:"agent"`
	Logging        LoggingConfig   `yaml:"logging"`

	geminiKey string
}

// EndpointsConfig locates the model servers.
type EndpointsConfig struct {
	Ollama    string `yaml:"ollama"`
	LMStudio  string `yaml:"lmstudio"`
	GeminiURL string `yaml:"gemini_url,omitempty"`
}

// AgentLimits mirrors the tunable fields of framework.Config. Zero values
// fall back to the framework defaults.
type AgentLimits struct {
	MaxIterations     int     `yaml:"max_iterations"`
	HistoryWindow     int     `yaml:"history_window"`
	HistoryCharBudget int     `yaml:"history_char_budget"`
	SnapshotMaxRows   int     `yaml:"snapshot_max_rows"`
	SnapshotMaxChars  int     `yaml:"snapshot_max_chars"`
	ReadMaxChars      int     `yaml:"read_max_chars"`
	Temperature       float64 `yaml:"temperature"`
}

// LoggingConfig toggles debug output and the event log.
type LoggingConfig struct {
	DebugAgent bool   `yaml:"debug_agent"`
	DebugLLM   bool   `yaml:"debug_llm"`
	EventLog   string `yaml:"event_log,omitempty"`
}

// ConfigDir resolves the directory storing workspace settings.
func ConfigDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "cellmate_cfg")
}

// ConfigFile returns the YAML config path.
func ConfigFile(workspace string) string {
	return filepath.Join(ConfigDir(workspace), "config.yaml")
}

// Default returns the settings used when no config file exists.
func Default(workspace string) *Config {
	if workspace == "" {
		workspace = "."
	}
	return &Config{
		Workspace: workspace,
		Provider:  string(framework.ProviderOllama),
		Model:     "gemma3:12b",
		Endpoints: EndpointsConfig{
			Ollama:   "http://localhost:11434",
			LMStudio: "http://localhost:1234",
		},
		GeminiKeyEnv:   "GEMINI_API_KEY",
		Workbook:       "workbook.xlsx",
		HistoryDB:      filepath.Join("cellmate_cfg", "history.db"),
		HistoryBackend: "sqlite",
		Templates:      filepath.Join("cellmate_cfg", "templates.json"),
		ServerAddr:     "127.0.0.1:8000",
		Agent: AgentLimits{
			MaxIterations:     framework.DefaultMaxIterations,
			HistoryWindow:     framework.DefaultHistoryWindow,
			HistoryCharBudget: framework.DefaultHistoryCharBudget,
			SnapshotMaxRows:   framework.DefaultSnapshotMaxRows,
			SnapshotMaxChars:  framework.DefaultSnapshotMaxChars,
			ReadMaxChars:      framework.DefaultReadMaxChars,
			Temperature:       framework.DefaultTemperature,
		},
	}
}

// Load reads the workspace config, falling back to defaults when the file is
// missing, then applies environment overrides.
func Load(workspace string) (*Config, error) {
	cfg := Default(workspace)
	data, err := os.ReadFile(ConfigFile(workspace))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv, filepath.Join(cfg.Workspace, ".env"))
	return cfg, nil
}

// Save writes the configuration back to disk.
func Save(cfg *Config) error {
	if cfg == nil {
		return errors.New("workspace config missing")
	}
	if cfg.Workspace == "" {
		return errors.New("workspace path missing")
	}
	if err := os.MkdirAll(ConfigDir(cfg.Workspace), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(ConfigFile(cfg.Workspace), data, 0o644)
}

// ApplyEnv overrides endpoints and resolves the Gemini key. The key is read
// from the environment first, then from dotenv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool), dotenv string) {
	if v, ok := lookup("OLLAMA_ENDPOINT"); ok && v != "" {
		c.Endpoints.Ollama = v
	}
	if v, ok := lookup("LMSTUDIO_ENDPOINT"); ok && v != "" {
		c.Endpoints.LMStudio = v
	}
	name := c.GeminiKeyEnv
	if name == "" {
		name = "GEMINI_API_KEY"
	}
	if v, ok := lookup(name); ok && v != "" {
		c.geminiKey = v
		return
	}
	if dotenv != "" {
		c.geminiKey = readDotEnv(dotenv)[name]
	}
}

// GeminiAPIKey returns the resolved key, if any.
func (c *Config) GeminiAPIKey() string { return c.geminiKey }

// Path resolves p against the workspace unless it is absolute.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Workspace, p)
}

// AgentConfig converts the settings into a framework.Config.
func (c *Config) AgentConfig() (*framework.Config, error) {
	provider, err := llm.ParseProvider(c.Provider)
	if err != nil {
		return nil, err
	}
	cfg := &framework.Config{
		Provider:          provider,
		Model:             c.Model,
		Temperature:       c.Agent.Temperature,
		MaxIterations:     c.Agent.MaxIterations,
		HistoryWindow:     c.Agent.HistoryWindow,
		HistoryCharBudget: c.Agent.HistoryCharBudget,
		SnapshotMaxRows:   c.Agent.SnapshotMaxRows,
		SnapshotMaxChars:  c.Agent.SnapshotMaxChars,
		ReadMaxChars:      c.Agent.ReadMaxChars,
		DebugAgent:        c.Logging.DebugAgent,
		DebugLLM:          c.Logging.DebugLLM,
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// LLMEndpoints returns the backend locations for llm.NewAdapter.
func (c *Config) LLMEndpoints() llm.Endpoints {
	return llm.Endpoints{
		Ollama:       c.Endpoints.Ollama,
		LMStudio:     c.Endpoints.LMStudio,
		GeminiAPIKey: c.geminiKey,
		GeminiURL:    c.Endpoints.GeminiURL,
	}
}

// ProxyBackends maps the proxy names served by the HTTP API.
func (c *Config) ProxyBackends() map[string]string {
	out := map[string]string{}
	if c.Endpoints.Ollama != "" {
		out[string(framework.ProviderOllama)] = c.Endpoints.Ollama
	}
	if c.Endpoints.LMStudio != "" {
		out[string(framework.ProviderLMStudio)] = c.Endpoints.LMStudio
	}
	return out
}

func readDotEnv(path string) map[string]string {
	out := map[string]string{}
	f, err := os.Open(path)
	if err != nil {
		return out
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return out
}

// EndpointStatus captures the result of probing one backend.
type EndpointStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// CheckEndpoints probes the local model servers.
func CheckEndpoints(ctx context.Context, cfg *Config) []EndpointStatus {
	var results []EndpointStatus
	if cfg.Endpoints.Ollama != "" {
		results = append(results, probe(ctx, "ollama", strings.TrimRight(cfg.Endpoints.Ollama, "/")+"/api/tags"))
	}
	if cfg.Endpoints.LMStudio != "" {
		results = append(results, probe(ctx, "lmstudio", strings.TrimRight(cfg.Endpoints.LMStudio, "/")+"/v1/models"))
	}
	gemini := EndpointStatus{Name: "gemini", Status: "ok", Details: "api key set"}
	if cfg.GeminiAPIKey() == "" {
		gemini.Status = "missing"
		gemini.Details = cfg.GeminiKeyEnv + " not set"
	}
	return append(results, gemini)
}

func probe(ctx context.Context, name, url string) EndpointStatus {
	status := EndpointStatus{Name: name, Status: "ok"}
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		status.Status = "invalid"
		status.Details = err.Error()
		return status
	}
	resp, err := client.Do(req)
	if err != nil {
		status.Status = "unreachable"
		status.Details = err.Error()
		return status
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		status.Status = "unreachable"
		status.Details = resp.Status
		return status
	}
	status.Details = "endpoint reachable"
	return status
}
