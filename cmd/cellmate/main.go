package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lexcodex/cellmate/agents"
	"github.com/lexcodex/cellmate/cmd/internal/workspacecfg"
	"github.com/lexcodex/cellmate/framework"
	"github.com/lexcodex/cellmate/llm"
	"github.com/lexcodex/cellmate/persistence"
	"github.com/lexcodex/cellmate/server"
	"github.com/lexcodex/cellmate/tools"
)

var (
	flagWorkspace string
	flagWorkbook  string
	flagProvider  string
	flagModel     string
	flagDebug     bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cellmate",
		Short:         "Spreadsheet assistant that drives workbook tools through a local or hosted model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", ".", "Workspace root (holds cellmate_cfg/)")
	root.PersistentFlags().StringVar(&flagWorkbook, "workbook", "", "Workbook to operate on (overrides config)")
	root.PersistentFlags().StringVar(&flagProvider, "provider", "", "Model backend: ollama, lmstudio or gemini")
	root.PersistentFlags().StringVar(&flagModel, "model", "", "Model name (overrides config)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Log agent and backend traffic")

	root.AddCommand(
		newAskCmd(),
		newBatchCmd(),
		newApplyCmd(),
		newShellCmd(),
		newServeCmd(),
		newRPCCmd(),
		newToolsCmd(),
		newHistoryCmd(),
		newConfigCmd(),
	)
	return root
}

// loadConfig reads the workspace config and applies the persistent flags.
func loadConfig() (*workspacecfg.Config, error) {
	cfg, err := workspacecfg.Load(flagWorkspace)
	if err != nil {
		return nil, err
	}
	if flagWorkbook != "" {
		cfg.Workbook = flagWorkbook
	}
	if flagProvider != "" {
		cfg.Provider = flagProvider
	}
	if flagModel != "" {
		cfg.Model = flagModel
	}
	if flagDebug {
		cfg.Logging.DebugAgent = true
		cfg.Logging.DebugLLM = true
	}
	return cfg, nil
}

// runtime bundles everything a command needs to run the agent against the
// configured workbook.
type runtime struct {
	cfg       *workspacecfg.Config
	agentCfg  *framework.Config
	workbook  *tools.Workbook
	store     persistence.HistoryStore
	service   *server.Service
	telemetry *framework.MultiplexTelemetry
	closers   []io.Closer
}

// openRuntime opens the workbook and the history database and wires the
// session. Extra sinks receive every telemetry event.
func openRuntime(sinks ...framework.Telemetry) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	agentCfg, err := cfg.AgentConfig()
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, agentCfg: agentCfg, telemetry: &framework.MultiplexTelemetry{Sinks: sinks}}
	if cfg.Logging.EventLog != "" {
		eventLog, err := framework.NewJSONFileTelemetry(cfg.Path(cfg.Logging.EventLog))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, eventLog)
		rt.telemetry.Sinks = append(rt.telemetry.Sinks, eventLog)
	}
	if agentCfg.DebugAgent {
		rt.telemetry.Sinks = append(rt.telemetry.Sinks, framework.LoggerTelemetry{Logger: log.New(os.Stderr, "", log.LstdFlags)})
	}
	agentCfg.Telemetry = rt.telemetry

	rt.workbook, err = tools.OpenWorkbook(cfg.Path(cfg.Workbook))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, rt.workbook)
	var batchLog server.BatchLog
	rt.store, batchLog, err = openHistory(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if closer, ok := rt.store.(io.Closer); ok {
		rt.closers = append(rt.closers, closer)
	}

	registry, err := tools.NewRegistry(rt.workbook, agentCfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	registry = registry.Restrict(cfg.AllowedTools)
	model := llm.NewInstrumentedModel(llm.NewAdapter(cfg.LLMEndpoints(), agentCfg.DebugLLM), rt.telemetry, agentCfg.DebugLLM)
	session := agents.NewSession(agents.NewLoop(model, registry, agentCfg), agents.NewBatchRunner(model, agentCfg), rt.workbook, rt.store)
	rt.service = &server.Service{
		Session:  session,
		Registry: registry,
		Workbook: rt.workbook,
		History:  rt.store,
		BatchLog: batchLog,
		Logger:   log.New(os.Stderr, "", log.LstdFlags),
	}
	return rt, nil
}

// openHistory opens the configured history backend. Only the sqlite backend
// keeps a batch run log.
func openHistory(cfg *workspacecfg.Config) (persistence.HistoryStore, server.BatchLog, error) {
	switch cfg.HistoryBackend {
	case "", "sqlite":
		store, err := persistence.NewSQLiteStore(cfg.Path(cfg.HistoryDB))
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case "file":
		store, err := persistence.NewFileHistoryStore(filepath.Join(workspacecfg.ConfigDir(cfg.Workspace), "history"))
		return store, nil, err
	case "memory":
		return persistence.NewMemoryHistoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown history backend %q", cfg.HistoryBackend)
	}
}

// AddSink registers another telemetry sink before the session is used.
func (r *runtime) AddSink(sink framework.Telemetry) {
	r.telemetry.Sinks = append(r.telemetry.Sinks, sink)
}

// Close releases resources in reverse order of acquisition.
func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i].Close())
	}
	r.closers = nil
	return errors.Join(errs...)
}
