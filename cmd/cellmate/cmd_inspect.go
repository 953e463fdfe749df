package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lexcodex/cellmate/cmd/internal/workspacecfg"
	"github.com/lexcodex/cellmate/framework"
	"github.com/lexcodex/cellmate/persistence"
	"github.com/lexcodex/cellmate/tools"
)

func newToolsCmd() *cobra.Command {
	var withExamples bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the workbook tools offered to the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := framework.DefaultConfig(framework.ProviderOllama, "")
			registry, err := tools.NewRegistry(tools.NewMemoryWorkbook(), cfg)
			if err != nil {
				return err
			}
			if withExamples {
				fmt.Fprint(cmd.OutOrStdout(), framework.RenderToolsToPrompt(registry.Describe()))
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, spec := range registry.Describe() {
				fmt.Fprintf(w, "%s\t%s\n", spec.Name, spec.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&withExamples, "prompt", false, "Print the tool block exactly as it appears in the system prompt")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored chat history and batch runs",
	}
	openStore := func() (persistence.HistoryStore, func(), error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, nil, err
		}
		store, _, err := openHistory(cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if closer, ok := store.(io.Closer); ok {
				closer.Close()
			}
		}, nil
	}
	var conversation string
	list := &cobra.Command{
		Use:   "list",
		Short: "Print the stored conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()
			entries, err := store.List(cmd.Context(), conversation)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s %s\n", e.Timestamp.Local().Format("2006-01-02 15:04"), e.Role, e.Content)
			}
			return nil
		},
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()
			return store.Clear(cmd.Context(), conversation)
		},
	}
	var limit int
	batches := &cobra.Command{
		Use:   "batches",
		Short: "List recent batch runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := persistence.NewSQLiteStore(cfg.Path(cfg.HistoryDB))
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.Batches(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tRANGE\tOK\tFAILED\tSKIPPED\tINSTRUCTION")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n", shortID(r.ID), r.Status, r.Range, r.Succeeded, r.Failed, r.Skipped, r.Instruction)
			}
			return w.Flush()
		},
	}
	batches.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")
	cmd.PersistentFlags().StringVar(&conversation, "conversation", "default", "Conversation id")
	cmd.AddCommand(list, clearCmd, batches)
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage cellmate_cfg/config.yaml",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := workspacecfg.ConfigFile(flagWorkspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists (use --force to overwrite)", path)
			}
			cfg := workspacecfg.Default(flagWorkspace)
			if err := workspacecfg.Save(cfg); err != nil {
				return err
			}
			cmd.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config with defaults")
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config and probe the model backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:    %s\n", workspacecfg.ConfigFile(cfg.Workspace))
			fmt.Fprintf(out, "provider:  %s\n", cfg.Provider)
			fmt.Fprintf(out, "model:     %s\n", cfg.Model)
			fmt.Fprintf(out, "workbook:  %s\n", cfg.Path(cfg.Workbook))
			fmt.Fprintf(out, "history:   %s\n", cfg.Path(cfg.HistoryDB))
			fmt.Fprintf(out, "limits:    iterations=%d history=%d/%d chars snapshot=%d rows/%d chars\n",
				cfg.Agent.MaxIterations, cfg.Agent.HistoryWindow, cfg.Agent.HistoryCharBudget,
				cfg.Agent.SnapshotMaxRows, cfg.Agent.SnapshotMaxChars)
			for _, st := range workspacecfg.CheckEndpoints(context.Background(), cfg) {
				fmt.Fprintf(out, "%-10s %s %s\n", st.Name+":", st.Status, st.Details)
			}
			return nil
		},
	}
	cmd.AddCommand(initCmd, show)
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
