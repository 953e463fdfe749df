package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexcodex/cellmate/agents"
	"github.com/lexcodex/cellmate/framework"
	"github.com/lexcodex/cellmate/server"
)

// interruptContext cancels on Ctrl+C so a one-shot command stops the way the
// shell's Esc does.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAskCmd() *cobra.Command {
	var selection string
	var imagePath string
	var quiet bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Run the agent loop once against the workbook",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			if !quiet {
				rt.AddSink(timelineWriter{out: func(line string) { fmt.Fprintln(cmd.ErrOrStderr(), line) }})
			}
			params := server.SendParams{Prompt: strings.Join(args, " "), Selection: selection}
			if imagePath != "" {
				data, err := os.ReadFile(imagePath)
				if err != nil {
					return err
				}
				img := framework.Image{MIMEType: mime.TypeByExtension(filepath.Ext(imagePath)), Data: data}
				params.Image = img.DataURL()
			}
			ctx, stop := interruptContext()
			defer stop()
			go func() {
				<-ctx.Done()
				rt.service.Stop()
			}()
			result, err := rt.service.Send(context.WithoutCancel(ctx), params)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, result)
			}
			switch result.Status {
			case agents.OutcomeSuccess:
				fmt.Fprintln(cmd.OutOrStdout(), result.Text)
			case agents.OutcomeCancelled:
				fmt.Fprintln(cmd.ErrOrStderr(), "stopped")
			default:
				return errors.New(result.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&selection, "select", "", "Range to select before asking (e.g. Sheet1!A1:C10)")
	cmd.Flags().StringVar(&imagePath, "image", "", "Image file to attach to the first request")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the step timeline")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	return cmd
}

func newBatchCmd() *cobra.Command {
	var rng string
	var quiet bool
	cmd := &cobra.Command{
		Use:   "batch [instruction]",
		Short: "Apply an instruction to every row of a column, writing results to the next column",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			if !quiet {
				rt.AddSink(timelineWriter{out: func(line string) { fmt.Fprintln(cmd.ErrOrStderr(), line) }})
			}
			ctx, stop := interruptContext()
			defer stop()
			go func() {
				<-ctx.Done()
				rt.service.Stop()
			}()
			report, err := rt.service.Batch(context.WithoutCancel(ctx), server.BatchParams{
				Instruction: strings.Join(args, " "),
				Range:       rng,
			})
			if err != nil {
				return err
			}
			counts := report.Counts()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows, %d ok, %d failed, %d skipped\n",
				report.Status, report.Total, counts[framework.StatusSuccess], counts[framework.StatusError], counts[framework.StatusSkipped])
			return nil
		},
	}
	cmd.Flags().StringVar(&rng, "range", "", "Input range; results go to the column right of it")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print per-row progress")
	_ = cmd.MarkFlagRequired("range")
	return cmd
}

func newApplyCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Write the last stored answer into a cell",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			entries, err := rt.service.HistoryList(cmd.Context())
			if err != nil {
				return err
			}
			var last string
			for i := len(entries) - 1; i >= 0; i-- {
				if entries[i].Role == framework.RoleAssistant {
					last = entries[i].Content
					break
				}
			}
			if last == "" {
				return errors.New("no answer in history")
			}
			if target != "" {
				if err := rt.workbook.Select(target); err != nil {
					return err
				}
			}
			rt.service.Session.SetLastResponse(last)
			result, err := rt.service.Apply()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote answer to %s\n", result.Address)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "cell", "", "Target cell (defaults to A1 of the active sheet)")
	return cmd
}
