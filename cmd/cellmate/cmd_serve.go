package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexcodex/cellmate/server"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API used by the spreadsheet add-in",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			if addr == "" {
				addr = rt.cfg.ServerAddr
			}
			api := &server.APIServer{
				Service:       rt.service,
				Backends:      rt.cfg.ProxyBackends(),
				TemplatesPath: rt.cfg.Path(rt.cfg.Templates),
				Logger:        log.New(os.Stdout, "api ", log.LstdFlags),
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.Printf("Serving %s with %s/%s on %s\n", rt.workbook.Path(), rt.agentCfg.Provider, rt.agentCfg.Model, addr)
			if err := api.ServeContext(ctx, addr); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to server_addr from config)")
	return cmd
}

func newRPCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rpc",
		Short: "Serve JSON-RPC over stdio for an embedding host",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			// stdout carries the protocol; logs go to stderr.
			rpc := server.NewRPCServer(rt.service, log.New(os.Stderr, "rpc ", log.LstdFlags))
			rt.AddSink(rpc)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := rpc.Serve(ctx, server.StdioConn{In: os.Stdin, Out: os.Stdout}); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}
