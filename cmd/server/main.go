package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/medico24/medico24-auth/internal/app"
	"github.com/medico24/medico24-auth/internal/config"
	"github.com/medico24/medico24-auth/internal/observability"
)

func main() {
	root := &cobra.Command{
		Use:          "medico24-auth",
		Short:        "Identity and session service for the Medico24 API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	rt, err := observability.InitRuntime(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		if err := rt.Shutdown(context.Background()); err != nil {
			rt.Logger.Error("observability shutdown", "error", err)
		}
	}()

	a, err := app.New(cfg, rt.Logger)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
