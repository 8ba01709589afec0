// Package cmd defines the CLI commands for the bid-monitor executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bid-monitor/internal/app"
	"github.com/JakeFAU/bid-monitor/internal/config"
	"github.com/JakeFAU/bid-monitor/internal/pipeline"
)

var cfgFile string

type appKeyType string

const appKey appKeyType = "app"

// App is what the commands drive. Tests swap in a fake through newApp.
type App interface {
	RunOnce(ctx context.Context) (pipeline.Report, error)
	Monitor(ctx context.Context, signals <-chan os.Signal) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bid-monitor",
		Short: "Watches the CBF BID registry and publishes new contracts.",
		Long: `bid-monitor polls the CBF BID daily contract registry, solves its CAPTCHA,
and hands every contract not yet published today to the configured publisher.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				_ = appInstance.Close(context.Background())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env BIDMONITOR_* overrides)")
	cmd.AddCommand(newMonitorCmd(), newOnceCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
