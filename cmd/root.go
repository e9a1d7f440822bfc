// Package cmd defines and implements the compintel command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/config"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
	"github.com/JakeFAU/compintel-monitor/internal/server"
)

// App is what the subcommands need from the built application. Tests swap
// in a fake through newApp.
type App interface {
	RunStage(ctx context.Context, stage monitor.JobStage, params monitor.JobParams) (any, error)
	Verify(ctx context.Context) (server.Verification, error)
	Serve(ctx context.Context) error
	Logger() *zap.Logger
	Close(ctx context.Context) error
}

type appKeyType struct{}

var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "compintel",
		Short: "Competitive intelligence monitor",
		Long: `compintel scrapes tracked competitor pages, detects content changes,
converts snapshots to markdown, analyzes changes and baselines with an LLM,
and publishes static JSON for the dashboard.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := applyOverrides(cmd, &cfg); err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return nil
			}
			return appInstance.Close(context.WithoutCancel(cmd.Context()))
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(
		newScrapeCmd(),
		newConvertCmd(),
		newAnalyzeCmd(),
		newBaselineCmd(),
		newGenerateCmd(),
		newPipelineCmd(),
		newServeCmd(),
		newVerifyCmd(),
	)
	return cmd
}

// applyOverrides folds command flags that change how the app is built into cfg.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) error {
	if f := cmd.Flags().Lookup("output"); f != nil && f.Changed {
		cfg.Output.Backend = "local"
		cfg.Output.Dir = f.Value.String()
		return cfg.Validate()
	}
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKeyType{}).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
