package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/compintel-monitor/internal/analyzer"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

const triggerCLI = "cli"

func newScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Scrape every active tracked URL and record changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd, monitor.StageScrape, monitor.JobParams{})
		},
	}
}

func newConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert",
		Short: "Convert scraped and baseline HTML into markdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd, monitor.StageConvert, monitor.JobParams{})
		},
	}
}

func newAnalyzeCmd() *cobra.Command {
	var (
		mode       string
		reportOnly bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze detected changes with the LLM and write the change report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mode != analyzer.ModeRecent && mode != analyzer.ModeFull {
				return fmt.Errorf("--mode must be %s or %s", analyzer.ModeRecent, analyzer.ModeFull)
			}
			return runStage(cmd, monitor.StageAnalyze, monitor.JobParams{Mode: mode, ReportOnly: reportOnly})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", analyzer.ModeRecent, "recent analyzes the last window skipping analyzed changes; full analyzes everything")
	cmd.Flags().BoolVar(&reportOnly, "report-only", false, "only regenerate the change report")
	return cmd
}

func newBaselineCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Extract baseline intelligence from every page's latest markdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd, monitor.StageBaseline, monitor.JobParams{Force: force})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-analyze even when baseline rows already exist")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write the static dashboard JSON files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd, monitor.StageGenerate, monitor.JobParams{})
		},
	}
	cmd.Flags().String("output", "", "write to this local directory instead of the configured output")
	return cmd
}

func newPipelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline",
		Short: "Run scrape, convert, recent analysis and generate in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd, monitor.StagePipeline, monitor.JobParams{})
		},
	}
}

func runStage(cmd *cobra.Command, stage monitor.JobStage, params monitor.JobParams) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	params.Trigger = triggerCLI
	out, runErr := appInstance.RunStage(cmd.Context(), stage, params)
	if out != nil {
		render(cmd.OutOrStdout(), out)
	}
	if runErr != nil {
		return fmt.Errorf("%s failed: %w", stage, runErr)
	}
	return nil
}
