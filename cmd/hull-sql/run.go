package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hull-ships/hull-sql-sub000/internal/orchestration"
	"github.com/hull-ships/hull-sql-sub000/internal/worker"
)

var (
	previewQuery   string
	previewLimit   int
	previewTimeout time.Duration

	runLastUpdatedAt string
	runImportDays    int
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Run the query with a row cap and print the result",
	Long: `Run the configured query (or --query) with at most --limit rows and
print columns, rows and column validation errors as JSON. Nothing is uploaded
and no state is written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		rt, err := buildAgent(cmd.Context(), cfg, logger, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		query := previewQuery
		if query == "" {
			query = cfg.Query.SQL
		}
		res, err := rt.agent.RunQuery(cmd.Context(), query, orchestration.PreviewOptions{
			Limit:   previewLimit,
			Timeout: previewTimeout,
		})
		if res != nil {
			if encErr := printJSON(res); encErr != nil {
				return encErr
			}
		}
		return err
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run an incremental sync from the last saved position",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd, orchestration.ModeSync)
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Backfill the last --days days",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd, orchestration.ModeImport)
	},
}

func init() {
	previewCmd.Flags().StringVarP(&previewQuery, "query", "q", "", "query to preview instead of the configured one")
	previewCmd.Flags().IntVarP(&previewLimit, "limit", "n", orchestration.MaxPreviewRows, "maximum rows to return")
	previewCmd.Flags().DurationVar(&previewTimeout, "timeout", 60*time.Second, "query timeout")

	for _, c := range []*cobra.Command{syncCmd, importCmd} {
		c.Flags().StringVar(&runLastUpdatedAt, "last-updated-at", "", "RFC3339 lower bound overriding the saved position")
	}
	importCmd.Flags().IntVar(&runImportDays, "days", 0, "days to backfill (default from config)")
}

func runOnce(cmd *cobra.Command, mode orchestration.Mode) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	serveMetrics(ctx, cfg.Metrics.Addr, logger)

	rt, err := buildAgent(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := orchestration.SyncOptions{ImportDays: runImportDays}
	if runLastUpdatedAt != "" {
		ts, err := time.Parse(time.RFC3339, runLastUpdatedAt)
		if err != nil {
			return fmt.Errorf("invalid --last-updated-at: %w", err)
		}
		opts.LastUpdatedAt = ts
	}

	var res *orchestration.RunResult
	if mode == orchestration.ModeImport {
		res, err = rt.agent.StartImport(ctx, opts)
	} else {
		res, err = rt.agent.StartSync(ctx, opts)
	}
	if err != nil {
		logger.Error("run failed", zap.String("mode", string(mode)), zap.Error(err))
		return err
	}
	return printJSON(worker.NewSyncResult(res))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
