package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hull-ships/hull-sql-sub000/internal/config"
	"github.com/hull-ships/hull-sql-sub000/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hull-sql",
	Short: "Sync SQL query results into the organization as import jobs",
	Long: `hull-sql runs a configured SQL query against a source database,
writes the rows as NDJSON batches to object storage and creates one
import job per batch.

Configuration is read from --config and HULL_SQL_* environment variables.
A .env file in the working directory is loaded first when present.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", getEnv("HULL_SQL_CONFIG", ""), "path to the YAML config file")
	rootCmd.AddCommand(previewCmd, syncCmd, importCmd, workerCmd, sourcesCmd)
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the process logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
