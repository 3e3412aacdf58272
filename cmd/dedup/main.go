package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agenthands/catalog-dedup/internal/config"
	"github.com/agenthands/catalog-dedup/internal/core"
	"github.com/agenthands/catalog-dedup/internal/core/dedupe"
	"github.com/agenthands/catalog-dedup/internal/driver"
	"github.com/agenthands/catalog-dedup/internal/llm"
	"github.com/agenthands/catalog-dedup/internal/logging"
)

var (
	configPath string
	verbose    bool
	dataset    string
	table      string
	runLimit   int
	rows       int
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Deduplicate product catalog tables",
	Long: `dedup groups catalog records that describe the same product.

Records are grouped on exact natural keys first, then by a hybrid of
embedding similarity and token overlap. Borderline fuzzy groups are
re-scored by a language model before the result is written next to the
source table as <table>_dedup_results.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		level := os.Getenv("LOG_LEVEL")
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = logging.New(level)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch a table, deduplicate it and persist the results",
	Long: `Runs the full pipeline once and prints a JSON summary.

Examples:
  dedup run --dataset retail --table products
  dedup run --dataset retail --table products --limit 5000 --config config/config.toml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, closeFn, err := buildDeduper(ctx, true)
		if err != nil {
			return err
		}
		defer closeFn()

		runID := uuid.New().String()
		logger.Info("dedup run requested", zap.String("run_id", runID), zap.String("dataset", dataset), zap.String("table", table))

		res, err := d.RunTable(ctx, driver.TableRef{Dataset: dataset, Table: table}, runLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"status":          "success",
			"run_id":          runID,
			"processed_count": res.Processed,
			"output_table":    res.OutputTable,
			"stats":           res.Stats,
		})
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print the first rows of a table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, closeFn, err := buildDeduper(ctx, false)
		if err != nil {
			return err
		}
		defer closeFn()

		rs, err := d.Preview(ctx, driver.TableRef{Dataset: dataset, Table: table}, rows)
		if err != nil {
			return err
		}
		return printJSON(cmd, rs.Records)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.toml", "path to the TOML configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	for _, c := range []*cobra.Command{runCmd, previewCmd} {
		c.Flags().StringVar(&dataset, "dataset", "", "dataset containing the table")
		c.Flags().StringVar(&table, "table", "", "table to read")
		_ = c.MarkFlagRequired("dataset")
		_ = c.MarkFlagRequired("table")
	}
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "read at most this many rows (0 for all)")
	previewCmd.Flags().IntVar(&rows, "rows", 10, "number of rows to print")

	rootCmd.AddCommand(runCmd, previewCmd)
}

// buildDeduper loads configuration and opens the store. Model clients are only
// created when withModels is set, so preview works without credentials.
func buildDeduper(ctx context.Context, withModels bool) (*core.Deduper, func(), error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	store, err := driver.NewRecordStore(ctx, cfg.Store, cfg.Dedup.IDField)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() { _ = store.Close() }

	if !withModels {
		return core.NewDeduper(cfg, nil, nil, store), closeFn, nil
	}

	client, err := llm.NewGuardedClient(ctx, cfg)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return core.NewDeduper(cfg, client, dedupe.NewLLMAdjudicator(client), store), closeFn, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
