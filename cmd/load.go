package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tena-analytics/warehouse-cli/internal/loader"
	"github.com/tena-analytics/warehouse-cli/internal/rawstore"
)

var loadBatchDir string

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load scraped batch files into the raw layer",
	Long:  "Reads JSON batch files from the landing zone and upserts them into raw.telegram_messages. Re-running a batch is a no-op for rows already present.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dir := loadBatchDir
		if dir == "" {
			dir = cfg.Scrape.MessagesDir
		}

		msgs, badFiles, err := rawstore.ReadAll(dir)
		if err != nil {
			return err
		}
		if len(badFiles) > 0 {
			fmt.Fprintf(os.Stderr, "Skipped %d unreadable batch files\n", len(badFiles))
		}
		if len(msgs) == 0 {
			fmt.Fprintln(os.Stderr, "No batch records found.")
			return nil
		}

		pool, err := warehousePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		res, err := loader.New(pool).Load(ctx, msgs)
		if err != nil {
			return err
		}

		fmt.Printf("Loaded %d records (%d skipped)\n", res.Inserted, res.Skipped)
		for _, r := range res.Reasons {
			fmt.Fprintf(os.Stderr, "  record %d: %s\n", r.Index, r.Reason)
		}
		return nil
	},
}

func init() {
	loadCmd.Flags().StringVar(&loadBatchDir, "batch-dir", "", "batch directory (default from config)")
	rootCmd.AddCommand(loadCmd)
}
