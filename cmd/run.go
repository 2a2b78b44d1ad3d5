package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tena-analytics/warehouse-cli/internal/model"
	"github.com/tena-analytics/warehouse-cli/internal/pipeline"
)

var runFull bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one full pipeline pass",
	Long:  "Collects scraped batches, loads them, derives the marts, enriches images, and folds the enrichment back into the facts. The run is recorded in ops.pipeline_runs.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := warehousePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		res, err := newPipeline(pool).RunNow(ctx, pipeline.Options{Full: runFull})
		if errors.Is(err, pipeline.ErrRunInProgress) {
			return err
		}
		if res != nil {
			printRunResult(res)
		}
		return err
	},
}

func printRunResult(res *model.RunResult) {
	fmt.Printf("Run %s: %s\n", res.RunID, res.State)
	if res.FailedStage != "" {
		fmt.Printf("  failed at: %s\n", res.FailedStage)
	}
	for _, s := range res.Stages {
		if s.Skipped {
			fmt.Printf("  %-12s skipped\n", s.Stage)
			continue
		}
		fmt.Printf("  %-12s %d attempt(s), %dms", s.Stage, s.Attempts, s.Duration)
		for k, v := range s.Counts {
			fmt.Printf(" %s=%v", k, v)
		}
		fmt.Println()
	}
}

func init() {
	runCmd.Flags().BoolVar(&runFull, "full", false, "full transform and re-enrichment of every image")
	rootCmd.AddCommand(runCmd)
}
