package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tena-analytics/warehouse-cli/internal/model"
	"github.com/tena-analytics/warehouse-cli/internal/transformer"
)

var (
	transformFull bool
	transformIDs  []int64
)

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Derive dimension and fact tables from the raw layer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if transformFull && len(transformIDs) > 0 {
			return eris.New("--full and --ids are mutually exclusive")
		}

		scope := model.FullScope()
		if !transformFull && len(transformIDs) > 0 {
			scope = model.IncrementalScope(transformIDs)
		}

		pool, err := warehousePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		res, err := transformer.New(pool).Transform(ctx, scope)
		if err != nil {
			return err
		}

		fmt.Printf("Channels +%d, dates +%d, facts %d rebuilt, %d records skipped\n",
			res.ChannelsUpserted, res.DatesUpserted, res.FactsRebuilt, res.SkippedRecords)
		return nil
	},
}

func init() {
	transformCmd.Flags().BoolVar(&transformFull, "full", false, "rebuild facts for the entire raw layer")
	transformCmd.Flags().Int64SliceVar(&transformIDs, "ids", nil, "rebuild facts only for these message ids")
	rootCmd.AddCommand(transformCmd)
}
