package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tena-analytics/warehouse-cli/internal/enricher"
)

var (
	enrichFull    bool
	enrichWorkers int
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run object detection over loaded images",
	Long:  "Detects objects in the images referenced by loaded messages, categorizes each image, and replaces its detection rows in marts.image_detections.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := warehousePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		workers := enrichWorkers
		if workers == 0 {
			workers = cfg.Enrich.Workers
		}

		sets := enricher.NewClassSets(cfg.Detector.PersonClasses, cfg.Detector.ProductClasses)
		res, err := enricher.New(pool, detectorClient(), sets).Enrich(ctx, enricher.Options{
			Full:    enrichFull,
			Workers: workers,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Enriched %d images (%d detection rows, %d unreadable, %d consistency failures)\n",
			res.Processed, res.DetectionRowsWritten, res.UnreadableImages, res.ConsistencyFailures)
		return nil
	},
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichFull, "full", false, "re-enrich every image-bearing message")
	enrichCmd.Flags().IntVar(&enrichWorkers, "workers", 0, "concurrent detection calls (default from config)")
	rootCmd.AddCommand(enrichCmd)
}
