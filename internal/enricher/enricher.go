// Package enricher runs object detection over the images referenced by
// loaded messages and writes the results into marts.image_detections.
// Detection results for a message are replaced as a whole set, never
// appended, so re-enriching a message cannot mix runs.
package enricher

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tena-analytics/warehouse-cli/internal/db"
	"github.com/tena-analytics/warehouse-cli/internal/model"
	"github.com/tena-analytics/warehouse-cli/pkg/vision"
)

const targetsPendingSQL = `
	SELECT f.message_id, trim(r.channel_name), r.image_path
	FROM marts.fct_messages f
	JOIN raw.telegram_messages r ON r.message_id = f.message_id
	WHERE r.image_path IS NOT NULL AND trim(r.image_path) <> ''
	  AND NOT EXISTS (
		SELECT 1 FROM marts.image_detections d WHERE d.message_id = f.message_id
	  )
	ORDER BY f.message_id`

const targetsAllSQL = `
	SELECT f.message_id, trim(r.channel_name), r.image_path
	FROM marts.fct_messages f
	JOIN raw.telegram_messages r ON r.message_id = f.message_id
	WHERE r.image_path IS NOT NULL AND trim(r.image_path) <> ''
	ORDER BY f.message_id`

// errMissingFact signals that a target's fact row disappeared between
// target selection and the replacement transaction.
var errMissingFact = eris.New("enricher: fact row missing for message")

// Detector is the slice of the vision client the enricher needs.
type Detector interface {
	Detect(ctx context.Context, path string) ([]vision.Detection, error)
}

// Options tune one enrichment pass.
type Options struct {
	// Full re-enriches every image-bearing message instead of only the
	// not-yet-enriched ones.
	Full bool
	// Workers bounds concurrent detection calls. Zero means 4.
	Workers int
}

// Enricher drives detection and categorization for image-bearing messages.
type Enricher struct {
	pool     db.Pool
	detector Detector
	sets     ClassSets
	log      *zap.Logger
}

// New creates an Enricher.
func New(pool db.Pool, detector Detector, sets ClassSets) *Enricher {
	return &Enricher{
		pool:     pool,
		detector: detector,
		sets:     sets,
		log:      zap.L().With(zap.String("component", "enricher")),
	}
}

// Targets returns the image-bearing messages an enrichment pass would
// cover. With full set, already-enriched messages are included again.
func (e *Enricher) Targets(ctx context.Context, full bool) ([]model.ImageTarget, error) {
	sql := targetsPendingSQL
	if full {
		sql = targetsAllSQL
	}
	rows, err := e.pool.Query(ctx, sql)
	if err != nil {
		return nil, eris.Wrap(err, "enricher: query targets")
	}
	defer rows.Close()

	var targets []model.ImageTarget
	for rows.Next() {
		var t model.ImageTarget
		if err := rows.Scan(&t.MessageID, &t.ChannelName, &t.ImagePath); err != nil {
			return nil, eris.Wrap(err, "enricher: scan target")
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// Enrich runs one pass: detect, categorize, and atomically replace the
// detection set for each target. Unreadable images and detector errors are
// contained per image; store failures abort the pass.
func (e *Enricher) Enrich(ctx context.Context, opts Options) (model.EnrichResult, error) {
	var res model.EnrichResult

	targets, err := e.Targets(ctx, opts.Full)
	if err != nil {
		return res, err
	}
	if len(targets) == 0 {
		e.log.Info("no images awaiting enrichment")
		return res, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, target := range targets {
		t := target
		g.Go(func() error {
			dets, err := e.detector.Detect(gctx, t.ImagePath)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.log.Warn("image skipped",
					zap.Int64("message_id", t.MessageID),
					zap.String("image_path", t.ImagePath),
					zap.Error(err),
				)
				mu.Lock()
				res.UnreadableImages++
				mu.Unlock()
				return nil
			}

			written, err := e.replaceDetections(gctx, t, dets)
			if errors.Is(err, errMissingFact) {
				e.log.Warn("fact row missing, detections dropped",
					zap.Int64("message_id", t.MessageID))
				mu.Lock()
				res.ConsistencyFailures++
				mu.Unlock()
				return nil
			}
			if err != nil {
				return err
			}

			mu.Lock()
			res.Processed++
			res.DetectionRowsWritten += written
			res.AffectedIDs = append(res.AffectedIDs, t.MessageID)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, eris.Wrap(err, "enricher: enrich pass")
	}

	sort.Slice(res.AffectedIDs, func(i, j int) bool { return res.AffectedIDs[i] < res.AffectedIDs[j] })

	e.log.Info("enrichment complete",
		zap.Int("targets", len(targets)),
		zap.Int("processed", res.Processed),
		zap.Int("detection_rows", res.DetectionRowsWritten),
		zap.Int("unreadable", res.UnreadableImages),
		zap.Int("consistency_failures", res.ConsistencyFailures),
	)
	return res, nil
}

// replaceDetections swaps the detection set for one message inside a single
// transaction. Zero detections still replaces: the old set is deleted and
// nothing is written back.
func (e *Enricher) replaceDetections(ctx context.Context, t model.ImageTarget, dets []vision.Detection) (int, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "enricher: begin tx")
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM marts.fct_messages WHERE message_id = $1)`,
		t.MessageID,
	).Scan(&exists)
	if err != nil {
		return 0, eris.Wrap(err, "enricher: check fact row")
	}
	if !exists {
		return 0, errMissingFact
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM marts.image_detections WHERE message_id = $1`,
		t.MessageID,
	); err != nil {
		return 0, eris.Wrap(err, "enricher: delete prior detections")
	}

	classes := make([]string, len(dets))
	for i, d := range dets {
		classes[i] = d.Class
	}
	category := Categorize(classes, e.sets)

	for _, d := range dets {
		if _, err := tx.Exec(ctx,
			`INSERT INTO marts.image_detections
				(message_id, channel_name, detected_class, confidence_score, image_category)
			 VALUES ($1, $2, $3, $4, $5)`,
			t.MessageID, t.ChannelName, d.Class, d.Confidence, string(category),
		); err != nil {
			return 0, eris.Wrap(err, "enricher: insert detection")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "enricher: commit tx")
	}
	return len(dets), nil
}
