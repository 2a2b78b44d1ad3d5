// Package pipeline orchestrates the ingestion run: collect scraped batches,
// load them into the raw layer, derive the marts, enrich images, and fold
// the enrichment back into the marts. Each run walks an explicit state
// machine and is recorded in the ops run log.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tena-analytics/warehouse-cli/internal/config"
	"github.com/tena-analytics/warehouse-cli/internal/enricher"
	"github.com/tena-analytics/warehouse-cli/internal/model"
	"github.com/tena-analytics/warehouse-cli/internal/rawstore"
	"github.com/tena-analytics/warehouse-cli/internal/resilience"
)

// Loader loads raw messages into the warehouse.
type Loader interface {
	Load(ctx context.Context, msgs []model.RawMessage) (model.LoadResult, error)
}

// Transformer derives the marts layer.
type Transformer interface {
	Transform(ctx context.Context, scope model.TransformScope) (model.TransformResult, error)
	FactCount(ctx context.Context) (int64, error)
}

// Enricher runs the image enrichment pass.
type Enricher interface {
	Enrich(ctx context.Context, opts enricher.Options) (model.EnrichResult, error)
}

// RunRecorder persists run state transitions and outcomes.
type RunRecorder interface {
	Start(ctx context.Context, runID, pipeline string) error
	SetState(ctx context.Context, runID string, state model.RunState) error
	Complete(ctx context.Context, runID string, result *model.RunResult) error
	Fail(ctx context.Context, runID string, stage model.Stage, errMsg string) error
}

// Options tune a single run.
type Options struct {
	// Full forces a full transform and re-enriches every image.
	Full bool
}

// Pipeline wires the stages together.
type Pipeline struct {
	cfg      *config.Config
	loader   Loader
	trans    Transformer
	enrich   Enricher
	runlog   RunRecorder
	retryCfg resilience.RetryConfig
	log      *zap.Logger
}

// New creates a Pipeline from its stage implementations.
func New(cfg *config.Config, l Loader, t Transformer, e Enricher, rl RunRecorder) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		loader: l,
		trans:  t,
		enrich: e,
		runlog: rl,
		retryCfg: resilience.RetryConfig{
			MaxAttempts:    cfg.Pipeline.MaxAttempts,
			InitialBackoff: time.Duration(cfg.Pipeline.InitialBackoffMS) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.Pipeline.MaxBackoffSecs) * time.Second,
		},
		log: zap.L().With(zap.String("component", "pipeline"), zap.String("pipeline", cfg.Pipeline.Name)),
	}
}

// Start launches a run in the background and returns its id, or
// ErrRunInProgress when another run holds the lock.
func (p *Pipeline) Start(ctx context.Context, opts Options) (string, error) {
	release, err := tryAcquire(p.cfg.Pipeline.Name)
	if err != nil {
		return "", err
	}

	runID := uuid.NewString()
	go func() {
		defer release()
		if _, err := p.run(context.WithoutCancel(ctx), runID, opts); err != nil {
			p.log.Error("background run failed", zap.String("run_id", runID), zap.Error(err))
		}
	}()
	return runID, nil
}

// RunNow executes one run synchronously and returns its summary. The
// returned result is non-nil even when the run fails partway.
func (p *Pipeline) RunNow(ctx context.Context, opts Options) (*model.RunResult, error) {
	release, err := tryAcquire(p.cfg.Pipeline.Name)
	if err != nil {
		return nil, err
	}
	defer release()
	return p.run(ctx, uuid.NewString(), opts)
}

func (p *Pipeline) run(ctx context.Context, runID string, opts Options) (*model.RunResult, error) {
	log := p.log.With(zap.String("run_id", runID))
	log.Info("run starting", zap.Bool("full", opts.Full))

	result := &model.RunResult{
		RunID:     runID,
		Pipeline:  p.cfg.Pipeline.Name,
		State:     model.RunStatePending,
		StartedAt: time.Now().UTC(),
	}

	if err := p.runlog.Start(ctx, runID, p.cfg.Pipeline.Name); err != nil {
		return result, err
	}

	advance := func(ctx context.Context) error {
		next, err := nextState(result.State)
		if err != nil {
			return err
		}
		result.State = next
		if err := p.runlog.SetState(ctx, runID, next); err != nil {
			log.Warn("failed to record state", zap.String("state", string(next)), zap.Error(err))
		}
		return nil
	}

	fail := func(stage model.Stage, err error) (*model.RunResult, error) {
		result.State = model.RunStateFailed
		result.FailedStage = stage
		result.CompletedAt = time.Now().UTC()
		if logErr := p.runlog.Fail(ctx, runID, stage, err.Error()); logErr != nil {
			log.Warn("failed to record failure", zap.Error(logErr))
		}
		log.Error("run failed", zap.String("stage", string(stage)), zap.Error(err))
		return result, err
	}

	var (
		collected []model.RawMessage
		loadRes   model.LoadResult
		enrichRes model.EnrichResult
	)

	stages := []struct {
		stage model.Stage
		skip  func() (bool, string)
		fn    func(ctx context.Context) (map[string]any, error)
	}{
		{
			stage: model.StageCollect,
			fn: func(ctx context.Context) (map[string]any, error) {
				msgs, badFiles, err := rawstore.ReadAll(p.cfg.Scrape.MessagesDir)
				if err != nil {
					return nil, err
				}
				collected = msgs
				return map[string]any{"messages": len(msgs), "bad_files": len(badFiles)}, nil
			},
		},
		{
			stage: model.StageLoad,
			fn: func(ctx context.Context) (map[string]any, error) {
				res, err := p.loader.Load(ctx, collected)
				if err != nil {
					return nil, err
				}
				loadRes = res
				return map[string]any{"inserted": res.Inserted, "skipped": res.Skipped}, nil
			},
		},
		{
			stage: model.StageTransform,
			fn: func(ctx context.Context) (map[string]any, error) {
				scope, err := p.transformScope(ctx, opts, loadRes.InsertedIDs)
				if err != nil {
					return nil, err
				}
				res, err := p.trans.Transform(ctx, scope)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"full":          scope.Full,
					"facts_rebuilt": res.FactsRebuilt,
					"skipped":       res.SkippedRecords,
				}, nil
			},
		},
		{
			stage: model.StageEnrich,
			fn: func(ctx context.Context) (map[string]any, error) {
				res, err := p.enrich.Enrich(ctx, enricher.Options{
					Full:    opts.Full,
					Workers: p.cfg.Enrich.Workers,
				})
				if err != nil {
					return nil, err
				}
				enrichRes = res
				return map[string]any{
					"processed":  res.Processed,
					"unreadable": res.UnreadableImages,
				}, nil
			},
		},
		{
			stage: model.StageRetransform,
			skip: func() (bool, string) {
				if len(enrichRes.AffectedIDs) == 0 {
					return true, "no detections changed"
				}
				return false, ""
			},
			fn: func(ctx context.Context) (map[string]any, error) {
				res, err := p.trans.Transform(ctx, model.IncrementalScope(enrichRes.AffectedIDs))
				if err != nil {
					return nil, err
				}
				return map[string]any{"facts_rebuilt": res.FactsRebuilt}, nil
			},
		},
	}

	for _, s := range stages {
		// Cancellation is honored at stage boundaries; in-flight work finishes.
		if err := ctx.Err(); err != nil {
			return fail(s.stage, eris.Wrap(err, "pipeline: cancelled before stage"))
		}

		sr := model.StageResult{Stage: s.stage}

		if s.skip != nil {
			if skip, reason := s.skip(); skip {
				sr.Skipped = true
				log.Info("stage skipped", zap.String("stage", string(s.stage)), zap.String("reason", reason))
				result.Stages = append(result.Stages, sr)
				if err := advance(ctx); err != nil {
					return fail(s.stage, err)
				}
				continue
			}
		}

		start := time.Now()
		retryCfg := p.retryCfg
		retryCfg.OnRetry = resilience.RetryLogger(p.cfg.Pipeline.Name, string(s.stage))

		var counts map[string]any
		err := resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
			sr.Attempts++
			var stageErr error
			counts, stageErr = s.fn(ctx)
			return stageErr
		})
		sr.Duration = time.Since(start).Milliseconds()
		sr.Counts = counts

		if err != nil {
			sr.Error = err.Error()
			result.Stages = append(result.Stages, sr)
			return fail(s.stage, err)
		}

		result.Stages = append(result.Stages, sr)
		log.Info("stage complete",
			zap.String("stage", string(s.stage)),
			zap.Int("attempts", sr.Attempts),
			zap.Int64("duration_ms", sr.Duration),
		)

		if err := advance(ctx); err != nil {
			return fail(s.stage, err)
		}
	}

	// RETRANSFORMED -> COMPLETE has no stage of its own.
	if err := advance(ctx); err != nil {
		return fail(model.StageRetransform, err)
	}
	result.CompletedAt = time.Now().UTC()

	if err := p.runlog.Complete(ctx, runID, result); err != nil {
		log.Warn("failed to record completion", zap.Error(err))
	}
	log.Info("run complete", zap.Int("stages", len(result.Stages)))
	return result, nil
}

// transformScope picks FULL on an explicit request or a cold warehouse,
// otherwise INCREMENTAL over the ids the load pass inserted.
func (p *Pipeline) transformScope(ctx context.Context, opts Options, insertedIDs []int64) (model.TransformScope, error) {
	if opts.Full {
		return model.FullScope(), nil
	}
	n, err := p.trans.FactCount(ctx)
	if err != nil {
		return model.TransformScope{}, err
	}
	if n == 0 {
		return model.FullScope(), nil
	}
	return model.IncrementalScope(insertedIDs), nil
}
