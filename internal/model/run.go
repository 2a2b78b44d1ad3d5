package model

import "time"

// RunState is the orchestrator's position in the pipeline state machine.
type RunState string

const (
	RunStatePending       RunState = "pending"
	RunStateScrapeDone    RunState = "scrape_done"
	RunStateLoaded        RunState = "loaded"
	RunStateTransformed   RunState = "transformed"
	RunStateEnriched      RunState = "enriched"
	RunStateRetransformed RunState = "retransformed"
	RunStateComplete      RunState = "complete"
	RunStateFailed        RunState = "failed"
)

// Stage names one pipeline step with its own retry and idempotence contract.
type Stage string

const (
	StageCollect     Stage = "collect"
	StageLoad        Stage = "load"
	StageTransform   Stage = "transform"
	StageEnrich      Stage = "enrich"
	StageRetransform Stage = "retransform"
)

// StageResult holds the outcome of one stage within a run.
type StageResult struct {
	Stage    Stage          `json:"stage"`
	Attempts int            `json:"attempts"`
	Duration int64          `json:"duration_ms"`
	Skipped  bool           `json:"skipped,omitempty"`
	Error    string         `json:"error,omitempty"`
	Counts   map[string]any `json:"counts,omitempty"`
}

// RunResult is the final summary of a single pass through the state machine.
// A failed run reports the failing stage; a successful run reports per-stage
// counts.
type RunResult struct {
	RunID       string        `json:"run_id"`
	Pipeline    string        `json:"pipeline"`
	State       RunState      `json:"state"`
	FailedStage Stage         `json:"failed_stage,omitempty"`
	Stages      []StageResult `json:"stages"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}
