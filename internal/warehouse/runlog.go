package warehouse

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tena-analytics/warehouse-cli/internal/db"
	"github.com/tena-analytics/warehouse-cli/internal/model"
)

// RunEntry represents a row in ops.pipeline_runs.
type RunEntry struct {
	ID          string         `json:"id"`
	Pipeline    string         `json:"pipeline"`
	State       model.RunState `json:"state"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Summary     map[string]any `json:"summary,omitempty"`
}

// RunLog provides read/write access to the ops.pipeline_runs table.
type RunLog struct {
	pool db.Pool
}

// NewRunLog creates a new RunLog backed by the given connection pool.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// Start records the beginning of a pipeline run.
func (l *RunLog) Start(ctx context.Context, runID, pipeline string) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO ops.pipeline_runs (id, pipeline, state, started_at)
		 VALUES ($1, $2, $3, now())`,
		runID, pipeline, string(model.RunStatePending),
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: start run %s", runID)
	}
	return nil
}

// SetState records a state machine transition for a run.
func (l *RunLog) SetState(ctx context.Context, runID string, state model.RunState) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE ops.pipeline_runs SET state = $1 WHERE id = $2`,
		string(state), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: set state for run %s", runID)
	}
	return nil
}

// Complete marks a run as successfully completed with its summary.
func (l *RunLog) Complete(ctx context.Context, runID string, result *model.RunResult) error {
	var summaryJSON []byte
	if result != nil {
		var err error
		summaryJSON, err = json.Marshal(result)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal summary")
		}
	}

	_, err := l.pool.Exec(ctx,
		`UPDATE ops.pipeline_runs
		 SET state = $1, completed_at = now(), summary = $2
		 WHERE id = $3`,
		string(model.RunStateComplete), summaryJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %s", runID)
	}
	return nil
}

// Fail marks a run as failed at the given stage.
func (l *RunLog) Fail(ctx context.Context, runID string, stage model.Stage, errMsg string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE ops.pipeline_runs
		 SET state = $1, completed_at = now(), error = $2
		 WHERE id = $3`,
		string(model.RunStateFailed)+"("+string(stage)+")", errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %s", runID)
	}
	return nil
}

// List returns run log entries ordered by most recent first.
func (l *RunLog) List(ctx context.Context, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, pipeline, state, started_at, completed_at, error, summary
		 FROM ops.pipeline_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var e RunEntry
		var state string
		var completedAt *time.Time
		var errStr *string
		var summaryJSON []byte
		if err := rows.Scan(&e.ID, &e.Pipeline, &state, &e.StartedAt, &completedAt, &errStr, &summaryJSON); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run entry")
		}
		e.State = model.RunState(state)
		e.CompletedAt = completedAt
		if errStr != nil {
			e.Error = *errStr
		}
		if summaryJSON != nil {
			_ = json.Unmarshal(summaryJSON, &e.Summary)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
