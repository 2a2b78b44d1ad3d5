package pipeline

import (
	"github.com/rotisserie/eris"

	"github.com/tena-analytics/warehouse-cli/internal/model"
)

// transitions is the legal forward edge for every non-terminal state.
// FAILED is absorbing and never appears as a source here; entering it is
// always legal from any running state.
var transitions = map[model.RunState]model.RunState{
	model.RunStatePending:       model.RunStateScrapeDone,
	model.RunStateScrapeDone:    model.RunStateLoaded,
	model.RunStateLoaded:        model.RunStateTransformed,
	model.RunStateTransformed:   model.RunStateEnriched,
	model.RunStateEnriched:      model.RunStateRetransformed,
	model.RunStateRetransformed: model.RunStateComplete,
}

// nextState returns the state that follows from in the pipeline order.
// Asking for the successor of a terminal state is a programming error.
func nextState(from model.RunState) (model.RunState, error) {
	next, ok := transitions[from]
	if !ok {
		return "", eris.Errorf("pipeline: no transition from state %q", from)
	}
	return next, nil
}
