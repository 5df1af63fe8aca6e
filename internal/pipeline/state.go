package pipeline

import (
	"errors"
	"fmt"

	"github.com/dreamware/mapred/internal/metrics"
)

// State is a step of the pipeline state machine:
//
//	Idle → Splitting → Mapping → ReduceBarrierCheck → Reducing → Done
//
// with Aborted reachable from Splitting, ReduceBarrierCheck and Reducing.
type State string

const (
	StateIdle               State = "idle"
	StateSplitting          State = "splitting"
	StateMapping            State = "mapping"
	StateReduceBarrierCheck State = "reduce_barrier_check"
	StateReducing           State = "reducing"
	StateDone               State = "done"
	StateAborted            State = "aborted"
)

var transitions = map[State][]State{
	StateIdle:               {StateSplitting},
	StateSplitting:          {StateMapping, StateAborted},
	StateMapping:            {StateReduceBarrierCheck},
	StateReduceBarrierCheck: {StateReducing, StateAborted},
	StateReducing:           {StateDone, StateAborted},
}

// CanTransition reports whether from → to is a legal step. Nothing leaves a
// terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// ErrAborted is matched by every *AbortError.
var ErrAborted = errors.New("pipeline aborted")

// AbortError ends a run without a usable result. Phase names where the run
// stopped; FailedChunks is set for map-phase aborts.
type AbortError struct {
	Err          error
	Phase        metrics.Phase
	FailedChunks []int
}

func (e *AbortError) Error() string {
	if len(e.FailedChunks) > 0 {
		return fmt.Sprintf("pipeline aborted in %s phase: %d chunk(s) permanently failed: %v",
			e.Phase, len(e.FailedChunks), e.FailedChunks)
	}
	return fmt.Sprintf("pipeline aborted in %s phase: %v", e.Phase, e.Err)
}

// Is makes errors.Is(err, ErrAborted) true for every AbortError.
func (e *AbortError) Is(target error) bool { return target == ErrAborted }

func (e *AbortError) Unwrap() error { return e.Err }
