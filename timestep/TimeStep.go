// Package timestep implements timesteps of the agent-environment interaction
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes the type of step that a TimeStep can be, either a first
// environmental step, a middle step, or a last step
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// EndType describes how an episode segment ended. A Terminal end means
// the environment reached a true terminal state; a Truncated end means
// the segment was cut off mid-episode, for example by a step limit.
// The two bootstrap differently when computing returns.
type EndType int

const (
	// Nil is the EndType of any step that does not end a segment.
	Nil EndType = iota
	Terminal
	Truncated
)

func (e EndType) String() string {
	switch e {
	case Terminal:
		return "Terminal"
	case Truncated:
		return "Truncated"
	default:
		return "Nil"
	}
}

// TimeStep packages together a single timestep in an environment
type TimeStep struct {
	stepType    StepType
	Reward      float64
	Discount    float64
	Observation *mat.VecDense
	Number      int
	End         EndType
}

// New returns a new TimeStep. The End argument is meaningful only when
// t == Last.
func New(t StepType, r, d float64, o *mat.VecDense, n int, e EndType) TimeStep {
	return TimeStep{t, r, d, o, n, e}
}

// First returns whether a TimeStep is the first in an episode
func (t *TimeStep) First() bool {
	return t.stepType == First
}

// Mid returns whether a TimeStep is a middle step in an episode
func (t *TimeStep) Mid() bool {
	return t.stepType == Mid
}

// Last returns whether a TimeStep is the last step in an episode segment
func (t *TimeStep) Last() bool {
	return t.stepType == Last
}

// TerminalEnd returns whether a TimeStep ends its episode in a true
// terminal state.
func (t *TimeStep) TerminalEnd() bool {
	return t.stepType == Last && t.End == Terminal
}

// TruncatedEnd returns whether a TimeStep cuts its episode off before a
// terminal state was reached.
func (t *TimeStep) TruncatedEnd() bool {
	return t.stepType == Last && t.End == Truncated
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  Reward:  %.2f  |  Discount: %.2f  |  " +
		"Step Number:  %v"

	return fmt.Sprintf(str, t.stepType, t.Reward, t.Discount, t.Number)
}
