// Package trajectory implements recorded episode segments together with
// the policy and value statistics cached while acting.
package trajectory

import (
	"fmt"

	"github.com/TeaganLi/lagom/timestep"
	"gonum.org/v1/gonum/mat"
)

// Keys under which per-step cached auxiliaries can be looked up with
// Info().
const (
	LogProbKey = "action_logprob"
	EntropyKey = "entropy"
	ValueKey   = "V"
)

// Extra holds the statistics cached for a single step. They must be
// produced by the same policy and value snapshot that selected the
// step's action; an update consuming the trajectory treats them as the
// "old" statistics of its surrogate objectives.
type Extra struct {
	LogProb float64
	Entropy float64
	Value   float64
}

// Trajectory is an ordered episode or episode segment collected under a
// fixed behaviour policy. It records, per step, the observation, the
// action taken, the reward received, and the cached Extra statistics,
// together with the final (possibly non-terminal) observation used for
// bootstrapping. Once finished, a Trajectory is read-only.
type Trajectory struct {
	observations []*mat.VecDense
	actions      []*mat.VecDense
	rewards      []float64
	extras       []Extra

	lastObs  *mat.VecDense
	end      timestep.EndType
	finished bool
}

// New returns a new, empty Trajectory with capacity for n steps.
func New(n int) *Trajectory {
	return &Trajectory{
		observations: make([]*mat.VecDense, 0, n),
		actions:      make([]*mat.VecDense, 0, n),
		rewards:      make([]float64, 0, n),
		extras:       make([]Extra, 0, n),
	}
}

// Push appends one step to the trajectory.
func (t *Trajectory) Push(obs, action *mat.VecDense, reward float64,
	extra Extra) error {
	if t.finished {
		return fmt.Errorf("push: cannot add step to finished trajectory")
	}
	if obs == nil || action == nil {
		return fmt.Errorf("push: nil observation or action")
	}
	t.observations = append(t.observations, obs)
	t.actions = append(t.actions, action)
	t.rewards = append(t.rewards, reward)
	t.extras = append(t.extras, extra)
	return nil
}

// Finish seals the trajectory with its final observation and how the
// segment ended. The final observation is the state the environment was
// left in; it is bootstrapped from only when end == timestep.Truncated.
func (t *Trajectory) Finish(lastObs *mat.VecDense, end timestep.EndType) error {
	if t.finished {
		return fmt.Errorf("finish: trajectory already finished")
	}
	if end != timestep.Terminal && end != timestep.Truncated {
		return fmt.Errorf("finish: illegal end type %v", end)
	}
	if lastObs == nil {
		return fmt.Errorf("finish: nil last observation")
	}
	t.lastObs = lastObs
	t.end = end
	t.finished = true
	return nil
}

// Len returns the number of steps in the trajectory.
func (t *Trajectory) Len() int { return len(t.rewards) }

// Finished returns whether the trajectory has been sealed with Finish.
func (t *Trajectory) Finished() bool { return t.finished }

// Terminal returns whether the trajectory ended in a true terminal
// state, as opposed to being truncated mid-episode.
func (t *Trajectory) Terminal() bool {
	return t.finished && t.end == timestep.Terminal
}

// LastObservation returns the final observation of the trajectory.
func (t *Trajectory) LastObservation() *mat.VecDense { return t.lastObs }

// Observation returns the observation at step i.
func (t *Trajectory) Observation(i int) *mat.VecDense {
	return t.observations[i]
}

// Action returns the action taken at step i.
func (t *Trajectory) Action(i int) *mat.VecDense { return t.actions[i] }

// Rewards returns the per-step rewards. The returned slice is owned by
// the trajectory and must not be mutated.
func (t *Trajectory) Rewards() []float64 { return t.rewards }

// LogProbs returns the cached behaviour-policy log probability of each
// step's action.
func (t *Trajectory) LogProbs() []float64 {
	out := make([]float64, t.Len())
	for i, e := range t.extras {
		out[i] = e.LogProb
	}
	return out
}

// Entropies returns the cached policy entropy at each step.
func (t *Trajectory) Entropies() []float64 {
	out := make([]float64, t.Len())
	for i, e := range t.extras {
		out[i] = e.Entropy
	}
	return out
}

// Values returns the cached state-value estimate at each step.
func (t *Trajectory) Values() []float64 {
	out := make([]float64, t.Len())
	for i, e := range t.extras {
		out[i] = e.Value
	}
	return out
}

// Info returns the cached per-step auxiliary values stored under key.
// Recognized keys are LogProbKey, EntropyKey, and ValueKey.
func (t *Trajectory) Info(key string) ([]float64, error) {
	switch key {
	case LogProbKey:
		return t.LogProbs(), nil
	case EntropyKey:
		return t.Entropies(), nil
	case ValueKey:
		return t.Values(), nil
	default:
		return nil, fmt.Errorf("info: unknown key %q", key)
	}
}

// FlattenObservations returns all observations concatenated in step
// order as a single row-major backing slice of length Len() * features.
func (t *Trajectory) FlattenObservations() []float64 {
	if t.Len() == 0 {
		return nil
	}
	features := t.observations[0].Len()
	out := make([]float64, 0, t.Len()*features)
	for _, o := range t.observations {
		out = append(out, o.RawVector().Data...)
	}
	return out
}

// FlattenActions returns all actions concatenated in step order as a
// single row-major backing slice of length Len() * actionDims.
func (t *Trajectory) FlattenActions() []float64 {
	if t.Len() == 0 {
		return nil
	}
	dims := t.actions[0].Len()
	out := make([]float64, 0, t.Len()*dims)
	for _, a := range t.actions {
		out = append(out, a.RawVector().Data...)
	}
	return out
}
