// Package agent defines the interfaces satisfied by learning agents
// and their configurations.
package agent

import (
	"gonum.org/v1/gonum/mat"

	"github.com/TeaganLi/lagom/environment"
	"github.com/TeaganLi/lagom/trajectory"
)

// PolicyOutput holds everything a policy produces for a single
// observation: the sampled action together with the per-step learning
// statistics cached for later updates.
type PolicyOutput struct {
	// Action is the action to send to the environment.
	Action *mat.VecDense

	// LogProb is the log density or log mass of Action under the
	// policy conditioned on the observation.
	LogProb float64

	// Entropy of the conditional action distribution.
	Entropy float64

	// Value is the state-value estimate for the observation.
	Value float64
}

// Agent is a learner that selects actions and improves its policy
// from batches of collected trajectories.
type Agent interface {
	// ChooseAction samples an action for obs and returns it together
	// with the cached statistics for that decision.
	ChooseAction(obs *mat.VecDense) (*PolicyOutput, error)

	// Learn performs one learning update from a batch of finished
	// trajectories and returns scalar training diagnostics.
	Learn(trajectories []*trajectory.Trajectory) (map[string]float64, error)

	// TotalTimesteps returns the cumulative number of environment
	// timesteps the agent has learned from.
	TotalTimesteps() int

	// Checkpoint saves the agent's parameters under dir, tagged with
	// the training iteration.
	Checkpoint(dir string, iteration int) error

	// Close releases the agent's compute resources. The agent cannot
	// be used after Close is called.
	Close() error
}

// Config represents a configuration for creating an agent
type Config interface {
	// CreateAgent creates the agent that the Config describes
	CreateAgent(env environment.Environment, seed uint64) (Agent, error)

	// ValidAgent returns whether the argument agent is valid for the
	// Config.
	ValidAgent(a Agent) bool

	// Validate returns an error describing whether or not the
	// configuration is valid.
	Validate() error
}
