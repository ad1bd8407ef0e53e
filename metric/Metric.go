// Package metric computes bootstrapped returns and generalized
// advantage estimates from collected trajectories.
package metric

import (
	"fmt"

	"github.com/TeaganLi/lagom/trajectory"
)

// BootstrappedReturns computes the discounted return at every step of
// the trajectory, working backward from the final step:
//
//	Q_t = r_t + gamma * Q_{t+1}
//
// The recursion is seeded with lastValue when the trajectory was
// truncated mid-episode and with 0 when it ended in a true terminal
// state. The returned slice has length traj.Len().
func BootstrappedReturns(gamma float64, traj *trajectory.Trajectory,
	lastValue float64) ([]float64, error) {
	if !traj.Finished() {
		return nil, fmt.Errorf("bootstrappedReturns: trajectory not finished")
	}

	bootstrap := lastValue
	if traj.Terminal() {
		bootstrap = 0.0
	}

	rewards := traj.Rewards()
	out := make([]float64, len(rewards))
	next := bootstrap
	for t := len(rewards) - 1; t >= 0; t-- {
		next = rewards[t] + gamma*next
		out[t] = next
	}
	return out, nil
}

// GAE computes the generalized advantage estimate at every step of the
// trajectory: the exponentially-weighted sum of TD residuals
//
//	A_t = sum_{k>=0} (gamma*lambda)^k * delta_{t+k}
//	delta_t = r_t + gamma*V_{t+1} - V_t
//
// computed backward. The values argument holds the state-value estimate
// at each step of the trajectory; lastValue stands in for V_{T+1} and,
// analogous to BootstrappedReturns, is replaced by 0 for trajectories
// that ended in a true terminal state. The returned slice has length
// traj.Len().
func GAE(gamma, lambda float64, traj *trajectory.Trajectory,
	values []float64, lastValue float64) ([]float64, error) {
	if !traj.Finished() {
		return nil, fmt.Errorf("gae: trajectory not finished")
	}
	if len(values) != traj.Len() {
		return nil, fmt.Errorf("gae: illegal number of values "+
			"\n\twant(%v)\n\thave(%v)", traj.Len(), len(values))
	}

	nextValue := lastValue
	if traj.Terminal() {
		nextValue = 0.0
	}

	rewards := traj.Rewards()
	out := make([]float64, len(rewards))
	adv := 0.0
	for t := len(rewards) - 1; t >= 0; t-- {
		delta := rewards[t] + gamma*nextValue - values[t]
		adv = delta + gamma*lambda*adv
		out[t] = adv
		nextValue = values[t]
	}
	return out, nil
}
