package main

import (
	"fmt"
	"log"

	"gonum.org/v1/gonum/mat"

	"github.com/TeaganLi/lagom/agent/ppo"
	"github.com/TeaganLi/lagom/environment"
	"github.com/TeaganLi/lagom/timestep"
	"github.com/TeaganLi/lagom/trajectory"
)

// chain is a small random-walk environment: five states laid out in a
// line, one-hot observations, and two actions that move the agent left
// or right. Reaching the right end pays 1 and terminates; episodes are
// cut off after 20 steps.
type chain struct {
	state int
	steps int
}

const (
	chainStates  = 5
	chainHorizon = 20
)

func (c *chain) ObservationSpec() environment.Spec {
	return environment.NewSpec(
		mat.NewVecDense(chainStates, nil),
		environment.Observation,
		mat.NewVecDense(chainStates, nil),
		onesVec(chainStates),
		environment.Continuous,
	)
}

func (c *chain) ActionSpec() environment.Spec {
	return environment.NewSpec(
		mat.NewVecDense(1, nil),
		environment.Action,
		mat.NewVecDense(1, nil),
		mat.NewVecDense(1, []float64{1}),
		environment.Discrete,
	)
}

func (c *chain) Reset() *mat.VecDense {
	c.state = chainStates / 2
	c.steps = 0
	return c.observe()
}

func (c *chain) Step(action int) (float64, timestep.EndType, *mat.VecDense) {
	if action == 0 && c.state > 0 {
		c.state--
	} else if action == 1 {
		c.state++
	}
	c.steps++

	if c.state == chainStates-1 {
		return 1.0, timestep.Terminal, c.observe()
	}
	if c.steps >= chainHorizon {
		return 0.0, timestep.Truncated, c.observe()
	}
	return 0.0, timestep.Nil, c.observe()
}

func (c *chain) observe() *mat.VecDense {
	obs := mat.NewVecDense(chainStates, nil)
	obs.SetVec(c.state, 1.0)
	return obs
}

func onesVec(n int) *mat.VecDense {
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1.0
	}
	return mat.NewVecDense(n, ones)
}

func main() {
	var seed uint64 = 192382
	env := &chain{}

	config := ppo.CategoricalConfig{
		Layers:            []int{32},
		PolicyLR:          3e-4,
		ValueLR:           1e-3,
		UseLRSchedule:     true,
		ScheduleTimesteps: 10_000,
		Gamma:             0.99,
		Lambda:            0.95,
		ClipEps:           0.2,
		MaxGradNorm:       0.5,
		StandardizeAdv:    true,
		BatchSize:         32,
		Epochs:            4,
	}

	a, err := config.CreateAgent(env, seed)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	for iteration := 0; iteration < 100; iteration++ {
		var trajs []*trajectory.Trajectory
		for episode := 0; episode < 8; episode++ {
			traj := trajectory.New(chainHorizon)
			obs := env.Reset()

			for {
				out, err := a.ChooseAction(obs)
				if err != nil {
					log.Fatal(err)
				}

				reward, end, nextObs := env.Step(int(out.Action.AtVec(0)))
				err = traj.Push(obs, out.Action, reward, trajectory.Extra{
					LogProb: out.LogProb,
					Entropy: out.Entropy,
					Value:   out.Value,
				})
				if err != nil {
					log.Fatal(err)
				}

				if end != timestep.Nil {
					if err := traj.Finish(nextObs, end); err != nil {
						log.Fatal(err)
					}
					break
				}
				obs = nextObs
			}
			trajs = append(trajs, traj)
		}

		diagnostics, err := a.Learn(trajs)
		if err != nil {
			log.Fatal(err)
		}

		if (iteration+1)%10 == 0 {
			fmt.Printf("iteration %v  timesteps %v  policy loss %.4f  "+
				"value loss %.4f  entropy %.4f\n",
				iteration+1,
				a.TotalTimesteps(),
				diagnostics[ppo.PolicyLossKey],
				diagnostics[ppo.ValueLossKey],
				diagnostics[ppo.PolicyEntropyKey],
			)
		}
	}
}
