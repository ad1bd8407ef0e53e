package ppo

import (
	"fmt"

	"github.com/TeaganLi/lagom/agent"
	"github.com/TeaganLi/lagom/agent/policy"
	"github.com/TeaganLi/lagom/environment"
	"github.com/TeaganLi/lagom/network"
)

// settings holds the hyperparameters common to all PPO variants.
type settings struct {
	Layers            []int
	PolicyLR          float64
	ValueLR           float64
	UseLRSchedule     bool
	ScheduleTimesteps int
	Gamma             float64
	Lambda            float64
	ClipEps           float64
	MaxGradNorm       float64
	StandardizeAdv    bool
	BatchSize         int
	Epochs            int
}

// validate returns an error describing the first invalid
// hyperparameter, if any.
func (s settings) validate() error {
	if len(s.Layers) == 0 {
		return fmt.Errorf("networks require at least one hidden layer")
	}
	for _, size := range s.Layers {
		if size <= 0 {
			return fmt.Errorf("hidden layer sizes must be positive")
		}
	}
	if s.PolicyLR <= 0 || s.ValueLR <= 0 {
		return fmt.Errorf("learning rates must be positive")
	}
	if s.UseLRSchedule && s.ScheduleTimesteps <= 0 {
		return fmt.Errorf("schedule horizon must be positive")
	}
	if s.Gamma < 0 || s.Gamma > 1 {
		return fmt.Errorf("discount must be in [0, 1]")
	}
	if s.Lambda < 0 || s.Lambda > 1 {
		return fmt.Errorf("advantage decay must be in [0, 1]")
	}
	if s.ClipEps <= 0 {
		return fmt.Errorf("clipping radius must be positive")
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if s.Epochs <= 0 {
		return fmt.Errorf("number of epochs must be positive")
	}
	return nil
}

// CategoricalConfig implements a configuration for a PPO agent with a
// softmax policy over a discrete action space.
type CategoricalConfig struct {
	// Layers holds the hidden layer sizes of the policy and critic
	// networks.
	Layers []int

	PolicyLR float64
	ValueLR  float64

	// UseLRSchedule linearly anneals the policy learning rate to
	// nearly zero over ScheduleTimesteps environment timesteps.
	UseLRSchedule     bool
	ScheduleTimesteps int

	Gamma          float64
	Lambda         float64
	ClipEps        float64
	MaxGradNorm    float64
	StandardizeAdv bool
	BatchSize      int
	Epochs         int
}

// Validate implements the agent.Config interface
func (c CategoricalConfig) Validate() error {
	if err := c.settings().validate(); err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	return nil
}

// ValidAgent implements the agent.Config interface
func (c CategoricalConfig) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*PPO)
	return ok
}

// CreateAgent implements the agent.Config interface
func (c CategoricalConfig) CreateAgent(env environment.Environment,
	seed uint64) (agent.Agent, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("createAgent: %v", err)
	}

	pol, err := policy.NewCategoricalMLP(env, c.Layers,
		tanhActivations(len(c.Layers)), seed)
	if err != nil {
		return nil, fmt.Errorf("createAgent: could not create policy: %v",
			err)
	}

	p, err := newPPO(env, pol, c.settings(), seed)
	if err != nil {
		return nil, fmt.Errorf("createAgent: %v", err)
	}
	return p, nil
}

func (c CategoricalConfig) settings() settings {
	return settings{
		Layers:            c.Layers,
		PolicyLR:          c.PolicyLR,
		ValueLR:           c.ValueLR,
		UseLRSchedule:     c.UseLRSchedule,
		ScheduleTimesteps: c.ScheduleTimesteps,
		Gamma:             c.Gamma,
		Lambda:            c.Lambda,
		ClipEps:           c.ClipEps,
		MaxGradNorm:       c.MaxGradNorm,
		StandardizeAdv:    c.StandardizeAdv,
		BatchSize:         c.BatchSize,
		Epochs:            c.Epochs,
	}
}

// GaussianConfig implements a configuration for a PPO agent with a
// diagonal Gaussian policy over a continuous action space.
type GaussianConfig struct {
	Layers []int

	// InitStd is the initial standard deviation of every action
	// dimension.
	InitStd float64

	PolicyLR float64
	ValueLR  float64

	UseLRSchedule     bool
	ScheduleTimesteps int

	Gamma          float64
	Lambda         float64
	ClipEps        float64
	MaxGradNorm    float64
	StandardizeAdv bool
	BatchSize      int
	Epochs         int
}

// Validate implements the agent.Config interface
func (c GaussianConfig) Validate() error {
	if c.InitStd <= 0 {
		return fmt.Errorf("validate: initial standard deviation must be " +
			"positive")
	}
	if err := c.settings().validate(); err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	return nil
}

// ValidAgent implements the agent.Config interface
func (c GaussianConfig) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*PPO)
	return ok
}

// CreateAgent implements the agent.Config interface
func (c GaussianConfig) CreateAgent(env environment.Environment,
	seed uint64) (agent.Agent, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("createAgent: %v", err)
	}

	pol, err := policy.NewGaussianMLP(env, c.Layers,
		tanhActivations(len(c.Layers)), c.InitStd, seed)
	if err != nil {
		return nil, fmt.Errorf("createAgent: could not create policy: %v",
			err)
	}

	p, err := newPPO(env, pol, c.settings(), seed)
	if err != nil {
		return nil, fmt.Errorf("createAgent: %v", err)
	}
	return p, nil
}

func (c GaussianConfig) settings() settings {
	return settings{
		Layers:            c.Layers,
		PolicyLR:          c.PolicyLR,
		ValueLR:           c.ValueLR,
		UseLRSchedule:     c.UseLRSchedule,
		ScheduleTimesteps: c.ScheduleTimesteps,
		Gamma:             c.Gamma,
		Lambda:            c.Lambda,
		ClipEps:           c.ClipEps,
		MaxGradNorm:       c.MaxGradNorm,
		StandardizeAdv:    c.StandardizeAdv,
		BatchSize:         c.BatchSize,
		Epochs:            c.Epochs,
	}
}

func tanhActivations(n int) []*network.Activation {
	activations := make([]*network.Activation, n)
	for i := range activations {
		activations[i] = network.TanH()
	}
	return activations
}
