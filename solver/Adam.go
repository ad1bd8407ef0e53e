package solver

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
)

// Default hyperparameters for the Adam solver
const (
	AdamDefaultBeta1   float64 = 0.9
	AdamDefaultBeta2   float64 = 0.999
	AdamDefaultEpsilon float64 = 1e-8
)

// AdamConfig implements a configuration for the Adam solver
type AdamConfig struct {
	StepSize float64
	Epsilon  float64
	Beta1    float64
	Beta2    float64
}

// NewAdam returns a new Adam solver configuration with the default
// moment decay rates.
func NewAdam(stepSize, epsilon float64) AdamConfig {
	return AdamConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Beta1:    AdamDefaultBeta1,
		Beta2:    AdamDefaultBeta2,
	}
}

// Create returns the Adam solver described by the configuration
func (a AdamConfig) Create() (updater, error) {
	if a.StepSize <= 0 {
		return nil, fmt.Errorf("create: step size must be positive")
	}
	if a.Beta1 < 0 || a.Beta1 >= 1 || a.Beta2 < 0 || a.Beta2 >= 1 {
		return nil, fmt.Errorf("create: moment decay rates must be in [0, 1)")
	}
	eps := a.Epsilon
	if eps <= 0 {
		eps = AdamDefaultEpsilon
	}
	return &adam{
		stepSize: a.StepSize,
		epsilon:  eps,
		beta1:    a.Beta1,
		beta2:    a.Beta2,
		m:        make(map[string][]float64),
		v:        make(map[string][]float64),
	}, nil
}

// Type returns the type of solver the configuration describes
func (a AdamConfig) Type() Type { return Adam }

// adam implements the Adam optimizer. Moment estimates are keyed on
// parameter node names so that they persist even when the parameters
// are rebound into a new computation graph.
type adam struct {
	stepSize float64
	epsilon  float64
	beta1    float64
	beta2    float64

	m, v map[string][]float64
	t    int
}

// Step updates the parameter values held in nodes in place using their
// accumulated gradients.
func (a *adam) Step(nodes G.Nodes) error {
	a.t++
	biasCorr1 := 1 - math.Pow(a.beta1, float64(a.t))
	biasCorr2 := 1 - math.Pow(a.beta2, float64(a.t))

	for _, node := range nodes {
		grad, err := node.Grad()
		if err != nil {
			return fmt.Errorf("step: could not get gradient of %v: %v",
				node.Name(), err)
		}
		gradData, ok := grad.Data().([]float64)
		if !ok {
			return fmt.Errorf("step: gradient of %v is not []float64",
				node.Name())
		}
		weights, ok := node.Value().Data().([]float64)
		if !ok {
			return fmt.Errorf("step: value of %v is not []float64",
				node.Name())
		}

		name := node.Name()
		if _, ok := a.m[name]; !ok {
			a.m[name] = make([]float64, len(weights))
			a.v[name] = make([]float64, len(weights))
		}
		m, v := a.m[name], a.v[name]
		if len(m) != len(weights) {
			return fmt.Errorf("step: parameter %v changed size\n\twant(%v)"+
				"\n\thave(%v)", name, len(m), len(weights))
		}

		for i, g := range gradData {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g
			v[i] = a.beta2*v[i] + (1-a.beta2)*g*g

			mHat := m[i] / biasCorr1
			vHat := v[i] / biasCorr2
			weights[i] -= a.stepSize * mHat / (math.Sqrt(vHat) + a.epsilon)
		}
	}
	return nil
}

// SetStepSize changes the learning rate used by subsequent steps,
// leaving the moment estimates intact.
func (a *adam) SetStepSize(stepSize float64) { a.stepSize = stepSize }

// StepSize returns the current learning rate.
func (a *adam) StepSize() float64 { return a.stepSize }
