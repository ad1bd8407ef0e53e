// Package solver implements gradient-based optimizers for updating
// network parameters, together with gradient clipping and learning
// rate schedules.
package solver

import (
	"encoding/json"
	"fmt"
	"reflect"

	G "gorgonia.org/gorgonia"
)

// Type of solver
type Type string

// Available solver types
const (
	Adam Type = "Adam"
)

// Solver updates the parameters of neural networks given the gradients
// of the network parameters. Unlike a one-shot gradient descent step,
// a Solver carries its own state (step counts, moment estimates)
// between calls to Step, and that state survives across different
// computation-graph views of the same parameters.
type Solver struct {
	updater
	Config
}

// updater is the internal interface a concrete solver implements.
type updater interface {
	// Step updates the values of the parameters in nodes using their
	// accumulated gradients. Parameter values are mutated in place.
	Step(nodes G.Nodes) error

	// SetStepSize changes the learning rate for subsequent steps.
	SetStepSize(stepSize float64)

	// StepSize returns the current learning rate.
	StepSize() float64
}

// NewSolver returns a new solver as described by the configuration c.
func NewSolver(c Config) (*Solver, error) {
	updater, err := c.Create()
	if err != nil {
		return nil, fmt.Errorf("newSolver: %v", err)
	}
	return &Solver{updater, c}, nil
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (s *Solver) UnmarshalJSON(data []byte) error {
	config, err := unmarshalConfig(
		data,
		"Type",
		"Config",
		map[string]reflect.Type{
			string(Adam): reflect.TypeOf(AdamConfig{}),
		},
	)
	if err != nil {
		return err
	}

	s.Config = config
	s.updater, err = config.Create()
	return err
}

// MarshalJSON implements the json.Marshaler interface
func (s *Solver) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   Type
		Config Config
	}{
		Type:   s.Type(),
		Config: s.Config,
	})
}

// Config represents a configuration of a solver
type Config interface {
	// Create returns the solver described by the Config
	Create() (updater, error)

	// Type returns the type of solver the Config describes
	Type() Type
}

// unmarshalConfig uses reflection to unmarshal a solver Config from a
// JSON stream holding the type key and the configuration under the
// given field names.
func unmarshalConfig(data []byte, typeField, configField string,
	configTypes map[string]reflect.Type) (Config, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var typeName string
	if err := json.Unmarshal(raw[typeField], &typeName); err != nil {
		return nil, err
	}

	configType, ok := configTypes[typeName]
	if !ok {
		return nil, fmt.Errorf("unmarshalConfig: no such solver type %v",
			typeName)
	}

	configValue := reflect.New(configType)
	if err := json.Unmarshal(
		raw[configField],
		configValue.Interface(),
	); err != nil {
		return nil, err
	}

	config, ok := configValue.Elem().Interface().(Config)
	if !ok {
		return nil, fmt.Errorf("unmarshalConfig: %T is not a valid solver "+
			"config", configValue.Elem().Interface())
	}
	return config, nil
}
