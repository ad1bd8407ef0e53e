// Package environment describes the observation and action spaces that
// agents are constructed against.
package environment

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SpecType determines what kind of specification a Spec is. A Spec can
// specify the layout of an action or an observation.
type SpecType int

const (
	Action SpecType = iota
	Observation
)

// Cardinality determines the cardinality of a space (discrete or
// continuous)
type Cardinality string

const (
	Continuous Cardinality = "Continuous"
	Discrete   Cardinality = "Discrete"
)

// Spec implements an environment specification, which tells the type,
// shape, and bounds of an action or observation in an environment.
//
// For a Discrete action Spec, the number of available actions is
// UpperBound.AtVec(0) + 1 and the Shape has length 1. For a Continuous
// action Spec, Shape.Len() is the dimensionality of the action vector.
type Spec struct {
	Shape      mat.Vector
	Type       SpecType
	LowerBound mat.Vector
	UpperBound mat.Vector
	Cardinality
}

// NewSpec constructs a new environment specification. The shape
// argument outlines the shape of the data described by the
// specification. The argument t outlines what the specification is
// describing. The cardinality argument describes whether the values
// that the spec describes are continuous or discrete.
func NewSpec(shape mat.Vector, t SpecType, lowerBound,
	upperBound mat.Vector, cardinality Cardinality) Spec {
	if shape.Len() != lowerBound.Len() {
		panic(fmt.Sprintf("shape length %v must match lower bounds length %v",
			shape.Len(), lowerBound.Len()))
	}
	if shape.Len() != upperBound.Len() {
		panic(fmt.Sprintf("shape length %v must match upper bounds length %v",
			shape.Len(), upperBound.Len()))
	}
	return Spec{shape, t, lowerBound, upperBound, cardinality}
}

// NumActions returns the number of discrete actions described by an
// action Spec. It panics if the Spec does not describe a discrete
// action space.
func (s Spec) NumActions() int {
	if s.Type != Action || s.Cardinality != Discrete {
		panic("numActions: spec does not describe a discrete action space")
	}
	return int(s.UpperBound.AtVec(0)) + 1
}

// Environment is the narrow view of an environment that agents consume:
// the space descriptions needed to size their function approximators.
// Trajectory collection against the environment happens elsewhere.
type Environment interface {
	ObservationSpec() Spec
	ActionSpec() Spec
}

// ObsNormalizer is an optional capability of environments that apply
// running observation standardization. Agents that checkpoint query for
// it with a type assertion and, when present, persist the running
// moments alongside the network weights.
type ObsNormalizer interface {
	// ObservationMoments returns the running mean and variance of
	// observations seen so far.
	ObservationMoments() (mean, variance []float64)
}
