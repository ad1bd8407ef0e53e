package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"
)

// ClipNorm rescales the gradients of nodes in place so that their
// global L2 norm does not exceed maxNorm, returning the norm before
// clipping. A non-positive maxNorm disables clipping, and the norm is
// returned unchanged.
func ClipNorm(nodes G.Nodes, maxNorm float64) (float64, error) {
	grads := make([][]float64, len(nodes))
	sumSquares := 0.0
	for i, node := range nodes {
		grad, err := node.Grad()
		if err != nil {
			return 0, fmt.Errorf("clipNorm: could not get gradient of %v: %v",
				node.Name(), err)
		}
		gradData, ok := grad.Data().([]float64)
		if !ok {
			return 0, fmt.Errorf("clipNorm: gradient of %v is not []float64",
				node.Name())
		}
		grads[i] = gradData
		sumSquares += floats.Dot(gradData, gradData)
	}
	norm := math.Sqrt(sumSquares)

	if maxNorm <= 0 || norm <= maxNorm {
		return norm, nil
	}

	scale := maxNorm / norm
	for _, gradData := range grads {
		floats.Scale(scale, gradData)
	}
	return norm, nil
}
