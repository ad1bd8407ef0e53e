package solver

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// quadratic builds a graph with loss = mean(w^2) so that the gradient
// of w is w itself, and runs one forward-backward pass.
func quadratic(t *testing.T, weights []float64) (*G.Node, G.VM) {
	t.Helper()

	g := G.NewGraph()
	w := G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(len(weights)),
		G.WithName("w"),
		G.WithValue(tensor.New(
			tensor.WithShape(len(weights)),
			tensor.WithBacking(weights),
		)),
	)
	loss := G.Must(G.Mean(G.Must(G.Square(w))))
	if _, err := G.Grad(loss, w); err != nil {
		t.Fatal(err)
	}

	vm := G.NewTapeMachine(g, G.BindDualValues(w))
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	return w, vm
}

func TestAdamFirstStep(t *testing.T) {
	w, vm := quadratic(t, []float64{1, -1})
	defer vm.Close()

	stepSize := 0.05
	s, err := NewSolver(NewAdam(stepSize, AdamDefaultEpsilon))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Step(G.Nodes{w}); err != nil {
		t.Fatal(err)
	}

	// With bias correction, the first Adam step moves each weight by
	// approximately stepSize against the gradient sign.
	weights := w.Value().Data().([]float64)
	if math.Abs(weights[0]-(1-stepSize)) > 1e-6 {
		t.Errorf("expected %v, got %v", 1-stepSize, weights[0])
	}
	if math.Abs(weights[1]-(-1+stepSize)) > 1e-6 {
		t.Errorf("expected %v, got %v", -1+stepSize, weights[1])
	}
}

func TestAdamSetStepSize(t *testing.T) {
	w, vm := quadratic(t, []float64{2})
	defer vm.Close()

	s, err := NewSolver(NewAdam(0.1, AdamDefaultEpsilon))
	if err != nil {
		t.Fatal(err)
	}
	s.SetStepSize(0.01)
	if s.StepSize() != 0.01 {
		t.Fatalf("expected step size 0.01, got %v", s.StepSize())
	}

	if err := s.Step(G.Nodes{w}); err != nil {
		t.Fatal(err)
	}
	weights := w.Value().Data().([]float64)
	if math.Abs(weights[0]-(2-0.01)) > 1e-6 {
		t.Errorf("expected %v, got %v", 2-0.01, weights[0])
	}
}

func TestAdamInvalidConfig(t *testing.T) {
	if _, err := NewSolver(NewAdam(-1, AdamDefaultEpsilon)); err == nil {
		t.Error("expected error for negative step size")
	}
	if _, err := NewSolver(AdamConfig{StepSize: 0.1, Beta1: 1.5,
		Beta2: 0.999}); err == nil {
		t.Error("expected error for moment decay rate outside [0, 1)")
	}
}

func TestClipNorm(t *testing.T) {
	w, vm := quadratic(t, []float64{3, -4})
	defer vm.Close()

	// Gradients are [3, -4] with norm 5.
	norm, err := ClipNorm(G.Nodes{w}, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(norm-5) > 1e-10 {
		t.Errorf("expected pre-clip norm 5, got %v", norm)
	}

	grad, err := w.Grad()
	if err != nil {
		t.Fatal(err)
	}
	gradData := grad.Data().([]float64)
	clippedNorm := math.Hypot(gradData[0], gradData[1])
	if math.Abs(clippedNorm-1) > 1e-10 {
		t.Errorf("expected clipped norm 1, got %v", clippedNorm)
	}
}

func TestClipNormBelowMax(t *testing.T) {
	w, vm := quadratic(t, []float64{0.3, -0.4})
	defer vm.Close()

	norm, err := ClipNorm(G.Nodes{w}, 10.0)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(norm-0.5) > 1e-10 {
		t.Errorf("expected norm 0.5, got %v", norm)
	}

	grad, err := w.Grad()
	if err != nil {
		t.Fatal(err)
	}
	gradData := grad.Data().([]float64)
	if math.Abs(gradData[0]-0.3) > 1e-12 || math.Abs(gradData[1]+0.4) > 1e-12 {
		t.Errorf("gradients below the max norm must be unchanged, got %v",
			gradData)
	}
}

func TestLinearSchedule(t *testing.T) {
	schedule := NewLinearSchedule(3e-4, 1000)

	if rate := schedule.Rate(0); rate != 3e-4 {
		t.Errorf("expected base rate at t=0, got %v", rate)
	}
	if rate := schedule.Rate(500); math.Abs(rate-1.5e-4) > 1e-12 {
		t.Errorf("expected half the base rate at the midpoint, got %v", rate)
	}
	if rate := schedule.Rate(1000); rate != MinScheduledRate {
		t.Errorf("expected the floor at the horizon, got %v", rate)
	}
	if rate := schedule.Rate(2000); rate != MinScheduledRate {
		t.Errorf("expected the floor past the horizon, got %v", rate)
	}
}
