package network

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
)

// runView performs one forward pass of a view and returns the output.
func runView(t *testing.T, view *View, input []float64) []float64 {
	t.Helper()

	if err := view.SetInput(input); err != nil {
		t.Fatal(err)
	}
	vm := G.NewTapeMachine(view.Graph())
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	return view.Output().Data().([]float64)
}

func TestMLPLinearForward(t *testing.T) {
	net, err := NewMLP("net", 2, 1, nil, nil, G.Zeroes(), G.Zeroes())
	if err != nil {
		t.Fatal(err)
	}

	params := net.ParamTensors()
	copy(params[0].Data().([]float64), []float64{2, 3})
	copy(params[1].Data().([]float64), []float64{0.5})

	view, err := net.View(1)
	if err != nil {
		t.Fatal(err)
	}
	out := runView(t, view, []float64{1, 2})

	expected := 1*2 + 2*3 + 0.5
	if math.Abs(out[0]-float64(expected)) > 1e-12 {
		t.Errorf("expected %v, got %v", expected, out[0])
	}
}

func TestMLPTanhHidden(t *testing.T) {
	net, err := NewMLP("net", 1, 1, []int{1},
		[]*Activation{TanH()}, G.Zeroes(), G.Zeroes())
	if err != nil {
		t.Fatal(err)
	}

	params := net.ParamTensors()
	copy(params[0].Data().([]float64), []float64{1}) // hidden weight
	copy(params[2].Data().([]float64), []float64{1}) // head weight

	view, err := net.View(1)
	if err != nil {
		t.Fatal(err)
	}

	for _, x := range []float64{-2, -0.5, 0, 0.5, 2} {
		out := runView(t, view, []float64{x})
		if math.Abs(out[0]-math.Tanh(x)) > 1e-12 {
			t.Errorf("input %v: expected %v, got %v", x, math.Tanh(x),
				out[0])
		}
	}
}

// TestMLPViewsShareParameters checks that all views observe parameter
// changes immediately, since they are bound to the same canonical
// tensors.
func TestMLPViewsShareParameters(t *testing.T) {
	net, err := NewMLP("net", 1, 1, nil, nil, G.Zeroes(), G.Zeroes())
	if err != nil {
		t.Fatal(err)
	}

	single, err := net.View(1)
	if err != nil {
		t.Fatal(err)
	}
	double, err := net.View(2)
	if err != nil {
		t.Fatal(err)
	}

	weights := net.ParamTensors()[0].Data().([]float64)
	weights[0] = 3.0

	out1 := runView(t, single, []float64{2})
	if out1[0] != 6.0 {
		t.Errorf("batch-1 view: expected 6, got %v", out1[0])
	}

	out2 := runView(t, double, []float64{2, -1})
	if out2[0] != 6.0 || out2[1] != -3.0 {
		t.Errorf("batch-2 view: expected [6 -3], got %v", out2)
	}

	// Mutate again; both existing views must see the new weights.
	weights[0] = -1.0
	out1 = runView(t, single, []float64{2})
	if out1[0] != -2.0 {
		t.Errorf("batch-1 view after update: expected -2, got %v", out1[0])
	}
}

func TestMLPInvalidArguments(t *testing.T) {
	if _, err := NewMLP("net", 0, 1, nil, nil, G.Zeroes(),
		G.Zeroes()); err == nil {
		t.Error("expected error for zero features")
	}
	if _, err := NewMLP("net", 2, 1, []int{4}, nil, G.Zeroes(),
		G.Zeroes()); err == nil {
		t.Error("expected error for mismatched activations")
	}

	net, err := NewMLP("net", 2, 1, nil, nil, G.Zeroes(), G.Zeroes())
	if err != nil {
		t.Fatal(err)
	}
	view, err := net.View(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := view.SetInput([]float64{1, 2, 3}); err == nil {
		t.Error("expected error for wrong input length")
	}
}
