// Package network implements multi-layered perceptrons whose parameters
// are shared across any number of computation-graph views.
//
// Gorgonia graphs have static shapes, but policy-gradient agents need
// the same network at several batch sizes at once: batch 1 for action
// selection and bootstrapping, and the minibatch size (plus a possible
// ragged tail) during updates. An MLP therefore owns one canonical set
// of parameter tensors, and each View binds graph nodes to those
// tensors by pointer. An in-place parameter update made through any
// view is immediately visible to every other view.
package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MLP is a fully connected feed forward network with canonical
// parameter storage. The hidden layers use the activations supplied at
// construction; the output layer is always linear.
type MLP struct {
	name     string
	features int
	outputs  int

	hiddenSizes []int
	activations []*Activation

	// Canonical parameters, one weight matrix and one bias vector per
	// layer, including the output layer.
	weights []*tensor.Dense
	biases  []*tensor.Dense
}

// NewMLP returns a new MLP mapping features inputs to outputs outputs
// through len(hiddenSizes) hidden layers. Hidden-layer weights are
// initialized with hiddenInit and the output layer with headInit; all
// biases start at zero.
func NewMLP(name string, features, outputs int, hiddenSizes []int,
	activations []*Activation, hiddenInit, headInit G.InitWFn) (*MLP, error) {
	if features <= 0 || outputs <= 0 {
		return nil, fmt.Errorf("newMLP: features and outputs must be positive")
	}
	if len(hiddenSizes) != len(activations) {
		return nil, fmt.Errorf("newMLP: invalid number of activations"+
			"\n\twant(%d)\n\thave(%d)", len(hiddenSizes), len(activations))
	}

	sizes := append([]int{features}, hiddenSizes...)
	sizes = append(sizes, outputs)

	numLayers := len(sizes) - 1
	weights := make([]*tensor.Dense, numLayers)
	biases := make([]*tensor.Dense, numLayers)
	for l := 0; l < numLayers; l++ {
		in, out := sizes[l], sizes[l+1]

		init := hiddenInit
		if l == numLayers-1 {
			init = headInit
		}
		backing, ok := init(tensor.Float64, in, out).([]float64)
		if !ok {
			return nil, fmt.Errorf("newMLP: init function must produce "+
				"float64 weights for layer %d", l)
		}
		if len(backing) != in*out {
			return nil, fmt.Errorf("newMLP: init function produced %d "+
				"weights for layer %d, need %d", len(backing), l, in*out)
		}

		weights[l] = tensor.New(
			tensor.WithShape(in, out),
			tensor.WithBacking(backing),
		)
		biases[l] = tensor.New(
			tensor.WithShape(out),
			tensor.WithBacking(make([]float64, out)),
		)
	}

	return &MLP{
		name:        name,
		features:    features,
		outputs:     outputs,
		hiddenSizes: hiddenSizes,
		activations: activations,
		weights:     weights,
		biases:      biases,
	}, nil
}

// Name returns the name the MLP was constructed with. Parameter names
// are prefixed with it.
func (m *MLP) Name() string { return m.name }

// Features returns the number of features in a single input vector.
func (m *MLP) Features() int { return m.features }

// Outputs returns the number of values predicted per input vector.
func (m *MLP) Outputs() int { return m.outputs }

// ParamNames returns the canonical parameter names in a fixed order:
// weight then bias, layer by layer.
func (m *MLP) ParamNames() []string {
	names := make([]string, 0, 2*len(m.weights))
	for l := range m.weights {
		names = append(names, fmt.Sprintf("%v/layer%d/W", m.name, l))
		names = append(names, fmt.Sprintf("%v/layer%d/b", m.name, l))
	}
	return names
}

// ParamTensors returns the canonical parameter tensors in the same
// order as ParamNames. The tensors are the live network parameters;
// mutating their backing mutates the network.
func (m *MLP) ParamTensors() []*tensor.Dense {
	params := make([]*tensor.Dense, 0, 2*len(m.weights))
	for l := range m.weights {
		params = append(params, m.weights[l])
		params = append(params, m.biases[l])
	}
	return params
}

// View builds a computation-graph view of the MLP for the given batch
// size. The view's parameter nodes are bound to the canonical tensors,
// so parameter updates are shared between all views. Callers add any
// loss nodes they need to the view's graph and then compile their own
// virtual machine.
func (m *MLP) View(batch int) (*View, error) {
	if batch <= 0 {
		return nil, fmt.Errorf("view: batch size must be positive")
	}

	g := G.NewGraph()
	input := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batch, m.features),
		G.WithName(m.name+"/input"),
		G.WithInit(G.Zeroes()),
	)

	numLayers := len(m.weights)
	layers := make([]*fcLayer, numLayers)
	learnables := make(G.Nodes, 0, 2*numLayers)
	for l := 0; l < numLayers; l++ {
		wShape := m.weights[l].Shape()
		w := G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(wShape...),
			G.WithName(fmt.Sprintf("%v/layer%d/W", m.name, l)),
		)
		if err := G.Let(w, m.weights[l]); err != nil {
			return nil, fmt.Errorf("view: could not bind weights of "+
				"layer %d: %v", l, err)
		}

		b := G.NewVector(
			g,
			tensor.Float64,
			G.WithShape(m.biases[l].Shape()...),
			G.WithName(fmt.Sprintf("%v/layer%d/b", m.name, l)),
		)
		if err := G.Let(b, m.biases[l]); err != nil {
			return nil, fmt.Errorf("view: could not bind bias of "+
				"layer %d: %v", l, err)
		}

		act := Identity()
		if l < numLayers-1 {
			act = m.activations[l]
		}
		layers[l] = &fcLayer{weights: w, bias: b, act: act}
		learnables = append(learnables, w, b)
	}

	pred := input
	var err error
	for l, layer := range layers {
		if pred, err = layer.fwd(pred); err != nil {
			return nil, fmt.Errorf("view: could not compute forward pass "+
				"of layer %v: %v", l, err)
		}
	}

	view := &View{
		graph:      g,
		input:      input,
		learnables: learnables,
		prediction: pred,
		batchSize:  batch,
		features:   m.features,
	}
	G.Read(view.prediction, &view.predVal)

	return view, nil
}

// View is one computation-graph rendering of an MLP at a fixed batch
// size.
type View struct {
	graph      *G.ExprGraph
	input      *G.Node
	learnables G.Nodes
	prediction *G.Node
	predVal    G.Value
	batchSize  int
	features   int
}

// Graph returns the computational graph of the View so that callers
// can attach loss nodes to it.
func (v *View) Graph() *G.ExprGraph { return v.graph }

// Input returns the view's input node.
func (v *View) Input() *G.Node { return v.input }

// Prediction returns the node holding the network output, of shape
// (batch, outputs).
func (v *View) Prediction() *G.Node { return v.prediction }

// Output returns the value of the prediction node after the view's
// virtual machine has run.
func (v *View) Output() G.Value { return v.predVal }

// Learnables returns the view's parameter nodes, ordered as the MLP's
// ParamNames.
func (v *View) Learnables() G.Nodes { return v.learnables }

// BatchSize returns the batch size of inputs to the view.
func (v *View) BatchSize() int { return v.batchSize }

// SetInput sets the value of the input node before running the forward
// pass.
func (v *View) SetInput(input []float64) error {
	if len(input) != v.features*v.batchSize {
		return fmt.Errorf("setinput: invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", v.features*v.batchSize, len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(v.input.Shape()...),
	)
	return G.Let(v.input, inputTensor)
}
