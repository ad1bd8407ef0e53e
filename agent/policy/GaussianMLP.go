package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/TeaganLi/lagom/environment"
	"github.com/TeaganLi/lagom/initwfn"
	"github.com/TeaganLi/lagom/network"
)

const log2Pi float64 = 1.8378770664093453

// GaussianMLP is a feedforward policy for continuous action spaces.
// The network outputs the mean of a diagonal Gaussian over actions,
// and the log standard deviation is a state-independent learnable
// vector.
type GaussianMLP struct {
	net        *network.MLP
	actionDims int
	features   int

	// logStd is the canonical log standard deviation parameter,
	// shared by all training views.
	logStd *tensor.Dense

	selView *network.View
	selVM   G.VM

	norm distuv.Normal
}

// NewGaussianMLP returns a new GaussianMLP for the action space of
// env. The standard deviation of every action dimension starts at
// initStd.
func NewGaussianMLP(env environment.Environment, hiddenSizes []int,
	activations []*network.Activation, initStd float64,
	seed uint64) (*GaussianMLP, error) {
	if env.ActionSpec().Cardinality != environment.Continuous {
		return nil, fmt.Errorf("newGaussianMLP: action space must be " +
			"continuous")
	}
	if initStd <= 0 {
		return nil, fmt.Errorf("newGaussianMLP: initial standard deviation "+
			"must be positive\n\thave(%v)", initStd)
	}
	actionDims := env.ActionSpec().Shape.Len()
	features := env.ObservationSpec().Shape.Len()

	hiddenInit, err := initwfn.NewOrthogonal(initwfn.TanhGain, seed)
	if err != nil {
		return nil, fmt.Errorf("newGaussianMLP: %v", err)
	}
	headInit, err := initwfn.NewOrthogonal(HeadGain, seed+1)
	if err != nil {
		return nil, fmt.Errorf("newGaussianMLP: %v", err)
	}

	net, err := network.NewMLP("policy", features, actionDims, hiddenSizes,
		activations, hiddenInit.InitWFn(), headInit.InitWFn())
	if err != nil {
		return nil, fmt.Errorf("newGaussianMLP: could not create "+
			"network: %v", err)
	}

	logStdBacking := make([]float64, actionDims)
	for i := range logStdBacking {
		logStdBacking[i] = math.Log(initStd)
	}
	logStd := tensor.New(
		tensor.WithShape(actionDims),
		tensor.WithBacking(logStdBacking),
	)

	selView, err := net.View(1)
	if err != nil {
		return nil, fmt.Errorf("newGaussianMLP: could not create action "+
			"selection view: %v", err)
	}

	return &GaussianMLP{
		net:        net,
		actionDims: actionDims,
		features:   features,
		logStd:     logStd,
		selView:    selView,
		selVM:      G.NewTapeMachine(selView.Graph()),
		norm: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   rand.NewSource(seed + 2),
		},
	}, nil
}

// SelectAction samples an action for obs from the Gaussian described
// by the network mean and the learned standard deviation.
func (p *GaussianMLP) SelectAction(obs *mat.VecDense) (*mat.VecDense,
	float64, float64, error) {
	if obs.Len() != p.features {
		return nil, 0, 0, fmt.Errorf("selectAction: invalid observation "+
			"length\n\twant(%v)\n\thave(%v)", p.features, obs.Len())
	}

	input := make([]float64, p.features)
	copy(input, obs.RawVector().Data)
	if err := p.selView.SetInput(input); err != nil {
		return nil, 0, 0, fmt.Errorf("selectAction: %v", err)
	}
	if err := p.selVM.RunAll(); err != nil {
		return nil, 0, 0, fmt.Errorf("selectAction: could not run policy "+
			"network: %v", err)
	}
	defer p.selVM.Reset()

	mean := p.selView.Output().Data().([]float64)
	logStd := p.logStd.Data().([]float64)

	action := make([]float64, p.actionDims)
	logProb := 0.0
	sumLogStd := 0.0
	for i := range action {
		std := math.Exp(logStd[i])
		action[i] = mean[i] + std*p.norm.Rand()

		z := (action[i] - mean[i]) / std
		logProb -= 0.5 * z * z
		sumLogStd += logStd[i]
	}
	k := float64(p.actionDims)
	logProb -= sumLogStd + 0.5*k*log2Pi
	entropy := sumLogStd + 0.5*k*(1+log2Pi)

	return mat.NewVecDense(p.actionDims, action), logProb, entropy, nil
}

// TrainView builds a computation-graph view of the policy over
// batches of batch observations and flattened action vectors.
func (p *GaussianMLP) TrainView(batch int) (*TrainView, error) {
	netView, err := p.net.View(batch)
	if err != nil {
		return nil, fmt.Errorf("trainView: %v", err)
	}
	mean := netView.Prediction()
	g := netView.Graph()

	actions := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batch, p.actionDims),
		G.WithName("policy/actions"),
		G.WithInit(G.Zeroes()),
	)

	logStd := G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(p.actionDims),
		G.WithName("policy/logstd"),
	)
	if err := G.Let(logStd, p.logStd); err != nil {
		return nil, fmt.Errorf("trainView: could not bind log standard "+
			"deviation: %v", err)
	}
	std := G.Must(G.Exp(logStd))

	diff := G.Must(G.Sub(actions, mean))
	z := G.Must(G.BroadcastHadamardDiv(diff, std, nil, []byte{1}))
	sumSq := G.Must(G.Sum(G.Must(G.Square(z)), 1))
	sumLogStd := G.Must(G.Sum(logStd))

	k := float64(p.actionDims)
	logZ := G.Must(G.Add(sumLogStd, G.NewConstant(0.5*k*log2Pi)))
	logProbs := G.Must(G.Sub(
		G.Must(G.Mul(sumSq, G.NewConstant(-0.5))),
		logZ,
	))

	entropy := G.Must(G.Add(
		sumLogStd,
		G.NewConstant(0.5*k*(1+log2Pi)),
	))

	view := &TrainView{
		netView:    netView,
		actions:    actions,
		logProbs:   logProbs,
		entropy:    entropy,
		learnables: append(netView.Learnables(), logStd),
		batch:      batch,
		encode:     p.rawActions(batch),
	}
	G.Read(view.logProbs, &view.logProbVal)
	G.Read(view.entropy, &view.entropyVal)

	return view, nil
}

// rawActions returns an action encoder validating a batch of
// flattened action vectors.
func (p *GaussianMLP) rawActions(batch int) func([]float64) ([]float64, error) {
	return func(actions []float64) ([]float64, error) {
		if len(actions) != batch*p.actionDims {
			return nil, fmt.Errorf("invalid number of action values"+
				"\n\twant(%v)\n\thave(%v)", batch*p.actionDims, len(actions))
		}
		encoded := make([]float64, len(actions))
		copy(encoded, actions)
		return encoded, nil
	}
}

// ParamNames returns the canonical parameter names of the policy.
func (p *GaussianMLP) ParamNames() []string {
	return append(p.net.ParamNames(), "policy/logstd")
}

// ParamTensors returns the canonical parameter tensors of the policy.
func (p *GaussianMLP) ParamTensors() []*tensor.Dense {
	return append(p.net.ParamTensors(), p.logStd)
}

// Close releases the policy's compute resources.
func (p *GaussianMLP) Close() error { return p.selVM.Close() }
