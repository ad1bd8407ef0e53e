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

// HeadGain is the orthogonal initialization gain for policy output
// layers. Small head weights keep the initial policy close to uniform.
const HeadGain float64 = 1e-2

// CategoricalMLP is a feedforward policy for discrete action spaces.
// The network outputs one logit per action, and actions are sampled
// from the softmax of the logits.
type CategoricalMLP struct {
	net        *network.MLP
	numActions int
	features   int

	selView *network.View
	selVM   G.VM

	src rand.Source
}

// NewCategoricalMLP returns a new CategoricalMLP for the action space
// of env. Hidden layers are orthogonally initialized with the tanh
// gain and the logit head with HeadGain.
func NewCategoricalMLP(env environment.Environment, hiddenSizes []int,
	activations []*network.Activation,
	seed uint64) (*CategoricalMLP, error) {
	if env.ActionSpec().Cardinality != environment.Discrete {
		return nil, fmt.Errorf("newCategoricalMLP: action space must be " +
			"discrete")
	}
	numActions := env.ActionSpec().NumActions()
	features := env.ObservationSpec().Shape.Len()

	hiddenInit, err := initwfn.NewOrthogonal(initwfn.TanhGain, seed)
	if err != nil {
		return nil, fmt.Errorf("newCategoricalMLP: %v", err)
	}
	headInit, err := initwfn.NewOrthogonal(HeadGain, seed+1)
	if err != nil {
		return nil, fmt.Errorf("newCategoricalMLP: %v", err)
	}

	net, err := network.NewMLP("policy", features, numActions, hiddenSizes,
		activations, hiddenInit.InitWFn(), headInit.InitWFn())
	if err != nil {
		return nil, fmt.Errorf("newCategoricalMLP: could not create "+
			"network: %v", err)
	}

	selView, err := net.View(1)
	if err != nil {
		return nil, fmt.Errorf("newCategoricalMLP: could not create "+
			"action selection view: %v", err)
	}

	return &CategoricalMLP{
		net:        net,
		numActions: numActions,
		features:   features,
		selView:    selView,
		selVM:      G.NewTapeMachine(selView.Graph()),
		src:        rand.NewSource(seed),
	}, nil
}

// SelectAction samples an action for obs from the softmax of the
// network logits.
func (c *CategoricalMLP) SelectAction(obs *mat.VecDense) (*mat.VecDense,
	float64, float64, error) {
	if obs.Len() != c.features {
		return nil, 0, 0, fmt.Errorf("selectAction: invalid observation "+
			"length\n\twant(%v)\n\thave(%v)", c.features, obs.Len())
	}

	input := make([]float64, c.features)
	copy(input, obs.RawVector().Data)
	if err := c.selView.SetInput(input); err != nil {
		return nil, 0, 0, fmt.Errorf("selectAction: %v", err)
	}
	if err := c.selVM.RunAll(); err != nil {
		return nil, 0, 0, fmt.Errorf("selectAction: could not run policy "+
			"network: %v", err)
	}
	defer c.selVM.Reset()

	logits := c.selView.Output().Data().([]float64)
	logPolicy, probs := softmax(logits)

	dist := distuv.NewCategorical(probs, c.src)
	action := int(dist.Rand())

	entropy := 0.0
	for a, p := range probs {
		if p > 0 {
			entropy -= p * logPolicy[a]
		}
	}

	return mat.NewVecDense(1, []float64{float64(action)}),
		logPolicy[action], entropy, nil
}

// TrainView builds a computation-graph view of the policy over
// batches of batch observations and action indices.
func (c *CategoricalMLP) TrainView(batch int) (*TrainView, error) {
	netView, err := c.net.View(batch)
	if err != nil {
		return nil, fmt.Errorf("trainView: %v", err)
	}
	logits := netView.Prediction()

	actions := G.NewMatrix(
		netView.Graph(),
		tensor.Float64,
		G.WithShape(batch, c.numActions),
		G.WithName("policy/actions"),
		G.WithInit(G.Zeroes()),
	)

	lse := logSumExp(logits, 1)
	logPolicy := G.Must(G.BroadcastSub(logits, lse, nil, []byte{1}))
	logProbs := G.Must(G.Sum(
		G.Must(G.HadamardProd(actions, logPolicy)), 1,
	))

	probs := G.Must(G.Exp(logPolicy))
	rowEntropy := G.Must(G.Neg(G.Must(G.Sum(
		G.Must(G.HadamardProd(probs, logPolicy)), 1,
	))))
	entropy := G.Must(G.Mean(rowEntropy))

	view := &TrainView{
		netView:    netView,
		actions:    actions,
		logProbs:   logProbs,
		entropy:    entropy,
		learnables: netView.Learnables(),
		batch:      batch,
		encode:     c.oneHot(batch),
	}
	G.Read(view.logProbs, &view.logProbVal)
	G.Read(view.entropy, &view.entropyVal)

	return view, nil
}

// oneHot returns an action encoder expanding batch action indices
// into one-hot rows.
func (c *CategoricalMLP) oneHot(batch int) func([]float64) ([]float64, error) {
	return func(actions []float64) ([]float64, error) {
		if len(actions) != batch {
			return nil, fmt.Errorf("invalid number of actions\n\twant(%v)"+
				"\n\thave(%v)", batch, len(actions))
		}
		encoded := make([]float64, batch*c.numActions)
		for i, action := range actions {
			a := int(action)
			if a < 0 || a >= c.numActions {
				return nil, fmt.Errorf("action %v out of range [0, %v)",
					a, c.numActions)
			}
			encoded[i*c.numActions+a] = 1.0
		}
		return encoded, nil
	}
}

// ParamNames returns the canonical parameter names of the policy.
func (c *CategoricalMLP) ParamNames() []string { return c.net.ParamNames() }

// ParamTensors returns the canonical parameter tensors of the policy.
func (c *CategoricalMLP) ParamTensors() []*tensor.Dense {
	return c.net.ParamTensors()
}

// Close releases the policy's compute resources.
func (c *CategoricalMLP) Close() error { return c.selVM.Close() }

// softmax returns the log probabilities and probabilities described
// by logits.
func softmax(logits []float64) (logPolicy, probs []float64) {
	max := math.Inf(-1)
	for _, logit := range logits {
		if logit > max {
			max = logit
		}
	}

	sum := 0.0
	probs = make([]float64, len(logits))
	for a, logit := range logits {
		probs[a] = math.Exp(logit - max)
		sum += probs[a]
	}

	logPolicy = make([]float64, len(logits))
	logSum := math.Log(sum)
	for a := range probs {
		probs[a] /= sum
		logPolicy[a] = logits[a] - max - logSum
	}
	return logPolicy, probs
}
