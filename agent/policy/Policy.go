// Package policy implements parameterized action-selection
// distributions over neural networks.
package policy

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/TeaganLi/lagom/network"
)

// Policy is a parameterized conditional distribution over actions.
// Implementations share their parameters between action selection and
// however many training views callers construct.
type Policy interface {
	// SelectAction samples an action for a single observation and
	// returns it with the log probability of the sample and the
	// entropy of the conditional distribution.
	SelectAction(obs *mat.VecDense) (action *mat.VecDense, logProb,
		entropy float64, err error)

	// TrainView builds a computation-graph view of the policy for a
	// batch of observations and actions. Callers attach their loss to
	// the view's graph and compile their own virtual machine.
	TrainView(batch int) (*TrainView, error)

	// ParamNames returns the canonical parameter names.
	ParamNames() []string

	// ParamTensors returns the canonical parameter tensors in the
	// same order as ParamNames.
	ParamTensors() []*tensor.Dense

	// Close releases the policy's compute resources.
	Close() error
}

// TrainView is a computation-graph rendering of a policy at a fixed
// batch size. It exposes the log probabilities of a batch of
// state-action pairs and the mean entropy of the conditional
// distributions, both differentiable with respect to the policy
// parameters.
type TrainView struct {
	netView *network.View

	actions    *G.Node
	logProbs   *G.Node
	logProbVal G.Value
	entropy    *G.Node
	entropyVal G.Value

	learnables G.Nodes
	batch      int

	// encode converts caller-facing actions into the representation
	// bound to the actions node.
	encode func(actions []float64) ([]float64, error)
}

// Graph returns the view's computational graph.
func (t *TrainView) Graph() *G.ExprGraph { return t.netView.Graph() }

// LogProbs returns the node holding the log probability of each
// state-action pair in the batch.
func (t *TrainView) LogProbs() *G.Node { return t.logProbs }

// MeanEntropy returns the node holding the mean entropy of the
// conditional action distributions in the batch.
func (t *TrainView) MeanEntropy() *G.Node { return t.entropy }

// Learnables returns the view's parameter nodes, ordered as the
// policy's ParamNames.
func (t *TrainView) Learnables() G.Nodes { return t.learnables }

// BatchSize returns the batch size of the view.
func (t *TrainView) BatchSize() int { return t.batch }

// SetObservations binds a batch of flattened observations to the
// view's input before a run.
func (t *TrainView) SetObservations(obs []float64) error {
	return t.netView.SetInput(obs)
}

// SetActions binds a batch of actions to the view before a run. For
// discrete policies actions holds one action index per batch element;
// for continuous policies it holds the flattened action vectors.
func (t *TrainView) SetActions(actions []float64) error {
	encoded, err := t.encode(actions)
	if err != nil {
		return fmt.Errorf("setActions: %v", err)
	}
	actionTensor := tensor.New(
		tensor.WithBacking(encoded),
		tensor.WithShape(t.actions.Shape()...),
	)
	return G.Let(t.actions, actionTensor)
}

// LogProbValues returns the log probabilities computed by the last run
// of the view's virtual machine.
func (t *TrainView) LogProbValues() []float64 {
	return t.logProbVal.Data().([]float64)
}

// MeanEntropyValue returns the mean entropy computed by the last run
// of the view's virtual machine.
func (t *TrainView) MeanEntropyValue() float64 {
	return t.entropyVal.Data().(float64)
}

// logSumExp computes the log of the summed exponentials of logits
// along the given axis in a numerically stable way.
func logSumExp(logits *G.Node, along int) *G.Node {
	max := G.Must(G.Max(logits, along))

	exponent := G.Must(G.BroadcastSub(logits, max, nil, []byte{1}))
	exponent = G.Must(G.Exp(exponent))

	sum := G.Must(G.Sum(exponent, along))
	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}
