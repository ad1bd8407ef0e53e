// Package ppo implements proximal policy optimization with clipped
// surrogate objectives, generalized advantage estimation, and
// minibatched multi-epoch updates.
package ppo

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/TeaganLi/lagom/agent"
	"github.com/TeaganLi/lagom/agent/policy"
	"github.com/TeaganLi/lagom/environment"
	"github.com/TeaganLi/lagom/initwfn"
	"github.com/TeaganLi/lagom/metric"
	"github.com/TeaganLi/lagom/network"
	"github.com/TeaganLi/lagom/solver"
	"github.com/TeaganLi/lagom/trajectory"
	"github.com/TeaganLi/lagom/utils/floatutils"
)

// Keys of the training diagnostics returned by Learn
const (
	PolicyGradNormKey    string = "policy_grad_norm"
	ValueGradNormKey     string = "value_grad_norm"
	PolicyLossKey        string = "policy_loss"
	PolicyEntropyKey     string = "policy_entropy"
	ValueLossKey         string = "value_loss"
	ExplainedVarianceKey string = "explained_variance"
	ApproxKLKey          string = "approx_kl"
	ClipFracKey          string = "clip_frac"
	CurrentLRKey         string = "current_lr"
)

// CriticHeadGain is the orthogonal initialization gain for the state
// value head.
const CriticHeadGain float64 = 1.0

// PPO implements proximal policy optimization. The policy is improved
// with the clipped surrogate objective and the state-value critic
// with a clipped squared error, both over shuffled minibatches
// revisited for several epochs per batch of trajectories.
type PPO struct {
	env    environment.Environment
	policy policy.Policy

	critic        *network.MLP
	criticSelView *network.View
	criticSelVM   G.VM

	policySolver *solver.Solver
	valueSolver  *solver.Solver

	// Only the policy learning rate is annealed; the value solver
	// stays at its base rate.
	scheduled      bool
	policySchedule solver.LinearSchedule

	gamma          float64
	lambda         float64
	clipEps        float64
	maxGradNorm    float64
	standardizeAdv bool
	batchSize      int
	epochs         int

	features    int
	actionWidth int

	totalTimesteps int
	rng            *rand.Rand

	// Per-batch-size computation graphs, built lazily and reused
	// across updates.
	policyBundles map[int]*policyBundle
	valueBundles  map[int]*valueBundle
}

// policyBundle holds the surrogate-loss graph over a policy training
// view at one batch size.
type policyBundle struct {
	view        *policy.TrainView
	oldLogProbs *G.Node
	maskedAdv   *G.Node
	vm          G.VM
}

// valueBundle holds the value-loss graph over a critic view at one
// batch size.
type valueBundle struct {
	view      *network.View
	selection *G.Node
	targets   *G.Node
	vm        G.VM
}

// newPPO returns a PPO agent improving pol and a freshly initialized
// critic on the environment env.
func newPPO(env environment.Environment, pol policy.Policy, s settings,
	seed uint64) (*PPO, error) {
	features := env.ObservationSpec().Shape.Len()

	activations := make([]*network.Activation, len(s.Layers))
	for i := range activations {
		activations[i] = network.TanH()
	}

	hiddenInit, err := initwfn.NewOrthogonal(initwfn.TanhGain, seed+3)
	if err != nil {
		return nil, fmt.Errorf("newPPO: %v", err)
	}
	headInit, err := initwfn.NewOrthogonal(CriticHeadGain, seed+4)
	if err != nil {
		return nil, fmt.Errorf("newPPO: %v", err)
	}
	critic, err := network.NewMLP("critic", features, 1, s.Layers,
		activations, hiddenInit.InitWFn(), headInit.InitWFn())
	if err != nil {
		return nil, fmt.Errorf("newPPO: could not create critic: %v", err)
	}
	criticSelView, err := critic.View(1)
	if err != nil {
		return nil, fmt.Errorf("newPPO: could not create critic view: %v",
			err)
	}

	policySolver, err := solver.NewSolver(
		solver.NewAdam(s.PolicyLR, solver.AdamDefaultEpsilon),
	)
	if err != nil {
		return nil, fmt.Errorf("newPPO: could not create policy solver: %v",
			err)
	}
	valueSolver, err := solver.NewSolver(
		solver.NewAdam(s.ValueLR, solver.AdamDefaultEpsilon),
	)
	if err != nil {
		return nil, fmt.Errorf("newPPO: could not create value solver: %v",
			err)
	}

	actionWidth := 1
	if env.ActionSpec().Cardinality == environment.Continuous {
		actionWidth = env.ActionSpec().Shape.Len()
	}

	return &PPO{
		env:            env,
		policy:         pol,
		critic:         critic,
		criticSelView:  criticSelView,
		criticSelVM:    G.NewTapeMachine(criticSelView.Graph()),
		policySolver:   policySolver,
		valueSolver:    valueSolver,
		scheduled:      s.UseLRSchedule,
		policySchedule: solver.NewLinearSchedule(s.PolicyLR, s.ScheduleTimesteps),
		gamma:          s.Gamma,
		lambda:         s.Lambda,
		clipEps:        s.ClipEps,
		maxGradNorm:    s.MaxGradNorm,
		standardizeAdv: s.StandardizeAdv,
		batchSize:      s.BatchSize,
		epochs:         s.Epochs,
		features:       features,
		actionWidth:    actionWidth,
		rng:            rand.New(rand.NewSource(int64(seed))),
		policyBundles:  make(map[int]*policyBundle),
		valueBundles:   make(map[int]*valueBundle),
	}, nil
}

// ChooseAction samples an action for obs and caches the statistics of
// that decision for later learning.
func (p *PPO) ChooseAction(obs *mat.VecDense) (*agent.PolicyOutput, error) {
	action, logProb, entropy, err := p.policy.SelectAction(obs)
	if err != nil {
		return nil, fmt.Errorf("chooseAction: %v", err)
	}

	input := make([]float64, obs.Len())
	copy(input, obs.RawVector().Data)
	value, err := p.stateValue(input)
	if err != nil {
		return nil, fmt.Errorf("chooseAction: %v", err)
	}

	return &agent.PolicyOutput{
		Action:  action,
		LogProb: logProb,
		Entropy: entropy,
		Value:   value,
	}, nil
}

// stateValue runs the critic on a single flattened observation.
func (p *PPO) stateValue(obs []float64) (float64, error) {
	if err := p.criticSelView.SetInput(obs); err != nil {
		return 0, err
	}
	if err := p.criticSelVM.RunAll(); err != nil {
		return 0, fmt.Errorf("could not run critic: %v", err)
	}
	defer p.criticSelVM.Reset()
	return p.criticSelView.Output().Data().([]float64)[0], nil
}

// flatData holds a batch of trajectories flattened into step-indexed
// slices.
type flatData struct {
	obs          []float64
	actions      []float64
	oldLogProbs  []float64
	oldEntropies []float64
	oldValues    []float64
	returns      []float64
	advantages   []float64
}

// flatten estimates returns and advantages per trajectory and
// concatenates all per-step quantities, trajectory by trajectory, into
// one flat table. The second return value is the total number of
// timesteps.
func (p *PPO) flatten(trajs []*trajectory.Trajectory) (*flatData, int,
	error) {
	d := &flatData{}
	total := 0
	for i, traj := range trajs {
		if !traj.Finished() {
			return nil, 0, fmt.Errorf("trajectory %v not finished", i)
		}
		if traj.Len() == 0 {
			return nil, 0, fmt.Errorf("trajectory %v is empty", i)
		}

		values := traj.Values()
		lastValue := 0.0
		if !traj.Terminal() {
			lastObs := traj.LastObservation()
			input := make([]float64, lastObs.Len())
			copy(input, lastObs.RawVector().Data)

			var err error
			if lastValue, err = p.stateValue(input); err != nil {
				return nil, 0, fmt.Errorf("could not bootstrap "+
					"trajectory %v: %v", i, err)
			}
		}

		returns, err := metric.BootstrappedReturns(p.gamma, traj, lastValue)
		if err != nil {
			return nil, 0, err
		}
		advantages, err := metric.GAE(p.gamma, p.lambda, traj, values,
			lastValue)
		if err != nil {
			return nil, 0, err
		}

		d.obs = append(d.obs, traj.FlattenObservations()...)
		d.actions = append(d.actions, traj.FlattenActions()...)
		d.oldLogProbs = append(d.oldLogProbs, traj.LogProbs()...)
		d.oldEntropies = append(d.oldEntropies, traj.Entropies()...)
		d.oldValues = append(d.oldValues, values...)
		d.returns = append(d.returns, returns...)
		d.advantages = append(d.advantages, advantages...)
		total += traj.Len()
	}

	if p.standardizeAdv {
		floatutils.Standardize(d.advantages)
	}
	return d, total, nil
}

// Learn performs one PPO update from a batch of finished trajectories:
// bootstrapped returns and advantages are estimated per trajectory,
// flattened, and revisited in shuffled minibatches for a number of
// epochs. The returned diagnostics are averaged over all minibatch
// updates.
func (p *PPO) Learn(trajs []*trajectory.Trajectory) (map[string]float64,
	error) {
	if len(trajs) == 0 {
		return nil, fmt.Errorf("learn: no trajectories")
	}

	d, total, err := p.flatten(trajs)
	if err != nil {
		return nil, fmt.Errorf("learn: %v", err)
	}

	// The schedule is stepped on the counter as it stood before this
	// batch.
	if p.scheduled {
		p.policySolver.SetStepSize(p.policySchedule.Rate(p.totalTimesteps))
	}
	p.totalTimesteps += total

	s, err := newSampler(total, p.batchSize, p.rng)
	if err != nil {
		return nil, fmt.Errorf("learn: %v", err)
	}

	sums := make(map[string]float64)
	updates := 0
	for epoch := 0; epoch < p.epochs; epoch++ {
		if epoch > 0 {
			s.Reset()
		}
		for {
			batch, ok := s.Next()
			if !ok {
				break
			}
			diag, err := p.learnOneUpdate(batch, d)
			if err != nil {
				return nil, fmt.Errorf("learn: %v", err)
			}
			for key, val := range diag {
				sums[key] += val
			}
			updates++
		}
	}

	diagnostics := make(map[string]float64, len(sums)+1)
	for key, sum := range sums {
		diagnostics[key] = sum / float64(updates)
	}
	if p.scheduled {
		diagnostics[CurrentLRKey] = p.policySolver.StepSize()
	}

	for key, val := range diagnostics {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("learn: diagnostic %v is not finite", key)
		}
	}
	return diagnostics, nil
}

// learnOneUpdate performs one gradient step of the policy and one of
// the critic on the minibatch indexed by batch.
func (p *PPO) learnOneUpdate(batch []int, d *flatData) (map[string]float64,
	error) {
	b := len(batch)
	obs := make([]float64, 0, b*p.features)
	actions := make([]float64, 0, b*p.actionWidth)
	oldLogProbs := make([]float64, b)
	oldValues := make([]float64, b)
	returns := make([]float64, b)
	advantages := make([]float64, b)
	for i, idx := range batch {
		obs = append(obs, d.obs[idx*p.features:(idx+1)*p.features]...)
		actions = append(actions,
			d.actions[idx*p.actionWidth:(idx+1)*p.actionWidth]...)
		oldLogProbs[i] = d.oldLogProbs[idx]
		oldValues[i] = d.oldValues[idx]
		returns[i] = d.returns[idx]
		advantages[i] = d.advantages[idx]
	}

	pb, err := p.policyBundle(b)
	if err != nil {
		return nil, err
	}
	if err := pb.view.SetObservations(obs); err != nil {
		return nil, err
	}
	if err := pb.view.SetActions(actions); err != nil {
		return nil, err
	}
	if err := letVector(pb.oldLogProbs, oldLogProbs); err != nil {
		return nil, err
	}
	if err := letVector(pb.maskedAdv, make([]float64, b)); err != nil {
		return nil, err
	}

	// First pass reads the current log probabilities without moving
	// the parameters.
	if err := pb.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("could not run policy network: %v", err)
	}
	newLogProbs := append([]float64(nil), pb.view.LogProbValues()...)
	entropy := pb.view.MeanEntropyValue()
	pb.vm.Reset()

	// The clipped surrogate is evaluated on the host. The second pass
	// then differentiates ratio * maskedAdv, whose gradient matches
	// the surrogate's: steps where the minimum picks the clipped
	// branch contribute no parameter gradient and get a zero mask.
	maskedAdv := make([]float64, b)
	policyLoss, approxKL, clipFrac := 0.0, 0.0, 0.0
	for i := range newLogProbs {
		ratio := math.Exp(newLogProbs[i] - oldLogProbs[i])
		unclipped := ratio * advantages[i]
		clipped := floatutils.Clip(ratio, 1-p.clipEps, 1+p.clipEps) *
			advantages[i]

		if unclipped <= clipped {
			policyLoss -= unclipped / float64(b)
			maskedAdv[i] = advantages[i]
		} else {
			policyLoss -= clipped / float64(b)
		}

		approxKL += (oldLogProbs[i] - newLogProbs[i]) / float64(b)
		if math.Abs(ratio-1) > p.clipEps {
			clipFrac += 1.0 / float64(b)
		}
	}

	if err := letVector(pb.maskedAdv, maskedAdv); err != nil {
		return nil, err
	}
	if err := pb.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("could not run policy network: %v", err)
	}
	policyGradNorm, err := solver.ClipNorm(pb.view.Learnables(),
		p.maxGradNorm)
	if err != nil {
		return nil, err
	}
	if err := p.policySolver.Step(pb.view.Learnables()); err != nil {
		return nil, fmt.Errorf("could not step policy: %v", err)
	}
	pb.vm.Reset()

	vb, err := p.valueBundle(b)
	if err != nil {
		return nil, err
	}
	if err := vb.view.SetInput(obs); err != nil {
		return nil, err
	}
	if err := letVector(vb.selection, make([]float64, b)); err != nil {
		return nil, err
	}
	if err := letVector(vb.targets, returns); err != nil {
		return nil, err
	}
	if err := vb.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("could not run critic: %v", err)
	}
	values := append([]float64(nil),
		vb.view.Output().Data().([]float64)...)
	vb.vm.Reset()

	// Same trick for the clipped value loss: only steps where the
	// maximum picks the unclipped error pass gradient through the
	// critic.
	selection := make([]float64, b)
	valueLoss := 0.0
	for i := range values {
		clippedValue := oldValues[i] + floatutils.Clip(
			values[i]-oldValues[i], -p.clipEps, p.clipEps,
		)
		unclippedErr := math.Pow(values[i]-returns[i], 2)
		clippedErr := math.Pow(clippedValue-returns[i], 2)

		if unclippedErr >= clippedErr {
			valueLoss += unclippedErr / float64(b)
			selection[i] = 1.0
		} else {
			valueLoss += clippedErr / float64(b)
		}
	}
	explainedVar := floatutils.ExplainedVariance(returns, values)

	if err := letVector(vb.selection, selection); err != nil {
		return nil, err
	}
	if err := vb.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("could not run critic: %v", err)
	}
	valueGradNorm, err := solver.ClipNorm(vb.view.Learnables(),
		p.maxGradNorm)
	if err != nil {
		return nil, err
	}
	if err := p.valueSolver.Step(vb.view.Learnables()); err != nil {
		return nil, fmt.Errorf("could not step critic: %v", err)
	}
	vb.vm.Reset()

	return map[string]float64{
		PolicyGradNormKey:    policyGradNorm,
		ValueGradNormKey:     valueGradNorm,
		PolicyLossKey:        policyLoss,
		PolicyEntropyKey:     entropy,
		ValueLossKey:         valueLoss,
		ExplainedVarianceKey: explainedVar,
		ApproxKLKey:          approxKL,
		ClipFracKey:          clipFrac,
	}, nil
}

// policyBundle returns the cached surrogate-loss graph for the given
// batch size, building it on first use.
func (p *PPO) policyBundle(batch int) (*policyBundle, error) {
	if pb, ok := p.policyBundles[batch]; ok {
		return pb, nil
	}

	view, err := p.policy.TrainView(batch)
	if err != nil {
		return nil, fmt.Errorf("policyBundle: %v", err)
	}
	g := view.Graph()

	oldLogProbs := G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(batch),
		G.WithName("ppo/old_logprobs"),
		G.WithInit(G.Zeroes()),
	)
	maskedAdv := G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(batch),
		G.WithName("ppo/masked_advantages"),
		G.WithInit(G.Zeroes()),
	)

	ratio := G.Must(G.Exp(G.Must(G.Sub(view.LogProbs(), oldLogProbs))))
	surrogate := G.Must(G.HadamardProd(ratio, maskedAdv))
	loss := G.Must(G.Neg(G.Must(G.Mean(surrogate))))
	if _, err := G.Grad(loss, view.Learnables()...); err != nil {
		return nil, fmt.Errorf("policyBundle: could not compute "+
			"gradient: %v", err)
	}

	pb := &policyBundle{
		view:        view,
		oldLogProbs: oldLogProbs,
		maskedAdv:   maskedAdv,
		vm: G.NewTapeMachine(g,
			G.BindDualValues(view.Learnables()...)),
	}
	p.policyBundles[batch] = pb
	return pb, nil
}

// valueBundle returns the cached value-loss graph for the given batch
// size, building it on first use.
func (p *PPO) valueBundle(batch int) (*valueBundle, error) {
	if vb, ok := p.valueBundles[batch]; ok {
		return vb, nil
	}

	view, err := p.critic.View(batch)
	if err != nil {
		return nil, fmt.Errorf("valueBundle: %v", err)
	}
	g := view.Graph()

	selection := G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(batch),
		G.WithName("ppo/value_selection"),
		G.WithInit(G.Zeroes()),
	)
	targets := G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(batch),
		G.WithName("ppo/value_targets"),
		G.WithInit(G.Zeroes()),
	)

	values := G.Must(G.Ravel(view.Prediction()))
	squaredErr := G.Must(G.Square(G.Must(G.Sub(values, targets))))
	loss := G.Must(G.Mean(G.Must(G.HadamardProd(selection, squaredErr))))
	if _, err := G.Grad(loss, view.Learnables()...); err != nil {
		return nil, fmt.Errorf("valueBundle: could not compute "+
			"gradient: %v", err)
	}

	vb := &valueBundle{
		view:      view,
		selection: selection,
		targets:   targets,
		vm: G.NewTapeMachine(g,
			G.BindDualValues(view.Learnables()...)),
	}
	p.valueBundles[batch] = vb
	return vb, nil
}

// TotalTimesteps returns the cumulative number of environment
// timesteps the agent has learned from.
func (p *PPO) TotalTimesteps() int { return p.totalTimesteps }

// Close releases all compute resources held by the agent.
func (p *PPO) Close() error {
	if err := p.policy.Close(); err != nil {
		return fmt.Errorf("close: %v", err)
	}
	if err := p.criticSelVM.Close(); err != nil {
		return fmt.Errorf("close: %v", err)
	}
	for _, pb := range p.policyBundles {
		if err := pb.vm.Close(); err != nil {
			return fmt.Errorf("close: %v", err)
		}
	}
	for _, vb := range p.valueBundles {
		if err := vb.vm.Close(); err != nil {
			return fmt.Errorf("close: %v", err)
		}
	}
	return nil
}

// letVector binds data to a vector node.
func letVector(node *G.Node, data []float64) error {
	return G.Let(node, tensor.New(
		tensor.WithShape(len(data)),
		tensor.WithBacking(data),
	))
}
