package ppo

import (
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/TeaganLi/lagom/agent"
	"github.com/TeaganLi/lagom/environment"
	"github.com/TeaganLi/lagom/metric"
	"github.com/TeaganLi/lagom/timestep"
	"github.com/TeaganLi/lagom/trajectory"
	"github.com/TeaganLi/lagom/utils/floatutils"
)

// testEnv implements environment.Environment with fixed space
// descriptions.
type testEnv struct {
	obsSpec environment.Spec
	actSpec environment.Spec
}

func (e testEnv) ObservationSpec() environment.Spec { return e.obsSpec }
func (e testEnv) ActionSpec() environment.Spec      { return e.actSpec }

func discreteEnv() testEnv {
	return testEnv{
		obsSpec: environment.NewSpec(
			mat.NewVecDense(2, nil),
			environment.Observation,
			mat.NewVecDense(2, []float64{-1, -1}),
			mat.NewVecDense(2, []float64{1, 1}),
			environment.Continuous,
		),
		actSpec: environment.NewSpec(
			mat.NewVecDense(1, nil),
			environment.Action,
			mat.NewVecDense(1, nil),
			mat.NewVecDense(1, []float64{1}),
			environment.Discrete,
		),
	}
}

func continuousEnv() testEnv {
	return testEnv{
		obsSpec: environment.NewSpec(
			mat.NewVecDense(3, nil),
			environment.Observation,
			mat.NewVecDense(3, []float64{-1, -1, -1}),
			mat.NewVecDense(3, []float64{1, 1, 1}),
			environment.Continuous,
		),
		actSpec: environment.NewSpec(
			mat.NewVecDense(2, nil),
			environment.Action,
			mat.NewVecDense(2, []float64{-1, -1}),
			mat.NewVecDense(2, []float64{1, 1}),
			environment.Continuous,
		),
	}
}

func discreteConfig() CategoricalConfig {
	return CategoricalConfig{
		Layers:         []int{8},
		PolicyLR:       3e-4,
		ValueLR:        1e-3,
		Gamma:          0.99,
		Lambda:         0.95,
		ClipEps:        0.2,
		MaxGradNorm:    0.5,
		StandardizeAdv: false,
		BatchSize:      4,
		Epochs:         1,
	}
}

// collectTrajectory acts with the agent at each of the given
// observations and seals the result as a terminal trajectory.
func collectTrajectory(t *testing.T, a agent.Agent, observations []*mat.VecDense,
	rewards []float64) *trajectory.Trajectory {
	t.Helper()

	traj := trajectory.New(len(rewards))
	for i, obs := range observations[:len(rewards)] {
		out, err := a.ChooseAction(obs)
		if err != nil {
			t.Fatal(err)
		}
		err = traj.Push(obs, out.Action, rewards[i], trajectory.Extra{
			LogProb: out.LogProb,
			Entropy: out.Entropy,
			Value:   out.Value,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	last := observations[len(observations)-1]
	if err := traj.Finish(last, timestep.Terminal); err != nil {
		t.Fatal(err)
	}
	return traj
}

func discreteObservations() []*mat.VecDense {
	return []*mat.VecDense{
		mat.NewVecDense(2, []float64{0.1, -0.3}),
		mat.NewVecDense(2, []float64{0.7, 0.2}),
		mat.NewVecDense(2, []float64{-0.5, 0.9}),
		mat.NewVecDense(2, []float64{0.3, 0.4}),
		mat.NewVecDense(2, []float64{-0.8, -0.1}),
	}
}

var testRewards = []float64{1, 0.5, -0.2, 2}

func TestLearnDiagnosticKeys(t *testing.T) {
	config := discreteConfig()
	config.UseLRSchedule = true
	config.ScheduleTimesteps = 1000

	a, err := config.CreateAgent(discreteEnv(), 42)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	traj := collectTrajectory(t, a, discreteObservations(), testRewards)
	diagnostics, err := a.Learn([]*trajectory.Trajectory{traj})
	if err != nil {
		t.Fatal(err)
	}

	keys := []string{
		PolicyGradNormKey,
		ValueGradNormKey,
		PolicyLossKey,
		PolicyEntropyKey,
		ValueLossKey,
		ExplainedVarianceKey,
		ApproxKLKey,
		ClipFracKey,
		CurrentLRKey,
	}
	if len(diagnostics) != len(keys) {
		t.Errorf("expected %v diagnostics, got %v: %v", len(keys),
			len(diagnostics), diagnostics)
	}
	for _, key := range keys {
		val, ok := diagnostics[key]
		if !ok {
			t.Errorf("missing diagnostic %v", key)
			continue
		}
		if math.IsNaN(val) || math.IsInf(val, 0) {
			t.Errorf("diagnostic %v is not finite: %v", key, val)
		}
	}
}

// TestLearnFirstUpdatePolicyLoss checks that on the first minibatch,
// where the updating policy still equals the behaviour policy, the
// surrogate loss reduces to the negated mean advantage, nothing is
// clipped, and the KL estimate vanishes.
func TestLearnFirstUpdatePolicyLoss(t *testing.T) {
	config := discreteConfig()
	a, err := config.CreateAgent(discreteEnv(), 7)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	traj := collectTrajectory(t, a, discreteObservations(), testRewards)
	advantages, err := metric.GAE(config.Gamma, config.Lambda, traj,
		traj.Values(), 0)
	if err != nil {
		t.Fatal(err)
	}
	expected := -floatutils.Mean(advantages...)

	diagnostics, err := a.Learn([]*trajectory.Trajectory{traj})
	if err != nil {
		t.Fatal(err)
	}

	if math.Abs(diagnostics[PolicyLossKey]-expected) > 1e-6 {
		t.Errorf("expected policy loss %v, got %v", expected,
			diagnostics[PolicyLossKey])
	}
	if math.Abs(diagnostics[ApproxKLKey]) > 1e-8 {
		t.Errorf("expected vanishing KL on first update, got %v",
			diagnostics[ApproxKLKey])
	}
	if diagnostics[ClipFracKey] != 0 {
		t.Errorf("expected no clipping on first update, got %v",
			diagnostics[ClipFracKey])
	}
	if _, ok := diagnostics[CurrentLRKey]; ok {
		t.Error("learning rate reported without a schedule")
	}
}

// TestLearnRemainderMinibatch covers batches whose size is not a
// multiple of the minibatch size: the final shuffled minibatch then
// holds a single step, whose returns have no sample variance, and the
// update must still produce finite diagnostics.
func TestLearnRemainderMinibatch(t *testing.T) {
	a, err := discreteConfig().CreateAgent(discreteEnv(), 13)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	observations := append(discreteObservations(),
		mat.NewVecDense(2, []float64{0.6, -0.7}))
	rewards := []float64{1, 0.5, -0.2, 2, 0.3}
	traj := collectTrajectory(t, a, observations, rewards)

	diagnostics, err := a.Learn([]*trajectory.Trajectory{traj})
	if err != nil {
		t.Fatalf("Learn failed on a %v-step batch with batch size %v: %v",
			len(rewards), discreteConfig().BatchSize, err)
	}
	for key, val := range diagnostics {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			t.Errorf("diagnostic %v is not finite: %v", key, val)
		}
	}
}

// TestScheduleAnnealsOnlyPolicyLR checks that the learning-rate
// schedule is stepped on the timestep counter as it stood before the
// current batch, and that the value solver is never annealed.
func TestScheduleAnnealsOnlyPolicyLR(t *testing.T) {
	config := discreteConfig()
	config.UseLRSchedule = true
	config.ScheduleTimesteps = 1000

	a, err := config.CreateAgent(discreteEnv(), 29)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	p := a.(*PPO)

	traj := collectTrajectory(t, a, discreteObservations(), testRewards)
	diagnostics, err := a.Learn([]*trajectory.Trajectory{traj})
	if err != nil {
		t.Fatal(err)
	}
	if diagnostics[CurrentLRKey] != config.PolicyLR {
		t.Errorf("first update must use the undecayed rate %v, got %v",
			config.PolicyLR, diagnostics[CurrentLRKey])
	}

	traj = collectTrajectory(t, a, discreteObservations(), testRewards)
	diagnostics, err = a.Learn([]*trajectory.Trajectory{traj})
	if err != nil {
		t.Fatal(err)
	}
	expected := config.PolicyLR *
		(1 - float64(len(testRewards))/float64(config.ScheduleTimesteps))
	if math.Abs(diagnostics[CurrentLRKey]-expected) > 1e-12 {
		t.Errorf("expected annealed rate %v, got %v", expected,
			diagnostics[CurrentLRKey])
	}
	if p.valueSolver.StepSize() != config.ValueLR {
		t.Errorf("value solver must stay at its base rate %v, got %v",
			config.ValueLR, p.valueSolver.StepSize())
	}
}

func TestFlattenGathersCachedStatistics(t *testing.T) {
	a, err := discreteConfig().CreateAgent(discreteEnv(), 37)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	p := a.(*PPO)

	traj := collectTrajectory(t, a, discreteObservations(), testRewards)
	d, total, err := p.flatten([]*trajectory.Trajectory{traj})
	if err != nil {
		t.Fatal(err)
	}
	if total != traj.Len() {
		t.Errorf("expected %v timesteps, got %v", traj.Len(), total)
	}

	logProbs := traj.LogProbs()
	entropies := traj.Entropies()
	values := traj.Values()
	for i := 0; i < traj.Len(); i++ {
		if d.oldLogProbs[i] != logProbs[i] ||
			d.oldEntropies[i] != entropies[i] ||
			d.oldValues[i] != values[i] {
			t.Errorf("cached statistics differ at step %v", i)
		}
	}
}

func TestLearnAccumulatesTimesteps(t *testing.T) {
	a, err := discreteConfig().CreateAgent(discreteEnv(), 11)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	for i := 1; i <= 3; i++ {
		traj := collectTrajectory(t, a, discreteObservations(), testRewards)
		if _, err := a.Learn([]*trajectory.Trajectory{traj}); err != nil {
			t.Fatal(err)
		}
		if a.TotalTimesteps() != i*len(testRewards) {
			t.Errorf("after %v updates: expected %v timesteps, got %v",
				i, i*len(testRewards), a.TotalTimesteps())
		}
	}
}

func TestLearnChangesParameters(t *testing.T) {
	config := discreteConfig()
	config.Epochs = 4
	config.BatchSize = 2

	a, err := config.CreateAgent(discreteEnv(), 3)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	p := a.(*PPO)

	before := make(map[string][]float64)
	for name, param := range p.params() {
		before[name] = append([]float64(nil), param.Data().([]float64)...)
	}

	traj := collectTrajectory(t, a, discreteObservations(), testRewards)
	if _, err := a.Learn([]*trajectory.Trajectory{traj}); err != nil {
		t.Fatal(err)
	}

	changed := false
	for name, param := range p.params() {
		after := param.Data().([]float64)
		for i, val := range before[name] {
			if after[i] != val {
				changed = true
			}
		}
	}
	if !changed {
		t.Error("learning left every parameter unchanged")
	}
}

func TestGaussianLearn(t *testing.T) {
	config := GaussianConfig{
		Layers:         []int{8},
		InitStd:        0.5,
		PolicyLR:       3e-4,
		ValueLR:        1e-3,
		Gamma:          0.99,
		Lambda:         0.95,
		ClipEps:        0.2,
		MaxGradNorm:    0.5,
		StandardizeAdv: true,
		BatchSize:      4,
		Epochs:         2,
	}

	a, err := config.CreateAgent(continuousEnv(), 19)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	p := a.(*PPO)

	if _, ok := p.params()["policy/logstd"]; !ok {
		t.Fatal("gaussian policy must expose its log standard deviation")
	}

	observations := []*mat.VecDense{
		mat.NewVecDense(3, []float64{0.1, -0.3, 0.5}),
		mat.NewVecDense(3, []float64{0.7, 0.2, -0.4}),
		mat.NewVecDense(3, []float64{-0.5, 0.9, 0.1}),
		mat.NewVecDense(3, []float64{0.3, 0.4, -0.9}),
		mat.NewVecDense(3, []float64{-0.8, -0.1, 0.2}),
	}
	traj := collectTrajectory(t, a, observations, testRewards)

	diagnostics, err := a.Learn([]*trajectory.Trajectory{traj})
	if err != nil {
		t.Fatal(err)
	}
	for key, val := range diagnostics {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			t.Errorf("diagnostic %v is not finite: %v", key, val)
		}
	}
}

func TestCheckpointLoad(t *testing.T) {
	a, err := discreteConfig().CreateAgent(discreteEnv(), 23)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	p := a.(*PPO)

	traj := collectTrajectory(t, a, discreteObservations(), testRewards)
	if _, err := a.Learn([]*trajectory.Trajectory{traj}); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	if err := p.Checkpoint(dir, 1); err != nil {
		t.Fatal(err)
	}
	savedTimesteps := p.TotalTimesteps()

	var name string
	var saved []float64
	for n, param := range p.params() {
		backing := param.Data().([]float64)
		name = n
		saved = append([]float64(nil), backing...)
		for i := range backing {
			backing[i] = -100
		}
		break
	}
	p.totalTimesteps = 0

	if err := p.Load(filepath.Join(dir, "agent_1.gob")); err != nil {
		t.Fatal(err)
	}
	restored := p.params()[name].Data().([]float64)
	for i := range saved {
		if restored[i] != saved[i] {
			t.Fatalf("parameter %v not restored at %v", name, i)
		}
	}
	if p.TotalTimesteps() != savedTimesteps {
		t.Errorf("expected %v timesteps after load, got %v",
			savedTimesteps, p.TotalTimesteps())
	}
}

// normalizingEnv advertises running observation moments, as an
// observation-standardizing wrapper would.
type normalizingEnv struct {
	testEnv
	mean     []float64
	variance []float64
}

func (e normalizingEnv) ObservationMoments() (mean, variance []float64) {
	return e.mean, e.variance
}

func TestCheckpointSavesObservationMoments(t *testing.T) {
	env := normalizingEnv{
		testEnv:  discreteEnv(),
		mean:     []float64{0.1, -0.2},
		variance: []float64{1.5, 0.8},
	}
	a, err := discreteConfig().CreateAgent(env, 5)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	p := a.(*PPO)

	dir := t.TempDir()
	if err := p.Checkpoint(dir, 3); err != nil {
		t.Fatal(err)
	}

	file, err := os.Open(filepath.Join(dir, "obs_moments_3.gob"))
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	var moments obsMoments
	if err := gob.NewDecoder(file).Decode(&moments); err != nil {
		t.Fatal(err)
	}
	for i := range env.mean {
		if moments.Mean[i] != env.mean[i] ||
			moments.Variance[i] != env.variance[i] {
			t.Fatalf("expected moments (%v, %v), got (%v, %v)",
				env.mean, env.variance, moments.Mean, moments.Variance)
		}
	}
}

func TestLearnRejectsUnfinishedTrajectory(t *testing.T) {
	a, err := discreteConfig().CreateAgent(discreteEnv(), 31)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	traj := trajectory.New(1)
	obs := mat.NewVecDense(2, []float64{0.1, 0.2})
	out, err := a.ChooseAction(obs)
	if err != nil {
		t.Fatal(err)
	}
	if err := traj.Push(obs, out.Action, 1, trajectory.Extra{}); err != nil {
		t.Fatal(err)
	}

	if _, err := a.Learn([]*trajectory.Trajectory{traj}); err == nil {
		t.Error("expected error for unfinished trajectory")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := discreteConfig()
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	noLayers := discreteConfig()
	noLayers.Layers = nil
	if err := noLayers.Validate(); err == nil {
		t.Error("expected error for missing hidden layers")
	}

	badClip := discreteConfig()
	badClip.ClipEps = 0
	if err := badClip.Validate(); err == nil {
		t.Error("expected error for zero clipping radius")
	}

	badSchedule := discreteConfig()
	badSchedule.UseLRSchedule = true
	badSchedule.ScheduleTimesteps = 0
	if err := badSchedule.Validate(); err == nil {
		t.Error("expected error for scheduled config without a horizon")
	}

	badStd := GaussianConfig{
		Layers:    []int{8},
		InitStd:   0,
		PolicyLR:  1e-3,
		ValueLR:   1e-3,
		Gamma:     0.99,
		Lambda:    0.95,
		ClipEps:   0.2,
		BatchSize: 4,
		Epochs:    1,
	}
	if err := badStd.Validate(); err == nil {
		t.Error("expected error for non-positive initial deviation")
	}
}
