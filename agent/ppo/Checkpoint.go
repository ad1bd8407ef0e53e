package ppo

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"gorgonia.org/tensor"

	"github.com/TeaganLi/lagom/environment"
)

// savedTensor is the serialized form of one parameter tensor.
type savedTensor struct {
	Shape []int
	Data  []float64
}

// checkpointData is the serialized form of an agent.
type checkpointData struct {
	Params         map[string]savedTensor
	TotalTimesteps int
}

// obsMoments holds the running observation statistics saved alongside
// a checkpoint when the environment standardizes its observations.
type obsMoments struct {
	Mean     []float64
	Variance []float64
}

// params returns all canonical parameter tensors of the agent keyed by
// name.
func (p *PPO) params() map[string]*tensor.Dense {
	names := append(p.policy.ParamNames(), p.critic.ParamNames()...)
	tensors := append(p.policy.ParamTensors(), p.critic.ParamTensors()...)

	params := make(map[string]*tensor.Dense, len(names))
	for i, name := range names {
		params[name] = tensors[i]
	}
	return params
}

// Checkpoint saves the agent's parameters to dir as agent_<iter>.gob.
// When the environment standardizes observations, its running moments
// are saved alongside as obs_moments_<iter>.gob so that the policy can
// later be run under the same observation scaling.
func (p *PPO) Checkpoint(dir string, iteration int) error {
	data := checkpointData{
		Params:         make(map[string]savedTensor),
		TotalTimesteps: p.totalTimesteps,
	}
	for name, param := range p.params() {
		backing := param.Data().([]float64)
		saved := savedTensor{
			Shape: append([]int(nil), param.Shape()...),
			Data:  append([]float64(nil), backing...),
		}
		data.Params[name] = saved
	}

	path := filepath.Join(dir, fmt.Sprintf("agent_%d.gob", iteration))
	if err := writeGob(path, data); err != nil {
		return fmt.Errorf("checkpoint: %v", err)
	}

	if normalizer, ok := p.env.(environment.ObsNormalizer); ok {
		mean, variance := normalizer.ObservationMoments()
		moments := obsMoments{Mean: mean, Variance: variance}

		path := filepath.Join(dir,
			fmt.Sprintf("obs_moments_%d.gob", iteration))
		if err := writeGob(path, moments); err != nil {
			return fmt.Errorf("checkpoint: %v", err)
		}
	}
	return nil
}

// Load restores the agent's parameters from a file written by
// Checkpoint. The agent must have been created with the same
// configuration as the checkpointed one.
func (p *PPO) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("load: %v", err)
	}
	defer file.Close()

	var data checkpointData
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return fmt.Errorf("load: could not decode checkpoint: %v", err)
	}

	params := p.params()
	for name, saved := range data.Params {
		param, ok := params[name]
		if !ok {
			return fmt.Errorf("load: no such parameter %v", name)
		}
		backing := param.Data().([]float64)
		if len(saved.Data) != len(backing) {
			return fmt.Errorf("load: invalid size for parameter %v"+
				"\n\twant(%v)\n\thave(%v)", name, len(backing),
				len(saved.Data))
		}
		copy(backing, saved.Data)
	}
	p.totalTimesteps = data.TotalTimesteps
	return nil
}

func writeGob(path string, data interface{}) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(file).Encode(data); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
