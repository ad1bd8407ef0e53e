package ppo

import (
	"fmt"
	"math/rand"
)

// sampler partitions the indices [0, n) into shuffled minibatches.
// Every index appears in exactly one minibatch per pass, and the final
// minibatch of a pass may be smaller than batchSize when batchSize
// does not divide n.
type sampler struct {
	rng       *rand.Rand
	indices   []int
	batchSize int
	next      int
}

func newSampler(n, batchSize int, rng *rand.Rand) (*sampler, error) {
	if n <= 0 {
		return nil, fmt.Errorf("newSampler: no data to sample")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("newSampler: batch size must be positive")
	}
	if batchSize > n {
		batchSize = n
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}

	s := &sampler{
		rng:       rng,
		indices:   indices,
		batchSize: batchSize,
	}
	s.Reset()
	return s, nil
}

// Reset reshuffles the indices and starts a new pass.
func (s *sampler) Reset() {
	s.rng.Shuffle(len(s.indices), func(i, j int) {
		s.indices[i], s.indices[j] = s.indices[j], s.indices[i]
	})
	s.next = 0
}

// Next returns the next minibatch of the current pass, or false when
// the pass is exhausted.
func (s *sampler) Next() ([]int, bool) {
	if s.next >= len(s.indices) {
		return nil, false
	}

	end := s.next + s.batchSize
	if end > len(s.indices) {
		end = len(s.indices)
	}
	batch := s.indices[s.next:end]
	s.next = end
	return batch, true
}
