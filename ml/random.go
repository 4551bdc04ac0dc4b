package ml

import (
	"sync"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Rand is a seeded source of random tensors. It is safe for concurrent use;
// draws are serialised so a fixed seed yields a fixed sequence.
type Rand struct {
	mu      sync.Mutex
	normal  distuv.Normal
	uniform distuv.Uniform
}

func NewRand(seed uint64) *Rand {
	src := rand.NewSource(seed)
	return &Rand{
		normal:  distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		uniform: distuv.Uniform{Min: 0, Max: 1, Src: src},
	}
}

// Normal returns a tensor of standard normal samples.
func (r *Rand) Normal(shape ...int) *Tensor {
	t := Zeros(shape...)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range t.data {
		t.data[i] = r.normal.Rand()
	}

	return t
}

// Uniform returns a tensor of samples drawn uniformly from [lo, hi).
func (r *Rand) Uniform(lo, hi float64, shape ...int) *Tensor {
	t := Zeros(shape...)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range t.data {
		t.data[i] = lo + (hi-lo)*r.uniform.Rand()
	}

	return t
}

// Float64 returns a single sample from [0, 1).
func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uniform.Rand()
}
