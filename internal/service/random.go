package service

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Rand is a goroutine-safe uniform source shared by the synthesizers.
// *rand.Rand is not safe for concurrent use on its own.
type Rand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRand returns a PCG-backed source. Seed 0 seeds from the wall clock.
func NewRand(seed uint64) *Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Rand{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Float64 returns a value in [0, 1).
func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

// Uniform returns a value in [lo, hi).
func (r *Rand) Uniform(lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}
