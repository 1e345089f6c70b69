package render

import (
	"sync"

	"gonum.org/v1/gonum/floats"
)

// StepCounter is a ring of per-launch sample totals. Each training launch
// fills one slot; the mean over filled slots sizes the next budget.
type StepCounter struct {
	mu     sync.Mutex
	steps  []float64
	rays   []int
	next   int
	filled int
}

// NewStepCounter returns a counter with n slots.
func NewStepCounter(n int) *StepCounter {
	return &StepCounter{steps: make([]float64, n), rays: make([]int, n)}
}

// Record stores the totals of one launch, overwriting the oldest slot.
func (c *StepCounter) Record(steps, rays int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps[c.next] = float64(steps)
	c.rays[c.next] = rays
	c.next = (c.next + 1) % len(c.steps)
	if c.filled < len(c.steps) {
		c.filled++
	}
}

// Mean returns the mean sample total over filled slots, truncated, and
// whether any slot is filled.
func (c *StepCounter) Mean() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filled == 0 {
		return 0, false
	}
	return int(floats.Sum(c.usedSlots()) / float64(c.filled)), true
}

// Launches returns how many slots hold data.
func (c *StepCounter) Launches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filled
}

// Reset empties the ring.
func (c *StepCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.steps {
		c.steps[i] = 0
		c.rays[i] = 0
	}
	c.next = 0
	c.filled = 0
}

// usedSlots returns the occupied slots. Caller holds mu.
func (c *StepCounter) usedSlots() []float64 {
	if c.filled < len(c.steps) {
		return c.steps[:c.filled]
	}
	return c.steps
}
