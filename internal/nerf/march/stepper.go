package march

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/volrender/internal/nerf/occupancy"
)

// MaxStepsPerRound bounds how many samples one alive ray takes per round.
const MaxStepsPerRound = 8

// Round is the sample batch of one inference round.
type Round struct {
	Index   int
	NStep   int
	Rays    []int // alive rays at the start of the round
	Spans   []Span
	Samples []Sample
}

// Stepper is the round-based inference marcher. Each round advances every
// alive ray by up to NStep occupied steps, where NStep = clamp(N/alive, 1, 8)
// keeps the per-round batch near N samples as rays drop out. The caller
// composites the round and then calls Compact with the rays that terminated.
//
// A Stepper is not safe for concurrent use; rounds are parallel internally.
type Stepper struct {
	k         kernel
	p         Params
	origins   []r3.Vec
	dirs      []r3.Vec
	far       []float64
	t         []float64
	alive     []int
	steps     int
	round     int
	rayOffset int
}

// NewStepper prepares an inference march over the given rays. rayOffset is
// the index of the first ray in the caller's full batch; it keys jitter.
func NewStepper(view occupancy.View, p Params, origins, dirs []r3.Vec, near, far []float64, rayOffset int) (*Stepper, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("march params: %w", err)
	}
	if err := checkRays(origins, dirs, near, far); err != nil {
		return nil, err
	}
	s := &Stepper{
		k:         newKernel(view, p),
		p:         p,
		origins:   origins,
		dirs:      dirs,
		far:       far,
		t:         make([]float64, len(origins)),
		alive:     make([]int, len(origins)),
		rayOffset: rayOffset,
	}
	copy(s.t, near)
	for i := range s.alive {
		s.alive[i] = i
	}
	return s, nil
}

// Alive returns the number of rays still being traversed.
func (s *Stepper) Alive() int { return len(s.alive) }

// Steps returns the per-ray step budget consumed so far.
func (s *Stepper) Steps() int { return s.steps }

// Done reports whether no rays remain or the step cap has been reached.
func (s *Stepper) Done() bool {
	return len(s.alive) == 0 || s.steps >= s.p.MaxSteps
}

// T returns the current distance of ray i.
func (s *Stepper) T(i int) float64 { return s.t[i] }

// Next marches one round. Jitter applies to the first round only.
func (s *Stepper) Next(ctx context.Context) (*Round, error) {
	if s.Done() {
		return nil, fmt.Errorf("stepper exhausted after %d rounds", s.round)
	}
	nAlive := len(s.alive)
	nStep := min(max(len(s.origins)/nAlive, 1), MaxStepsPerRound)
	perturb := s.p.Perturb && s.round == 0

	scratch := make([]Sample, nAlive*nStep)
	counts := make([]int, nAlive)
	err := forRanges(ctx, nAlive, s.p.Workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			ray := s.alive[i]
			t := s.t[ray]
			if perturb {
				t = s.k.start(t, true, s.p.Seed, s.rayOffset+ray)
			}
			slot := scratch[i*nStep : (i+1)*nStep]
			j := 0
			s.t[ray], counts[i] = s.k.walk(s.origins[ray], s.dirs[ray], t, s.far[ray], nStep, func(pos r3.Vec, t, dt float64) {
				slot[j] = Sample{Pos: pos, Dir: s.dirs[ray], T: t, Delta: dt, Ray: ray}
				j++
			})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("round %d: %w", s.round, err)
	}

	r := &Round{
		Index: s.round,
		NStep: nStep,
		Rays:  make([]int, nAlive),
		Spans: make([]Span, nAlive),
	}
	copy(r.Rays, s.alive)
	total := 0
	for _, c := range counts {
		total += c
	}
	r.Samples = make([]Sample, 0, total)
	for i, c := range counts {
		r.Spans[i] = Span{Offset: len(r.Samples), Count: c}
		r.Samples = append(r.Samples, scratch[i*nStep:i*nStep+c]...)
	}

	s.steps += nStep
	s.round++
	return r, nil
}

// Range returns the samples of the i-th ray of the round.
func (r *Round) Range(i int) []Sample {
	s := r.Spans[i]
	return r.Samples[s.Offset : s.Offset+s.Count]
}

// Compact drops rays that terminated this round (terminated is indexed like
// r.Rays and may be nil) and rays that ran out of occupied space before
// taking NStep samples. It returns the number of rays still alive.
func (s *Stepper) Compact(r *Round, terminated []bool) int {
	kept := s.alive[:0]
	for i, ray := range r.Rays {
		if terminated != nil && terminated[i] {
			continue
		}
		if r.Spans[i].Count < r.NStep {
			continue
		}
		kept = append(kept, ray)
	}
	s.alive = kept
	return len(s.alive)
}
