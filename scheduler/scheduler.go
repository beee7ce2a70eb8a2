// Package scheduler interleaves per-class loaders into synchronized steps.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"

	"twostream/data"
)

// Pair is one class's batch at one step.
type Pair struct {
	LoaderID int
	Batch    data.Batch
}

// StepFunc handles one active pair. Returning an error aborts the pass.
type StepFunc func(step int, pair Pair) error

type Option func(*Scheduler)

// WithHoistedIterators creates every loader's iterator once per pass instead
// of once per step, so step i consumes a loader's i-th batch.
func WithHoistedIterators() Option {
	return func(s *Scheduler) {
		s.hoist = true
	}
}

// Scheduler runs step_count = max(len) synchronized steps over N loaders.
// By default every loader gets a fresh iterator at the start of every step
// and is advanced by one batch, so each active loader yields its first batch
// at every step.
type Scheduler struct {
	loaders []data.ClassLoader
	hoist   bool
}

func New(loaders []data.ClassLoader, opts ...Option) *Scheduler {
	s := &Scheduler{loaders: loaders}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StepCount is the longest loader's length.
func (s *Scheduler) StepCount() int {
	steps := 0
	for _, loader := range s.loaders {
		if n := loader.Len(); n > steps {
			steps = n
		}
	}
	return steps
}

// Active lists, in ascending order, the loaders processed at step.
func (s *Scheduler) Active(step int) []int {
	active := make([]int, 0, len(s.loaders))
	for id, loader := range s.loaders {
		if step < loader.Len() {
			active = append(active, id)
		}
	}
	return active
}

// Run drives one full pass. Within a step loaders are visited in ascending
// id order; step i completes before step i+1 starts.
func (s *Scheduler) Run(ctx context.Context, fn StepFunc) error {
	var iters []data.Iterator
	if s.hoist {
		iters = s.iterators()
	}

	steps := s.StepCount()
	for step := 0; step < steps; step++ {
		if !s.hoist {
			iters = s.iterators()
		}
		for id, loader := range s.loaders {
			if step >= loader.Len() {
				continue
			}
			batch, err := iters[id].Next(ctx)
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("loader %d at step %d: %w", id, step, data.ErrExhausted)
			}
			if err != nil {
				return fmt.Errorf("loader %d at step %d: %w", id, step, err)
			}
			if err := fn(step, Pair{LoaderID: id, Batch: batch}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scheduler) iterators() []data.Iterator {
	iters := make([]data.Iterator, len(s.loaders))
	for id, loader := range s.loaders {
		iters[id] = loader.Iterate()
	}
	return iters
}
