package data

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
)

// ClassLoader is an ordered, restartable, finite producer of batches for one
// class. Len is the number of batches one full iteration yields.
type ClassLoader interface {
	Len() int
	Iterate() Iterator
}

// Iterator walks one pass over a ClassLoader. Next returns io.EOF after the
// last batch.
type Iterator interface {
	Next(ctx context.Context) (Batch, error)
}

// ErrExhausted reports a loader that produced fewer batches than its Len.
var ErrExhausted = errors.New("loader exhausted before its declared length")

// SliceLoader batches an in-memory sample list. With Shuffle set, every call
// to Iterate draws a new permutation from the loader's seeded source, so a
// fresh iterator's first batch differs between calls but is reproducible
// across runs with the same seed.
type SliceLoader struct {
	samples   []Sample
	batchSize int
	shuffle   bool

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSliceLoader(samples []Sample, batchSize int, shuffle bool, seed int64) *SliceLoader {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &SliceLoader{
		samples:   samples,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

func (l *SliceLoader) Len() int {
	return (len(l.samples) + l.batchSize - 1) / l.batchSize
}

// NumSamples is the dataset size behind the loader.
func (l *SliceLoader) NumSamples() int {
	return len(l.samples)
}

func (l *SliceLoader) Iterate() Iterator {
	order := make([]int, len(l.samples))
	if l.shuffle {
		l.mu.Lock()
		order = l.rng.Perm(len(l.samples))
		l.mu.Unlock()
	} else {
		for i := range order {
			order[i] = i
		}
	}
	return &sliceIterator{loader: l, order: order}
}

type sliceIterator struct {
	loader *SliceLoader
	order  []int
	pos    int
}

func (it *sliceIterator) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	if it.pos >= len(it.order) {
		return Batch{}, io.EOF
	}
	end := it.pos + it.loader.batchSize
	if end > len(it.order) {
		end = len(it.order)
	}
	samples := make([]Sample, 0, end-it.pos)
	for _, idx := range it.order[it.pos:end] {
		samples = append(samples, it.loader.samples[idx])
	}
	it.pos = end
	return stack(samples), nil
}
