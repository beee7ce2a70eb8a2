package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"twostream/data"
)

// countingLoader yields batches whose single frame value is the batch index
// within the current iteration, and counts how many iterators were created.
type countingLoader struct {
	length  int
	yield   int
	created int
}

func (l *countingLoader) Len() int { return l.length }

func (l *countingLoader) Iterate() data.Iterator {
	l.created++
	return &countingIterator{loader: l}
}

type countingIterator struct {
	loader *countingLoader
	pos    int
}

func (it *countingIterator) Next(ctx context.Context) (data.Batch, error) {
	if it.pos >= it.loader.yield {
		return data.Batch{}, io.EOF
	}
	batch := data.Batch{Frames: [][]float64{{float64(it.pos)}}}
	it.pos++
	return batch, nil
}

func newLoaders(lengths ...int) ([]data.ClassLoader, []*countingLoader) {
	loaders := make([]data.ClassLoader, len(lengths))
	raw := make([]*countingLoader, len(lengths))
	for i, n := range lengths {
		raw[i] = &countingLoader{length: n, yield: n}
		loaders[i] = raw[i]
	}
	return loaders, raw
}

func TestStepCountAndActive(t *testing.T) {
	cases := [][]int{{3, 1}, {1, 1, 1}, {0, 4, 2}, {5}}
	for _, lengths := range cases {
		loaders, _ := newLoaders(lengths...)
		s := New(loaders)
		max := 0
		for _, n := range lengths {
			if n > max {
				max = n
			}
		}
		if s.StepCount() != max {
			t.Fatalf("%v: expected %d steps, got %d", lengths, max, s.StepCount())
		}

		seen := map[string]bool{}
		err := s.Run(context.Background(), func(step int, pair Pair) error {
			seen[fmt.Sprintf("%d/%d", step, pair.LoaderID)] = true
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for step := 0; step < max; step++ {
			for id, n := range lengths {
				want := step < n
				if seen[fmt.Sprintf("%d/%d", step, id)] != want {
					t.Fatalf("%v: step %d loader %d processed=%v, want %v", lengths, step, id, !want, want)
				}
			}
		}
	}
}

func TestRunRewindsEveryStep(t *testing.T) {
	loaders, raw := newLoaders(3, 1)
	s := New(loaders)

	var order []string
	err := s.Run(context.Background(), func(step int, pair Pair) error {
		order = append(order, fmt.Sprintf("%d/%d/%v", step, pair.LoaderID, pair.Batch.Frames[0][0]))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"0/0/0", "0/1/0", "1/0/0", "2/0/0"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	// iterators are rebuilt for every loader at every step, skipped ones included
	if raw[0].created != 3 || raw[1].created != 3 {
		t.Fatalf("expected 3 iterators per loader, got %d and %d", raw[0].created, raw[1].created)
	}
}

func TestRunHoisted(t *testing.T) {
	loaders, raw := newLoaders(3, 1)
	s := New(loaders, WithHoistedIterators())

	var values []float64
	err := s.Run(context.Background(), func(step int, pair Pair) error {
		if pair.LoaderID == 0 {
			values = append(values, pair.Batch.Frames[0][0])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(values) != "[0 1 2]" {
		t.Fatalf("expected successive batches, got %v", values)
	}
	if raw[0].created != 1 {
		t.Fatalf("expected one iterator, got %d", raw[0].created)
	}
}

func TestRunExhaustedAndAbort(t *testing.T) {
	short := &countingLoader{length: 2, yield: 1}
	s := New([]data.ClassLoader{short}, WithHoistedIterators())
	err := s.Run(context.Background(), func(int, Pair) error { return nil })
	if !errors.Is(err, data.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}

	loaders, _ := newLoaders(2, 2)
	boom := errors.New("boom")
	calls := 0
	err = New(loaders).Run(context.Background(), func(int, Pair) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected abort after first call, got %v after %d calls", err, calls)
	}
}
