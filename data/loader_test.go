package data

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func makeSamples(n int) []Sample {
	samples := make([]Sample, n)
	for i := range samples {
		samples[i] = Sample{
			Frame:            []float64{float64(i)},
			Expression:       []float64{0},
			LabelActivity:    0,
			LabelAdversarial: i % 3,
		}
	}
	return samples
}

func TestSliceLoaderLenAndOrder(t *testing.T) {
	loader := NewSliceLoader(makeSamples(5), 2, false, 0)
	if loader.Len() != 3 {
		t.Fatalf("expected 3 batches, got %d", loader.Len())
	}

	it := loader.Iterate()
	var sizes []int
	var first []float64
	for {
		batch, err := it.Next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sizes = append(sizes, batch.Len())
		first = append(first, batch.Frames[0][0])
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[2] != 1 {
		t.Fatalf("unexpected batch sizes: %v", sizes)
	}
	if first[0] != 0 || first[1] != 2 || first[2] != 4 {
		t.Fatalf("expected fixed order, got %v", first)
	}
}

func TestSliceLoaderShuffleIsSeeded(t *testing.T) {
	a := NewSliceLoader(makeSamples(20), 4, true, 7)
	b := NewSliceLoader(makeSamples(20), 4, true, 7)

	for round := 0; round < 3; round++ {
		ba, err := a.Iterate().Next(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		bb, err := b.Iterate().Next(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i := range ba.Frames {
			if ba.Frames[i][0] != bb.Frames[i][0] {
				t.Fatalf("round %d: same seed produced different batches", round)
			}
		}
	}
}

func TestBatchTargets(t *testing.T) {
	batch := stack(makeSamples(3))
	rows, err := batch.Targets(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows[2][2] != 1 || rows[2][0] != 0 {
		t.Fatalf("expected one-hot rows, got %v", rows)
	}
	if _, err := batch.Targets(2); err == nil {
		t.Fatal("expected out of range label error")
	}

	empty := Batch{}
	if err := empty.Validate(); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestSyntheticSplits(t *testing.T) {
	s, err := NewSynthetic(SyntheticConfig{
		TrainLengths:  []int{6, 2},
		ValLengths:    []int{3, 3},
		FrameDim:      4,
		ExpressionDim: 2,
		NumClasses:    5,
		Noise:         0.1,
		Seed:          1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	train := s.TrainLoaders(4)
	if train[0].Len() != 2 || train[1].Len() != 1 {
		t.Fatalf("unexpected loader lengths: %d %d", train[0].Len(), train[1].Len())
	}
	batch, err := train[1].Iterate().Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.LabelActivity[0] != 1 {
		t.Fatalf("expected activity label 1, got %d", batch.LabelActivity[0])
	}

	trainSizes, valSizes := Summary(train, s.ValLoaders(4))
	if trainSizes != "[6, 2]" {
		t.Fatalf("unexpected train summary %q", trainSizes)
	}
	if !strings.HasPrefix(valSizes, "6 samples") {
		t.Fatalf("unexpected validation summary %q", valSizes)
	}
}
