package data

import (
	"errors"
	"fmt"
)

// Sample is one (frame, expression, (label_activity, label_adversarial)) item.
// AdversarialTarget optionally carries a soft target row; when empty the
// one-hot encoding of LabelAdversarial is used.
type Sample struct {
	Frame             []float64
	Expression        []float64
	LabelActivity     int
	LabelAdversarial  int
	AdversarialTarget []float64
}

// Batch is the column-wise stacking of samples produced by a ClassLoader.
type Batch struct {
	Frames             [][]float64
	Expressions        [][]float64
	LabelActivity      []int
	LabelAdversarial   []int
	AdversarialTargets [][]float64
}

var ErrEmptyBatch = errors.New("empty batch")

func (b Batch) Len() int {
	return len(b.Frames)
}

// Validate checks that every column has one row per sample.
func (b Batch) Validate() error {
	n := len(b.Frames)
	if n == 0 {
		return ErrEmptyBatch
	}
	if len(b.Expressions) != n {
		return fmt.Errorf("batch has %d frames but %d expressions", n, len(b.Expressions))
	}
	if len(b.LabelActivity) != n || len(b.LabelAdversarial) != n {
		return fmt.Errorf("batch has %d frames but %d/%d labels", n, len(b.LabelActivity), len(b.LabelAdversarial))
	}
	if len(b.AdversarialTargets) != 0 && len(b.AdversarialTargets) != n {
		return fmt.Errorf("batch has %d frames but %d adversarial targets", n, len(b.AdversarialTargets))
	}
	return nil
}

// Targets returns the regression target rows for the adversarial head.
func (b Batch) Targets(numClasses int) ([][]float64, error) {
	if len(b.AdversarialTargets) != 0 {
		for i, row := range b.AdversarialTargets {
			if len(row) != numClasses {
				return nil, fmt.Errorf("target row %d has width %d, want %d", i, len(row), numClasses)
			}
		}
		return b.AdversarialTargets, nil
	}
	rows := make([][]float64, len(b.LabelAdversarial))
	for i, label := range b.LabelAdversarial {
		if label < 0 || label >= numClasses {
			return nil, fmt.Errorf("adversarial label %d out of range [0,%d)", label, numClasses)
		}
		rows[i] = make([]float64, numClasses)
		rows[i][label] = 1
	}
	return rows, nil
}

func stack(samples []Sample) Batch {
	batch := Batch{
		Frames:           make([][]float64, len(samples)),
		Expressions:      make([][]float64, len(samples)),
		LabelActivity:    make([]int, len(samples)),
		LabelAdversarial: make([]int, len(samples)),
	}
	soft := len(samples) > 0 && len(samples[0].AdversarialTarget) > 0
	if soft {
		batch.AdversarialTargets = make([][]float64, len(samples))
	}
	for i, s := range samples {
		batch.Frames[i] = s.Frame
		batch.Expressions[i] = s.Expression
		batch.LabelActivity[i] = s.LabelActivity
		batch.LabelAdversarial[i] = s.LabelAdversarial
		if soft {
			batch.AdversarialTargets[i] = s.AdversarialTarget
		}
	}
	return batch
}
