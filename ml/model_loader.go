package ml

import (
	"errors"
	"fmt"
	"math/rand"
)

// ModelSpec selects and sizes the two-stage model.
type ModelSpec struct {
	Type           string
	FrameDim       int
	ExpressionDim  int
	FeatureDim     int
	NumClasses     int
	WithExpression bool
	Seed           int64
}

func NewModel(spec ModelSpec) (*CombinedModel, error) {
	if spec.FrameDim <= 0 || spec.FeatureDim <= 0 || spec.NumClasses <= 0 {
		return nil, fmt.Errorf("invalid model dimensions: frame=%d feature=%d classes=%d", spec.FrameDim, spec.FeatureDim, spec.NumClasses)
	}
	rng := rand.New(rand.NewSource(spec.Seed))
	switch spec.Type {
	case "", "linear":
		backbone := NewLinearBackbone(spec.FrameDim, spec.FeatureDim, rng)
		classifier := NewLinearClassifier(spec.FeatureDim, spec.ExpressionDim, spec.NumClasses, spec.WithExpression, rng)
		return NewCombinedModel(backbone, classifier), nil
	default:
		return nil, errors.New("unsupported model type")
	}
}
