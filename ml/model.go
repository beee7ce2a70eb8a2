package ml

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// ErrNumericFailure marks a non-finite loss or parameter. It is never
// recovered; the epoch that hits it aborts.
var ErrNumericFailure = errors.New("numeric failure")

// Parameter is a named trainable matrix with its accumulated gradient.
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParameter(name string, rows, cols int) *Parameter {
	return &Parameter{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// Module is anything that owns parameters. Parameters must return the same
// pointers on every call; optimizers hold on to them.
type Module interface {
	Parameters() []*Parameter
}

// Backbone maps a batch of frames (one row per sample) to features.
type Backbone interface {
	Module
	Forward(frames *mat.Dense) (*mat.Dense, error)
	// Backward accumulates parameter gradients from the gradient of the
	// last Forward's output.
	Backward(grad *mat.Dense) error
	FeatureDim() int
}

// Classifier maps features plus the expression signal to adversarial scores.
type Classifier interface {
	Module
	Forward(feature, expression *mat.Dense) (*mat.Dense, error)
	// Backward accumulates parameter gradients and returns the gradient
	// with respect to the feature input.
	Backward(grad *mat.Dense) (*mat.Dense, error)
	NumClasses() int
}

// Optimizer updates every parameter it was built with.
type Optimizer interface {
	ZeroGrad()
	Step() error
	LR() float64
	SetLR(lr float64)
	StateDict() OptimizerState
	LoadStateDict(state OptimizerState) error
}

func ZeroGrad(m Module) {
	for _, p := range m.Parameters() {
		p.Grad.Zero()
	}
}
