package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const sgdType = "SGD"

// OptimizerState is the serializable optimizer snapshot stored in checkpoints.
type OptimizerState struct {
	Type     string    `json:"type"`
	LR       float64   `json:"lr"`
	Momentum float64   `json:"momentum"`
	Steps    uint64    `json:"steps"`
	Buffers  StateDict `json:"momentum_buffer,omitempty"`
}

// SGD is stochastic gradient descent with heavy-ball momentum:
// buf = momentum·buf + grad (buf = grad on first use), p -= lr·buf.
// Buffers are keyed by parameter name, so a classifier head swapped into the
// same parameter storage shares one momentum buffer across classes.
type SGD struct {
	params   []*Parameter
	lr       float64
	momentum float64
	buffers  map[string]*mat.Dense
	steps    uint64
}

func NewSGD(params []*Parameter, lr, momentum float64) *SGD {
	return &SGD{
		params:   params,
		lr:       lr,
		momentum: momentum,
		buffers:  make(map[string]*mat.Dense),
	}
}

func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		p.Grad.Zero()
	}
}

func (o *SGD) Step() error {
	for _, p := range o.params {
		update := p.Grad
		if o.momentum != 0 {
			buf, ok := o.buffers[p.Name]
			if !ok {
				buf = mat.DenseCopyOf(p.Grad)
				o.buffers[p.Name] = buf
			} else {
				buf.Scale(o.momentum, buf)
				buf.Add(buf, p.Grad)
			}
			update = buf
		}
		var scaled mat.Dense
		scaled.Scale(o.lr, update)
		p.Value.Sub(p.Value, &scaled)

		if !finite(p.Value) {
			return fmt.Errorf("%w: parameter %s diverged", ErrNumericFailure, p.Name)
		}
	}
	o.steps++
	return nil
}

func (o *SGD) LR() float64 {
	return o.lr
}

func (o *SGD) SetLR(lr float64) {
	o.lr = lr
}

func (o *SGD) Steps() uint64 {
	return o.steps
}

func (o *SGD) StateDict() OptimizerState {
	state := OptimizerState{
		Type:     sgdType,
		LR:       o.lr,
		Momentum: o.momentum,
		Steps:    o.steps,
	}
	if len(o.buffers) > 0 {
		state.Buffers = make(StateDict, len(o.buffers))
		for name, buf := range o.buffers {
			state.Buffers[name] = tensorOf(buf)
		}
	}
	return state
}

func (o *SGD) LoadStateDict(state OptimizerState) error {
	if state.Type != sgdType {
		return fmt.Errorf("optimizer state type %q, want %q", state.Type, sgdType)
	}
	known := make(map[string]bool, len(o.params))
	for _, p := range o.params {
		known[p.Name] = true
	}
	buffers := make(map[string]*mat.Dense, len(state.Buffers))
	for name, t := range state.Buffers {
		if !known[name] {
			return fmt.Errorf("momentum buffer for unknown parameter %q", name)
		}
		buffers[name] = t.Dense()
	}
	o.lr = state.LR
	o.momentum = state.Momentum
	o.steps = state.Steps
	o.buffers = buffers
	return nil
}

func finite(m *mat.Dense) bool {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for _, v := range m.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
