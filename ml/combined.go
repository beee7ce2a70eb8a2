package ml

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const (
	backbonePrefix   = "0."
	classifierPrefix = "1."
)

// CombinedModel chains a shared backbone and a swappable classifier head.
// Its state dict names backbone entries "0.*" and classifier entries "1.*".
type CombinedModel struct {
	backbone   Backbone
	classifier Classifier
	params     []*Parameter
}

func NewCombinedModel(backbone Backbone, classifier Classifier) *CombinedModel {
	m := &CombinedModel{backbone: backbone, classifier: classifier}
	for _, p := range backbone.Parameters() {
		m.params = append(m.params, &Parameter{Name: backbonePrefix + p.Name, Value: p.Value, Grad: p.Grad})
	}
	for _, p := range classifier.Parameters() {
		m.params = append(m.params, &Parameter{Name: classifierPrefix + p.Name, Value: p.Value, Grad: p.Grad})
	}
	return m
}

func (m *CombinedModel) Parameters() []*Parameter {
	return m.params
}

func (m *CombinedModel) NumClasses() int {
	return m.classifier.NumClasses()
}

// Forward runs backbone(frames) then classifier(feature, expression).
func (m *CombinedModel) Forward(frames, expressions *mat.Dense) (*mat.Dense, error) {
	feature, err := m.backbone.Forward(frames)
	if err != nil {
		return nil, fmt.Errorf("backbone: %w", err)
	}
	out, err := m.classifier.Forward(feature, expressions)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	return out, nil
}

func (m *CombinedModel) Backward(grad *mat.Dense) error {
	featureGrad, err := m.classifier.Backward(grad)
	if err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	if err := m.backbone.Backward(featureGrad); err != nil {
		return fmt.Errorf("backbone: %w", err)
	}
	return nil
}

func (m *CombinedModel) StateDict() StateDict {
	return StateDictOf(m)
}

func (m *CombinedModel) LoadStateDict(sd StateDict) error {
	return LoadStateDict(m, sd)
}

// ClassifierState snapshots only the classifier head.
func (m *CombinedModel) ClassifierState() StateDict {
	return StateDictOf(m.classifier)
}

// LoadClassifierState swaps a classifier head snapshot into place.
func (m *CombinedModel) LoadClassifierState(sd StateDict) error {
	return LoadStateDict(m.classifier, sd)
}

// FromRows stacks equally wide rows into a matrix. A zero-width input yields nil.
func FromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, errors.New("no rows")
	}
	width := len(rows[0])
	if width == 0 {
		return nil, nil
	}
	data := make([]float64, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has width %d, want %d", i, len(row), width)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), width, data), nil
}

// Rows copies a matrix back into row slices.
func Rows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = append([]float64(nil), m.RawRowView(i)...)
	}
	return out
}
