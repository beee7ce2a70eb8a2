package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Linear computes x·Wᵀ + b for a batch x with one sample per row.
type Linear struct {
	weight *Parameter // out x in
	bias   *Parameter // 1 x out
	input  *mat.Dense
}

func NewLinear(prefix string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		weight: newParameter(prefix+".weight", out, in),
		bias:   newParameter(prefix+".bias", 1, out),
	}
	bound := 1 / math.Sqrt(float64(in))
	for _, p := range []*Parameter{l.weight, l.bias} {
		r, c := p.Value.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				p.Value.Set(i, j, (2*rng.Float64()-1)*bound)
			}
		}
	}
	return l
}

func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

func (l *Linear) In() int {
	_, in := l.weight.Value.Dims()
	return in
}

func (l *Linear) Out() int {
	out, _ := l.weight.Value.Dims()
	return out
}

func (l *Linear) Forward(x *mat.Dense) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != l.In() {
		return nil, fmt.Errorf("%s: input width %d, want %d", l.weight.Name, cols, l.In())
	}
	l.input = mat.DenseCopyOf(x)

	out := mat.NewDense(rows, l.Out(), nil)
	out.Mul(x, l.weight.Value.T())
	bias := l.bias.Value.RawRowView(0)
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}
	return out, nil
}

func (l *Linear) Backward(grad *mat.Dense) (*mat.Dense, error) {
	if l.input == nil {
		return nil, errors.New("backward called before forward")
	}
	rows, cols := grad.Dims()
	inRows, _ := l.input.Dims()
	if rows != inRows || cols != l.Out() {
		return nil, fmt.Errorf("%s: gradient is %dx%d, want %dx%d", l.weight.Name, rows, cols, inRows, l.Out())
	}

	var dw mat.Dense
	dw.Mul(grad.T(), l.input)
	l.weight.Grad.Add(l.weight.Grad, &dw)

	db := l.bias.Grad.RawRowView(0)
	for i := 0; i < rows; i++ {
		for j, v := range grad.RawRowView(i) {
			db[j] += v
		}
	}

	dx := mat.NewDense(rows, l.In(), nil)
	dx.Mul(grad, l.weight.Value)
	return dx, nil
}

// LinearBackbone is a single fully connected layer with a ReLU.
type LinearBackbone struct {
	fc  *Linear
	pre *mat.Dense
}

func NewLinearBackbone(frameDim, featureDim int, rng *rand.Rand) *LinearBackbone {
	return &LinearBackbone{fc: NewLinear("fc", frameDim, featureDim, rng)}
}

func (b *LinearBackbone) Parameters() []*Parameter {
	return b.fc.Parameters()
}

func (b *LinearBackbone) FeatureDim() int {
	return b.fc.Out()
}

func (b *LinearBackbone) Forward(frames *mat.Dense) (*mat.Dense, error) {
	pre, err := b.fc.Forward(frames)
	if err != nil {
		return nil, err
	}
	b.pre = pre
	out := mat.DenseCopyOf(pre)
	out.Apply(func(_, _ int, v float64) float64 {
		return math.Max(v, 0)
	}, out)
	return out, nil
}

func (b *LinearBackbone) Backward(grad *mat.Dense) error {
	if b.pre == nil {
		return errors.New("backward called before forward")
	}
	masked := mat.DenseCopyOf(grad)
	masked.Apply(func(i, j int, v float64) float64 {
		if b.pre.At(i, j) > 0 {
			return v
		}
		return 0
	}, masked)
	_, err := b.fc.Backward(masked)
	return err
}

// LinearClassifier scores [feature | expression] (or feature alone when the
// expression stream is disabled) against the adversarial classes.
type LinearClassifier struct {
	fc             *Linear
	featureDim     int
	withExpression bool
}

func NewLinearClassifier(featureDim, expressionDim, numClasses int, withExpression bool, rng *rand.Rand) *LinearClassifier {
	if expressionDim <= 0 {
		withExpression = false
	}
	in := featureDim
	if withExpression {
		in += expressionDim
	}
	return &LinearClassifier{
		fc:             NewLinear("fc", in, numClasses, rng),
		featureDim:     featureDim,
		withExpression: withExpression,
	}
}

func (c *LinearClassifier) Parameters() []*Parameter {
	return c.fc.Parameters()
}

func (c *LinearClassifier) NumClasses() int {
	return c.fc.Out()
}

func (c *LinearClassifier) Forward(feature, expression *mat.Dense) (*mat.Dense, error) {
	if !c.withExpression {
		return c.fc.Forward(feature)
	}
	if expression == nil {
		return nil, errors.New("classifier expects an expression input")
	}
	rows, fw := feature.Dims()
	erows, ew := expression.Dims()
	if rows != erows {
		return nil, fmt.Errorf("feature has %d rows but expression has %d", rows, erows)
	}
	joined := mat.NewDense(rows, fw+ew, nil)
	joined.Slice(0, rows, 0, fw).(*mat.Dense).Copy(feature)
	joined.Slice(0, rows, fw, fw+ew).(*mat.Dense).Copy(expression)
	return c.fc.Forward(joined)
}

func (c *LinearClassifier) Backward(grad *mat.Dense) (*mat.Dense, error) {
	dx, err := c.fc.Backward(grad)
	if err != nil {
		return nil, err
	}
	if !c.withExpression {
		return dx, nil
	}
	rows, _ := dx.Dims()
	return mat.DenseCopyOf(dx.Slice(0, rows, 0, c.featureDim)), nil
}
