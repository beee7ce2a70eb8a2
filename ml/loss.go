package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MSELoss returns mean((output-target)²) over every element and its
// gradient with respect to output.
func MSELoss(output, target *mat.Dense) (float64, *mat.Dense, error) {
	r, c := output.Dims()
	tr, tc := target.Dims()
	if r != tr || c != tc {
		return 0, nil, fmt.Errorf("output is %dx%d but target is %dx%d", r, c, tr, tc)
	}

	diff := mat.NewDense(r, c, nil)
	diff.Sub(output, target)

	n := float64(r * c)
	var sum float64
	for i := 0; i < r; i++ {
		row := diff.RawRowView(i)
		sum += floats.Dot(row, row)
	}
	loss := sum / n
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, nil, fmt.Errorf("%w: loss is %v", ErrNumericFailure, loss)
	}

	diff.Scale(2/n, diff)
	return loss, diff, nil
}
