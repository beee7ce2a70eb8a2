package training

import (
	"math"

	"twostream/ml"
)

// Plateau reduces the learning rate when the monitored validation metric
// (higher is better) stops improving by a relative threshold.
type Plateau struct {
	Factor    float64 // multiplicative reduction
	Patience  int     // epochs without improvement tolerated before reducing
	Threshold float64 // relative improvement required
	MinLR     float64
	Eps       float64 // reductions smaller than this are skipped

	best float64
	bad  int
}

func NewPlateau(factor float64, patience int, threshold, minLR float64) *Plateau {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience < 0 {
		patience = 0
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	if minLR < 0 {
		minLR = 0
	}
	return &Plateau{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		MinLR:     minLR,
		Eps:       1e-8,
		best:      math.Inf(-1),
	}
}

// Step records one epoch's metric and reduces opt's learning rate when the
// metric has not improved for more than Patience epochs. It reports whether
// the rate changed.
func (p *Plateau) Step(metric float64, opt ml.Optimizer) bool {
	if metric > p.best*(1+p.Threshold) {
		p.best = metric
		p.bad = 0
		return false
	}

	p.bad++
	if p.bad <= p.Patience {
		return false
	}
	p.bad = 0

	old := opt.LR()
	lr := math.Max(old*p.Factor, p.MinLR)
	if old-lr <= p.Eps {
		return false
	}
	opt.SetLR(lr)
	return true
}

func (p *Plateau) Best() float64 {
	return p.best
}
