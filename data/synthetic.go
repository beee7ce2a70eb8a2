package data

import (
	"errors"
	"fmt"
	"math/rand"
)

// SyntheticConfig describes a generated per-class dataset. Class j of the
// loader set is the activity class; each sample's adversarial label is drawn
// uniformly and its frame sits near that label's prototype.
type SyntheticConfig struct {
	TrainLengths  []int // samples per class, training split
	ValLengths    []int // samples per class, validation split
	FrameDim      int
	ExpressionDim int
	NumClasses    int // adversarial classes
	Noise         float64
	Seed          int64
}

type Synthetic struct {
	config SyntheticConfig
	train  [][]Sample
	val    [][]Sample
}

func NewSynthetic(config SyntheticConfig) (*Synthetic, error) {
	if len(config.TrainLengths) == 0 {
		return nil, errors.New("at least one class is required")
	}
	if len(config.ValLengths) != len(config.TrainLengths) {
		return nil, fmt.Errorf("train has %d classes but validation has %d", len(config.TrainLengths), len(config.ValLengths))
	}
	if config.FrameDim <= 0 || config.NumClasses <= 0 {
		return nil, errors.New("frame_dim and num_classes must be positive")
	}
	if config.ExpressionDim < 0 {
		return nil, errors.New("expression_dim must not be negative")
	}

	rng := rand.New(rand.NewSource(config.Seed))
	prototypes := make([][]float64, config.NumClasses)
	for c := range prototypes {
		prototypes[c] = make([]float64, config.FrameDim)
		for k := range prototypes[c] {
			prototypes[c][k] = rng.NormFloat64()
		}
	}

	s := &Synthetic{config: config}
	for class := range config.TrainLengths {
		s.train = append(s.train, s.generate(rng, prototypes, class, config.TrainLengths[class]))
		s.val = append(s.val, s.generate(rng, prototypes, class, config.ValLengths[class]))
	}
	return s, nil
}

func (s *Synthetic) generate(rng *rand.Rand, prototypes [][]float64, class, n int) []Sample {
	samples := make([]Sample, n)
	for i := range samples {
		label := rng.Intn(s.config.NumClasses)
		frame := make([]float64, s.config.FrameDim)
		for k := range frame {
			frame[k] = prototypes[label][k] + s.config.Noise*rng.NormFloat64()
		}
		expression := make([]float64, s.config.ExpressionDim)
		for k := range expression {
			expression[k] = rng.Float64()
		}
		samples[i] = Sample{
			Frame:            frame,
			Expression:       expression,
			LabelActivity:    class,
			LabelAdversarial: label,
		}
	}
	return samples
}

// TrainLoaders returns one shuffled loader per class.
func (s *Synthetic) TrainLoaders(batchSize int) []ClassLoader {
	loaders := make([]ClassLoader, len(s.train))
	for i, samples := range s.train {
		loaders[i] = NewSliceLoader(samples, batchSize, true, s.config.Seed+int64(i)+1)
	}
	return loaders
}

// ValLoaders returns one loader per class in fixed order.
func (s *Synthetic) ValLoaders(batchSize int) []ClassLoader {
	loaders := make([]ClassLoader, len(s.val))
	for i, samples := range s.val {
		loaders[i] = NewSliceLoader(samples, batchSize, false, 0)
	}
	return loaders
}
