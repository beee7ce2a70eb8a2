package data

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Sized is implemented by loaders that know their sample count.
type Sized interface {
	NumSamples() int
}

// SampleCounts lists per-loader dataset sizes, -1 where unknown.
func SampleCounts(loaders []ClassLoader) []int {
	counts := make([]int, len(loaders))
	for i, loader := range loaders {
		counts[i] = -1
		if sized, ok := loader.(Sized); ok {
			counts[i] = sized.NumSamples()
		}
	}
	return counts
}

// Summary renders the per-class training sizes and total validation size.
func Summary(train, val []ClassLoader) (string, string) {
	p := message.NewPrinter(language.English)

	parts := make([]string, 0, len(train))
	for _, n := range SampleCounts(train) {
		parts = append(parts, p.Sprintf("%d", n))
	}
	total := 0
	for _, n := range SampleCounts(val) {
		if n > 0 {
			total += n
		}
	}
	return "[" + strings.Join(parts, ", ") + "]", p.Sprintf("%d samples in %d classes", total, len(val))
}
