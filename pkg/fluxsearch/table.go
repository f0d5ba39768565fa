// Package fluxsearch finds the intensity level whose contour encloses a
// target fraction of an image's total flux.
package fluxsearch

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrEmptyImage is returned for an image with no samples.
	ErrEmptyImage = errors.New("image has no pixels")

	// ErrNegativeFlux is returned when a sample is negative or not finite.
	ErrNegativeFlux = errors.New("image samples must be finite and non-negative")

	// ErrZeroFlux is returned when the image sums to zero.
	ErrZeroFlux = errors.New("image has zero total flux")

	// ErrInvalidTarget is returned for a fraction or tolerance outside [0,1].
	ErrInvalidTarget = errors.New("fraction and tolerance must lie between 0 and 1")
)

// FluxTable is the ascending-sorted list of pixel values paired with the
// normalized cumulative flux at each sorted position.
type FluxTable struct {
	values     []float64
	cumulative []float64
	total      float64
}

// NewFluxTable sorts a copy of data and accumulates it. data is not modified.
func NewFluxTable(data []float64) (*FluxTable, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	for i, v := range data {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("pixel %d has value %g: %w", i, v, ErrNegativeFlux)
		}
	}

	values := make([]float64, len(data))
	copy(values, data)
	sort.Float64s(values)

	cumulative := make([]float64, len(values))
	floats.CumSum(cumulative, values)

	total := cumulative[len(cumulative)-1]
	if total == 0 {
		return nil, ErrZeroFlux
	}
	floats.Scale(1/total, cumulative)
	// the last entry is exactly 1 by definition, rounding aside
	cumulative[len(cumulative)-1] = 1

	return &FluxTable{
		values:     values,
		cumulative: cumulative,
		total:      total,
	}, nil
}

// Len is the number of pixels in the table.
func (t *FluxTable) Len() int {
	return len(t.values)
}

// Value returns the intensity at sorted position i.
func (t *FluxTable) Value(i int) float64 {
	return t.values[i]
}

// Cumulative returns the normalized cumulative flux at sorted position i.
func (t *FluxTable) Cumulative(i int) float64 {
	return t.cumulative[i]
}

// Total is the un-normalized sum of all pixels.
func (t *FluxTable) Total() float64 {
	return t.total
}

// StartIndex returns the first sorted position whose cumulative flux is at
// least 1-frac. Pixels from there up hold roughly frac of the flux, which is
// only a first guess: a traced contour does not enclose exactly the pixels
// above its level.
func (t *FluxTable) StartIndex(frac float64) int {
	idx := sort.SearchFloat64s(t.cumulative, 1-frac)
	if idx >= len(t.cumulative) {
		idx = len(t.cumulative) - 1
	}
	return idx
}

// FractionAbove is the fraction of flux held by pixels at or above the value
// at sorted position i, assuming distinct values.
func (t *FluxTable) FractionAbove(i int) float64 {
	if i == 0 {
		return 1
	}
	return 1 - t.cumulative[i-1]
}
