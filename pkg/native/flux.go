package native

import (
	"context"
	"errors"

	"gonum.org/v1/gonum/floats"

	"psfcontour/internal/models"
)

var errNoFlux = errors.New("image holds no flux")

// enclosedFlux sums the pixels whose centres fall inside the region.
func enclosedFlux(img *models.Image, r *models.Region) float64 {
	bounds := r.Bounds()
	if bounds.IsEmpty() {
		return 0
	}
	var sum float64
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			p := img.PixelCenter(x, y)
			if !bounds.ContainsPoint(p) || !r.Contains(p) {
				continue
			}
			sum += img.At(x, y)
		}
	}
	return sum
}

// Fraction returns the share of the image flux inside the region.
func Fraction(img *models.Image, r *models.Region) (float64, error) {
	if err := img.Validate(); err != nil {
		return 0, err
	}
	total := floats.Sum(img.Data)
	if total <= 0 {
		return 0, errNoFlux
	}
	return enclosedFlux(img, r) / total, nil
}

// FluxFraction implements fluxsearch.FluxMeter.
func (t *Tools) FluxFraction(ctx context.Context, img *models.Image, r *models.Region) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return Fraction(img, r)
}
