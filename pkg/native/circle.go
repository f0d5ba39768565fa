package native

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/stat"

	"psfcontour/internal/models"
	"psfcontour/pkg/region"
	"psfcontour/pkg/tools"
)

// EncircledRadius returns the radius about center holding fraction of the
// image flux, as the flux-weighted quantile of pixel distances. A zero
// fraction is the degenerate circle of radius 0.
func EncircledRadius(img *models.Image, center r2.Point, fraction float64) (float64, error) {
	if err := img.Validate(); err != nil {
		return 0, err
	}
	if !(fraction >= 0 && fraction <= 1) {
		return 0, fmt.Errorf("fraction %g out of range", fraction)
	}
	if fraction == 0 {
		return 0, nil
	}

	type sample struct{ r, w float64 }
	samples := make([]sample, 0, len(img.Data))
	var total float64
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			w := img.At(x, y)
			if w <= 0 {
				continue
			}
			samples = append(samples, sample{img.PixelCenter(x, y).Sub(center).Norm(), w})
			total += w
		}
	}
	if total <= 0 {
		return 0, errNoFlux
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].r < samples[j].r })

	radii := make([]float64, len(samples))
	weights := make([]float64, len(samples))
	for i, s := range samples {
		radii[i] = s.r
		weights[i] = s.w
	}
	return stat.Quantile(fraction, stat.Empirical, radii, weights), nil
}

// EncircledEnergyCircle measures the circle directly on the simulated PSF.
func (t *Tools) EncircledEnergyCircle(ctx context.Context, req tools.CircleRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.PSF == nil {
		return "", errors.New("native circle needs the simulated PSF image")
	}
	r, err := EncircledRadius(req.PSF, req.Center, req.Fraction)
	if err != nil {
		return "", fmt.Errorf("failed to measure encircled energy: %w", err)
	}
	c := models.NewCircle(req.Center, r)
	if frac, err := Fraction(req.PSF, c); err == nil {
		t.log.Infof("Circle radius %g encloses %.4f of the PSF", r, frac)
	}

	if err := region.WriteFile(req.OutFile, c); err != nil {
		return "", err
	}
	return req.OutFile, nil
}
