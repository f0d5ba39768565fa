package native

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"psfcontour/internal/models"
	"psfcontour/pkg/region"
	"psfcontour/pkg/tools"
)

// minAxisRatio keeps a degenerate distribution from producing a zero-area
// ellipse.
const minAxisRatio = 1e-3

// ellipseShape returns the axis ratio (minor/major) and position angle in
// degrees of the flux distribution about center, from its second moments.
func ellipseShape(img *models.Image, center r2.Point) (ratio, angle float64, err error) {
	var sxx, syy, sxy, total float64
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			w := img.At(x, y)
			if w == 0 {
				continue
			}
			d := img.PixelCenter(x, y).Sub(center)
			sxx += w * d.X * d.X
			syy += w * d.Y * d.Y
			sxy += w * d.X * d.Y
			total += w
		}
	}
	if total <= 0 {
		return 0, 0, errNoFlux
	}

	cov := mat.NewSymDense(2, []float64{sxx / total, sxy / total, sxy / total, syy / total})
	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return 0, 0, fmt.Errorf("eigen decomposition of second moments failed")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// values are ascending; the major axis follows the larger one
	minor, major := values[0], values[1]
	if major <= 0 {
		return 1, 0, nil
	}
	ratio = math.Max(math.Sqrt(math.Max(minor, 0)/major), minAxisRatio)
	angle = math.Atan2(vectors.At(1, 1), vectors.At(0, 1)) * 180 / math.Pi
	if angle < 0 {
		angle += 180
	}
	return ratio, angle, nil
}

// FitEllipse grows an ellipse with the shape of the flux distribution about
// a fixed centre until it encloses the requested fraction.
func FitEllipse(img *models.Image, center r2.Point, fraction, tolerance float64, maxIter int) (*models.Region, float64, error) {
	if err := img.Validate(); err != nil {
		return nil, 0, err
	}
	ratio, angle, err := ellipseShape(img, center)
	if err != nil {
		return nil, 0, err
	}

	// the image diagonal encloses everything
	corner := img.PixelCenter(img.Width-1, img.Height-1).Sub(img.PixelCenter(0, 0))
	lo, hi := 0.0, (2*corner.Norm()+1)/ratio

	var best *models.Region
	bestFrac := 0.0
	for i := 0; i < maxIter; i++ {
		a := (lo + hi) / 2
		e := models.NewEllipse(center, a, a*ratio, angle)
		frac, err := Fraction(img, e)
		if err != nil {
			return nil, 0, err
		}
		if best == nil || math.Abs(frac-fraction) < math.Abs(bestFrac-fraction) {
			best, bestFrac = e, frac
		}
		if math.Abs(frac-fraction) <= tolerance {
			break
		}
		if frac < fraction {
			lo = a
		} else {
			hi = a
		}
	}
	return best, bestFrac, nil
}

// FitEllipse implements tools.EllipseFitter.
func (t *Tools) FitEllipse(ctx context.Context, req tools.EllipseRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e, frac, err := FitEllipse(req.Image, req.Center, req.Fraction, req.Tolerance, t.MaxFitIterations)
	if err != nil {
		return "", fmt.Errorf("failed to fit ellipse: %w", err)
	}
	t.log.Infof("Ellipse a=%g b=%g angle=%.1f encloses %.4f of the flux",
		e.SemiMajor, e.SemiMinor, e.Angle, frac)

	if err := region.WriteFile(req.OutFile, e); err != nil {
		return "", err
	}
	return req.OutFile, nil
}
