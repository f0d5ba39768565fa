package native

import (
	"context"
	"fmt"
	"math"

	"psfcontour/internal/models"
	"psfcontour/pkg/fitsimage"
	"psfcontour/pkg/tools"
)

// gaussianKernel returns a normalized (2ry+1) x (2rx+1) kernel truncated at
// NSigma standard deviations.
func gaussianKernel(k models.Kernel) (weights []float64, rx, ry int) {
	rx = int(math.Ceil(k.NSigma * k.SigmaX))
	ry = int(math.Ceil(k.NSigma * k.SigmaY))
	kw, kh := 2*rx+1, 2*ry+1

	weights = make([]float64, kw*kh)
	var sum float64
	for y := -ry; y <= ry; y++ {
		for x := -rx; x <= rx; x++ {
			u := float64(x) / k.SigmaX
			v := float64(y) / k.SigmaY
			w := math.Exp(-0.5 * (u*u + v*v))
			weights[(y+ry)*kw+(x+rx)] = w
			sum += w
		}
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights, rx, ry
}

// Convolve smooths img with the kernel, zero-padding outside the image. The
// output has the same size, transform and scale as the input.
func Convolve(img *models.Image, k models.Kernel) (*models.Image, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if k.SigmaX <= 0 || k.SigmaY <= 0 || k.NSigma <= 0 {
		return nil, fmt.Errorf("invalid kernel %+v", k)
	}

	weights, rx, ry := gaussianKernel(k)
	kw, kh := 2*rx+1, 2*ry+1

	// linear (not circular) convolution needs room for both supports
	cols := img.Width + kw - 1
	rows := img.Height + kh - 1

	a := make([]float64, rows*cols)
	for y := 0; y < img.Height; y++ {
		copy(a[y*cols:y*cols+img.Width], img.Data[y*img.Width:(y+1)*img.Width])
	}
	b := make([]float64, rows*cols)
	for y := 0; y < kh; y++ {
		copy(b[y*cols:y*cols+kw], weights[y*kw:(y+1)*kw])
	}

	fa := fft2D(a, rows, cols)
	fb := fft2D(b, rows, cols)
	for i := range fa {
		fa[i] *= fb[i]
	}
	full := ifft2D(fa, rows, cols)

	out := &models.Image{
		Width:      img.Width,
		Height:     img.Height,
		Data:       make([]float64, img.Width*img.Height),
		PixelScale: img.PixelScale,
		Physical:   img.Physical,
	}
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			v := full[(y+ry)*cols+(x+rx)]
			// FFT round-off leaves tiny negatives where the image is empty
			if v < 0 {
				v = 0
			}
			out.Data[y*img.Width+x] = v
		}
	}
	return out, nil
}

// Smooth reads the PSF, convolves it and writes the result as FITS.
func (t *Tools) Smooth(ctx context.Context, req tools.SmoothRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	img, err := fitsimage.ReadImage(req.InFile)
	if err != nil {
		return "", err
	}

	t.log.Debugf("Smoothing %dx%d image with %s", img.Width, img.Height, req.Kernel.Spec())
	smoothed, err := Convolve(img, req.Kernel)
	if err != nil {
		return "", fmt.Errorf("failed to smooth %s: %w", req.InFile, err)
	}

	if err := fitsimage.WriteImage(req.OutFile, smoothed); err != nil {
		return "", err
	}
	return req.OutFile, nil
}
