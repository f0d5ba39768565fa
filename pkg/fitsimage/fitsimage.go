// Package fitsimage loads and stores FITS images as models.Image and exposes
// header keywords.
package fitsimage

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"

	"psfcontour/internal/models"
)

// DefaultSkyPixelSize is the ACIS sky pixel in arcsec, used when the event
// file does not say otherwise.
const DefaultSkyPixelSize = 0.492

// Keywords holds header cards by upper-case name.
type Keywords map[string]interface{}

// Float returns the keyword as a float64.
func (k Keywords) Float(name string) (float64, bool) {
	v, ok := k[strings.ToUpper(name)]
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// String returns the keyword as a trimmed string.
func (k Keywords) String(name string) (string, bool) {
	v, ok := k[strings.ToUpper(name)]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return strings.TrimSpace(s), ok
}

// FloatOr returns the keyword or def when it is missing.
func (k Keywords) FloatOr(name string, def float64) float64 {
	if v, ok := k.Float(name); ok {
		return v
	}
	return def
}

// NominalPointing returns RA_NOM/DEC_NOM when both are present.
func (k Keywords) NominalPointing() (models.Pointing, bool) {
	ra, okRA := k.Float("RA_NOM")
	dec, okDec := k.Float("DEC_NOM")
	return models.Pointing{RA: ra, Dec: dec}, okRA && okDec
}

// SkyPixelSize is the size in arcsec of the event list's sky pixel, taken
// from TCDLTn of the column named x.
func (k Keywords) SkyPixelSize() float64 {
	for n := 1; n < 1000; n++ {
		name, ok := k.String(fmt.Sprintf("TTYPE%d", n))
		if !ok {
			break
		}
		if strings.EqualFold(name, "x") {
			if d, ok := k.Float(fmt.Sprintf("TCDLT%d", n)); ok && d != 0 {
				return math.Abs(d) * 3600
			}
			break
		}
	}
	return DefaultSkyPixelSize
}

func headerKeywords(hdr *fitsio.Header) Keywords {
	kw := Keywords{}
	for _, key := range hdr.Keys() {
		if card := hdr.Get(key); card != nil {
			kw[strings.ToUpper(key)] = card.Value
		}
	}
	return kw
}

func openFITS(path string) (*os.File, *fitsio.File, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	f, err := fitsio.Open(r)
	if err != nil {
		r.Close()
		return nil, nil, fmt.Errorf("failed to open FITS file %s: %w", path, err)
	}
	return r, f, nil
}

// ReadHeader returns the keywords of the HDU called hduName, or of the
// primary HDU when no such extension exists.
func ReadHeader(path, hduName string) (Keywords, error) {
	r, f, err := openFITS(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	defer f.Close()

	hdus := f.HDUs()
	if len(hdus) == 0 {
		return nil, fmt.Errorf("no HDUs in %s", path)
	}
	for _, hdu := range hdus {
		if strings.EqualFold(hdu.Name(), hduName) {
			return headerKeywords(hdu.Header()), nil
		}
	}
	return headerKeywords(hdus[0].Header()), nil
}

// ReadImage loads the first HDU holding a 2D image.
func ReadImage(path string) (*models.Image, error) {
	r, f, err := openFITS(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	defer f.Close()

	for _, hdu := range f.HDUs() {
		img, ok := hdu.(fitsio.Image)
		if !ok || len(img.Header().Axes()) < 2 {
			continue
		}
		out, err := decode(img)
		if err != nil {
			return nil, fmt.Errorf("failed to read image from %s: %w", path, err)
		}
		out.Path = path
		return out, nil
	}
	return nil, fmt.Errorf("no 2D image found in %s", path)
}

func decode(img fitsio.Image) (*models.Image, error) {
	hdr := img.Header()
	axes := hdr.Axes()
	width, height := axes[0], axes[1]
	for _, extra := range axes[2:] {
		if extra != 1 {
			return nil, fmt.Errorf("unsupported image shape %v", axes)
		}
	}

	data, err := readPixels(img, width*height)
	if err != nil {
		return nil, err
	}
	if len(data) < width*height {
		return nil, fmt.Errorf("image holds %d pixels, want %d", len(data), width*height)
	}

	kw := headerKeywords(hdr)
	bscale := kw.FloatOr("BSCALE", 1)
	bzero := kw.FloatOr("BZERO", 0)
	if bscale != 1 || bzero != 0 {
		for i := range data {
			data[i] = data[i]*bscale + bzero
		}
	}

	out := &models.Image{
		Width:      width,
		Height:     height,
		Data:       data[:width*height],
		PixelScale: math.Abs(kw.FloatOr("CDELT2", 0)) * 3600,
		Physical: models.LinearTransform{
			CRVal: [2]float64{kw.FloatOr("CRVAL1P", 1), kw.FloatOr("CRVAL2P", 1)},
			CRPix: [2]float64{kw.FloatOr("CRPIX1P", 1), kw.FloatOr("CRPIX2P", 1)},
			CDelt: [2]float64{kw.FloatOr("CDELT1P", 1), kw.FloatOr("CDELT2P", 1)},
		},
	}
	if out.Physical.CDelt[0] == 0 || out.Physical.CDelt[1] == 0 {
		out.Physical = models.IdentityTransform()
	}
	return out, nil
}

// readPixels reads n pixels in their on-disk type and widens to float64.
// fitsio resizes the destination in place, so it must already hold n.
func readPixels(img fitsio.Image, n int) ([]float64, error) {
	switch bitpix := img.Header().Bitpix(); bitpix {
	case 8:
		raw := make([]byte, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		return widen(raw), nil
	case 16:
		raw := make([]int16, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		return widen(raw), nil
	case 32:
		raw := make([]int32, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		return widen(raw), nil
	case 64:
		raw := make([]int64, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		return widen(raw), nil
	case -32:
		raw := make([]float32, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		return widen(raw), nil
	case -64:
		raw := make([]float64, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
	}
}

type number interface {
	~uint8 | ~int16 | ~int32 | ~int64 | ~float32
}

func widen[T number](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// WriteImage stores img as a BITPIX -64 primary image, recording the
// physical transform and pixel scale so ReadImage restores them.
func WriteImage(path string, img *models.Image) error {
	if err := img.Validate(); err != nil {
		return err
	}

	w, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create FITS file: %w", err)
	}
	defer w.Close()

	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("failed to start FITS file %s: %w", path, err)
	}
	defer f.Close()

	hdu := fitsio.NewImage(-64, []int{img.Width, img.Height})
	defer hdu.Close()

	t := img.Physical
	cards := []fitsio.Card{
		{Name: "CTYPE1P", Value: "x", Comment: "physical x"},
		{Name: "CRVAL1P", Value: t.CRVal[0]},
		{Name: "CRPIX1P", Value: t.CRPix[0]},
		{Name: "CDELT1P", Value: t.CDelt[0]},
		{Name: "CTYPE2P", Value: "y", Comment: "physical y"},
		{Name: "CRVAL2P", Value: t.CRVal[1]},
		{Name: "CRPIX2P", Value: t.CRPix[1]},
		{Name: "CDELT2P", Value: t.CDelt[1]},
	}
	if img.PixelScale > 0 {
		deg := img.PixelScale / 3600
		cards = append(cards,
			fitsio.Card{Name: "CDELT1", Value: -deg, Comment: "deg/pixel"},
			fitsio.Card{Name: "CDELT2", Value: deg, Comment: "deg/pixel"},
		)
	}
	if err := hdu.Header().Append(cards...); err != nil {
		return fmt.Errorf("failed to build FITS header: %w", err)
	}

	data := make([]float64, len(img.Data))
	copy(data, img.Data)
	if err := hdu.Write(&data); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	if err := f.Write(hdu); err != nil {
		return fmt.Errorf("failed to write FITS file %s: %w", path, err)
	}
	return nil
}
