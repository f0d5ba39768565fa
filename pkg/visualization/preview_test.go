package visualization

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psfcontour/internal/models"
	"psfcontour/pkg/fluxsearch"
)

func testImage() *models.Image {
	img := models.NewImage(16, 16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			dx, dy := float64(x)-7.5, float64(y)-7.5
			img.Set(x, y, math.Exp(-(dx*dx+dy*dy)/8))
		}
	}
	return img
}

func TestSavePreviewWritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.png")
	contour := &models.Region{
		Shape:    models.ShapePolygon,
		Polygons: [][]r2.Point{{{X: 6, Y: 6}, {X: 11, Y: 6}, {X: 11, Y: 11}, {X: 6, Y: 11}}},
	}

	err := SavePreview(path, testImage(),
		contour,
		models.NewEllipse(r2.Point{X: 8.5, Y: 8.5}, 4, 2, 30),
		models.NewCircle(r2.Point{X: 8.5, Y: 8.5}, 5),
		nil,
	)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "not a PNG file")
}

func TestSavePreviewRejectsBadImage(t *testing.T) {
	err := SavePreview(filepath.Join(t.TempDir(), "bad.png"), &models.Image{Width: 2, Height: 2})
	assert.Error(t, err)
}

func TestOutlineEllipseLiesOnBoundary(t *testing.T) {
	e := models.NewEllipse(r2.Point{X: 100, Y: 50}, 6, 3, 45)
	rings := Outline(e)
	require.Len(t, rings, 1)

	theta := 45 * math.Pi / 180
	for _, p := range rings[0] {
		dx, dy := p.X-100, p.Y-50
		u := dx*math.Cos(theta) + dy*math.Sin(theta)
		v := -dx*math.Sin(theta) + dy*math.Cos(theta)
		assert.InDelta(t, 1, u*u/36+v*v/9, 1e-9)
	}
}

func TestOutlineClosesPolygonRings(t *testing.T) {
	r := &models.Region{
		Shape: models.ShapePolygon,
		Polygons: [][]r2.Point{
			{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}},
			{},
		},
	}
	rings := Outline(r)
	require.Len(t, rings, 1)
	assert.Len(t, rings[0], 4)
	assert.Equal(t, rings[0][0], rings[0][3])
}

func TestSaveSearchChart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.search.html")
	res := &fluxsearch.Result{
		Status: fluxsearch.StatusConverged,
		Trajectory: []fluxsearch.Step{
			{Iteration: 1, Index: 40, Level: 3.5, Fraction: 0.87},
			{Iteration: 2, Index: 39, Level: 3.1, Fraction: 0.899},
		},
	}
	require.NoError(t, SaveSearchChart(path, res, 0.9, 0.001))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Contour search")

	assert.Error(t, SaveSearchChart(path, &fluxsearch.Result{}, 0.9, 0.001))
}
