package region

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psfcontour/internal/models"
)

func TestWriteFormatsEachShape(t *testing.T) {
	contour := &models.Region{
		Shape: models.ShapePolygon,
		Level: 0.5,
		Polygons: [][]r2.Point{
			{{X: 1, Y: 1}, {X: 3, Y: 1}, {X: 3, Y: 3}},
			{{X: 10, Y: 10}, {X: 11, Y: 10}, {X: 11, Y: 12.5}},
		},
	}
	ellipse := models.NewEllipse(r2.Point{X: 4096.5, Y: 4096.5}, 3.25, 2, 45)
	circle := models.NewCircle(r2.Point{X: 4096.5, Y: 4096.5}, 4)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, contour, ellipse, circle))

	want := strings.Join([]string{
		Header,
		"physical",
		"polygon(1,1,3,1,3,3)",
		"polygon(10,10,11,10,11,12.5)",
		"ellipse(4096.5,4096.5,3.25,2,45)",
		"circle(4096.5,4096.5,4)",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestParseWrittenFile(t *testing.T) {
	contour := &models.Region{
		Shape: models.ShapePolygon,
		Polygons: [][]r2.Point{
			{{X: 1, Y: 1}, {X: 3, Y: 1}, {X: 3, Y: 3}},
			{{X: 5, Y: 5}, {X: 6, Y: 5}, {X: 6, Y: 6}},
		},
	}
	circle := models.NewCircle(r2.Point{X: 2, Y: 2}, 1.5)

	path := filepath.Join(t.TempDir(), "out.reg")
	require.NoError(t, WriteFile(path, contour, circle))

	got, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, models.ShapePolygon, got[0].Shape)
	assert.Equal(t, contour.Polygons, got[0].Polygons)
	assert.Equal(t, models.ShapeCircle, got[1].Shape)
	assert.Equal(t, 1.5, got[1].Radius())
}

func TestParseCIAODialect(t *testing.T) {
	text := `# Region file format: CIAO version 1.0
polygon(4090.5,4090.5,4100.5,4090.5,4100.5,4100.5,4090.5,4100.5)
-polygon(4094,4094,4096,4094,4096,4096)
+ellipse(4096,4096,5.5,3,30)
global color=green; circle(10,20,3) # text={src}
`
	got, err := Parse(strings.NewReader(text))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Len(t, got[0].Polygons, 2)
	assert.Equal(t, models.ShapeEllipse, got[1].Shape)
	assert.Equal(t, 30.0, got[1].Angle)
	assert.Equal(t, r2.Point{X: 10, Y: 20}, got[2].Center)

	// the hole punched by the excluded ring is outside the region
	assert.True(t, got[0].Contains(r2.Point{X: 4092, Y: 4098}))
	assert.False(t, got[0].Contains(r2.Point{X: 4095.5, Y: 4094.5}))
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"odd polygon":      "polygon(1,2,3,4,5)",
		"short ellipse":    "ellipse(1,2,3)",
		"bad number":       "circle(1,two,3)",
		"unknown shape":    "box(1,2,3,4,0)",
		"excluded ellipse": "-ellipse(1,2,3,4,5)",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(text))
			assert.Error(t, err)
		})
	}
}

func TestWriteEmptyContour(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &models.Region{Shape: models.ShapePolygon, Level: 2.5}))
	assert.Contains(t, buf.String(), "# empty contour at level 2.5")

	regions, err := Parse(&buf)
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestWriteExcludesHoles(t *testing.T) {
	donut := &models.Region{
		Shape: models.ShapePolygon,
		Polygons: [][]r2.Point{
			{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}},
			{{X: 3, Y: 3}, {X: 7, Y: 3}, {X: 7, Y: 7}, {X: 3, Y: 7}},
			{{X: 4, Y: 4}, {X: 6, Y: 4}, {X: 6, Y: 6}, {X: 4, Y: 6}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, donut))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "polygon(0,0,10,0,10,10,0,10)", lines[2])
	assert.Equal(t, "-polygon(3,3,7,3,7,7,3,7)", lines[3])
	assert.Equal(t, "polygon(4,4,6,4,6,6,4,6)", lines[4])

	got, err := Parse(&buf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, donut.Polygons, got[0].Polygons)

	assert.True(t, got[0].Contains(r2.Point{X: 1, Y: 1}))
	assert.False(t, got[0].Contains(r2.Point{X: 3.5, Y: 5}))
	assert.True(t, got[0].Contains(r2.Point{X: 5, Y: 5}))
}
