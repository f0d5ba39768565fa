package ciao

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psfcontour/internal/models"
	"psfcontour/pkg/fitsimage"
	"psfcontour/pkg/tools"
)

type call struct {
	tool string
	args []string
}

// fakeRunner records invocations and answers from per-tool handlers.
type fakeRunner struct {
	calls    []call
	handlers map[string]func(args []string) (string, error)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{handlers: make(map[string]func([]string) (string, error))}
}

func (f *fakeRunner) Run(_ context.Context, tool string, args ...string) (string, error) {
	f.calls = append(f.calls, call{tool: tool, args: args})
	if h, ok := f.handlers[tool]; ok {
		return h(args)
	}
	return "", nil
}

func (f *fakeRunner) tools() []string {
	var out []string
	for _, c := range f.calls {
		out = append(out, c.tool)
	}
	return out
}

func argValue(args []string, key string) string {
	for _, a := range args {
		if strings.HasPrefix(a, key+"=") {
			return strings.TrimPrefix(a, key+"=")
		}
	}
	return ""
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directories should be removed")
}

func TestSimulatePSFArguments(t *testing.T) {
	run := newFakeRunner()
	ct := New(run, Options{}, nil)

	path, err := ct.SimulatePSF(context.Background(), tools.SimulateRequest{
		InFile:   "acisf00942_evt2.fits",
		Pointing: models.Pointing{RA: 180, Dec: 0},
		Energy:   1.5,
		Flux:     0.01,
		OutRoot:  "out/src",
	})
	require.NoError(t, err)
	assert.Equal(t, "out/src.psf", path)

	require.Len(t, run.calls, 1)
	args := run.calls[0].args
	assert.Equal(t, "simulate_psf", run.calls[0].tool)
	assert.Equal(t, "acisf00942_evt2.fits", argValue(args, "infile"))
	assert.Equal(t, "180", argValue(args, "ra"))
	assert.Equal(t, "0", argValue(args, "dec"))
	assert.Equal(t, "1.5", argValue(args, "monoenergy"))
	assert.Equal(t, "0.01", argValue(args, "flux"))
	assert.Equal(t, "marx", argValue(args, "simulator"))
	assert.Equal(t, "1", argValue(args, "numiter"))
	assert.Equal(t, "yes", argValue(args, "clobber"))
}

func TestCelToChandraReadsPget(t *testing.T) {
	run := newFakeRunner()
	run.handlers["pget"] = func(args []string) (string, error) {
		return "4096.5\n4101.25\n0.35\n212.5\n4100.1\n3950.2\n7\n512.3\n498.8\n", nil
	}
	ct := New(run, Options{}, nil)

	kw := fitsimage.Keywords{"TTYPE1": "x", "TCDLT1": -1.3666666666667e-4}
	c, err := ct.CelToChandra(context.Background(), tools.CoordRequest{
		InFile:   "evt2.fits",
		Keywords: kw,
		Pointing: models.Pointing{RA: 10.5, Dec: -45},
	})
	require.NoError(t, err)

	assert.Equal(t, models.Coordinates{
		X: 4096.5, Y: 4101.25, Theta: 0.35, Phi: 212.5,
		DetX: 4100.1, DetY: 3950.2, ChipID: 7, ChipX: 512.3, ChipY: 498.8,
		PixSize: c.PixSize,
	}, c)
	assert.InDelta(t, 0.492, c.PixSize, 1e-6)
	assert.Equal(t, []string{"dmcoords", "pget"}, run.tools())
	assert.Equal(t, "cel", argValue(run.calls[0].args, "op"))
	assert.Equal(t, "-45", argValue(run.calls[0].args, "dec"))
}

func TestCelToChandraShortOutput(t *testing.T) {
	run := newFakeRunner()
	run.handlers["pget"] = func([]string) (string, error) { return "1\n2\n", nil }

	_, err := New(run, Options{}, nil).CelToChandra(context.Background(), tools.CoordRequest{})
	assert.Error(t, err)
}

func TestSmoothKernelSpec(t *testing.T) {
	run := newFakeRunner()
	path, err := New(run, Options{}, nil).Smooth(context.Background(), tools.SmoothRequest{
		InFile:  "src.psf",
		OutFile: "src.smpsf",
		Kernel:  models.Kernel{SigmaX: 3, SigmaY: 3, NSigma: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, "src.smpsf", path)
	assert.Equal(t, "lib:gaus(2,5,1,3,3)", argValue(run.calls[0].args, "kernelspec"))
	assert.Equal(t, "fft", argValue(run.calls[0].args, "method"))
}

func TestRegionFromLevelParsesContourAndCleansUp(t *testing.T) {
	scratch := t.TempDir()
	run := newFakeRunner()
	run.handlers["dmcontour"] = func(args []string) (string, error) {
		text := "# Region file format: CIAO version 1.0\n" +
			"polygon(1,1,5,1,5,5,1,5)\n" +
			"polygon(10,10,12,10,12,12)\n"
		return "", os.WriteFile(argValue(args, "outfile"), []byte(text), 0644)
	}
	ct := New(run, Options{TempRoot: scratch}, nil)

	img := &models.Image{Path: "src.smpsf"}
	r, err := ct.RegionFromLevel(context.Background(), img, 0.0125)
	require.NoError(t, err)

	assert.Equal(t, models.ShapePolygon, r.Shape)
	assert.Equal(t, 0.0125, r.Level)
	assert.Len(t, r.Polygons, 2)
	assert.Equal(t, "0.0125", argValue(run.calls[0].args, "levels"))
	assertEmptyDir(t, scratch)
}

func TestRegionFromLevelCleansUpOnFailure(t *testing.T) {
	scratch := t.TempDir()
	run := newFakeRunner()
	boom := errors.New("exit status 1")
	run.handlers["dmcontour"] = func(args []string) (string, error) {
		// leave a partial file behind before failing
		_ = os.WriteFile(argValue(args, "outfile"), []byte("polygon("), 0644)
		return "", &ToolError{Tool: "dmcontour", Err: boom}
	}
	ct := New(run, Options{TempRoot: scratch}, nil)

	_, err := ct.RegionFromLevel(context.Background(), &models.Image{Path: "a.fits"}, 1)
	assert.ErrorIs(t, err, boom)
	assertEmptyDir(t, scratch)
}

func TestRegionFromLevelNeedsPath(t *testing.T) {
	_, err := New(newFakeRunner(), Options{}, nil).RegionFromLevel(context.Background(), &models.Image{}, 1)
	assert.ErrorIs(t, err, ErrNoImagePath)
}

func TestFluxFractionCachesTotal(t *testing.T) {
	scratch := t.TempDir()
	run := newFakeRunner()
	var lastStat string
	run.handlers["dmstat"] = func(args []string) (string, error) {
		lastStat = argValue(args, "infile")
		return "", nil
	}
	run.handlers["pget"] = func([]string) (string, error) {
		if strings.Contains(lastStat, "[sky=region(") {
			return "45\n", nil
		}
		return "50\n", nil
	}
	ct := New(run, Options{TempRoot: scratch}, nil)

	img := &models.Image{Path: "src.smpsf"}
	r := &models.Region{
		Shape:    models.ShapePolygon,
		Polygons: [][]r2.Point{{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 2, Y: 2}}},
	}

	for i := 0; i < 2; i++ {
		f, err := ct.FluxFraction(context.Background(), img, r)
		require.NoError(t, err)
		assert.InDelta(t, 0.9, f, 1e-12)
	}

	// total once, then one filtered sum per call
	assert.Equal(t, []string{"dmstat", "pget", "dmstat", "pget", "dmstat", "pget"}, run.tools())
	assert.True(t, strings.HasPrefix(lastStat, "src.smpsf[sky=region("))
	assertEmptyDir(t, scratch)
}

func TestFluxFractionEmptyContour(t *testing.T) {
	run := newFakeRunner()
	f, err := New(run, Options{}, nil).FluxFraction(context.Background(),
		&models.Image{Path: "x.fits"}, &models.Region{Shape: models.ShapePolygon})
	require.NoError(t, err)
	assert.Equal(t, 0.0, f)
	assert.Empty(t, run.calls)
}

func TestFitEllipseArguments(t *testing.T) {
	run := newFakeRunner()
	path, err := New(run, Options{}, nil).FitEllipse(context.Background(), tools.EllipseRequest{
		Image:     &models.Image{Path: "src.smpsf"},
		Fraction:  0.9,
		Center:    r2.Point{X: 4096.5, Y: 4100},
		Tolerance: 0.001,
		OutFile:   "src.ellps",
	})
	require.NoError(t, err)
	assert.Equal(t, "src.ellps", path)

	args := run.calls[0].args
	assert.Equal(t, "0.9", argValue(args, "fraction"))
	assert.Equal(t, "4096.5", argValue(args, "x_centroid"))
	assert.Equal(t, "4100", argValue(args, "y_centroid"))
	assert.Equal(t, "yes", argValue(args, "fix_centroid"))
}

func TestEncircledEnergyCircleWritesPositionFile(t *testing.T) {
	scratch := t.TempDir()
	run := newFakeRunner()
	var posText string
	run.handlers["psfsize_srcs"] = func(args []string) (string, error) {
		b, err := os.ReadFile(argValue(args, "pos"))
		posText = string(b)
		return "", err
	}
	ct := New(run, Options{TempRoot: scratch}, nil)

	path, err := ct.EncircledEnergyCircle(context.Background(), tools.CircleRequest{
		InFile:   "evt2.fits",
		Pointing: models.Pointing{RA: 180, Dec: -1.25},
		Energy:   1,
		Fraction: 0.9,
		OutFile:  filepath.Join("out", "src.crcl"),
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("out", "src.crcl"), path)
	assert.Contains(t, posText, "180.00000000 -1.25000000")
	assert.Equal(t, "0.9", argValue(run.calls[0].args, "ecf"))
	assertEmptyDir(t, scratch)
}

func TestToolErrorMessage(t *testing.T) {
	err := &ToolError{Tool: "dmstat", Err: errors.New("exit status 1"), Stderr: "# dmstat (CIAO): bad filter\n"}
	assert.Equal(t, "dmstat failed: exit status 1: # dmstat (CIAO): bad filter", err.Error())
}

func TestExecRunnerReportsMissingTool(t *testing.T) {
	r := NewExecRunner(t.TempDir(), 0, nil)
	_, err := r.Run(context.Background(), "no_such_tool", "a=b")

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "no_such_tool", toolErr.Tool)
}
