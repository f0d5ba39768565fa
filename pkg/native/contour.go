package native

import (
	"context"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/floats"

	"psfcontour/internal/models"
)

// contourGrid is the image surrounded by a one-pixel border held below every
// sample, so every traced ring is closed.
type contourGrid struct {
	img   *models.Image
	level float64
	pad   float64
	nw    int // nodes per row
	nh    int
}

func newContourGrid(img *models.Image, level float64) *contourGrid {
	return &contourGrid{
		img:   img,
		level: level,
		pad:   math.Min(floats.Min(img.Data), level) - 1,
		nw:    img.Width + 2,
		nh:    img.Height + 2,
	}
}

// value returns the sample at node (x, y). Node (x, y) is image pixel
// (x-1, y-1), so its image coordinate is (x, y).
func (g *contourGrid) value(x, y int) float64 {
	if x == 0 || y == 0 || x == g.nw-1 || y == g.nh-1 {
		return g.pad
	}
	return g.img.At(x-1, y-1)
}

func (g *contourGrid) inside(v float64) bool {
	return v >= g.level
}

// Edge keys: horizontal edges from (x,y) to (x+1,y) are even, vertical edges
// from (x,y) to (x,y+1) are odd.
func (g *contourGrid) hkey(x, y int) int { return (y*g.nw + x) * 2 }
func (g *contourGrid) vkey(x, y int) int { return (y*g.nw+x)*2 + 1 }

// point returns where the level crosses an edge, in image coordinates. The
// crossing never lands on an inside node, so pixel centres are never on the
// boundary.
func (g *contourGrid) point(key int) r2.Point {
	n := key / 2
	x0, y0 := n%g.nw, n/g.nw
	x1, y1 := x0+1, y0
	if key%2 == 1 {
		x1, y1 = x0, y0+1
	}

	v0, v1 := g.value(x0, y0), g.value(x1, y1)
	if g.inside(v0) {
		x0, y0, x1, y1 = x1, y1, x0, y0
		v0, v1 = v1, v0
	}
	// interpolate from the outside node towards the inside node
	t := (g.level - v0) / (v1 - v0)
	t = math.Max(0, math.Min(t, 1-1e-6))
	return r2.Point{
		X: float64(x0) + t*float64(x1-x0),
		Y: float64(y0) + t*float64(y1-y0),
	}
}

type segment struct {
	a, b int
}

// segments runs marching squares over every cell of the grid.
func (g *contourGrid) segments() []segment {
	var segs []segment
	for y := 0; y < g.nh-1; y++ {
		for x := 0; x < g.nw-1; x++ {
			tl, tr := g.value(x, y), g.value(x+1, y)
			br, bl := g.value(x+1, y+1), g.value(x, y+1)

			c := 0
			if g.inside(tl) {
				c |= 8
			}
			if g.inside(tr) {
				c |= 4
			}
			if g.inside(br) {
				c |= 2
			}
			if g.inside(bl) {
				c |= 1
			}
			if c == 0 || c == 15 {
				continue
			}

			top, bottom := g.hkey(x, y), g.hkey(x, y+1)
			left, right := g.vkey(x, y), g.vkey(x+1, y)
			centre := g.inside((tl + tr + br + bl) / 4)

			switch c {
			case 1, 14:
				segs = append(segs, segment{left, bottom})
			case 2, 13:
				segs = append(segs, segment{bottom, right})
			case 3, 12:
				segs = append(segs, segment{left, right})
			case 4, 11:
				segs = append(segs, segment{top, right})
			case 6, 9:
				segs = append(segs, segment{top, bottom})
			case 7, 8:
				segs = append(segs, segment{left, top})
			case 5:
				if centre {
					segs = append(segs, segment{left, top}, segment{bottom, right})
				} else {
					segs = append(segs, segment{top, right}, segment{left, bottom})
				}
			case 10:
				if centre {
					segs = append(segs, segment{top, right}, segment{left, bottom})
				} else {
					segs = append(segs, segment{left, top}, segment{bottom, right})
				}
			}
		}
	}
	return segs
}

// rings stitches segments sharing an edge into closed rings.
func (g *contourGrid) rings() [][]r2.Point {
	segs := g.segments()
	byEdge := make(map[int][]int, 2*len(segs))
	for i, s := range segs {
		byEdge[s.a] = append(byEdge[s.a], i)
		byEdge[s.b] = append(byEdge[s.b], i)
	}

	used := make([]bool, len(segs))
	var out [][]r2.Point
	for i := range segs {
		if used[i] {
			continue
		}
		used[i] = true
		start, cur := segs[i].a, segs[i].b
		ring := []r2.Point{g.point(start)}
		for cur != start {
			ring = append(ring, g.point(cur))
			next := -1
			for _, j := range byEdge[cur] {
				if !used[j] {
					next = j
					break
				}
			}
			if next < 0 {
				break
			}
			used[next] = true
			if segs[next].a == cur {
				cur = segs[next].b
			} else {
				cur = segs[next].a
			}
		}
		if len(ring) >= 3 {
			out = append(out, ring)
		}
	}
	return out
}

// Contour traces the boundary of the pixels at or above level. Rings are in
// physical coordinates and combine with the even-odd rule, so a pixel centre
// is inside the region exactly when its value is at or above level.
func Contour(img *models.Image, level float64) (*models.Region, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	rings := newContourGrid(img, level).rings()
	for _, ring := range rings {
		for i, p := range ring {
			ring[i] = img.Physical.Forward(p)
		}
	}
	return &models.Region{
		Shape:    models.ShapePolygon,
		Level:    level,
		Polygons: rings,
	}, nil
}

// RegionFromLevel traces the contour of img at level.
func (t *Tools) RegionFromLevel(ctx context.Context, img *models.Image, level float64) (*models.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	region, err := Contour(img, level)
	if err != nil {
		return nil, err
	}
	t.log.Debugf("Contour at level %g has %d ring(s)", level, len(region.Polygons))
	return region, nil
}
