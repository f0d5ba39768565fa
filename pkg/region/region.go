// Package region reads and writes ASCII region files in the DS9 and CIAO
// dialects.
package region

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"

	"psfcontour/internal/models"
)

// Header is the first line of every file written by this package.
const Header = "# Region file format: DS9 version 4.1"

// Write emits regions in DS9 format using physical coordinates. A polygon
// region with several rings is written as one polygon per ring, with holes
// (rings at an odd nesting depth) written as excluded polygons.
func Write(w io.Writer, regions ...*models.Region) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, Header)
	fmt.Fprintln(bw, "physical")
	for _, r := range regions {
		if err := writeShape(bw, r); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes regions to path, replacing any existing file.
func WriteFile(path string, regions ...*models.Region) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create region file: %w", err)
	}
	if err := Write(f, regions...); err != nil {
		f.Close()
		return fmt.Errorf("failed to write region file %s: %w", path, err)
	}
	return f.Close()
}

func writeShape(w io.Writer, r *models.Region) error {
	switch r.Shape {
	case models.ShapePolygon:
		if len(r.Polygons) == 0 {
			fmt.Fprintf(w, "# empty contour at level %s\n", num(r.Level))
		}
		depths := r.RingDepths()
		for i, ring := range r.Polygons {
			coords := make([]string, 0, 2*len(ring))
			for _, p := range ring {
				coords = append(coords, num(p.X), num(p.Y))
			}
			sign := ""
			if depths[i]%2 == 1 {
				sign = "-"
			}
			fmt.Fprintf(w, "%spolygon(%s)\n", sign, strings.Join(coords, ","))
		}
	case models.ShapeEllipse:
		fmt.Fprintf(w, "ellipse(%s,%s,%s,%s,%s)\n",
			num(r.Center.X), num(r.Center.Y), num(r.SemiMajor), num(r.SemiMinor), num(r.Angle))
	case models.ShapeCircle:
		fmt.Fprintf(w, "circle(%s,%s,%s)\n", num(r.Center.X), num(r.Center.Y), num(r.Radius()))
	default:
		return fmt.Errorf("unsupported shape %v", r.Shape)
	}
	return nil
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}

// Parse reads DS9 or CIAO ASCII regions. Comments, coordinate-system lines
// and global settings are skipped. Consecutive polygons are gathered into a
// single polygon region; ellipses and circles each become their own region.
func Parse(r io.Reader) ([]*models.Region, error) {
	var out []*models.Region
	var current *models.Region

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		for _, stmt := range strings.Split(sc.Text(), ";") {
			stmt = strings.TrimSpace(stmt)
			if i := strings.Index(stmt, "#"); i >= 0 {
				stmt = strings.TrimSpace(stmt[:i])
			}
			stmt = strings.TrimLeft(stmt, "+")
			// an excluded polygon is a hole, which the even-odd rule covers
			excluded := strings.HasPrefix(stmt, "-")
			stmt = strings.TrimLeft(stmt, "-")
			if stmt == "" || strings.HasPrefix(stmt, "global") || !strings.Contains(stmt, "(") {
				continue
			}

			name, args, err := splitShape(stmt)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}

			if excluded && name != "polygon" {
				return nil, fmt.Errorf("line %d: excluded %s is not supported", line, name)
			}

			switch name {
			case "polygon":
				if len(args) < 6 || len(args)%2 != 0 {
					return nil, fmt.Errorf("line %d: polygon needs an even number of at least 6 values, got %d", line, len(args))
				}
				ring := make([]r2.Point, 0, len(args)/2)
				for i := 0; i < len(args); i += 2 {
					ring = append(ring, r2.Point{X: args[i], Y: args[i+1]})
				}
				if current == nil {
					current = &models.Region{Shape: models.ShapePolygon}
					out = append(out, current)
				}
				current.Polygons = append(current.Polygons, ring)
				continue
			case "ellipse":
				if len(args) < 5 {
					return nil, fmt.Errorf("line %d: ellipse needs 5 values, got %d", line, len(args))
				}
				out = append(out, models.NewEllipse(r2.Point{X: args[0], Y: args[1]}, args[2], args[3], args[4]))
			case "circle":
				if len(args) < 3 {
					return nil, fmt.Errorf("line %d: circle needs 3 values, got %d", line, len(args))
				}
				out = append(out, models.NewCircle(r2.Point{X: args[0], Y: args[1]}, args[2]))
			case "fk5", "physical", "image", "icrs", "fk4", "galactic", "ecliptic":
				continue
			default:
				return nil, fmt.Errorf("line %d: unsupported shape %q", line, name)
			}
			current = nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseFile reads regions from path.
func ParseFile(path string) ([]*models.Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	regions, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse region file %s: %w", path, err)
	}
	return regions, nil
}

func splitShape(stmt string) (string, []float64, error) {
	open := strings.Index(stmt, "(")
	closing := strings.LastIndex(stmt, ")")
	if closing < open {
		return "", nil, fmt.Errorf("unbalanced parentheses in %q", stmt)
	}
	name := strings.ToLower(strings.TrimSpace(stmt[:open]))

	fields := strings.FieldsFunc(stmt[open+1:closing], func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	args := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSuffix(f, "d"), 64)
		if err != nil {
			return "", nil, fmt.Errorf("bad value %q in %s: %w", f, name, err)
		}
		args = append(args, v)
	}
	return name, args, nil
}
