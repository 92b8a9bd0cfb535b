// Command fixplot renders a 3D fix recording as three orthogonal
// projections (X/Y, X/Z, Y/Z) side by side in one PNG.
//
//	fixplot [-o fixes.png] FILE
package main

import (
	"errors"
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/irmarker/internal/sink"
)

var (
	outFile = flag.String("o", "fixes.png", "Output PNG path")
	track   = flag.Bool("track", true, "Join consecutive fixes with a line")
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: fixplot [-o out.png] FILE")
		os.Exit(2)
	}
	n, err := plotFile(flag.Arg(0), *outFile, *track)
	if err != nil {
		log.Fatalf("fixplot: %v", err)
	}
	log.Printf("plotted %d fixes to %s", n, *outFile)
}

// axes names the projection of each panel.
var axes = [3]struct {
	name string
	i, j int
}{
	{"X/Y", 0, 1},
	{"X/Z", 0, 2},
	{"Y/Z", 1, 2},
}

var axisLabels = [3]string{"X (m)", "Y (m)", "Z (m)"}

// plotFile reads the fixes in in and writes the projections to out. It
// returns the number of fixes plotted; no-fix records are skipped.
func plotFile(in, out string, track bool) (int, error) {
	f, err := os.Open(in)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	records, err := sink.ReadFixRecords(f)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", in, err)
	}

	var points [][3]float64
	for _, r := range records {
		if r.Point != nil {
			points = append(points, *r.Point)
		}
	}
	if len(points) == 0 {
		return 0, errors.New("no fixes to plot")
	}

	row := make([]*plot.Plot, len(axes))
	for k, a := range axes {
		p, err := projection(points, a.name, a.i, a.j, track)
		if err != nil {
			return 0, err
		}
		row[k] = p
	}
	return len(points), save(out, row)
}

func projection(points [][3]float64, name string, i, j int, track bool) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (%d fixes)", name, len(points))
	p.X.Label.Text = axisLabels[i]
	p.Y.Label.Text = axisLabels[j]
	p.Add(plotter.NewGrid())

	xys := make(plotter.XYs, len(points))
	for k, pt := range points {
		xys[k] = plotter.XY{X: pt[i], Y: pt[j]}
	}
	if track && len(xys) > 1 {
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, err
		}
		line.Color = color.RGBA{R: 180, G: 180, B: 180, A: 255}
		line.Width = vg.Points(0.5)
		p.Add(line)
	}
	sc, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, err
	}
	sc.GlyphStyle.Color = color.RGBA{R: 30, G: 100, B: 200, A: 255}
	sc.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(sc)
	return p, nil
}

// save lays the plots out in one row and writes them as PNG.
func save(path string, row []*plot.Plot) error {
	img := vgimg.New(18*vg.Inch, 6*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: 1,
		Cols: len(row),
		PadX: vg.Millimeter * 5,
		PadY: vg.Millimeter * 5,
	}
	canvases := plot.Align([][]*plot.Plot{row}, tiles, dc)
	for k, p := range row {
		p.Draw(canvases[0][k])
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
