package depthmap

import (
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"golang.org/x/image/font/gofont/goregular"
	"gonum.org/v1/gonum/floats"

	"github.com/ICIbrahim/AliceVision/device"
	"github.com/ICIbrahim/AliceVision/mvsutils"
)

var exportFont *truetype.Font

// init sets up the font used to annotate exported volumes.
func init() {
	var err error
	exportFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// tileSuffix distinguishes export files when a frame is processed as more
// than one tile.
func tileSuffix(tile mvsutils.Tile) string {
	if tile.NbTiles <= 1 {
		return ""
	}
	return fmt.Sprintf("_tile%dx%d", tile.ROI.X.Begin, tile.ROI.Y.Begin)
}

func (r *Refine) exportPath(tile mvsutils.Tile, kind, name, ext string) string {
	fileName := fmt.Sprintf("%d_%s_%s%s.%s", r.mp.ViewID(tile.RC), kind, name, tileSuffix(tile), ext)
	return filepath.Join(r.params.ExportFolder, fileName)
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path) //nolint:gosec
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return errors.Wrapf(png.Encode(f, img), "encoding %q", path)
}

// WriteDepthSimMapPreviews writes two PNG previews of a depth/sim map:
// depths on a hue ramp (near red to far blue, invalid black) and
// similarities in grayscale.
func WriteDepthSimMapPreviews(m *DepthSimMap, depthPath, simPath string) error {
	minDepth := math.Inf(1)
	maxDepth := math.Inf(-1)
	for _, ds := range m.Data {
		if d := float64(ds.Depth); d > 0 {
			minDepth = math.Min(minDepth, d)
			maxDepth = math.Max(maxDepth, d)
		}
	}
	depthRange := maxDepth - minDepth
	if depthRange <= 0 {
		depthRange = 1
	}

	depthImg := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	simImg := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			ds := m.At(x, y)
			if ds.Depth > 0 {
				t := (float64(ds.Depth) - minDepth) / depthRange
				c := colorful.Hsv(240*t, 1, 1)
				depthImg.SetNRGBA(x, y, color.NRGBA{
					R: uint8(c.R * 255), G: uint8(c.G * 255), B: uint8(c.B * 255), A: 255,
				})
			} else {
				depthImg.SetNRGBA(x, y, color.NRGBA{A: 255})
			}
			sim := math.Min(math.Max(float64(ds.Sim), 0), 1)
			g := uint8(sim * 255)
			simImg.SetNRGBA(x, y, color.NRGBA{R: g, G: g, B: g, A: 255})
		}
	}

	if err := savePNG(depthPath, depthImg); err != nil {
		return err
	}
	return savePNG(simPath, simImg)
}

// exportDepthSimMap drains the queue and writes the previews of one
// device-resident map.
func (r *Refine) exportDepthSimMap(tile mvsutils.Tile, roi mvsutils.ROI, buf *device.Buffer[DepthSim], name string) error {
	if err := r.queue.Sync(); err != nil {
		return errors.Wrapf(err, "%sexporting %s depth/sim map", tile, name)
	}
	if err := os.MkdirAll(r.params.ExportFolder, 0o755); err != nil {
		return errors.Wrap(err, "creating export folder")
	}
	return WriteDepthSimMapPreviews(
		readDepthSimMap(buf, roi.Width(), roi.Height()),
		r.exportPath(tile, "depthMap", name, "png"),
		r.exportPath(tile, "simMap", name, "png"),
	)
}

// exportVolumeCross drains the queue and renders an X/Z slice of the
// similarity volume through the middle row of the tile, one cell per
// (column, hypothesis), brighter meaning more accumulated support.
func (r *Refine) exportVolumeCross(tile mvsutils.Tile, roi mvsutils.ROI, name string) error {
	if err := r.queue.Sync(); err != nil {
		return errors.Wrapf(err, "%sexporting %s volume cross", tile, name)
	}
	if err := os.MkdirAll(r.params.ExportFolder, 0o755); err != nil {
		return errors.Wrap(err, "creating export folder")
	}

	width := roi.Width()
	nbDepths := r.params.NbDepths()
	yMid := roi.Height() / 2

	values := make([]float64, width*nbDepths)
	for z := 0; z < nbDepths; z++ {
		for x := 0; x < width; x++ {
			values[z*width+x] = float64(r.volumeRefineSim.At3(x, yMid, z))
		}
	}
	lo := floats.Min(values)
	hi := floats.Max(values)
	if hi <= lo {
		hi = lo + 1
	}

	const cell = 4
	const marginTop = 24
	dc := gg.NewContext(width*cell, nbDepths*cell+marginTop)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	for z := 0; z < nbDepths; z++ {
		for x := 0; x < width; x++ {
			t := (values[z*width+x] - lo) / (hi - lo)
			c := colorful.Hsv(240*(1-t), 1, 0.15+0.85*t)
			dc.SetRGB(c.R, c.G, c.B)
			dc.DrawRectangle(float64(x*cell), float64(marginTop+z*cell), cell, cell)
			dc.Fill()
		}
	}
	dc.SetFontFace(truetype.NewFace(exportFont, &truetype.Options{Size: 12}))
	dc.SetRGB(1, 1, 1)
	dc.DrawString(fmt.Sprintf("view %d %s y=%d range=[%.3f, %.3f]",
		r.mp.ViewID(tile.RC), name, roi.Y.Begin+yMid, lo, hi), 4, 16)

	path := r.exportPath(tile, "volumeCross", name, "png")
	return errors.Wrapf(dc.SavePNG(path), "saving %q", path)
}

// exportVolume9pCSV drains the queue and dumps the similarity curves of nine
// sample pixels (a 3x3 grid across the tile) with summary statistics per
// curve, for offline plotting.
func (r *Refine) exportVolume9pCSV(tile mvsutils.Tile, roi mvsutils.ROI, name string) error {
	if err := r.queue.Sync(); err != nil {
		return errors.Wrapf(err, "%sexporting %s volume samples", tile, name)
	}
	if err := os.MkdirAll(r.params.ExportFolder, 0o755); err != nil {
		return errors.Wrap(err, "creating export folder")
	}

	width, height := roi.Width(), roi.Height()
	nbDepths := r.params.NbDepths()
	xs := []int{width / 4, width / 2, (3 * width) / 4}
	ys := []int{height / 4, height / 2, (3 * height) / 4}

	path := r.exportPath(tile, "volumeSamples", name, "csv")
	f, err := os.Create(path) //nolint:gosec
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	w := csv.NewWriter(f)
	header := []string{"point", "x", "y", "min", "max", "mean", "median", "stdev"}
	for z := 0; z < nbDepths; z++ {
		header = append(header, fmt.Sprintf("z%d", z))
	}
	if err := w.Write(header); err != nil {
		return errors.Wrapf(err, "writing %q", path)
	}

	point := 0
	for _, py := range ys {
		for _, px := range xs {
			curve := make([]float64, nbDepths)
			for z := range curve {
				curve[z] = float64(r.volumeRefineSim.At3(px, py, z))
			}
			summary, err := curveSummary(curve)
			if err != nil {
				return errors.Wrapf(err, "summarizing curve at (%d, %d)", px, py)
			}
			row := []string{fmt.Sprintf("p%d", point), strconv.Itoa(px), strconv.Itoa(py)}
			row = append(row, summary...)
			for _, v := range curve {
				row = append(row, strconv.FormatFloat(v, 'g', 6, 64))
			}
			if err := w.Write(row); err != nil {
				return errors.Wrapf(err, "writing %q", path)
			}
			point++
		}
	}
	w.Flush()
	return errors.Wrapf(w.Error(), "writing %q", path)
}

func curveSummary(curve []float64) ([]string, error) {
	summary := make([]string, 0, 5)
	for _, fn := range []func(stats.Float64Data) (float64, error){
		stats.Min, stats.Max, stats.Mean, stats.Median, stats.StandardDeviation,
	} {
		v, err := fn(curve)
		if err != nil {
			return nil, err
		}
		summary = append(summary, strconv.FormatFloat(v, 'g', 6, 64))
	}
	return summary, nil
}
