package depthmap

import (
	"encoding/csv"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/ICIbrahim/AliceVision/mvsutils"
)

func TestRefineTileExportsArtifacts(t *testing.T) {
	mp := newPlaneScene(t, 0.2)
	exportDir := t.TempDir()
	params := NewRefineParams()
	params.UseColorOptimization = false
	params.ExportIntermediateDepthSimMaps = true
	params.ExportIntermediateCrossVolumes = true
	params.ExportIntermediateVolume9pCsv = true
	params.ExportFolder = exportDir
	h := newRefineHarness(t, mp, mvsutils.TileParams{BufferWidth: 64, BufferHeight: 48}, params)

	roi := mvsutils.NewROI(16, 48, 12, 36)
	sgm := NewDepthSimMap(roi.Width(), roi.Height())
	sgm.Fill(DepthSim{Depth: 2, Sim: 0.9})

	_, err := h.engine.RefineTile(
		mvsutils.Tile{RC: 0, NbTiles: 1, ROI: roi, RefineTCams: []int{1, 2}}, sgm, nil)
	test.That(t, err, test.ShouldBeNil)

	for _, name := range []string{
		"10_depthMap_sgmUpscaled.png",
		"10_simMap_sgmUpscaled.png",
		"10_depthMap_refinedFused.png",
		"10_simMap_refinedFused.png",
		"10_volumeCross_afterRefine.png",
		"10_volumeSamples_afterRefine.csv",
	} {
		_, err := os.Stat(filepath.Join(exportDir, name))
		test.That(t, err, test.ShouldBeNil)
	}

	// previews carry the tile geometry
	f, err := os.Open(filepath.Join(exportDir, "10_depthMap_refinedFused.png"))
	test.That(t, err, test.ShouldBeNil)
	img, err := png.Decode(f)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, roi.Width())
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, roi.Height())

	// nine sample curves under a header row
	cf, err := os.Open(filepath.Join(exportDir, "10_volumeSamples_afterRefine.csv"))
	test.That(t, err, test.ShouldBeNil)
	rows, err := csv.NewReader(cf).ReadAll()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cf.Close(), test.ShouldBeNil)
	test.That(t, len(rows), test.ShouldEqual, 10)
	test.That(t, len(rows[0]), test.ShouldEqual, 8+params.NbDepths())
}

func TestRefineTileExportNamesCarryTileOrigin(t *testing.T) {
	mp := newPlaneScene(t, 0.2)
	exportDir := t.TempDir()
	params := NewRefineParams()
	params.UseColorOptimization = false
	params.ExportIntermediateDepthSimMaps = true
	params.ExportFolder = exportDir
	h := newRefineHarness(t, mp, mvsutils.TileParams{BufferWidth: 64, BufferHeight: 48}, params)

	roi := mvsutils.NewROI(8, 40, 8, 32)
	sgm := NewDepthSimMap(roi.Width(), roi.Height())
	sgm.Fill(DepthSim{Depth: 2, Sim: 0.9})

	_, err := h.engine.RefineTile(
		mvsutils.Tile{ID: 0, NbTiles: 2, RC: 0, ROI: roi, RefineTCams: []int{1}}, sgm, nil)
	test.That(t, err, test.ShouldBeNil)

	_, err = os.Stat(filepath.Join(exportDir, "10_depthMap_sgmUpscaled_tile8x8.png"))
	test.That(t, err, test.ShouldBeNil)
	_, err = os.Stat(filepath.Join(exportDir, "10_depthMap_refinedFused_tile8x8.png"))
	test.That(t, err, test.ShouldBeNil)
}

func TestRefineTileNoExportsWithoutFlags(t *testing.T) {
	mp := newPlaneScene(t, 0.2)
	exportDir := t.TempDir()
	params := NewRefineParams()
	params.UseColorOptimization = false
	params.ExportFolder = exportDir
	h := newRefineHarness(t, mp, mvsutils.TileParams{BufferWidth: 64, BufferHeight: 48}, params)

	roi := mvsutils.NewROI(8, 40, 8, 32)
	sgm := NewDepthSimMap(roi.Width(), roi.Height())
	sgm.Fill(DepthSim{Depth: 2, Sim: 0.9})

	_, err := h.engine.RefineTile(
		mvsutils.Tile{RC: 0, NbTiles: 1, ROI: roi, RefineTCams: []int{1}}, sgm, nil)
	test.That(t, err, test.ShouldBeNil)

	entries, err := os.ReadDir(exportDir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldBeEmpty)
}
