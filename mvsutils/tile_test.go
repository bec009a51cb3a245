package mvsutils

import (
	"testing"

	"go.viam.com/test"
)

func TestTileParamsCheckValid(t *testing.T) {
	valid := TileParams{BufferWidth: 1024, BufferHeight: 1024, Padding: 64}
	test.That(t, valid.CheckValid(), test.ShouldBeNil)

	zeroWidth := TileParams{BufferWidth: 0, BufferHeight: 10, Padding: 0}
	test.That(t, zeroWidth.CheckValid(), test.ShouldNotBeNil)

	negPad := TileParams{BufferWidth: 10, BufferHeight: 10, Padding: -1}
	test.That(t, negPad.CheckValid(), test.ShouldNotBeNil)

	hugePad := TileParams{BufferWidth: 10, BufferHeight: 10, Padding: 5}
	test.That(t, hugePad.CheckValid(), test.ShouldNotBeNil)
}

func TestTileString(t *testing.T) {
	single := Tile{RC: 3, NbTiles: 1}
	test.That(t, single.String(), test.ShouldEqual, "[rc 3] ")

	multi := Tile{RC: 3, ID: 1, NbTiles: 5}
	test.That(t, multi.String(), test.ShouldEqual, "[rc 3, tile 2/5] ")
}

func TestTileRoiListSingleTile(t *testing.T) {
	params := TileParams{BufferWidth: 128, BufferHeight: 128, Padding: 10}
	rois := TileRoiList(100, 80, params)
	test.That(t, len(rois), test.ShouldEqual, 1)
	test.That(t, rois[0], test.ShouldResemble, NewROI(0, 100, 0, 80))
}

func TestTileRoiListGrid(t *testing.T) {
	width, height := 100, 50
	params := TileParams{BufferWidth: 40, BufferHeight: 40, Padding: 5}
	rois := TileRoiList(width, height, params)
	test.That(t, len(rois), test.ShouldEqual, 6)

	covered := make([][]bool, height)
	for y := range covered {
		covered[y] = make([]bool, width)
	}
	for _, roi := range rois {
		test.That(t, roi.Width(), test.ShouldBeLessThanOrEqualTo, params.BufferWidth)
		test.That(t, roi.Height(), test.ShouldBeLessThanOrEqualTo, params.BufferHeight)
		for y := roi.Y.Begin; y < roi.Y.End; y++ {
			for x := roi.X.Begin; x < roi.X.End; x++ {
				covered[y][x] = true
			}
		}
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			test.That(t, covered[y][x], test.ShouldBeTrue)
		}
	}

	// horizontal neighbors share 2*padding pixels
	overlap := rois[0].X.Intersect(rois[1].X)
	test.That(t, overlap.Size(), test.ShouldEqual, 2*params.Padding)
}

func TestTileRoiListDegenerateParams(t *testing.T) {
	params := TileParams{BufferWidth: 10, BufferHeight: 10, Padding: 5}
	test.That(t, TileRoiList(100, 100, params), test.ShouldBeNil)
}
