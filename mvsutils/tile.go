package mvsutils

import "fmt"

// TileParams bounds device memory use: every tile buffer is allocated for
// BufferWidth x BufferHeight pixels and tiles overlap by Padding pixels so
// the stitcher can blend seams.
type TileParams struct {
	BufferWidth  int `json:"buffer_width"`
	BufferHeight int `json:"buffer_height"`
	Padding      int `json:"padding"`
}

// CheckValid checks the tile dimensions.
func (tp *TileParams) CheckValid() error {
	if tp.BufferWidth <= 0 || tp.BufferHeight <= 0 {
		return fmt.Errorf("invalid tile buffer dimensions (%d, %d)", tp.BufferWidth, tp.BufferHeight)
	}
	if tp.Padding < 0 {
		return fmt.Errorf("invalid tile padding %d", tp.Padding)
	}
	if 2*tp.Padding >= tp.BufferWidth || 2*tp.Padding >= tp.BufferHeight {
		return fmt.Errorf("tile padding %d swallows the whole buffer (%d, %d)",
			tp.Padding, tp.BufferWidth, tp.BufferHeight)
	}
	return nil
}

// Tile is one bounded unit of work: a reference camera, the region of the
// full-resolution image to process, and the target cameras to match
// against. Tiles are produced by an external partitioner and are immutable
// for the duration of a refine call.
type Tile struct {
	// ID is the tile index in [0, NbTiles).
	ID int
	// NbTiles is the total tile count for the job.
	NbTiles int
	// RC is the reference camera index.
	RC int
	// SGMTCams are the target cameras of the coarse matching stage.
	SGMTCams []int
	// RefineTCams are the target cameras fused during refinement.
	RefineTCams []int
	// ROI is the full-resolution region this tile covers.
	ROI ROI
}

// String is the log prefix used by every per-tile message.
func (t Tile) String() string {
	if t.NbTiles <= 1 {
		return fmt.Sprintf("[rc %d] ", t.RC)
	}
	return fmt.Sprintf("[rc %d, tile %d/%d] ", t.RC, t.ID+1, t.NbTiles)
}

// TileRoiList cuts a width x height image into a grid of overlapping
// regions no larger than the tile buffer. Consecutive tiles overlap by
// padding pixels. A buffer that covers the whole image yields one tile.
func TileRoiList(width, height int, params TileParams) []ROI {
	stepX := params.BufferWidth - 2*params.Padding
	stepY := params.BufferHeight - 2*params.Padding
	if stepX <= 0 || stepY <= 0 {
		return nil
	}

	var rois []ROI
	for y := 0; y < height; y += stepY {
		endY := minInt(y+params.BufferHeight, height)
		for x := 0; x < width; x += stepX {
			endX := minInt(x+params.BufferWidth, width)
			rois = append(rois, NewROI(x, endX, y, endY))
			if endX >= width {
				break
			}
		}
		if endY >= height {
			break
		}
	}
	return rois
}
