// Package mvsutils holds the shared multi-view-stereo plumbing: pixel
// ranges and regions of interest, tiles, tile grids, and the global
// calibration registry handed to every pipeline stage.
package mvsutils

import (
	"fmt"

	"github.com/ICIbrahim/AliceVision/utils"
)

// Range is a half-open interval of pixel indices.
type Range struct {
	Begin int `json:"begin"`
	End   int `json:"end"`
}

// Size returns the number of pixels covered.
func (r Range) Size() int {
	if r.End <= r.Begin {
		return 0
	}
	return r.End - r.Begin
}

// Contains reports whether i falls inside the range.
func (r Range) Contains(i int) bool {
	return i >= r.Begin && i < r.End
}

// Intersect clips the range against another.
func (r Range) Intersect(other Range) Range {
	out := Range{Begin: maxInt(r.Begin, other.Begin), End: minInt(r.End, other.End)}
	if out.End < out.Begin {
		out.End = out.Begin
	}
	return out
}

// Downscale maps the range to a lower working resolution. The begin floor
// and the end ceiling keep every covered source pixel covered.
func (r Range) Downscale(factor int) Range {
	if factor <= 1 {
		return r
	}
	return Range{Begin: r.Begin / factor, End: utils.DivideRoundUp(r.End, factor)}
}

// ROI is a rectangular region of interest in pixel coordinates, expressed
// as two half-open ranges.
type ROI struct {
	X Range `json:"x"`
	Y Range `json:"y"`
}

// NewROI builds an ROI from bounds [beginX,endX) x [beginY,endY).
func NewROI(beginX, endX, beginY, endY int) ROI {
	return ROI{X: Range{Begin: beginX, End: endX}, Y: Range{Begin: beginY, End: endY}}
}

// Width returns the horizontal pixel count.
func (roi ROI) Width() int { return roi.X.Size() }

// Height returns the vertical pixel count.
func (roi ROI) Height() int { return roi.Y.Size() }

// Empty reports whether the region covers no pixels.
func (roi ROI) Empty() bool { return roi.Width() <= 0 || roi.Height() <= 0 }

// Contains reports whether pixel (x, y) falls inside the region.
func (roi ROI) Contains(x, y int) bool {
	return roi.X.Contains(x) && roi.Y.Contains(y)
}

// Intersect clips the region against another.
func (roi ROI) Intersect(other ROI) ROI {
	return ROI{X: roi.X.Intersect(other.X), Y: roi.Y.Intersect(other.Y)}
}

// Downscale maps a full-resolution region to its working-resolution
// equivalent. Every phase of the pipeline must address downscaled buffers
// through this one mapping so pixel correspondence never drifts.
func (roi ROI) Downscale(factor int) ROI {
	return ROI{X: roi.X.Downscale(factor), Y: roi.Y.Downscale(factor)}
}

func (roi ROI) String() string {
	return fmt.Sprintf("x=[%d-%d] y=[%d-%d]", roi.X.Begin, roi.X.End, roi.Y.Begin, roi.Y.End)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
