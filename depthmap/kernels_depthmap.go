package depthmap

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/ICIbrahim/AliceVision/camera"
	"github.com/ICIbrahim/AliceVision/device"
	"github.com/ICIbrahim/AliceVision/mvsutils"
	"github.com/ICIbrahim/AliceVision/utils"
)

const (
	// rcMinAlpha is the reference alpha below which a pixel is masked.
	rcMinAlpha float32 = 0.9
	// minValidDepth floors the optimizer so a clamped depth can never
	// collide with the invalid sentinels.
	minValidDepth = 1e-6
	// optVarianceGamma maps local image variance to texture confidence.
	optVarianceGamma = 30.0
	// optDescentStep is the per-iteration relaxation factor.
	optDescentStep = 0.5
)

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func labAtClamped(frame *device.Buffer[LabPixel], x, y int) LabPixel {
	return frame.At(clampInt(x, 0, frame.Width()-1), clampInt(y, 0, frame.Height()-1))
}

func uploadDepthSimMap(dst *device.Buffer[DepthSim], src *DepthSimMap) error {
	if src.Width > dst.Width() || src.Height > dst.Height() {
		return errors.Errorf("depth/sim map %dx%d exceeds the %dx%d staging buffer",
			src.Width, src.Height, dst.Width(), dst.Height())
	}
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			dst.Set(x, y, src.At(x, y))
		}
	}
	return nil
}

func uploadNormalMap(dst *device.Buffer[Normal], src *NormalMap) error {
	if src.Width > dst.Width() || src.Height > dst.Height() {
		return errors.Errorf("normal map %dx%d exceeds the %dx%d staging buffer",
			src.Width, src.Height, dst.Width(), dst.Height())
	}
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			dst.Set(x, y, src.At(x, y))
		}
	}
	return nil
}

// depthSimMapUpscaleAndFilter maps the coarse depth/sim map onto the
// working resolution of the region. Interpolation only draws from valid
// coarse samples so depth edges do not bleed; pixels the reference image
// masks by alpha come out as DepthMasked, pixels with no valid coarse
// neighbor as DepthNoData.
func depthSimMapUpscaleAndFilter(
	out, in *device.Buffer[DepthSim],
	inW, inH int,
	rcFrame *device.Buffer[LabPixel],
	roi mvsutils.ROI,
) {
	w, h := roi.Width(), roi.Height()
	rx := float64(inW) / float64(w)
	ry := float64(inH) / float64(h)
	utils.ParallelForEachPixel(image.Pt(w, h), func(x, y int) {
		if labAtClamped(rcFrame, roi.X.Begin+x, roi.Y.Begin+y).Alpha < rcMinAlpha {
			out.Set(x, y, DepthSim{Depth: DepthMasked})
			return
		}
		sx := (float64(x)+0.5)*rx - 0.5
		sy := (float64(y)+0.5)*ry - 0.5
		x0 := int(math.Floor(sx))
		y0 := int(math.Floor(sy))
		dx := sx - float64(x0)
		dy := sy - float64(y0)

		var depthSum, simSum, weightSum float64
		for j := 0; j < 2; j++ {
			wy := dy
			if j == 0 {
				wy = 1 - dy
			}
			for i := 0; i < 2; i++ {
				wx := dx
				if i == 0 {
					wx = 1 - dx
				}
				weight := wx * wy
				if weight <= 0 {
					continue
				}
				s := in.At(clampInt(x0+i, 0, inW-1), clampInt(y0+j, 0, inH-1))
				if s.Depth < 0 {
					continue
				}
				depthSum += float64(s.Depth) * weight
				simSum += float64(s.Sim) * weight
				weightSum += weight
			}
		}
		if weightSum <= 0 {
			out.Set(x, y, DepthSim{Depth: DepthNoData})
			return
		}
		out.Set(x, y, DepthSim{
			Depth: float32(depthSum / weightSum),
			Sim:   float32(simSum / weightSum),
		})
	})
}

// depthSimMapComputePixSize replaces the sim channel with the 3D size of
// one pixel at the map's depth, the unit every depth hypothesis and trust
// radius is expressed in from here on.
func depthSimMapComputePixSize(inout *device.Buffer[DepthSim], rcModel camera.Model, roi mvsutils.ROI) {
	utils.ParallelForEachPixel(image.Pt(roi.Width(), roi.Height()), func(x, y int) {
		ds := inout.At(x, y)
		if ds.Depth < 0 {
			ds.Sim = 0
			inout.Set(x, y, ds)
			return
		}
		px := r2.Point{X: float64(roi.X.Begin + x), Y: float64(roi.Y.Begin + y)}
		p := rcModel.BackProject(px, float64(ds.Depth))
		ds.Sim = float32(rcModel.PixSize(p))
		inout.Set(x, y, ds)
	})
}

// normalMapUpscale maps a coarse normal map onto the working resolution.
// Zero normals mark missing data and are excluded; an interpolated normal
// is renormalized to unit length.
func normalMapUpscale(out, in *device.Buffer[Normal], inW, inH int, roi mvsutils.ROI) {
	w, h := roi.Width(), roi.Height()
	rx := float64(inW) / float64(w)
	ry := float64(inH) / float64(h)
	utils.ParallelForEachPixel(image.Pt(w, h), func(x, y int) {
		sx := (float64(x)+0.5)*rx - 0.5
		sy := (float64(y)+0.5)*ry - 0.5
		x0 := int(math.Floor(sx))
		y0 := int(math.Floor(sy))
		dx := sx - float64(x0)
		dy := sy - float64(y0)

		var nx, ny, nz float64
		for j := 0; j < 2; j++ {
			wy := dy
			if j == 0 {
				wy = 1 - dy
			}
			for i := 0; i < 2; i++ {
				wx := dx
				if i == 0 {
					wx = 1 - dx
				}
				weight := wx * wy
				if weight <= 0 {
					continue
				}
				n := in.At(clampInt(x0+i, 0, inW-1), clampInt(y0+j, 0, inH-1))
				nx += float64(n.X) * weight
				ny += float64(n.Y) * weight
				nz += float64(n.Z) * weight
			}
		}
		norm := math.Sqrt(nx*nx + ny*ny + nz*nz)
		if norm < 1e-6 {
			out.Set(x, y, Normal{})
			return
		}
		out.Set(x, y, Normal{X: float32(nx / norm), Y: float32(ny / norm), Z: float32(nz / norm)})
	})
}

// depthSimMapCopyDepthOnly carries depths over and stamps a constant
// similarity, the pass-through used when fusion is disabled.
func depthSimMapCopyDepthOnly(out, in *device.Buffer[DepthSim], defaultSim float32, roi mvsutils.ROI) {
	utils.ParallelForEachPixel(image.Pt(roi.Width(), roi.Height()), func(x, y int) {
		out.Set(x, y, DepthSim{Depth: in.At(x, y).Depth, Sim: defaultSim})
	})
}

// computeVarianceMap writes the 3x3 luminance variance of the reference
// frame for every pixel of the region.
func computeVarianceMap(out *device.Buffer[float32], frame *device.Buffer[LabPixel], roi mvsutils.ROI) {
	utils.ParallelForEachPixel(image.Pt(roi.Width(), roi.Height()), func(x, y int) {
		var sum, sumSq float64
		for j := -1; j <= 1; j++ {
			for i := -1; i <= 1; i++ {
				l := float64(labAtClamped(frame, roi.X.Begin+x+i, roi.Y.Begin+y+j).L)
				sum += l
				sumSq += l * l
			}
		}
		mean := sum / 9
		out.Set(x, y, float32(sumSq/9-mean*mean))
	})
}

// optimizeDepthSimMap runs the variance-guided descent: each iteration
// moves every valid depth toward a blend of the refined depth and the
// neighborhood mean, weighted by local texture, clamped to the hypothesis
// window around the coarse depth. Similarities stay those of the refined
// map. Iterations alternate between out and tmp so a pixel always reads
// the previous iteration's neighborhood.
func optimizeDepthSimMap(
	out *device.Buffer[DepthSim],
	tmp *device.Buffer[float32],
	sgm, refined *device.Buffer[DepthSim],
	imgVariance *device.Buffer[float32],
	roi mvsutils.ROI,
	params *RefineParams,
) error {
	if err := out.CopyFrom(refined); err != nil {
		return err
	}
	readOut := func(x, y int) float32 { return out.At(x, y).Depth }
	readTmp := func(x, y int) float32 { return tmp.At(x, y) }
	writeTmp := func(x, y int, depth float32) { tmp.Set(x, y, depth) }
	writeOut := func(x, y int, depth float32) {
		ds := out.At(x, y)
		ds.Depth = depth
		out.Set(x, y, ds)
	}
	nbIterations := params.OptimizationNbIterations
	for it := 0; it < nbIterations; it++ {
		if it%2 == 0 {
			optimizeDepthStep(readOut, writeTmp, sgm, refined, imgVariance, roi, params.HalfNbDepths)
		} else {
			optimizeDepthStep(readTmp, writeOut, sgm, refined, imgVariance, roi, params.HalfNbDepths)
		}
	}
	if nbIterations%2 == 1 {
		utils.ParallelForEachPixel(image.Pt(roi.Width(), roi.Height()), func(x, y int) {
			writeOut(x, y, tmp.At(x, y))
		})
	}
	return nil
}

func optimizeDepthStep(
	src func(x, y int) float32,
	dst func(x, y int, depth float32),
	sgm, refined *device.Buffer[DepthSim],
	imgVariance *device.Buffer[float32],
	roi mvsutils.ROI,
	halfNbDepths int,
) {
	w, h := roi.Width(), roi.Height()
	utils.ParallelForEachPixel(image.Pt(w, h), func(x, y int) {
		coarse := sgm.At(x, y)
		ref := refined.At(x, y)
		if coarse.Depth < 0 || ref.Depth < 0 {
			dst(x, y, ref.Depth)
			return
		}
		cur := float64(src(x, y))

		var depthSum float64
		var nb int
		for j := -1; j <= 1; j++ {
			for i := -1; i <= 1; i++ {
				nx, ny := x+i, y+j
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				if d := src(nx, ny); d > 0 {
					depthSum += float64(d)
					nb++
				}
			}
		}
		// the center pixel is valid, so nb >= 1
		mean := depthSum / float64(nb)
		texture := 1 - math.Exp(-float64(imgVariance.At(x, y))/optVarianceGamma)
		target := texture*float64(ref.Depth) + (1-texture)*mean
		next := cur + optDescentStep*(target-cur)

		pixSize := float64(coarse.Sim)
		lo := float64(coarse.Depth) - float64(halfNbDepths)*pixSize
		if lo < minValidDepth {
			lo = minValidDepth
		}
		hi := float64(coarse.Depth) + float64(halfNbDepths)*pixSize
		dst(x, y, float32(math.Min(math.Max(next, lo), hi)))
	})
}
