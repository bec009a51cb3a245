package depthmap

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/ICIbrahim/AliceVision/camera"
	"github.com/ICIbrahim/AliceVision/device"
	"github.com/ICIbrahim/AliceVision/mvsutils"
	"github.com/ICIbrahim/AliceVision/utils"
)

// minLumaVariance rejects contrast-free patches whose correlation would
// be numerical noise.
const minLumaVariance = 1e-6

// volumeRefineSimilarity accumulates, for every pixel of the region and
// every depth hypothesis around the coarse depth, the remapped patch
// similarity against one target camera. Accumulation is additive so
// target cameras can be fused in any order.
func volumeRefineSimilarity(
	vol *device.Buffer[TSimRefine],
	sgm *device.Buffer[DepthSim],
	normals *device.Buffer[Normal],
	rc, tc *DeviceCamera,
	roi mvsutils.ROI,
	params *RefineParams,
) {
	w, h := roi.Width(), roi.Height()
	rcModel := rc.Model()
	tcModel := tc.Model()
	nbDepths := params.NbDepths()
	utils.ParallelForEachPixel(image.Pt(w, h), func(x, y int) {
		mid := sgm.At(x, y)
		if mid.Depth < 0 {
			return
		}
		pixSize := float64(mid.Sim)
		if pixSize <= 0 {
			return
		}
		px := r2.Point{X: float64(roi.X.Begin + x), Y: float64(roi.Y.Begin + y)}
		var normal r3.Vector
		if normals != nil {
			n := normals.At(x, y)
			normal = r3.Vector{X: float64(n.X), Y: float64(n.Y), Z: float64(n.Z)}
		}
		for z := 0; z < nbDepths; z++ {
			depth := float64(mid.Depth) + float64(z-params.HalfNbDepths)*pixSize
			if depth <= 0 {
				continue
			}
			zncc, ok := patchSimilarity(rc, tc, &rcModel, &tcModel, px, depth, normal, params)
			if !ok {
				continue
			}
			vol.Set3(x, y, z, vol.At3(x, y, z)+TSimRefine(simToSupport(zncc, params)))
		}
	})
}

// simToSupport remaps a raw ZNCC score into a (0, 1) support value,
// increasing so that stronger matches add more.
func simToSupport(zncc float64, params *RefineParams) float64 {
	return 1 / (1 + math.Exp(-10*(zncc-params.SigmoidMid)/params.SigmoidWidth))
}

// patchSimilarity computes the weighted ZNCC between the reference patch
// around px and its correspondence in the target view, induced by the
// plane through the hypothesis point at the given depth. A zero normal
// means no orientation is known and the patch is sampled at constant
// distance around the viewing ray. Returns false when the patch leaves
// either frame, hits masked pixels, or has no contrast.
func patchSimilarity(
	rc, tc *DeviceCamera,
	rcModel, tcModel *camera.Model,
	px r2.Point,
	depth float64,
	normal r3.Vector,
	params *RefineParams,
) (float64, bool) {
	p := rcModel.BackProject(px, depth)
	// uploaded normals are unit length; anything shorter marks absence
	useNormal := normal.Norm2() > 0.25
	center := labAtClamped(rc.Frame(), int(px.X), int(px.Y))

	var sumW, sumR, sumT, sumRR, sumTT, sumRT float64
	wsh := params.WSH
	for j := -wsh; j <= wsh; j++ {
		for i := -wsh; i <= wsh; i++ {
			rcPix := r2.Point{X: px.X + float64(i), Y: px.Y + float64(j)}
			if !rcModel.InFrame(rcPix, 0) {
				return 0, false
			}
			var sample r3.Vector
			if useNormal {
				ray := rcModel.Ray(rcPix)
				denom := ray.Dot(normal)
				if math.Abs(denom) < 1e-9 {
					return 0, false
				}
				t := p.Sub(rcModel.Pose.Center).Dot(normal) / denom
				if t <= 0 {
					return 0, false
				}
				sample = rcModel.Pose.Center.Add(ray.Mul(t))
			} else {
				sample = rcModel.BackProject(rcPix, depth)
			}
			tcPix, tcDepth := tcModel.Project(sample)
			if tcDepth <= 0 || !tcModel.InFrame(tcPix, 1) {
				return 0, false
			}
			rcColor := labAtClamped(rc.Frame(), int(rcPix.X), int(rcPix.Y))
			if rcColor.Alpha < rcMinAlpha {
				return 0, false
			}
			tcColor, ok := labBilinear(tc.Frame(), tcPix.X, tcPix.Y)
			if !ok || tcColor.Alpha < rcMinAlpha {
				return 0, false
			}

			weight := patchWeight(center, rcColor, float64(i), float64(j), params)
			rl := float64(rcColor.L)
			tl := float64(tcColor.L)
			sumW += weight
			sumR += weight * rl
			sumT += weight * tl
			sumRR += weight * rl * rl
			sumTT += weight * tl * tl
			sumRT += weight * rl * tl
		}
	}
	if sumW <= 0 {
		return 0, false
	}
	meanR := sumR / sumW
	meanT := sumT / sumW
	varR := sumRR/sumW - meanR*meanR
	varT := sumTT/sumW - meanT*meanT
	if varR < minLumaVariance || varT < minLumaVariance {
		return 0, false
	}
	cov := sumRT/sumW - meanR*meanT
	return cov / math.Sqrt(varR*varT), true
}

// patchWeight is the adaptive support weight of one patch sample: color
// proximity to the patch center scaled by gammaC, spatial proximity
// scaled by gammaP.
func patchWeight(center, c LabPixel, di, dj float64, params *RefineParams) float64 {
	deltaC := colorDistance(center, c)
	deltaP := math.Sqrt(di*di + dj*dj)
	return math.Exp(-deltaC/params.GammaC - deltaP/params.GammaP)
}

func colorDistance(a, b LabPixel) float64 {
	dl := float64(a.L - b.L)
	da := float64(a.A - b.A)
	db := float64(a.B - b.B)
	return math.Sqrt(dl*dl + da*da + db*db)
}

// labBilinear samples the frame at a sub-pixel position. The bool is
// false when the sample would leave the frame.
func labBilinear(frame *device.Buffer[LabPixel], x, y float64) (LabPixel, bool) {
	if x < 0 || y < 0 || x > float64(frame.Width()-1) || y > float64(frame.Height()-1) {
		return LabPixel{}, false
	}
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	x1 := clampInt(x0+1, 0, frame.Width()-1)
	y1 := clampInt(y0+1, 0, frame.Height()-1)
	dx := float32(x - float64(x0))
	dy := float32(y - float64(y0))

	lerp := func(a, b, w float32) float32 { return a + (b-a)*w }
	mix := func(a, b LabPixel, w float32) LabPixel {
		return LabPixel{
			L:     lerp(a.L, b.L, w),
			A:     lerp(a.A, b.A, w),
			B:     lerp(a.B, b.B, w),
			Alpha: lerp(a.Alpha, b.Alpha, w),
		}
	}
	top := mix(frame.At(x0, y0), frame.At(x1, y0), dx)
	bottom := mix(frame.At(x0, y1), frame.At(x1, y1), dx)
	return mix(top, bottom, dy), true
}

// volumeRefineBestDepth reduces the refine volume to a depth/sim map: the
// strongest hypothesis per pixel, with a parabola through its neighbors
// recovering the sub-sample offset. Similarity is the peak support
// divided by the number of fused target cameras. Pixels with no valid
// coarse depth keep their sentinel.
func volumeRefineBestDepth(
	out *device.Buffer[DepthSim],
	sgm *device.Buffer[DepthSim],
	vol *device.Buffer[TSimRefine],
	nbTCams int,
	roi mvsutils.ROI,
	params *RefineParams,
) {
	nbDepths := params.NbDepths()
	utils.ParallelForEachPixel(image.Pt(roi.Width(), roi.Height()), func(x, y int) {
		in := sgm.At(x, y)
		if in.Depth < 0 {
			out.Set(x, y, DepthSim{Depth: in.Depth, Sim: 1})
			return
		}
		bestZ := -1
		var bestValue TSimRefine
		for z := 0; z < nbDepths; z++ {
			if v := vol.At3(x, y, z); v > bestValue {
				bestValue = v
				bestZ = z
			}
		}
		if bestZ < 0 {
			// no hypothesis gathered support; keep the coarse depth
			out.Set(x, y, DepthSim{Depth: in.Depth, Sim: 0})
			return
		}
		offset := 0.0
		if bestZ > 0 && bestZ < nbDepths-1 {
			offset = parabolaOffset(
				float64(vol.At3(x, y, bestZ-1)),
				float64(vol.At3(x, y, bestZ)),
				float64(vol.At3(x, y, bestZ+1)),
			)
		}
		depth := float64(in.Depth) + (float64(bestZ-params.HalfNbDepths)+offset)*float64(in.Sim)
		out.Set(x, y, DepthSim{
			Depth: float32(depth),
			Sim:   float32(bestValue) / float32(nbTCams),
		})
	})
}

// parabolaOffset returns the sub-sample position of the maximum of the
// parabola through (-1, prev), (0, mid), (1, next), clamped to
// [-0.5, 0.5]. A non-concave triple yields no offset.
func parabolaOffset(prev, mid, next float64) float64 {
	denom := prev - 2*mid + next
	if denom >= 0 {
		return 0
	}
	offset := (prev - next) / (2 * denom)
	return math.Max(-0.5, math.Min(0.5, offset))
}
