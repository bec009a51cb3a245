package depthmap

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/ICIbrahim/AliceVision/device"
	"github.com/ICIbrahim/AliceVision/logging"
	"github.com/ICIbrahim/AliceVision/mvsutils"
	"github.com/ICIbrahim/AliceVision/utils"
)

// Refine sharpens the coarse depth/sim map of one tile at a time. Each call
// to RefineTile runs three stages on the engine's device queue: upscale the
// coarse map to the working resolution, sample a small depth volume around
// each coarse hypothesis against the target cameras, and smooth the winning
// depths with a color-guided descent.
//
// An engine owns a fixed set of device buffers sized for the largest tile it
// will ever see, so constructing one is the only point that can run out of
// device memory. Engines are not safe for concurrent use; run one engine per
// queue and as many engines as you want device streams.
type Refine struct {
	mp     *mvsutils.MultiViewParams
	params RefineParams
	queue  *device.Queue
	cache  *DeviceCache
	logger logging.Logger

	bufWidth  int
	bufHeight int

	inSgmMap             *device.Buffer[DepthSim]
	inNormalMap          *device.Buffer[Normal]
	sgmDepthPixSizeMap   *device.Buffer[DepthSim]
	refinedDepthSimMap   *device.Buffer[DepthSim]
	optimizedDepthSimMap *device.Buffer[DepthSim]
	normalMap            *device.Buffer[Normal]
	volumeRefineSim      *device.Buffer[TSimRefine]
	optImgVariance       *device.Buffer[float32]
	optTmpDepthMap       *device.Buffer[float32]

	releases      []func() error
	bytesPadded   int64
	bytesUnpadded int64
}

// allocRefineBuffer reserves one engine buffer and records its release and
// its footprint on the engine.
func allocRefineBuffer[T any](r *Refine, width, height, depth int) (*device.Buffer[T], error) {
	buf, err := device.NewBuffer3D[T](r.cache.Ledger(), width, height, depth)
	if err != nil {
		return nil, err
	}
	r.releases = append(r.releases, buf.Release)
	r.bytesPadded += buf.BytesPadded()
	r.bytesUnpadded += buf.BytesUnpadded()
	return buf, nil
}

// NewRefine builds a refinement engine for the given tiling and parameters.
// Every device buffer the engine will ever need is reserved here against the
// cache's ledger; an over-budget configuration fails now rather than halfway
// through a frame.
func NewRefine(
	mp *mvsutils.MultiViewParams,
	tileParams mvsutils.TileParams,
	params RefineParams,
	queue *device.Queue,
	cache *DeviceCache,
	logger logging.Logger,
) (*Refine, error) {
	if mp == nil {
		return nil, errors.New("refine needs multi-view parameters")
	}
	if queue == nil {
		return nil, errors.New("refine needs a device queue")
	}
	if cache == nil {
		return nil, errors.New("refine needs a device cache")
	}
	if err := tileParams.CheckValid(); err != nil {
		return nil, err
	}
	if err := params.CheckValid(); err != nil {
		return nil, err
	}

	downscale := params.Scale * params.StepXY
	bufWidth := utils.DivideRoundUp(tileParams.BufferWidth, downscale)
	bufHeight := utils.DivideRoundUp(tileParams.BufferHeight, downscale)
	if downscale > 1 {
		// Tile origins are not aligned to the downscale factor, so a mapped
		// region can straddle one extra cell per axis.
		bufWidth++
		bufHeight++
	}

	r := &Refine{
		mp:        mp,
		params:    params,
		queue:     queue,
		cache:     cache,
		logger:    logger,
		bufWidth:  bufWidth,
		bufHeight: bufHeight,
	}

	var err error
	if r.inSgmMap, err = allocRefineBuffer[DepthSim](r, bufWidth, bufHeight, 1); err != nil {
		return nil, r.allocFailed(err)
	}
	if r.sgmDepthPixSizeMap, err = allocRefineBuffer[DepthSim](r, bufWidth, bufHeight, 1); err != nil {
		return nil, r.allocFailed(err)
	}
	if r.refinedDepthSimMap, err = allocRefineBuffer[DepthSim](r, bufWidth, bufHeight, 1); err != nil {
		return nil, r.allocFailed(err)
	}
	if r.optimizedDepthSimMap, err = allocRefineBuffer[DepthSim](r, bufWidth, bufHeight, 1); err != nil {
		return nil, r.allocFailed(err)
	}
	if r.volumeRefineSim, err = allocRefineBuffer[TSimRefine](r, bufWidth, bufHeight, params.NbDepths()); err != nil {
		return nil, r.allocFailed(err)
	}
	if params.UseNormalMap {
		if r.inNormalMap, err = allocRefineBuffer[Normal](r, bufWidth, bufHeight, 1); err != nil {
			return nil, r.allocFailed(err)
		}
		if r.normalMap, err = allocRefineBuffer[Normal](r, bufWidth, bufHeight, 1); err != nil {
			return nil, r.allocFailed(err)
		}
	}
	if params.UseColorOptimization && params.OptimizationNbIterations > 0 {
		if r.optImgVariance, err = allocRefineBuffer[float32](r, bufWidth, bufHeight, 1); err != nil {
			return nil, r.allocFailed(err)
		}
		if r.optTmpDepthMap, err = allocRefineBuffer[float32](r, bufWidth, bufHeight, 1); err != nil {
			return nil, r.allocFailed(err)
		}
	}

	logger.Debugw("refine engine ready",
		"tileBuffer", fmt.Sprintf("%dx%d", bufWidth, bufHeight),
		"nbDepths", params.NbDepths(),
		"memoryMB", r.DeviceMemoryConsumptionMB(),
		"memoryUnpaddedMB", r.DeviceMemoryConsumptionUnpaddedMB(),
	)
	return r, nil
}

func (r *Refine) allocFailed(err error) error {
	return multierr.Combine(errors.Wrap(err, "allocating refine tile buffers"), r.Close())
}

// Close releases every device buffer the engine owns. The engine must not be
// used afterwards.
func (r *Refine) Close() error {
	var err error
	for _, release := range r.releases {
		err = multierr.Combine(err, release())
	}
	r.releases = nil
	return err
}

// DeviceMemoryConsumptionMB returns the engine's device footprint in
// mebibytes, row padding included.
func (r *Refine) DeviceMemoryConsumptionMB() float64 {
	return float64(r.bytesPadded) / (1024 * 1024)
}

// DeviceMemoryConsumptionUnpaddedMB returns the footprint of the logical
// elements alone, without row padding.
func (r *Refine) DeviceMemoryConsumptionUnpaddedMB() float64 {
	return float64(r.bytesUnpadded) / (1024 * 1024)
}

// RefineTile refines the coarse depth/sim map of one tile and returns the
// result at the working resolution. sgmMap holds the coarse depths for the
// tile region, already downscaled by the coarse pass; sgmNormals may be nil,
// in which case patches are sampled fronto-parallel even when normal guidance
// is enabled.
func (r *Refine) RefineTile(tile mvsutils.Tile, sgmMap *DepthSimMap, sgmNormals *NormalMap) (*DepthSimMap, error) {
	if sgmMap == nil {
		return nil, errors.New("missing coarse depth/sim map")
	}
	if err := r.mp.CheckCamIdx(tile.RC); err != nil {
		return nil, err
	}
	downscale := r.params.Scale * r.params.StepXY
	roi := tile.ROI.Downscale(downscale)
	if roi.Empty() {
		return nil, errors.Errorf("%stile region is empty at the working resolution", tile)
	}
	width := roi.Width()
	height := roi.Height()
	if width > r.bufWidth || height > r.bufHeight {
		return nil, errors.Errorf("%stile region %dx%d exceeds the %dx%d tile buffers",
			tile, width, height, r.bufWidth, r.bufHeight)
	}
	if sgmMap.Width > r.bufWidth || sgmMap.Height > r.bufHeight {
		return nil, errors.Errorf("%scoarse map %dx%d exceeds the %dx%d tile buffers",
			tile, sgmMap.Width, sgmMap.Height, r.bufWidth, r.bufHeight)
	}
	if r.params.UseRefineFuse && len(tile.RefineTCams) == 0 {
		return nil, errors.Errorf("%sfusion requires at least one target camera", tile)
	}

	rc, err := r.cache.RequestCamera(tile.RC, downscale, r.mp)
	if err != nil {
		return nil, errors.Wrapf(err, "%srequesting reference camera", tile)
	}

	r.logger.Debugf("%supscaling coarse depth/sim map (%dx%d to %dx%d)",
		tile, sgmMap.Width, sgmMap.Height, width, height)
	r.queue.Enqueue("upload coarse map", func() error {
		return uploadDepthSimMap(r.inSgmMap, sgmMap)
	})
	inWidth, inHeight := sgmMap.Width, sgmMap.Height
	r.queue.Enqueue("depth/sim map upscale and filter", func() error {
		depthSimMapUpscaleAndFilter(r.sgmDepthPixSizeMap, r.inSgmMap, inWidth, inHeight, rc.Frame(), roi)
		return nil
	})
	if r.params.ExportIntermediateDepthSimMaps {
		if err := r.exportDepthSimMap(tile, roi, r.sgmDepthPixSizeMap, "sgmUpscaled"); err != nil {
			return nil, err
		}
	}
	rcModel := rc.Model()
	r.queue.Enqueue("depth/sim map compute pix size", func() error {
		depthSimMapComputePixSize(r.sgmDepthPixSizeMap, rcModel, roi)
		return nil
	})

	var normals *device.Buffer[Normal]
	if r.params.UseNormalMap && sgmNormals != nil {
		normalsWidth, normalsHeight := sgmNormals.Width, sgmNormals.Height
		r.queue.Enqueue("upload coarse normal map", func() error {
			return uploadNormalMap(r.inNormalMap, sgmNormals)
		})
		r.queue.Enqueue("normal map upscale", func() error {
			normalMapUpscale(r.normalMap, r.inNormalMap, normalsWidth, normalsHeight, roi)
			return nil
		})
		normals = r.normalMap
	}

	if r.params.UseRefineFuse {
		r.logger.Debugf("%sfusing %d target cameras over %d depths",
			tile, len(tile.RefineTCams), r.params.NbDepths())
		r.queue.Enqueue("volume initialize", func() error {
			r.volumeRefineSim.Fill(0)
			return nil
		})
		for _, tcIdx := range tile.RefineTCams {
			tc, err := r.cache.RequestCamera(tcIdx, downscale, r.mp)
			if err != nil {
				return nil, errors.Wrapf(err, "%srequesting target camera %d", tile, tcIdx)
			}
			r.queue.Enqueue(fmt.Sprintf("volume refine similarity tc=%d", tcIdx), func() error {
				volumeRefineSimilarity(r.volumeRefineSim, r.sgmDepthPixSizeMap, normals, rc, tc, roi, &r.params)
				return nil
			})
		}
		if r.params.ExportIntermediateCrossVolumes {
			if err := r.exportVolumeCross(tile, roi, "afterRefine"); err != nil {
				return nil, err
			}
		}
		if r.params.ExportIntermediateVolume9pCsv {
			if err := r.exportVolume9pCSV(tile, roi, "afterRefine"); err != nil {
				return nil, err
			}
		}
		nbTCams := len(tile.RefineTCams)
		r.queue.Enqueue("volume refine best depth", func() error {
			volumeRefineBestDepth(r.refinedDepthSimMap, r.sgmDepthPixSizeMap, r.volumeRefineSim, nbTCams, roi, &r.params)
			return nil
		})
	} else {
		// Fusion disabled: carry the coarse depths through untouched with a
		// pass-through similarity.
		r.queue.Enqueue("depth/sim map copy depth only", func() error {
			depthSimMapCopyDepthOnly(r.refinedDepthSimMap, r.sgmDepthPixSizeMap, 1.0, roi)
			return nil
		})
	}
	if r.params.ExportIntermediateDepthSimMaps {
		if err := r.exportDepthSimMap(tile, roi, r.refinedDepthSimMap, "refinedFused"); err != nil {
			return nil, err
		}
	}

	if r.params.UseColorOptimization && r.params.OptimizationNbIterations > 0 {
		r.logger.Debugf("%soptimizing depth/sim map (%d iterations)", tile, r.params.OptimizationNbIterations)
		r.queue.Enqueue("compute image variance", func() error {
			computeVarianceMap(r.optImgVariance, rc.Frame(), roi)
			return nil
		})
		r.queue.Enqueue("optimize depth/sim map", func() error {
			return optimizeDepthSimMap(r.optimizedDepthSimMap, r.optTmpDepthMap,
				r.sgmDepthPixSizeMap, r.refinedDepthSimMap, r.optImgVariance, roi, &r.params)
		})
	} else {
		r.queue.Enqueue("copy refined map", func() error {
			return r.optimizedDepthSimMap.CopyFrom(r.refinedDepthSimMap)
		})
	}

	if err := r.queue.Sync(); err != nil {
		return nil, errors.Wrapf(err, "%srefinement failed", tile)
	}

	out := readDepthSimMap(r.optimizedDepthSimMap, width, height)
	r.logger.Debugf("%srefined depth/sim map ready", tile)
	return out, nil
}

// readDepthSimMap copies the top-left width x height region of a device
// buffer back to a host map.
func readDepthSimMap(buf *device.Buffer[DepthSim], width, height int) *DepthSimMap {
	m := NewDepthSimMap(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			m.Set(x, y, buf.At(x, y))
		}
	}
	return m
}
