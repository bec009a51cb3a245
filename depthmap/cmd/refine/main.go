// Package main provides a tool that refines the coarse depth/sim maps of a
// calibrated multi-view scene, one view at a time across a pool of device
// queues.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"github.com/ICIbrahim/AliceVision/depthmap"
	"github.com/ICIbrahim/AliceVision/device"
	"github.com/ICIbrahim/AliceVision/logging"
	"github.com/ICIbrahim/AliceVision/mvsutils"
	"github.com/ICIbrahim/AliceVision/utils"
)

const (
	sceneFlag        = "scene"
	paramsFlag       = "params"
	outputFlag       = "output"
	coarseDirFlag    = "coarse-dir"
	initDepthFlag    = "init-depth"
	scaleFlag        = "scale"
	stepFlag         = "step"
	halfNbDepthsFlag = "half-nb-depths"
	maxTCamsFlag     = "max-tcams"
	tileWidthFlag    = "tile-width"
	tileHeightFlag   = "tile-height"
	tilePaddingFlag  = "tile-padding"
	rangeStartFlag   = "range-start"
	rangeSizeFlag    = "range-size"
	parallelFlag     = "parallel"
	deviceMemoryFlag = "device-memory-mb"
	maxCamerasFlag   = "max-cameras"
	debugFlag        = "debug"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "refine",
		Usage: "refine the coarse depth/sim maps of a calibrated multi-view scene",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:     sceneFlag,
				Required: true,
				Usage:    "scene calibration `FILE` (views, intrinsics, poses)",
			},
			&cli.PathFlag{
				Name:  paramsFlag,
				Usage: "refine parameters `FILE`, defaults apply when omitted",
			},
			&cli.PathFlag{
				Name:     outputFlag,
				Required: true,
				Usage:    "output directory for the refined maps",
			},
			&cli.PathFlag{
				Name:  coarseDirFlag,
				Usage: "directory holding one <viewID>_depthSimMap.json per view",
			},
			&cli.Float64Flag{
				Name:  initDepthFlag,
				Usage: "constant initial depth used when no coarse maps are given",
			},
			&cli.IntFlag{
				Name:  scaleFlag,
				Usage: "override the image downscale factor",
			},
			&cli.IntFlag{
				Name:  stepFlag,
				Usage: "override the sampling step",
			},
			&cli.IntFlag{
				Name:  halfNbDepthsFlag,
				Usage: "override the half number of depth hypotheses",
			},
			&cli.IntFlag{
				Name:  maxTCamsFlag,
				Value: 6,
				Usage: "number of nearest target cameras fused per view",
			},
			&cli.IntFlag{
				Name:  tileWidthFlag,
				Value: 1024,
				Usage: "tile buffer width in full-resolution pixels",
			},
			&cli.IntFlag{
				Name:  tileHeightFlag,
				Value: 1024,
				Usage: "tile buffer height in full-resolution pixels",
			},
			&cli.IntFlag{
				Name:  tilePaddingFlag,
				Value: 64,
				Usage: "overlap between neighbouring tiles in pixels",
			},
			&cli.IntFlag{
				Name:  rangeStartFlag,
				Usage: "first camera index to process",
			},
			&cli.IntFlag{
				Name:  rangeSizeFlag,
				Value: -1,
				Usage: "number of cameras to process, negative for all",
			},
			&cli.IntFlag{
				Name:  parallelFlag,
				Value: 1,
				Usage: "number of refinement workers, each with its own device queue",
			},
			&cli.Int64Flag{
				Name:  deviceMemoryFlag,
				Usage: "device memory budget in MiB, zero for unbounded",
			},
			&cli.IntFlag{
				Name:  maxCamerasFlag,
				Usage: "max cameras resident in the device cache, zero for unbounded",
			},
			&cli.BoolFlag{
				Name:  debugFlag,
				Usage: "enable debug logging",
			},
		},
		Action: refineAction,
	}
}

// refineRun carries everything the refinement workers share.
type refineRun struct {
	mp         *mvsutils.MultiViewParams
	params     depthmap.RefineParams
	tileParams mvsutils.TileParams
	coarseDir  string
	initDepth  float64
	outputDir  string
	maxTCams   int
	logger     logging.Logger
}

func refineAction(c *cli.Context) error {
	logger := logging.NewLogger("refine")
	if c.Bool(debugFlag) {
		logger = logging.NewDebugLogger("refine")
	}

	sc, err := mvsutils.LoadSceneConfig(c.Path(sceneFlag))
	if err != nil {
		return err
	}
	mp, err := sc.MultiViewParams(mvsutils.FileImageLoader{})
	if err != nil {
		return err
	}

	params := depthmap.NewRefineParams()
	if path := c.Path(paramsFlag); path != "" {
		if params, err = depthmap.LoadRefineParamsFromJSONFile(path); err != nil {
			return err
		}
	}
	if v := c.Int(scaleFlag); v > 0 {
		params.Scale = v
	}
	if v := c.Int(stepFlag); v > 0 {
		params.StepXY = v
	}
	if v := c.Int(halfNbDepthsFlag); v > 0 {
		params.HalfNbDepths = v
	}
	if err := params.CheckValid(); err != nil {
		return err
	}

	tileParams := mvsutils.TileParams{
		BufferWidth:  c.Int(tileWidthFlag),
		BufferHeight: c.Int(tileHeightFlag),
		Padding:      c.Int(tilePaddingFlag),
	}
	if err := tileParams.CheckValid(); err != nil {
		return err
	}

	if c.Int(maxTCamsFlag) < 1 {
		return errors.Errorf("invalid number of target cameras %d", c.Int(maxTCamsFlag))
	}
	if c.Path(coarseDirFlag) == "" && c.Float64(initDepthFlag) <= 0 {
		return errors.New("either --coarse-dir or a positive --init-depth is required")
	}

	rangeStart := c.Int(rangeStartFlag)
	if rangeStart < 0 || rangeStart >= mp.NCams() {
		return errors.Errorf("range start %d out of range [0, %d)", rangeStart, mp.NCams())
	}
	rangeEnd := mp.NCams()
	if size := c.Int(rangeSizeFlag); size >= 0 && rangeStart+size < rangeEnd {
		rangeEnd = rangeStart + size
	}

	if err := os.MkdirAll(c.Path(outputFlag), 0o755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}

	clk := clock.New()
	ledger := device.NewLedger(c.Int64(deviceMemoryFlag) << 20)
	cache, err := depthmap.NewDeviceCache(ledger, c.Int(maxCamerasFlag), clk, logger)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(cache.Close)

	run := &refineRun{
		mp:         mp,
		params:     params,
		tileParams: tileParams,
		coarseDir:  c.Path(coarseDirFlag),
		initDepth:  c.Float64(initDepthFlag),
		outputDir:  c.Path(outputFlag),
		maxTCams:   c.Int(maxTCamsFlag),
		logger:     logger,
	}

	parallel := c.Int(parallelFlag)
	if parallel < 1 {
		parallel = 1
	}

	g, gctx := errgroup.WithContext(c.Context)
	rcs := make(chan int)
	for w := 0; w < parallel; w++ {
		g.Go(func() error {
			queue := device.NewQueue(fmt.Sprintf("refine-%d", w), clk, logger)
			engine, err := depthmap.NewRefine(mp, tileParams, params, queue, cache, logger)
			if err != nil {
				return multierr.Combine(err, queue.Close())
			}
			var refineErr error
			for rc := range rcs {
				if refineErr = run.refineView(gctx, engine, rc); refineErr != nil {
					break
				}
			}
			return multierr.Combine(refineErr, engine.Close(), queue.Close())
		})
	}

feed:
	for rc := rangeStart; rc < rangeEnd; rc++ {
		select {
		case rcs <- rc:
		case <-gctx.Done():
			break feed
		}
	}
	close(rcs)

	if err := g.Wait(); err != nil {
		return err
	}

	stats := cache.Stats()
	logger.Infow("refinement done",
		"views", rangeEnd-rangeStart,
		"cacheHits", stats.Hits,
		"cacheMisses", stats.Misses,
		"cacheEvictions", stats.Evictions,
		"peakDeviceMemoryMB", ledger.PeakBytes()/(1024*1024),
	)
	return nil
}

// refineView runs every tile of one reference view through the engine,
// assembles the full working-resolution map, and writes it next to its
// previews.
func (run *refineRun) refineView(ctx context.Context, engine *depthmap.Refine, rc int) error {
	view := run.mp.View(rc)
	width := view.Camera.Intrinsics.Width
	height := view.Camera.Intrinsics.Height
	downscale := run.params.Scale * run.params.StepXY
	full := mvsutils.NewROI(0, width, 0, height).Downscale(downscale)

	coarse, err := run.coarseMap(rc, full.Width(), full.Height())
	if err != nil {
		return err
	}
	tcams := run.nearestCameras(rc)
	if len(tcams) == 0 {
		return errors.Errorf("view %d has no target cameras", view.ViewID)
	}

	out := depthmap.NewDepthSimMap(full.Width(), full.Height())
	rois := mvsutils.TileRoiList(width, height, run.tileParams)
	for i, roi := range rois {
		tile := mvsutils.Tile{
			ID:          i,
			NbTiles:     len(rois),
			RC:          rc,
			RefineTCams: tcams,
			ROI:         roi,
		}
		roiD := roi.Downscale(downscale)
		refined, err := engine.RefineTile(tile, coarseSubMap(coarse, roiD, full.Width(), full.Height()), nil)
		if err != nil {
			return err
		}
		core := tileCore(roi, width, height, run.tileParams.Padding).Downscale(downscale)
		for y := core.Y.Begin; y < core.Y.End; y++ {
			for x := core.X.Begin; x < core.X.End; x++ {
				out.Set(x, y, refined.At(x-roiD.X.Begin, y-roiD.Y.Begin))
			}
		}
	}

	// the map and its previews are independent files, write them in parallel
	base := filepath.Join(run.outputDir, fmt.Sprintf("%d", view.ViewID))
	fs := []utils.SimpleFunc{
		func(ctx context.Context) error { return out.WriteJSONFile(base + "_depthSimMap.json") },
		func(ctx context.Context) error {
			return depthmap.WriteDepthSimMapPreviews(out, base+"_depthMap.png", base+"_simMap.png")
		},
	}
	if _, err := utils.RunInParallel(ctx, fs); err != nil {
		return err
	}
	run.logger.Infof("[rc %d] view %d refined, %d tiles", rc, view.ViewID, len(rois))
	return nil
}

// coarseMap loads the coarse depth/sim map of a view, or synthesizes a
// constant-depth map at the working resolution when none was given.
func (run *refineRun) coarseMap(rc, width, height int) (*depthmap.DepthSimMap, error) {
	if run.coarseDir == "" {
		m := depthmap.NewDepthSimMap(width, height)
		m.Fill(depthmap.DepthSim{Depth: float32(run.initDepth)})
		return m, nil
	}
	path := filepath.Join(run.coarseDir, fmt.Sprintf("%d_depthSimMap.json", run.mp.ViewID(rc)))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path += ".gz"
	}
	return depthmap.LoadDepthSimMapFromJSONFile(path)
}

// nearestCameras ranks every other camera by optical center distance and
// keeps the closest maxTCams.
func (run *refineRun) nearestCameras(rc int) []int {
	center := run.mp.View(rc).Camera.Pose.Center
	tcams := make([]int, 0, run.mp.NCams()-1)
	for tc := 0; tc < run.mp.NCams(); tc++ {
		if tc != rc {
			tcams = append(tcams, tc)
		}
	}
	sort.Slice(tcams, func(i, j int) bool {
		di := run.mp.View(tcams[i]).Camera.Pose.Center.Sub(center).Norm2()
		dj := run.mp.View(tcams[j]).Camera.Pose.Center.Sub(center).Norm2()
		return di < dj
	})
	if len(tcams) > run.maxTCams {
		tcams = tcams[:run.maxTCams]
	}
	return tcams
}

// coarseSubMap cuts the coarse region covering one downscaled tile out of
// the full map, scaling coordinates when the coarse map is at another
// resolution.
func coarseSubMap(full *depthmap.DepthSimMap, roi mvsutils.ROI, width, height int) *depthmap.DepthSimMap {
	x0 := roi.X.Begin * full.Width / width
	x1 := utils.DivideRoundUp(roi.X.End*full.Width, width)
	y0 := roi.Y.Begin * full.Height / height
	y1 := utils.DivideRoundUp(roi.Y.End*full.Height, height)

	sub := depthmap.NewDepthSimMap(x1-x0, y1-y0)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			sub.Set(x-x0, y-y0, full.At(x, y))
		}
	}
	return sub
}

// tileCore is the region one tile contributes to the assembled map: the
// tile minus its overlap margins, except along the image borders.
func tileCore(roi mvsutils.ROI, width, height, padding int) mvsutils.ROI {
	core := roi
	if core.X.Begin > 0 {
		core.X.Begin += padding
	}
	if core.X.End < width {
		core.X.End -= padding
	}
	if core.Y.Begin > 0 {
		core.Y.Begin += padding
	}
	if core.Y.End < height {
		core.Y.End -= padding
	}
	return core
}
