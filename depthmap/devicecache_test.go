package depthmap

import (
	"fmt"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/ICIbrahim/AliceVision/camera"
	"github.com/ICIbrahim/AliceVision/device"
	"github.com/ICIbrahim/AliceVision/logging"
	"github.com/ICIbrahim/AliceVision/mvsutils"
)

// countingLoader serves a synthetic gradient for every path and counts how
// often each one is loaded.
type countingLoader struct {
	loads map[string]int
}

func (l *countingLoader) LoadImage(path string) (image.Image, error) {
	l.loads[path]++
	img := image.NewNRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(8 * x), G: uint8(10 * y), B: 64, A: 255})
		}
	}
	return img, nil
}

func newCacheTestMP(t *testing.T, loader mvsutils.ImageLoader) *mvsutils.MultiViewParams {
	t.Helper()
	intr := camera.Intrinsics{Width: 32, Height: 24, Fx: 30, Fy: 30, Ppx: 16, Ppy: 12}
	views := make([]mvsutils.View, 0, 3)
	for i := 0; i < 3; i++ {
		views = append(views, mvsutils.View{
			ViewID: uint32(100 + i),
			Path:   fmt.Sprintf("im%d.png", i),
			Camera: camera.Model{Intrinsics: intr, Pose: camera.IdentityPose()},
		})
	}
	mp, err := mvsutils.NewMultiViewParams(views, loader)
	test.That(t, err, test.ShouldBeNil)
	return mp
}

func TestDeviceCacheValidation(t *testing.T) {
	logger := logging.NewTestLogger(t)

	_, err := NewDeviceCache(nil, 0, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "needs a ledger")

	loader := &countingLoader{loads: map[string]int{}}
	mp := newCacheTestMP(t, loader)
	cache, err := NewDeviceCache(device.NewLedger(0), 0, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, cache.Close(), test.ShouldBeNil)
	}()

	_, err = cache.RequestCamera(0, 1, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "multi-view parameters")

	_, err = cache.RequestCamera(5, 1, mp)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = cache.RequestCamera(0, 0, mp)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "invalid camera scale")
}

func TestDeviceCacheHitsAndMisses(t *testing.T) {
	logger := logging.NewTestLogger(t)
	clk := clock.NewMock()
	loader := &countingLoader{loads: map[string]int{}}
	mp := newCacheTestMP(t, loader)

	cache, err := NewDeviceCache(device.NewLedger(0), 0, clk, logger)
	test.That(t, err, test.ShouldBeNil)

	cam0, err := cache.RequestCamera(0, 1, mp)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam0.CamIdx(), test.ShouldEqual, 0)
	test.That(t, cam0.Scale(), test.ShouldEqual, 1)
	test.That(t, cam0.Frame().Width(), test.ShouldEqual, 32)
	test.That(t, cam0.Frame().Height(), test.ShouldEqual, 24)

	clk.Add(time.Second)
	again, err := cache.RequestCamera(0, 1, mp)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldEqual, cam0)
	test.That(t, loader.loads["im0.png"], test.ShouldEqual, 1)

	// same camera at another scale is its own entry
	clk.Add(time.Second)
	half, err := cache.RequestCamera(0, 2, mp)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, half.Frame().Width(), test.ShouldEqual, 16)
	test.That(t, half.Frame().Height(), test.ShouldEqual, 12)
	test.That(t, half.Model().Intrinsics.Fx, test.ShouldAlmostEqual, 15)
	test.That(t, loader.loads["im0.png"], test.ShouldEqual, 2)

	stats := cache.Stats()
	test.That(t, stats.Hits, test.ShouldEqual, 1)
	test.That(t, stats.Misses, test.ShouldEqual, 2)
	test.That(t, stats.Evictions, test.ShouldEqual, 0)

	test.That(t, cache.Close(), test.ShouldBeNil)
	test.That(t, cache.Ledger().BytesInUse(), test.ShouldEqual, 0)
}

func TestDeviceCacheEvictsLeastRecentlyUsed(t *testing.T) {
	logger := logging.NewTestLogger(t)
	clk := clock.NewMock()
	loader := &countingLoader{loads: map[string]int{}}
	mp := newCacheTestMP(t, loader)

	cache, err := NewDeviceCache(device.NewLedger(0), 2, clk, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, cache.Close(), test.ShouldBeNil)
	}()

	request := func(camIdx int) {
		clk.Add(time.Second)
		_, err := cache.RequestCamera(camIdx, 1, mp)
		test.That(t, err, test.ShouldBeNil)
	}

	request(0)
	request(1)
	request(0) // touch 0 so 1 becomes the eviction candidate
	request(2) // evicts 1
	request(0) // still resident
	request(1) // must reload

	stats := cache.Stats()
	test.That(t, stats.Hits, test.ShouldEqual, 2)
	test.That(t, stats.Misses, test.ShouldEqual, 4)
	test.That(t, stats.Evictions, test.ShouldEqual, 2)
	test.That(t, loader.loads["im0.png"], test.ShouldEqual, 1)
	test.That(t, loader.loads["im1.png"], test.ShouldEqual, 2)
	test.That(t, loader.loads["im2.png"], test.ShouldEqual, 1)
}

func TestDeviceCacheEvictsOnMemoryPressure(t *testing.T) {
	logger := logging.NewTestLogger(t)
	clk := clock.NewMock()
	loader := &countingLoader{loads: map[string]int{}}
	mp := newCacheTestMP(t, loader)

	// one 32x24 CIELAB frame is 12288 bytes, so two never fit
	ledger := device.NewLedger(20000)
	cache, err := NewDeviceCache(ledger, 0, clk, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, cache.Close(), test.ShouldBeNil)
	}()

	_, err = cache.RequestCamera(0, 1, mp)
	test.That(t, err, test.ShouldBeNil)
	used := ledger.BytesInUse()
	test.That(t, used, test.ShouldBeGreaterThan, 0)

	clk.Add(time.Second)
	_, err = cache.RequestCamera(1, 1, mp)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ledger.BytesInUse(), test.ShouldEqual, used)
	test.That(t, cache.Stats().Evictions, test.ShouldEqual, 1)

	clk.Add(time.Second)
	_, err = cache.RequestCamera(0, 1, mp)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loader.loads["im0.png"], test.ShouldEqual, 2)
}

func TestDeviceCacheBudgetTooSmall(t *testing.T) {
	logger := logging.NewTestLogger(t)
	loader := &countingLoader{loads: map[string]int{}}
	mp := newCacheTestMP(t, loader)

	cache, err := NewDeviceCache(device.NewLedger(4096), 0, nil, logger)
	test.That(t, err, test.ShouldBeNil)

	_, err = cache.RequestCamera(0, 1, mp)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, device.ErrOutOfDeviceMemory), test.ShouldBeTrue)
	test.That(t, cache.Close(), test.ShouldBeNil)
}
