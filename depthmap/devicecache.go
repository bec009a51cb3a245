package depthmap

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/ICIbrahim/AliceVision/device"
	"github.com/ICIbrahim/AliceVision/logging"
	"github.com/ICIbrahim/AliceVision/mvsutils"
)

// DeviceCache owns every device camera of one logical device. Engines
// request cameras per tile; hits reuse the uploaded frame, misses upload
// and evict the least recently used camera while the ledger budget or the
// camera slot count is exceeded. A budget smaller than the working set of
// one refine call is a configuration error: cameras still borrowed by an
// in-flight tile could be evicted from under it.
type DeviceCache struct {
	ledger     *device.Ledger
	maxCameras int
	clk        clock.Clock
	logger     logging.Logger

	mu        sync.Mutex
	cameras   map[cameraKey]*cacheEntry
	nextID    int
	hits      int64
	misses    int64
	evictions int64
}

type cameraKey struct {
	camIdx int
	scale  int
}

type cacheEntry struct {
	cam      *DeviceCamera
	lastUsed time.Time
}

// CacheStats counts cache activity since construction.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// NewDeviceCache returns a camera cache drawing from ledger. maxCameras
// bounds the number of resident cameras; zero or less means the ledger
// budget alone bounds the cache. A nil clk falls back to the wall clock.
func NewDeviceCache(ledger *device.Ledger, maxCameras int, clk clock.Clock, logger logging.Logger) (*DeviceCache, error) {
	if ledger == nil {
		return nil, errors.New("device cache needs a ledger")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &DeviceCache{
		ledger:     ledger,
		maxCameras: maxCameras,
		clk:        clk,
		logger:     logger,
		cameras:    map[cameraKey]*cacheEntry{},
	}, nil
}

// Ledger returns the memory ledger engines should allocate their tile
// buffers against, so that cameras and buffers share one budget.
func (c *DeviceCache) Ledger() *device.Ledger { return c.ledger }

// RequestCamera returns the device camera for (camIdx, scale), uploading
// it on a miss. The returned camera is borrowed: the cache may evict it
// once later requests push it out of the recently used set.
func (c *DeviceCache) RequestCamera(camIdx, scale int, mp *mvsutils.MultiViewParams) (*DeviceCamera, error) {
	if mp == nil {
		return nil, errors.New("device cache needs multi-view parameters")
	}
	if err := mp.CheckCamIdx(camIdx); err != nil {
		return nil, err
	}
	if scale < 1 {
		return nil, errors.Errorf("invalid camera scale %d", scale)
	}
	key := cameraKey{camIdx: camIdx, scale: scale}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.cameras[key]; ok {
		entry.lastUsed = c.clk.Now()
		c.hits++
		return entry.cam, nil
	}
	c.misses++

	img, err := mp.LoadImage(camIdx)
	if err != nil {
		return nil, errors.Wrapf(err, "loading image for camera %d", camIdx)
	}
	for c.maxCameras > 0 && len(c.cameras) >= c.maxCameras {
		if err := c.evictLRU(); err != nil {
			return nil, err
		}
	}

	model := mp.CameraAt(camIdx, scale)
	var cam *DeviceCamera
	for {
		cam, err = newDeviceCamera(c.nextID, camIdx, scale, model, img, c.ledger)
		if err == nil {
			break
		}
		if !errors.Is(err, device.ErrOutOfDeviceMemory) || len(c.cameras) == 0 {
			return nil, errors.Wrapf(err, "uploading camera %d at scale %d", camIdx, scale)
		}
		if evictErr := c.evictLRU(); evictErr != nil {
			return nil, multierr.Combine(err, evictErr)
		}
	}
	c.nextID++
	c.cameras[key] = &cacheEntry{cam: cam, lastUsed: c.clk.Now()}
	c.logger.Debugw("uploaded device camera",
		"deviceCamId", cam.DeviceCamID(), "camera", camIdx, "scale", scale,
		"memoryBytes", cam.Frame().BytesPadded())
	return cam, nil
}

// Stats returns hit, miss, and eviction counters.
func (c *DeviceCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions}
}

// Close releases every resident camera.
func (c *DeviceCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	for key, entry := range c.cameras {
		err = multierr.Combine(err, entry.cam.release())
		delete(c.cameras, key)
	}
	return err
}

func (c *DeviceCache) evictLRU() error {
	var oldestKey cameraKey
	var oldest *cacheEntry
	for key, entry := range c.cameras {
		if oldest == nil || entry.lastUsed.Before(oldest.lastUsed) {
			oldestKey, oldest = key, entry
		}
	}
	if oldest == nil {
		return errors.New("device cache has nothing left to evict")
	}
	delete(c.cameras, oldestKey)
	c.evictions++
	c.logger.Debugw("evicting device camera",
		"deviceCamId", oldest.cam.DeviceCamID(), "camera", oldestKey.camIdx, "scale", oldestKey.scale)
	return oldest.cam.release()
}
