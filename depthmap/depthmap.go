// Package depthmap implements the depth refinement stage of a multi-view
// stereo pipeline. Coarse depth/sim maps are upscaled to the working
// resolution, re-estimated against target views through a similarity
// volume, and smoothed by a color-guided optimization. Engines process
// one tile at a time through device buffers on an ordered command queue.
//
// Depth values are euclidean distances from the camera center along the
// viewing ray. Negative depths are invalid.
package depthmap

// Depth sentinels. Any negative depth is invalid; the two values keep the
// reason apart through every stage.
const (
	// DepthNoData marks pixels with no usable depth.
	DepthNoData float32 = -1
	// DepthMasked marks pixels suppressed by the reference image alpha.
	DepthMasked float32 = -2
)

// TSimRefine accumulates per-hypothesis support in the refine volume.
type TSimRefine = float32

// DepthSim packs a depth with its similarity score. In the upscaled
// coarse map the Sim channel is reused to carry the per-pixel 3D pixel
// size once computed.
type DepthSim struct {
	Depth float32
	Sim   float32
}

// Normal is a surface normal in world coordinates.
type Normal struct {
	X, Y, Z float32
}

// LabPixel is one pixel of a device frame: CIELAB color scaled to the
// 0..255 range the adaptive patch weights expect, plus alpha in [0, 1].
type LabPixel struct {
	L, A, B, Alpha float32
}

// DepthSimMap is a host-side depth/similarity image in row-major order.
type DepthSimMap struct {
	Width  int
	Height int
	Data   []DepthSim
}

// NewDepthSimMap returns a zeroed width x height map.
func NewDepthSimMap(width, height int) *DepthSimMap {
	return &DepthSimMap{Width: width, Height: height, Data: make([]DepthSim, width*height)}
}

// At returns the element at (x, y).
func (m *DepthSimMap) At(x, y int) DepthSim { return m.Data[y*m.Width+x] }

// Set writes the element at (x, y).
func (m *DepthSimMap) Set(x, y int, v DepthSim) { m.Data[y*m.Width+x] = v }

// Fill sets every element to v.
func (m *DepthSimMap) Fill(v DepthSim) {
	for i := range m.Data {
		m.Data[i] = v
	}
}

// NormalMap is a host-side normal image in row-major order.
type NormalMap struct {
	Width  int
	Height int
	Data   []Normal
}

// NewNormalMap returns a zeroed width x height map.
func NewNormalMap(width, height int) *NormalMap {
	return &NormalMap{Width: width, Height: height, Data: make([]Normal, width*height)}
}

// At returns the normal at (x, y).
func (m *NormalMap) At(x, y int) Normal { return m.Data[y*m.Width+x] }

// Set writes the normal at (x, y).
func (m *NormalMap) Set(x, y int, v Normal) { m.Data[y*m.Width+x] = v }
