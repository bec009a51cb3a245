package depthmap

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/ICIbrahim/AliceVision/camera"
	"github.com/ICIbrahim/AliceVision/device"
	"github.com/ICIbrahim/AliceVision/utils"
)

// DeviceCamera is a camera resident on the device for one (camera, scale)
// pair: the rescaled model plus the frame converted to CIELAB. Frames are
// immutable once uploaded, so engines on separate queues can read the
// same camera concurrently. The owning cache controls the lifetime;
// engines only borrow.
type DeviceCamera struct {
	id     int
	camIdx int
	scale  int
	model  camera.Model
	frame  *device.Buffer[LabPixel]
}

func newDeviceCamera(
	id, camIdx, scale int,
	model camera.Model,
	img image.Image,
	ledger *device.Ledger,
) (*DeviceCamera, error) {
	width := model.Intrinsics.Width
	height := model.Intrinsics.Height
	frame, err := device.NewBuffer2D[LabPixel](ledger, width, height)
	if err != nil {
		return nil, err
	}
	resized := imaging.Resize(img, width, height, imaging.Lanczos)
	utils.ParallelForEachPixel(image.Pt(width, height), func(x, y int) {
		c := resized.NRGBAAt(x, y)
		col := colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
		l, a, b := col.Lab()
		frame.Set(x, y, LabPixel{
			L:     float32(l * 255),
			A:     float32(a * 255),
			B:     float32(b * 255),
			Alpha: float32(c.A) / 255,
		})
	})
	return &DeviceCamera{id: id, camIdx: camIdx, scale: scale, model: model, frame: frame}, nil
}

// DeviceCamID returns the device-side identifier assigned at upload.
func (dc *DeviceCamera) DeviceCamID() int { return dc.id }

// CamIdx returns the camera index in the multi-view registry.
func (dc *DeviceCamera) CamIdx() int { return dc.camIdx }

// Scale returns the downscale factor the frame was uploaded at.
func (dc *DeviceCamera) Scale() int { return dc.scale }

// Model returns the camera model rescaled to the frame resolution.
func (dc *DeviceCamera) Model() camera.Model { return dc.model }

// Frame returns the device-resident CIELAB frame. Read-only.
func (dc *DeviceCamera) Frame() *device.Buffer[LabPixel] { return dc.frame }

func (dc *DeviceCamera) release() error {
	return dc.frame.Release()
}
