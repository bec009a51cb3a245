// Package camera models the pinhole cameras consumed by the multi-view
// stereo pipeline: intrinsics, world pose, and the projection and
// backprojection operations the depth refinement kernels are built on.
//
// Depth here always means euclidean distance from the camera center along
// the viewing ray, not the z-coordinate in the camera frame.
package camera

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have usable intrinsic parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// Intrinsics holds the parameters necessary for a perspective projection of
// a 3D scene onto a 2D image plane.
type Intrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for Intrinsics have valid inputs.
func (params *Intrinsics) CheckValid() error {
	if params == nil {
		return errors.Wrap(ErrNoIntrinsics, "intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid size (%d, %d)", params.Width, params.Height)
	}
	if params.Fx <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid focal length Fx = %v", params.Fx)
	}
	if params.Fy <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid focal length Fy = %v", params.Fy)
	}
	if params.Ppx < 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid principal X point Ppx = %v", params.Ppx)
	}
	if params.Ppy < 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid principal Y point Ppy = %v", params.Ppy)
	}
	return nil
}

// CameraMatrix returns the 3x3 matrix K:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *Intrinsics) CameraMatrix() *mat.Dense {
	k := mat.NewDense(3, 3, nil)
	k.Set(0, 0, params.Fx)
	k.Set(1, 1, params.Fy)
	k.Set(0, 2, params.Ppx)
	k.Set(1, 2, params.Ppy)
	k.Set(2, 2, 1)
	return k
}

// Rescaled returns intrinsics for the same camera downscaled by factor,
// e.g. Rescaled(2) describes the half-resolution image. Focal lengths and
// the principal point scale together so the projection stays consistent.
func (params Intrinsics) Rescaled(factor int) Intrinsics {
	if factor <= 1 {
		return params
	}
	f := float64(factor)
	return Intrinsics{
		Width:  params.Width / factor,
		Height: params.Height / factor,
		Fx:     params.Fx / f,
		Fy:     params.Fy / f,
		Ppx:    params.Ppx / f,
		Ppy:    params.Ppy / f,
	}
}

func (params Intrinsics) String() string {
	return fmt.Sprintf("%dx%d fx=%.2f fy=%.2f ppx=%.2f ppy=%.2f",
		params.Width, params.Height, params.Fx, params.Fy, params.Ppx, params.Ppy)
}
