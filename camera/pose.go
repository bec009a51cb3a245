package camera

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Pose is a camera's placement in the world: Rotation maps world
// directions into the camera frame, Center is the optical center in world
// coordinates. A world point p lands at Rotation*(p-Center) in the camera
// frame.
type Pose struct {
	Rotation *mat.Dense
	Center   r3.Vector
}

// NewPose returns a Pose after validating the rotation dimensions.
func NewPose(rotation *mat.Dense, center r3.Vector) (Pose, error) {
	if rotation == nil {
		return Pose{}, errors.New("pose rotation is nil")
	}
	if r, c := rotation.Dims(); r != 3 || c != 3 {
		return Pose{}, errors.Errorf("pose rotation must be 3x3, got %dx%d", r, c)
	}
	return Pose{Rotation: rotation, Center: center}, nil
}

// IdentityPose returns a camera at the world origin looking down +Z.
func IdentityPose() Pose {
	return Pose{
		Rotation: mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
		Center:   r3.Vector{},
	}
}

// NewLookAtPose builds the pose of a camera at center whose optical axis
// points at target. down resolves the roll: it is mapped to the image +Y
// axis (image rows grow downward). Helpful for synthetic scenes; target
// and center must not coincide.
func NewLookAtPose(center, target, down r3.Vector) (Pose, error) {
	forward := target.Sub(center)
	if forward.Norm() == 0 {
		return Pose{}, errors.New("look-at target coincides with camera center")
	}
	forward = forward.Normalize()
	right := down.Cross(forward)
	if right.Norm() == 0 {
		return Pose{}, errors.New("look-at down vector is parallel to the viewing direction")
	}
	right = right.Normalize()
	imageY := forward.Cross(right)

	// rows are the camera axes expressed in world coordinates
	rotation := mat.NewDense(3, 3, []float64{
		right.X, right.Y, right.Z,
		imageY.X, imageY.Y, imageY.Z,
		forward.X, forward.Y, forward.Z,
	})
	return Pose{Rotation: rotation, Center: center}, nil
}

// WorldToCamera maps a world point into the camera frame.
func (pose Pose) WorldToCamera(p r3.Vector) r3.Vector {
	return rotate(pose.Rotation, p.Sub(pose.Center))
}

// DirectionToWorld maps a camera-frame direction into the world frame.
func (pose Pose) DirectionToWorld(d r3.Vector) r3.Vector {
	return rotateTransposed(pose.Rotation, d)
}

func rotate(rot *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rot.At(0, 0)*v.X + rot.At(0, 1)*v.Y + rot.At(0, 2)*v.Z,
		Y: rot.At(1, 0)*v.X + rot.At(1, 1)*v.Y + rot.At(1, 2)*v.Z,
		Z: rot.At(2, 0)*v.X + rot.At(2, 1)*v.Y + rot.At(2, 2)*v.Z,
	}
}

func rotateTransposed(rot *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rot.At(0, 0)*v.X + rot.At(1, 0)*v.Y + rot.At(2, 0)*v.Z,
		Y: rot.At(0, 1)*v.X + rot.At(1, 1)*v.Y + rot.At(2, 1)*v.Z,
		Z: rot.At(0, 2)*v.X + rot.At(1, 2)*v.Y + rot.At(2, 2)*v.Z,
	}
}
