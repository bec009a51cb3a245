package camera

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Model is a posed pinhole camera: everything the refinement kernels need
// to move between pixels and world points.
type Model struct {
	Intrinsics Intrinsics
	Pose       Pose
}

// CheckValid checks intrinsics and pose.
func (m *Model) CheckValid() error {
	if err := m.Intrinsics.CheckValid(); err != nil {
		return err
	}
	if _, err := NewPose(m.Pose.Rotation, m.Pose.Center); err != nil {
		return err
	}
	return nil
}

// Rescaled returns the same camera observed at 1/factor resolution.
func (m Model) Rescaled(factor int) Model {
	return Model{Intrinsics: m.Intrinsics.Rescaled(factor), Pose: m.Pose}
}

// Project maps a world point to a sub-pixel image position and the depth
// (distance from the camera center). Depth is negative for points behind
// the camera; callers discard those.
func (m *Model) Project(p r3.Vector) (r2.Point, float64) {
	pc := m.Pose.WorldToCamera(p)
	depth := p.Sub(m.Pose.Center).Norm()
	if pc.Z <= 0 {
		return r2.Point{X: -1, Y: -1}, -depth
	}
	return r2.Point{
		X: pc.X/pc.Z*m.Intrinsics.Fx + m.Intrinsics.Ppx,
		Y: pc.Y/pc.Z*m.Intrinsics.Fy + m.Intrinsics.Ppy,
	}, depth
}

// Ray returns the unit world-frame direction of the viewing ray through a
// sub-pixel position.
func (m *Model) Ray(px r2.Point) r3.Vector {
	dir := r3.Vector{
		X: (px.X - m.Intrinsics.Ppx) / m.Intrinsics.Fx,
		Y: (px.Y - m.Intrinsics.Ppy) / m.Intrinsics.Fy,
		Z: 1,
	}
	return m.Pose.DirectionToWorld(dir).Normalize()
}

// BackProject returns the world point at the given depth along the viewing
// ray through px.
func (m *Model) BackProject(px r2.Point, depth float64) r3.Vector {
	return m.Pose.Center.Add(m.Ray(px).Mul(depth))
}

// PixSize returns the 3D size of one pixel at world point p: the distance
// between the backprojections of a pixel and its right neighbor at equal
// depth. Used as the depth hypothesis step and as a trust radius.
func (m *Model) PixSize(p r3.Vector) float64 {
	px, depth := m.Project(p)
	if depth <= 0 {
		return 0
	}
	right := m.BackProject(r2.Point{X: px.X + 1, Y: px.Y}, depth)
	return p.Sub(right).Norm()
}

// InFrame reports whether px lies at least margin pixels inside the image.
func (m *Model) InFrame(px r2.Point, margin float64) bool {
	return px.X >= margin && px.Y >= margin &&
		px.X <= float64(m.Intrinsics.Width)-1-margin &&
		px.Y <= float64(m.Intrinsics.Height)-1-margin
}
