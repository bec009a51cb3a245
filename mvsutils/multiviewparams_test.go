package mvsutils

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/ICIbrahim/AliceVision/camera"
)

type staticLoader struct {
	images map[string]image.Image
}

func (l *staticLoader) LoadImage(path string) (image.Image, error) {
	img, ok := l.images[path]
	if !ok {
		return nil, errors.Errorf("no image registered for %q", path)
	}
	return img, nil
}

func testViews() []View {
	intrinsics := camera.Intrinsics{Width: 640, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240}
	return []View{
		{ViewID: 10, Path: "a.png", Camera: camera.Model{Intrinsics: intrinsics, Pose: camera.IdentityPose()}},
		{ViewID: 20, Path: "b.png", Camera: camera.Model{Intrinsics: intrinsics, Pose: camera.IdentityPose()}},
	}
}

func TestNewMultiViewParamsValidation(t *testing.T) {
	loader := &staticLoader{}

	_, err := NewMultiViewParams(nil, loader)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewMultiViewParams(testViews(), nil)
	test.That(t, err, test.ShouldNotBeNil)

	bad := testViews()
	bad[1].Camera.Intrinsics.Fx = 0
	_, err = NewMultiViewParams(bad, loader)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "view 1")
}

func TestMultiViewParamsAccessors(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	loader := &staticLoader{images: map[string]image.Image{"b.png": img}}
	mp, err := NewMultiViewParams(testViews(), loader)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, mp.NCams(), test.ShouldEqual, 2)
	test.That(t, mp.ViewID(0), test.ShouldEqual, uint32(10))
	test.That(t, mp.ViewID(1), test.ShouldEqual, uint32(20))
	test.That(t, mp.View(1).Path, test.ShouldEqual, "b.png")

	half := mp.CameraAt(0, 2)
	test.That(t, half.Intrinsics.Width, test.ShouldEqual, 320)
	test.That(t, half.Intrinsics.Fx, test.ShouldAlmostEqual, 250)
	full := mp.CameraAt(0, 1)
	test.That(t, full.Intrinsics.Width, test.ShouldEqual, 640)

	loaded, err := mp.LoadImage(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded, test.ShouldEqual, img)
	_, err = mp.LoadImage(0)
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, mp.CheckCamIdx(0), test.ShouldBeNil)
	test.That(t, mp.CheckCamIdx(1), test.ShouldBeNil)
	test.That(t, mp.CheckCamIdx(2), test.ShouldNotBeNil)
	test.That(t, mp.CheckCamIdx(-1), test.ShouldNotBeNil)
}

func TestLoadSceneConfig(t *testing.T) {
	configJSON := `{
		"views": [
			{
				"view_id": 42,
				"path": "left.png",
				"intrinsics": {"width_px": 640, "height_px": 480, "fx": 500, "fy": 510, "ppx": 320, "ppy": 240},
				"rotation": [1, 0, 0, 0, 1, 0, 0, 0, 1],
				"center": [0.5, -0.25, 2]
			},
			{
				"view_id": 43,
				"path": "right.png",
				"intrinsics": {"width_px": 640, "height_px": 480, "fx": 500, "fy": 510, "ppx": 320, "ppy": 240},
				"rotation": [1, 0, 0, 0, 1, 0, 0, 0, 1],
				"center": [0.6, -0.25, 2]
			}
		]
	}`
	configPath := filepath.Join(t.TempDir(), "scene.json")
	test.That(t, os.WriteFile(configPath, []byte(configJSON), 0o600), test.ShouldBeNil)

	sc, err := LoadSceneConfig(configPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(sc.Views), test.ShouldEqual, 2)
	test.That(t, sc.Views[0].ViewID, test.ShouldEqual, uint32(42))
	test.That(t, sc.Views[0].Intrinsics.Fy, test.ShouldAlmostEqual, 510)
	test.That(t, sc.Views[1].Center[0], test.ShouldAlmostEqual, 0.6)

	mp, err := sc.MultiViewParams(&staticLoader{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mp.NCams(), test.ShouldEqual, 2)
	test.That(t, mp.View(0).Camera.Pose.Center.X, test.ShouldAlmostEqual, 0.5)

	_, err = LoadSceneConfig(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSceneConfigRejectsBadRotation(t *testing.T) {
	sc := &SceneConfig{Views: []ViewConfig{{
		ViewID:     1,
		Path:       "a.png",
		Intrinsics: camera.Intrinsics{Width: 8, Height: 8, Fx: 4, Fy: 4, Ppx: 4, Ppy: 4},
		Rotation:   []float64{1, 0, 0, 0, 1, 0},
	}}}
	_, err := sc.MultiViewParams(&staticLoader{})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "rotation")
}
