package mvsutils

import (
	"encoding/json"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/ICIbrahim/AliceVision/camera"
)

// ImageLoader fetches the source image for a view. The file-backed loader
// is used by tools; tests substitute in-memory synthetic scenes.
type ImageLoader interface {
	LoadImage(path string) (image.Image, error)
}

// FileImageLoader loads images from disk.
type FileImageLoader struct{}

// LoadImage opens the image at path.
func (FileImageLoader) LoadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot load image %q", path)
	}
	return img, nil
}

// View is one calibrated camera of the scene.
type View struct {
	ViewID uint32
	Path   string
	Camera camera.Model
}

// MultiViewParams is the global calibration registry: every stage of the
// pipeline resolves camera indices against the same ordered view list.
type MultiViewParams struct {
	views  []View
	loader ImageLoader
}

// NewMultiViewParams validates every view's camera and returns the registry.
func NewMultiViewParams(views []View, loader ImageLoader) (*MultiViewParams, error) {
	if len(views) == 0 {
		return nil, errors.New("multi-view parameters need at least one view")
	}
	if loader == nil {
		return nil, errors.New("multi-view parameters need an image loader")
	}
	for i := range views {
		if err := views[i].Camera.CheckValid(); err != nil {
			return nil, errors.Wrapf(err, "view %d (id %d)", i, views[i].ViewID)
		}
	}
	return &MultiViewParams{views: views, loader: loader}, nil
}

// NCams returns the number of cameras in the scene.
func (mp *MultiViewParams) NCams() int {
	return len(mp.views)
}

// ViewID returns the stable view identifier of a camera index.
func (mp *MultiViewParams) ViewID(camIdx int) uint32 {
	return mp.views[camIdx].ViewID
}

// View returns the view for a camera index.
func (mp *MultiViewParams) View(camIdx int) View {
	return mp.views[camIdx]
}

// CameraAt returns the camera model of camIdx observed at 1/scale
// resolution.
func (mp *MultiViewParams) CameraAt(camIdx, scale int) camera.Model {
	return mp.views[camIdx].Camera.Rescaled(scale)
}

// LoadImage fetches the full-resolution source image of a camera index.
func (mp *MultiViewParams) LoadImage(camIdx int) (image.Image, error) {
	return mp.loader.LoadImage(mp.views[camIdx].Path)
}

// CheckCamIdx returns an error for out-of-range camera indices.
func (mp *MultiViewParams) CheckCamIdx(camIdx int) error {
	if camIdx < 0 || camIdx >= len(mp.views) {
		return errors.Errorf("camera index %d out of range [0, %d)", camIdx, len(mp.views))
	}
	return nil
}

// ViewConfig is the JSON shape of one calibrated view.
type ViewConfig struct {
	ViewID     uint32            `json:"view_id"`
	Path       string            `json:"path"`
	Intrinsics camera.Intrinsics `json:"intrinsics"`
	// Rotation is the 3x3 world-to-camera rotation, row major.
	Rotation []float64 `json:"rotation"`
	// Center is the camera optical center in world coordinates.
	Center [3]float64 `json:"center"`
}

// SceneConfig is the JSON shape of a whole calibrated scene.
type SceneConfig struct {
	Views []ViewConfig `json:"views"`
}

// LoadSceneConfig reads a scene calibration file.
func LoadSceneConfig(path string) (*SceneConfig, error) {
	//nolint:gosec
	configFile, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening scene config")
	}
	defer goutils.UncheckedErrorFunc(configFile.Close)

	var config SceneConfig
	if err := json.NewDecoder(configFile).Decode(&config); err != nil {
		return nil, errors.Wrap(err, "error parsing scene config")
	}
	return &config, nil
}

// MultiViewParams converts the raw config into a validated registry.
func (sc *SceneConfig) MultiViewParams(loader ImageLoader) (*MultiViewParams, error) {
	views := make([]View, 0, len(sc.Views))
	for i, vc := range sc.Views {
		if len(vc.Rotation) != 9 {
			return nil, errors.Errorf("view %d: rotation must have 9 elements, has %d", i, len(vc.Rotation))
		}
		pose, err := camera.NewPose(
			mat.NewDense(3, 3, append([]float64(nil), vc.Rotation...)),
			r3.Vector{X: vc.Center[0], Y: vc.Center[1], Z: vc.Center[2]},
		)
		if err != nil {
			return nil, errors.Wrapf(err, "view %d", i)
		}
		views = append(views, View{
			ViewID: vc.ViewID,
			Path:   vc.Path,
			Camera: camera.Model{Intrinsics: vc.Intrinsics, Pose: pose},
		})
	}
	return NewMultiViewParams(views, loader)
}
