package depthmap

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// RefineParams configures a refinement engine. The zero value is not
// usable; start from NewRefineParams and override.
type RefineParams struct {
	// Scale is the image downscale factor of the refinement stage.
	Scale int `json:"scale"`
	// StepXY is the sampling step applied on top of Scale. Together they
	// define the single working resolution of the engine.
	StepXY int `json:"step_xy"`
	// HalfNbDepths is the number of depth hypotheses explored on each side
	// of the coarse depth, in units of the per-pixel 3D pixel size.
	HalfNbDepths int `json:"half_nb_depths"`
	// WSH is the half-width of the similarity patch.
	WSH int `json:"wsh"`
	// GammaC weights color differences inside the similarity patch.
	GammaC float64 `json:"gamma_c"`
	// GammaP weights pixel distances inside the similarity patch.
	GammaP float64 `json:"gamma_p"`
	// SigmoidMid and SigmoidWidth shape the remap of raw patch scores to
	// (0, 1) support values accumulated in the volume.
	SigmoidMid   float64 `json:"sigmoid_mid"`
	SigmoidWidth float64 `json:"sigmoid_width"`

	OptimizationNbIterations int  `json:"optimization_nb_iterations"`
	UseRefineFuse            bool `json:"use_refine_fuse"`
	UseColorOptimization     bool `json:"use_color_optimization"`
	UseNormalMap             bool `json:"use_normal_map"`

	ExportIntermediateDepthSimMaps bool   `json:"export_intermediate_depth_sim_maps"`
	ExportIntermediateCrossVolumes bool   `json:"export_intermediate_cross_volumes"`
	ExportIntermediateVolume9pCsv  bool   `json:"export_intermediate_volume_9p_csv"`
	ExportFolder                   string `json:"export_folder"`
}

// NewRefineParams returns the default refinement configuration.
func NewRefineParams() RefineParams {
	return RefineParams{
		Scale:                    1,
		StepXY:                   1,
		HalfNbDepths:             15,
		WSH:                      3,
		GammaC:                   15.5,
		GammaP:                   8.0,
		SigmoidMid:               0.4,
		SigmoidWidth:             0.7,
		OptimizationNbIterations: 100,
		UseRefineFuse:            true,
		UseColorOptimization:     true,
	}
}

// CheckValid checks the fields for RefineParams have valid inputs.
func (params *RefineParams) CheckValid() error {
	if params.Scale < 1 {
		return errors.Errorf("invalid refine scale %d", params.Scale)
	}
	if params.StepXY < 1 {
		return errors.Errorf("invalid refine step %d", params.StepXY)
	}
	if params.HalfNbDepths < 1 {
		return errors.Errorf("invalid number of half depths %d", params.HalfNbDepths)
	}
	if params.WSH < 1 {
		return errors.Errorf("invalid patch half-width %d", params.WSH)
	}
	if params.GammaC <= 0 {
		return errors.Errorf("invalid gammaC %v", params.GammaC)
	}
	if params.GammaP <= 0 {
		return errors.Errorf("invalid gammaP %v", params.GammaP)
	}
	if params.SigmoidWidth <= 0 {
		return errors.Errorf("invalid sigmoid width %v", params.SigmoidWidth)
	}
	if params.OptimizationNbIterations < 0 {
		return errors.Errorf("invalid number of optimization iterations %d", params.OptimizationNbIterations)
	}
	exporting := params.ExportIntermediateDepthSimMaps ||
		params.ExportIntermediateCrossVolumes ||
		params.ExportIntermediateVolume9pCsv
	if exporting && params.ExportFolder == "" {
		return errors.New("intermediate exports requested without an export folder")
	}
	return nil
}

// NbDepths returns the depth extent of the refine volume.
func (params *RefineParams) NbDepths() int {
	return 2*params.HalfNbDepths + 1
}

// LoadRefineParamsFromJSONFile reads refinement parameters from a JSON
// file. Fields absent from the file keep their defaults.
func LoadRefineParamsFromJSONFile(path string) (RefineParams, error) {
	params := NewRefineParams()
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return params, errors.Wrap(err, "error opening refine params")
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	if err := json.NewDecoder(f).Decode(&params); err != nil {
		return params, errors.Wrap(err, "error parsing refine params")
	}
	return params, nil
}
