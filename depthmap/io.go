package depthmap

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
)

// depthSimMapFile is the JSON shape of a stored depth/sim map: parallel
// flat arrays in row-major order.
type depthSimMapFile struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Depths []float32 `json:"depths"`
	Sims   []float32 `json:"sims"`
}

// LoadDepthSimMapFromJSONFile reads a depth/sim map written by
// WriteJSONFile. A .gz extension selects gzip compression.
func LoadDepthSimMapFromJSONFile(path string) (*DepthSimMap, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening depth/sim map")
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	var in io.Reader = f
	if filepath.Ext(path) == ".gz" {
		gin, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "error opening depth/sim map")
		}
		defer goutils.UncheckedErrorFunc(gin.Close)
		in = gin
	}

	var file depthSimMapFile
	if err := json.NewDecoder(in).Decode(&file); err != nil {
		return nil, errors.Wrap(err, "error parsing depth/sim map")
	}
	if file.Width <= 0 || file.Height <= 0 {
		return nil, errors.Errorf("invalid depth/sim map dimensions (%d, %d)", file.Width, file.Height)
	}
	if len(file.Depths) != file.Width*file.Height || len(file.Sims) != file.Width*file.Height {
		return nil, errors.Errorf("depth/sim map data does not match its %dx%d header", file.Width, file.Height)
	}

	m := NewDepthSimMap(file.Width, file.Height)
	for i := range m.Data {
		m.Data[i] = DepthSim{Depth: file.Depths[i], Sim: file.Sims[i]}
	}
	return m, nil
}

// WriteJSONFile stores the map at path. A .gz extension selects gzip
// compression.
func (m *DepthSimMap) WriteJSONFile(path string) error {
	file := depthSimMapFile{
		Width:  m.Width,
		Height: m.Height,
		Depths: make([]float32, len(m.Data)),
		Sims:   make([]float32, len(m.Data)),
	}
	for i, ds := range m.Data {
		file.Depths[i] = ds.Depth
		file.Sims[i] = ds.Sim
	}

	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "error creating depth/sim map")
	}

	var out io.Writer = f
	var gout *gzip.Writer
	if filepath.Ext(path) == ".gz" {
		gout = gzip.NewWriter(f)
		out = gout
	}

	encErr := json.NewEncoder(out).Encode(&file)
	var closeErr error
	if gout != nil {
		closeErr = gout.Close()
	}
	if err := multierr.Combine(encErr, closeErr, f.Close()); err != nil {
		return errors.Wrap(err, "error writing depth/sim map")
	}
	return nil
}
