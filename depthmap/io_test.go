package depthmap

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestDepthSimMapJSONRoundTrip(t *testing.T) {
	m := NewDepthSimMap(5, 4)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			m.Set(x, y, DepthSim{Depth: float32(x)*0.5 + float32(y), Sim: float32(x+y) / 10})
		}
	}
	m.Set(1, 2, DepthSim{Depth: DepthNoData, Sim: 1})
	m.Set(3, 0, DepthSim{Depth: DepthMasked, Sim: 1})

	for _, name := range []string{"m.json", "m.json.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			test.That(t, m.WriteJSONFile(path), test.ShouldBeNil)
			loaded, err := LoadDepthSimMapFromJSONFile(path)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, loaded, test.ShouldResemble, m)
		})
	}
}

func TestLoadDepthSimMapRejectsBadFiles(t *testing.T) {
	_, err := LoadDepthSimMapFromJSONFile(filepath.Join(t.TempDir(), "nope.json"))
	test.That(t, err, test.ShouldNotBeNil)

	for _, tc := range []struct {
		name    string
		content string
		expect  string
	}{
		{"truncated", "{", "parsing depth/sim map"},
		{"zero dimensions", `{"width":0,"height":4,"depths":[],"sims":[]}`, "invalid depth/sim map dimensions"},
		{"short data", `{"width":2,"height":2,"depths":[1,2,3],"sims":[0,0,0,0]}`, "does not match"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "map.json")
			test.That(t, os.WriteFile(path, []byte(tc.content), 0o600), test.ShouldBeNil)
			_, err := LoadDepthSimMapFromJSONFile(path)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.expect)
		})
	}
}
