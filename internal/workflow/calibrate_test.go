package workflow

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"astrokeep/internal/meta"
	"astrokeep/internal/scan"
)

func writeXISF(t *testing.T, path string, keywords map[string]string) {
	t.Helper()
	header := `<?xml version="1.0" encoding="UTF-8"?><xisf version="1.0"><Image geometry="64:64:1" sampleFormat="UInt16">`
	for name, value := range keywords {
		header += fmt.Sprintf(`<FITSKeyword name=%q value=%q comment=""/>`, name, value)
	}
	header += `</Image></xisf>`

	var buf bytes.Buffer
	buf.WriteString("XISF0100")
	var lengths [8]byte
	binary.LittleEndian.PutUint32(lengths[:4], uint32(len(header)))
	buf.Write(lengths[:])
	buf.WriteString(header)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
}

func TestCopyListToLibraryNames(t *testing.T) {
	data := map[string]meta.Attrs{
		"/cal/stack1.xisf": {
			"type":            "MASTER DARK",
			"camera":          "CamX",
			"exposureseconds": "60.00",
			"settemp":         "-10.00",
			"gain":            "100",
		},
	}
	terms := append([]FilterTerm{{"type", scan.Exact("MASTER DARK")}}, masterLibraryTerms...)
	list, err := copyListToLibrary(data, "/lib", terms)
	if err != nil {
		t.Fatalf("copyListToLibrary: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d directives, want 1", len(list))
	}
	want := filepath.Join("/lib", "CamX", "masterDark_EXPOSURE_60.00_SETTEMP_-10.00_GAIN_100.xisf")
	if list[0].Dst != want {
		t.Fatalf("Dst = %s, want %s", list[0].Dst, want)
	}
	if list[0].Src != "/cal/stack1.xisf" {
		t.Fatalf("Src = %s", list[0].Src)
	}
}

func TestCopyListToLibraryEmptyData(t *testing.T) {
	list, err := copyListToLibrary(nil, "/lib", masterLibraryTerms)
	if err != nil {
		t.Fatalf("copyListToLibrary: %v", err)
	}
	if list != nil {
		t.Fatalf("empty input should plan nothing, got %v", list)
	}
}

func TestCopyListFlatsToFlatLibrary(t *testing.T) {
	calDir := t.TempDir()
	flatLib := t.TempDir()
	writeXISF(t, filepath.Join(calDir, "stacked.xisf"), map[string]string{
		"IMAGETYP": "'MASTER FLAT'",
		"DATE-OBS": "2025-04-13T19:31:10.677",
		"INSTRUME": "CamX",
		"TELESCOP": "C8",
		"FILTER":   "Ha",
		"GAIN":     "100",
	})

	c := &Calibrator{CalibrationDir: calDir, FlatLibraryDir: flatLib}
	list, err := c.CopyListCalibrationToFlatLibrary()
	if err != nil {
		t.Fatalf("CopyListCalibrationToFlatLibrary: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d directives, want 1", len(list))
	}
	want := filepath.Join(flatLib, "CamX", "C8", "masterFlat_DATE_2025-04-13_FILTER_H_GAIN_100.xisf")
	if list[0].Dst != want {
		t.Fatalf("Dst = %s, want %s", list[0].Dst, want)
	}
}

func lightsFixture() map[string]meta.Attrs {
	sig := meta.Attrs{
		"type":            "LIGHT",
		"exposureseconds": "60.00",
		"camera":          "CamX",
		"gain":            "100",
	}
	lights := make(map[string]meta.Attrs)
	for _, f := range []string{"a.fits", "b.fits"} {
		attrs := make(meta.Attrs, len(sig))
		for k, v := range sig {
			attrs[k] = v
		}
		lights["/data/C8/T1/DATE_2025-04-13/FILTER_H/"+f] = attrs
	}
	return lights
}

func TestCopyListToLightsMatch(t *testing.T) {
	calibration := map[string]meta.Attrs{
		"/lib/CamX/masterDark_EXPOSURE_60.00.xisf": {
			"type":            "MASTER DARK",
			"exposureseconds": "60.00",
			"camera":          "CamX",
			"gain":            "100",
		},
	}

	list, missing, err := copyListToLights(calibration, lightsFixture(), nil, DarksRequiredProperties)
	if err != nil {
		t.Fatalf("copyListToLights: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("unexpected missing signatures: %v", missing)
	}
	if len(list) != 1 {
		t.Fatalf("got %d directives, want 1 per light directory", len(list))
	}
	wantDst := filepath.Join("/data/C8/T1/DATE_2025-04-13", "masterDark_EXPOSURE_60.00.xisf")
	if list[0].Src == "" || list[0].Dst != wantDst {
		t.Fatalf("directive = %+v, want Src set and Dst %s", list[0], wantDst)
	}
}

func TestCopyListToLightsMissing(t *testing.T) {
	list, missing, err := copyListToLights(nil, lightsFixture(), nil, DarksRequiredProperties)
	if err != nil {
		t.Fatalf("copyListToLights: %v", err)
	}
	if len(list) != 1 || list[0].Src != "" {
		t.Fatalf("want one empty-source directive, got %v", list)
	}
	if len(missing) != 1 {
		t.Fatalf("want one missing signature, got %v", missing)
	}
	if missing[0]["exposureseconds"] != "60.00" || missing[0]["camera"] != "CamX" {
		t.Fatalf("missing signature = %v", missing[0])
	}
	if _, ok := missing[0]["type"]; ok {
		t.Error("missing signature should not carry the type dimension")
	}
}

func TestCopyListToLightsSkipsFiledMaster(t *testing.T) {
	calibration := map[string]meta.Attrs{
		"/lib/CamX/masterDark_EXPOSURE_60.00.xisf": {
			"type":            "MASTER DARK",
			"exposureseconds": "60.00",
			"camera":          "CamX",
			"gain":            "100",
		},
	}
	// a matching master already sits in the DATE directory, under a name
	// that differs from what a fresh copy would use
	existing := map[string]meta.Attrs{
		"/data/C8/T1/DATE_2025-04-13/renamedDark.xisf": {
			"type":            "MASTER DARK",
			"exposureseconds": "60.00",
			"camera":          "CamX",
			"gain":            "100",
		},
	}

	list, missing, err := copyListToLights(calibration, lightsFixture(), existing, DarksRequiredProperties)
	if err != nil {
		t.Fatalf("copyListToLights: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("directory with a filed master should be skipped, got %v", list)
	}
	if len(missing) != 0 {
		t.Fatalf("unexpected missing signatures: %v", missing)
	}
}

func TestCopyListToLightsIgnoresMasterElsewhere(t *testing.T) {
	// a matching master filed under a different session must not satisfy
	// this directory
	existing := map[string]meta.Attrs{
		"/data/C8/T2/DATE_2025-03-01/masterDark_EXPOSURE_60.00.xisf": {
			"type":            "MASTER DARK",
			"exposureseconds": "60.00",
			"camera":          "CamX",
			"gain":            "100",
		},
	}

	list, missing, err := copyListToLights(nil, lightsFixture(), existing, DarksRequiredProperties)
	if err != nil {
		t.Fatalf("copyListToLights: %v", err)
	}
	if len(list) != 1 || list[0].Src != "" {
		t.Fatalf("want one empty-source directive, got %v", list)
	}
	if len(missing) != 1 {
		t.Fatalf("want one missing signature, got %v", missing)
	}
}

func TestCopyListToLightsAmbiguous(t *testing.T) {
	calibration := map[string]meta.Attrs{}
	for _, f := range []string{"one.xisf", "two.xisf"} {
		calibration["/lib/CamX/"+f] = meta.Attrs{
			"type":            "MASTER DARK",
			"exposureseconds": "60.00",
			"camera":          "CamX",
			"gain":            "100",
		}
	}

	_, _, err := copyListToLights(calibration, lightsFixture(), nil, DarksRequiredProperties)
	var ambiguous *AmbiguousCalibrationMatchError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("error = %v, want *AmbiguousCalibrationMatchError", err)
	}
	if ambiguous.Count != 2 {
		t.Fatalf("Count = %d, want 2", ambiguous.Count)
	}
}

func TestCopyFilesIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.xisf")
	dst := filepath.Join(dir, "lights", "dst.xisf")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(dst, []byte("old"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	c := &Calibrator{}
	list := CopyList{
		{Src: src, Dst: dst},
		{Src: "", Dst: filepath.Join(dir, "somewhere")}, // missing, only logged
	}
	if err := c.CopyFiles(list); err != nil {
		t.Fatalf("CopyFiles: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if string(got) != "old" {
		t.Fatal("existing destination should not be overwritten")
	}
}

func TestCamelCase(t *testing.T) {
	cases := []struct{ in, want string }{
		{"MASTER DARK", "masterDark"},
		{"MASTER FLAT", "masterFlat"},
		{"BIAS", "bias"},
	}
	for _, c := range cases {
		if got := camelCase(c.in); got != c.want {
			t.Errorf("camelCase(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
