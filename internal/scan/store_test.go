package scan

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeFITS(t *testing.T, path string, cards ...string) {
	t.Helper()
	var buf bytes.Buffer
	for _, c := range cards {
		fmt.Fprintf(&buf, "%-80s", c)
	}
	fmt.Fprintf(&buf, "%-80s", "END")
	for buf.Len()%2880 != 0 {
		fmt.Fprintf(&buf, "%-80s", "")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
}

func TestLoadFromPathsAlone(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "TYPE_DARK_EXPOSURE_60_INSTRUME_CamX_OBJECT_T1.fits")
	if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	result, err := Load(Options{
		Dirs:     []string{dir},
		Required: []string{"type", "camera", "exposureseconds"},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(result.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", result.Failed)
	}

	attrs, ok := result.Data[name]
	if !ok {
		t.Fatalf("file not loaded, data = %v", result.Data)
	}
	if attrs["type"] != "DARK" {
		t.Errorf("type = %q, want DARK", attrs["type"])
	}
	if attrs["exposureseconds"] != "60.00" {
		t.Errorf("exposureseconds = %q, want 60.00", attrs["exposureseconds"])
	}
	if attrs["filename"] != name {
		t.Errorf("filename = %q, want %q", attrs["filename"], name)
	}
}

func TestLoadEnrichesFromContainer(t *testing.T) {
	dir := t.TempDir()
	// the name carries no type, so the container must be opened
	name := filepath.Join(dir, "OBJECT_T1_EXPOSURE_60.fits")
	writeFITS(t, name,
		"IMAGETYP= 'LIGHT   '",
		"INSTRUME= 'CamX    '",
	)

	result, err := Load(Options{
		Dirs:     []string{dir},
		Required: []string{"type", "camera"},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	attrs := result.Data[name]
	if attrs == nil {
		t.Fatalf("file not loaded, failed = %v", result.Failed)
	}
	if attrs["type"] != "LIGHT" {
		t.Errorf("type = %q, want LIGHT from container", attrs["type"])
	}
	if attrs["camera"] != "CamX" {
		t.Errorf("camera = %q, want CamX", attrs["camera"])
	}
	if attrs["targetname"] != "T1" {
		t.Errorf("targetname = %q, want T1 from path", attrs["targetname"])
	}
}

func TestLoadEnrichmentFailureIsRecorded(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "frame.fits") // no tokens, and not a real FITS file
	if err := os.WriteFile(name, []byte("not a container"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	result, err := Load(Options{
		Dirs:     []string{dir},
		Required: []string{"type"},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := result.Data[name]; ok {
		t.Error("unreadable file should be dropped from the data set")
	}
	if result.Failed[name] == nil {
		t.Error("unreadable file should be recorded as failed")
	}
}

func TestLoadRecursiveSkipsStash(t *testing.T) {
	dir := t.TempDir()
	kept := filepath.Join(dir, "T1", "TYPE_DARK_EXPOSURE_60_INSTRUME_CamX_OBJECT_T1.fits")
	stashed := filepath.Join(dir, "_stash", "TYPE_DARK_EXPOSURE_60_INSTRUME_CamX_OBJECT_T1.fits")
	for _, p := range []string{kept, stashed} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
	}

	result, err := Load(Options{
		Dirs:      []string{dir},
		Recursive: true,
		Required:  []string{"type"},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := result.Data[kept]; !ok {
		t.Error("nested file should be found recursively")
	}
	if _, ok := result.Data[stashed]; ok {
		t.Error("stashed file should be skipped")
	}
}

func TestLoadFiltered(t *testing.T) {
	dir := t.TempDir()
	dark := filepath.Join(dir, "TYPE_DARK_EXPOSURE_60_INSTRUME_CamX_OBJECT_T1.fits")
	flat := filepath.Join(dir, "TYPE_FLAT_EXPOSURE_2.5_INSTRUME_CamX_OBJECT_T1.fits")
	for _, p := range []string{dark, flat} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
	}

	result, err := LoadFiltered(Options{
		Dirs:     []string{dir},
		Required: []string{"type"},
	}, map[string]Predicate{"type": Exact("DARK")})
	if err != nil {
		t.Fatalf("LoadFiltered: %v", err)
	}
	if len(result.Data) != 1 {
		t.Fatalf("filtered to %d entries, want 1", len(result.Data))
	}
	if _, ok := result.Data[dark]; !ok {
		t.Error("dark frame should survive the filter")
	}
}

func TestLoadFilteredRequiresFilterKeys(t *testing.T) {
	dir := t.TempDir()
	// the path never names a type, so the file must be opened before the
	// type filter can see it
	unreadable := filepath.Join(dir, "OBJECT_M42_GAIN_100.xisf")
	if err := os.WriteFile(unreadable, []byte("not a container"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	dark := filepath.Join(dir, "OBJECT_M42_GAIN_100_frame2.fits")
	writeFITS(t, dark, "IMAGETYP= 'MASTER DARK'")

	result, err := LoadFiltered(Options{
		Dirs:     []string{dir},
		Patterns: []string{"*.fits", "*.xisf"},
	}, map[string]Predicate{"type": Exact("MASTER DARK")})
	if err != nil {
		t.Fatalf("LoadFiltered: %v", err)
	}

	if _, ok := result.Data[unreadable]; ok {
		t.Error("file without a type attribute must not match the type filter")
	}
	if result.Failed[unreadable] == nil {
		t.Error("forced enrichment of the typeless file should be recorded as failed")
	}
	if _, ok := result.Data[dark]; !ok {
		t.Errorf("enriched dark should match, data = %v", result.Data)
	}
}
