package workflow

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFrame(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("frame"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestCullRejectsByHFR(t *testing.T) {
	srcDir := t.TempDir()
	rejectDir := t.TempDir()
	group := filepath.Join(srcDir, "T1", "DATE_2025-04-13")
	good := filepath.Join(group, "OBJECT_T1_HFR_1.2_EXPOSURE_60.fits")
	bad := filepath.Join(group, "OBJECT_T1_HFR_9.9_EXPOSURE_60.fits")
	writeFrame(t, good)
	writeFrame(t, bad)

	c := &Cull{
		SrcDir:         srcDir,
		RejectDir:      rejectDir,
		MaxHFR:         3.0,
		MaxRMS:         1.0,
		AutoYesPercent: 90,
	}
	stats, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Rejected != 1 || stats.Total != 2 {
		t.Fatalf("stats = %+v, want 1 of 2 rejected", stats)
	}

	moved := filepath.Join(rejectDir, "T1", "DATE_2025-04-13", filepath.Base(bad))
	if _, err := os.Stat(moved); err != nil {
		t.Fatalf("rejected frame not moved to %s: %v", moved, err)
	}
	if _, err := os.Stat(good); err != nil {
		t.Fatalf("good frame should stay: %v", err)
	}
}

func TestCullSkipsAcceptedFrames(t *testing.T) {
	srcDir := t.TempDir()
	rejectDir := t.TempDir()
	accepted := filepath.Join(srcDir, "T1", "accept", "HFR_9.9_EXPOSURE_60.fits")
	writeFrame(t, accepted)

	c := &Cull{
		SrcDir:         srcDir,
		RejectDir:      rejectDir,
		MaxHFR:         3.0,
		MaxRMS:         1.0,
		AutoYesPercent: 90,
	}
	stats, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Rejected != 0 {
		t.Fatalf("accepted frame was rejected: %+v", stats)
	}
	if _, err := os.Stat(accepted); err != nil {
		t.Fatalf("accepted frame should not move: %v", err)
	}
}

func TestCullAsksAboveThreshold(t *testing.T) {
	srcDir := t.TempDir()
	rejectDir := t.TempDir()
	bad := filepath.Join(srcDir, "T1", "OBJECT_T1_HFR_9.9_EXPOSURE_60.fits")
	writeFrame(t, bad)

	asked := false
	c := &Cull{
		SrcDir:         srcDir,
		RejectDir:      rejectDir,
		MaxHFR:         3.0,
		MaxRMS:         1.0,
		AutoYesPercent: 50, // 100% rejection rate is above this
		Confirm: func(question string) bool {
			asked = true
			return false
		},
	}
	stats, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !asked {
		t.Fatal("expected a confirmation prompt")
	}
	if stats.Rejected != 0 {
		t.Fatalf("declined batch was rejected anyway: %+v", stats)
	}
	if _, err := os.Stat(bad); err != nil {
		t.Fatalf("declined frame should stay: %v", err)
	}
}
