package meta

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestComposeFilenameLight(t *testing.T) {
	headers := Attrs{
		"type":            "LIGHT",
		"optic":           "C8",
		"camera":          "ZWOASI2600",
		"focal_ratio":     "7.0",
		"targetname":      "M42",
		"date":            "2025-04-13",
		"datetime":        "2025-04-13_19-31-10",
		"filter":          "H",
		"exposureseconds": "60.00",
		"settemp":         "-10.00",
		"panel":           "3",
		"hfr":             "2.91",
		"stars":           "1375",
	}
	got, err := ComposeFilename("/data", "frame.fits", headers, "10_Blink")
	if err != nil {
		t.Fatalf("ComposeFilename: %v", err)
	}
	want := filepath.Join("/data", "C8@f7.0+ZWOASI2600", "10_Blink", "M42",
		"DATE_2025-04-13", "FILTER_H_EXP_60.00_SETTEMP_-10.00_PANEL_3",
		"2025-04-13_19-31-10_HFR_2.91_STARS_1375.fits")
	if got != want {
		t.Fatalf("path mismatch:\n got  %s\n want %s", got, want)
	}
}

func TestComposeFilenameDark(t *testing.T) {
	headers := Attrs{
		"type":            "DARK",
		"optic":           "C8",
		"camera":          "ZWOASI2600",
		"date":            "2025-04-13",
		"datetime":        "2025-04-13_19-31-10",
		"filter":          "RGB",
		"exposureseconds": "60.00",
	}
	// stateDir only applies to light frames.
	got, err := ComposeFilename("/lib", "frame.fits", headers, "10_Blink")
	if err != nil {
		t.Fatalf("ComposeFilename: %v", err)
	}
	want := filepath.Join("/lib", "C8+ZWOASI2600", "DATE_2025-04-13",
		"FILTER_RGB_EXP_60.00", "2025-04-13_19-31-10.fits")
	if got != want {
		t.Fatalf("path mismatch:\n got  %s\n want %s", got, want)
	}
}

func TestComposeFilenameMissingHeader(t *testing.T) {
	headers := Attrs{
		"type":            "DARK",
		"optic":           "C8",
		"date":            "2025-04-13",
		"datetime":        "2025-04-13_19-31-10",
		"filter":          "RGB",
		"exposureseconds": "60.00",
	}
	_, err := ComposeFilename("/lib", "frame.fits", headers, "")
	var missing *MissingRequiredHeaderError
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want *MissingRequiredHeaderError", err)
	}
	if missing.Header != "camera" {
		t.Errorf("Header = %q, want camera", missing.Header)
	}

	// Light frames additionally require a target name.
	headers["camera"] = "ZWOASI2600"
	headers["type"] = "LIGHT"
	headers["focal_ratio"] = "7.0"
	_, err = ComposeFilename("/lib", "frame.fits", headers, "")
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want *MissingRequiredHeaderError", err)
	}
	if missing.Header != "targetname" {
		t.Errorf("Header = %q, want targetname", missing.Header)
	}
}

func TestComposeExtractRoundTrip(t *testing.T) {
	headers := Attrs{
		"type":            "LIGHT",
		"optic":           "C8",
		"camera":          "ZWOASI2600",
		"focal_ratio":     "7.0",
		"targetname":      "M42",
		"date":            "2025-04-13",
		"datetime":        "2025-04-13_19-31-10",
		"filter":          "H",
		"exposureseconds": "60.00",
	}

	// A raw camera file carries no type token, so its default type survives
	// the round trip along with everything the path encodes.
	composed, err := ComposeFilename("/data", "foo.cr2", headers, "")
	if err != nil {
		t.Fatalf("ComposeFilename: %v", err)
	}
	got, err := FileHeaders(composed, true)
	if err != nil {
		t.Fatalf("FileHeaders: %v", err)
	}
	for _, key := range []string{"type", "optic", "focal_ratio", "camera", "date", "filter", "exposureseconds"} {
		if got[key] != headers[key] {
			t.Errorf("%s = %q, want %q", key, got[key], headers[key])
		}
	}

	// Container formats recover everything but the type.
	composed, err = ComposeFilename("/data", "foo.fits", headers, "")
	if err != nil {
		t.Fatalf("ComposeFilename: %v", err)
	}
	got, err = FileHeaders(composed, true)
	if err != nil {
		t.Fatalf("FileHeaders: %v", err)
	}
	for _, key := range []string{"optic", "focal_ratio", "camera", "date", "filter", "exposureseconds"} {
		if got[key] != headers[key] {
			t.Errorf("%s = %q, want %q", key, got[key], headers[key])
		}
	}
}
