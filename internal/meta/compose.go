package meta

import (
	"path/filepath"
	"strings"
)

// requiredHeaders is the absolute bare minimum needed to place a file.
var requiredHeaders = []string{"type", "optic", "camera", "date", "exposureseconds", "datetime", "filter"}

// ComposeFilename builds the canonical nested output path for a file from
// its normalized attributes. stateDir, when non-empty, is inserted as an
// extra segment for light frames (e.g. the blink stage directory).
//
// The produced path round-trips through ExtractPathTokens/Normalize back to
// the attributes it encodes.
func ComposeFilename(outputDir, inputFilename string, headers Attrs, stateDir string) (string, error) {
	for _, rh := range requiredHeaders {
		if headers[rh] == "" {
			return "", &MissingRequiredHeaderError{Header: rh, Filename: inputFilename}
		}
	}

	frameType := headers["type"]
	segments := []string{outputDir}

	switch frameType {
	case "BIAS", "DARK", "FLAT":
		// Focal ratio matters for flats, but this path repairs raw data
		// which does not include it, so flats leave it out too.
		segments = append(segments, headers["optic"]+"+"+headers["camera"])
	case "LIGHT":
		for _, rh := range []string{"focal_ratio", "targetname"} {
			if headers[rh] == "" {
				return "", &MissingRequiredHeaderError{Header: rh, Filename: inputFilename}
			}
		}
		segments = append(segments, headers["optic"]+"@f"+headers["focal_ratio"]+"+"+headers["camera"])
	}

	if frameType == "LIGHT" {
		if stateDir != "" {
			segments = append(segments, stateDir)
		}
		segments = append(segments, headers["targetname"])
	}

	segments = append(segments, "DATE_"+headers["date"])

	// Filter is not meaningful for bias and darks but the capture software
	// includes it anyway, so keep it for all types.
	p := "FILTER_" + headers["filter"] + "_EXP_" + headers["exposureseconds"]
	if headers["settemp"] != "" {
		p += "_SETTEMP_" + headers["settemp"]
	}
	if frameType == "LIGHT" && headers["panel"] != "" {
		p += "_PANEL_" + headers["panel"]
	}
	segments = append(segments, p)

	p = headers["datetime"]
	for _, opt := range []string{"hfr", "stars", "rmsac", "temp"} {
		if headers[opt] != "" {
			p += "_" + strings.ToUpper(opt) + "_" + headers[opt]
		}
	}
	p += filepath.Ext(inputFilename)
	segments = append(segments, p)

	return filepath.Join(segments...), nil
}
