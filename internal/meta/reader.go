package meta

import (
	"fmt"
	"path/filepath"

	"astrokeep/internal/fits"
	"astrokeep/internal/xisf"
)

// Fixed home-location fallback for containers that carry no site metadata.
const (
	defaultLatitude  = "35.6"
	defaultLongitude = "-78.8"
)

// ReadFileHeaders reads the canonical attributes for a file, merging its
// native container headers with path-derived tokens. Path-derived attributes
// win over container attributes for the same canonical key. The "filename"
// attribute always holds the original path.
//
// FITS and XISF containers are read natively; any other extension (raw
// camera formats) gets the home-location fallback on top of whatever the
// path already carries.
func ReadFileHeaders(p string, profileFromPath, filenameOverride bool) (Attrs, error) {
	var fileAttrs Attrs
	if filenameOverride {
		var err error
		fileAttrs, err = FileHeaders(p, profileFromPath)
		if err != nil {
			return nil, err
		}
	}

	// extensions are matched case-sensitively, as the capture rig writes them
	var container map[string]string
	switch filepath.Ext(p) {
	case ".fits":
		headers, err := fits.ReadHeaders(p)
		if err != nil {
			return nil, fmt.Errorf("reading headers of %s: %w", p, err)
		}
		container = headers
	case ".xisf":
		keywords, err := xisf.ReadImageKeywords(p)
		if err != nil {
			return nil, fmt.Errorf("reading headers of %s: %w", p, err)
		}
		container = make(map[string]string, len(keywords))
		for name, entries := range keywords {
			if name == "HISTORY" {
				continue
			}
			if len(entries) > 0 && entries[0].Value != "" {
				container[name] = entries[0].Value
			}
		}
	default:
		// No readable container. Default the location to home and pass
		// through what the path gave us.
		if fileAttrs == nil {
			fileAttrs = make(Attrs)
		}
		fileAttrs["latitude"] = defaultLatitude
		fileAttrs["longitude"] = defaultLongitude
		fileAttrs["filename"] = p
		return fileAttrs, nil
	}

	// Path naming is higher priority: overlay it onto the container headers
	// and normalize the union once. Canonical lowercase keys overwrite their
	// uppercase sources inside Normalize.
	merged := make(map[string]string, len(container)+len(fileAttrs))
	for k, v := range container {
		merged[k] = v
	}
	for k, v := range fileAttrs {
		merged[k] = v
	}

	output, err := Normalize(merged)
	if err != nil {
		return nil, fmt.Errorf("normalizing headers of %s: %w", p, err)
	}
	output["filename"] = p
	return output, nil
}
