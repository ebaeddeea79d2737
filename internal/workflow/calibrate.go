// Package workflow implements the staged imaging pipeline: preparing raw
// captures, matching calibration masters to light frames, culling rejects,
// and reporting on accepted data.
package workflow

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"astrokeep/internal/fsutil"
	"astrokeep/internal/meta"
	"astrokeep/internal/scan"
)

// CopyDirective is one planned file copy. An empty Src marks missing
// calibration data for the destination.
type CopyDirective struct {
	Src string
	Dst string
}

// CopyList is an ordered set of planned copies.
type CopyList []CopyDirective

// FilterTerm is one ordered filter entry. Order matters because the terms
// also dictate the attribute order in composed library filenames.
type FilterTerm struct {
	Key  string
	Pred scan.Predicate
}

// matchAny accepts any value; it exists to name the dimensions that should
// appear in a library filename without constraining them.
var matchAny = scan.Func(func(string) bool { return true })

// Grouping dimensions used to match library masters to light frames.
var (
	DarksRequiredProperties = []string{"exposureseconds", "camera", "gain", "type"}
	FlatsRequiredProperties = []string{"date", "optic", "filter", "camera", "gain", "type"}
)

// Calibrator plans and executes calibration-frame copies between the
// stacking output directory, the master libraries, and light directories.
type Calibrator struct {
	LightsDir      string
	CalibrationDir string
	BiasLibraryDir string
	DarkLibraryDir string
	FlatLibraryDir string
	DryRun         bool
}

var masterLibraryTerms = []FilterTerm{
	{"exposureseconds", matchAny},
	{"settemp", matchAny},
	{"camera", matchAny},
	{"gain", matchAny},
	{"offset", matchAny},
	{"readoutmode", matchAny},
}

var flatLibraryTerms = []FilterTerm{
	{"camera", matchAny},
	{"optic", matchAny},
	{"date", matchAny},
	{"filter", matchAny},
	{"settemp", matchAny},
	{"gain", matchAny},
	{"offset", matchAny},
	{"focallen", matchAny},
	{"readoutmode", matchAny},
}

// CopyListCalibrationToBiasLibrary plans copies of new master bias frames
// from the stacking output into the bias library.
func (c *Calibrator) CopyListCalibrationToBiasLibrary() (CopyList, error) {
	data, err := c.loadMasters("MASTER BIAS")
	if err != nil {
		return nil, err
	}
	terms := append([]FilterTerm{{"type", scan.Exact("MASTER BIAS")}}, masterLibraryTerms...)
	return copyListToLibrary(data, c.BiasLibraryDir, terms)
}

// CopyListCalibrationToDarkLibrary plans copies of new master darks from the
// stacking output into the dark library.
func (c *Calibrator) CopyListCalibrationToDarkLibrary() (CopyList, error) {
	data, err := c.loadMasters("MASTER DARK")
	if err != nil {
		return nil, err
	}
	terms := append([]FilterTerm{{"type", scan.Exact("MASTER DARK")}}, masterLibraryTerms...)
	return copyListToLibrary(data, c.DarkLibraryDir, terms)
}

// CopyListCalibrationToFlatLibrary plans copies of new master flats from the
// stacking output into the flat stash.
func (c *Calibrator) CopyListCalibrationToFlatLibrary() (CopyList, error) {
	data, err := c.loadMasters("MASTER FLAT")
	if err != nil {
		return nil, err
	}
	terms := append([]FilterTerm{{"type", scan.Exact("MASTER FLAT")}}, flatLibraryTerms...)
	list, err := copyListToLibrary(data, c.FlatLibraryDir, terms)
	if err != nil {
		return nil, err
	}
	// The denormalized date header is DATE-OBS, but flats are filed by
	// session date.
	for i := range list {
		list[i].Dst = strings.ReplaceAll(list[i].Dst, "DATE-OBS", "DATE")
	}
	return list, nil
}

// CopyListDarksToLights plans copies of matching library darks into each
// light directory that lacks one. The second result aggregates the
// calibration signatures with no library match.
func (c *Calibrator) CopyListDarksToLights(required []string) (CopyList, []meta.Attrs, error) {
	if required == nil {
		required = DarksRequiredProperties
	}
	darks, err := scan.LoadFiltered(scan.Options{
		Dirs:      []string{c.DarkLibraryDir},
		Patterns:  []string{"*.xisf"},
		Recursive: true,
		Required:  required,
	}, map[string]scan.Predicate{"type": scan.Exact("MASTER DARK")})
	if err != nil {
		return nil, nil, err
	}
	lights, err := c.loadLights(required)
	if err != nil {
		return nil, nil, err
	}
	existing, err := c.loadMastersInLights("MASTER DARK", required)
	if err != nil {
		return nil, nil, err
	}
	return copyListToLights(darks.Data, lights.Data, existing, required)
}

// CopyListFlatsToLights plans copies of freshly stacked master flats into
// each light directory that lacks one.
func (c *Calibrator) CopyListFlatsToLights(required []string) (CopyList, []meta.Attrs, error) {
	if required == nil {
		required = FlatsRequiredProperties
	}
	flats, err := scan.LoadFiltered(scan.Options{
		Dirs:      []string{c.CalibrationDir},
		Patterns:  []string{"*.xisf"},
		Recursive: true,
		Required:  required,
	}, map[string]scan.Predicate{"type": scan.Exact("MASTER FLAT")})
	if err != nil {
		return nil, nil, err
	}
	lights, err := c.loadLights(required)
	if err != nil {
		return nil, nil, err
	}
	existing, err := c.loadMastersInLights("MASTER FLAT", required)
	if err != nil {
		return nil, nil, err
	}
	return copyListToLights(flats.Data, lights.Data, existing, required)
}

// CopyFiles executes a copy list. Directives with an empty source are logged
// as missing calibration; existing destinations are skipped so re-runs are
// idempotent.
func (c *Calibrator) CopyFiles(list CopyList) error {
	for _, d := range list {
		if d.Src == "" {
			slog.Warn("MISSING calibration", "for", d.Dst)
			continue
		}
		if _, err := os.Stat(d.Dst); err == nil {
			slog.Debug("skipping file that exists", "file", d.Dst)
			continue
		}
		slog.Info("copying calibration", "from", d.Src, "to", d.Dst)
		if c.DryRun {
			continue
		}
		if err := fsutil.CopyFile(d.Src, d.Dst); err != nil {
			return err
		}
	}
	return nil
}

func (c *Calibrator) loadMasters(frameType string) (map[string]meta.Attrs, error) {
	result, err := scan.LoadFiltered(scan.Options{
		Dirs:      []string{c.CalibrationDir},
		Patterns:  []string{"*.xisf"},
		Recursive: true,
	}, map[string]scan.Predicate{"type": scan.Exact(frameType)})
	if err != nil {
		return nil, err
	}
	return result.Data, nil
}

// loadMastersInLights finds calibration masters already filed somewhere in
// the lights tree, so a directory that holds one is not served again.
func (c *Calibrator) loadMastersInLights(frameType string, required []string) (map[string]meta.Attrs, error) {
	result, err := scan.LoadFiltered(scan.Options{
		Dirs:            []string{c.LightsDir},
		Patterns:        []string{"*.xisf"},
		Recursive:       true,
		Required:        required,
		ProfileFromPath: true,
	}, map[string]scan.Predicate{"type": scan.Exact(frameType)})
	if err != nil {
		return nil, err
	}
	return result.Data, nil
}

func (c *Calibrator) loadLights(required []string) (*scan.Result, error) {
	return scan.LoadFiltered(scan.Options{
		Dirs:            []string{c.LightsDir},
		Patterns:        []string{"*.cr2", "*.fits"},
		Recursive:       true,
		Required:        required,
		ProfileFromPath: true,
	}, map[string]scan.Predicate{"type": scan.Exact("LIGHT")})
}

// copyListToLibrary plans copies of filtered calibration frames into a
// library, filing them under <library>/<camera>[/<optic>][/@f<ratio>] with a
// filename that spells out every filtered attribute.
func copyListToLibrary(data map[string]meta.Attrs, outputDir string, terms []FilterTerm) (CopyList, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(terms) == 0 {
		return nil, &scan.InvalidFilterError{Reason: "no filters given"}
	}

	filters := make(map[string]scan.Predicate, len(terms))
	termKeys := make(map[string]bool, len(terms))
	for _, t := range terms {
		filters[t.Key] = t.Pred
		termKeys[t.Key] = true
	}

	filtered, err := scan.Filter(data, filters)
	if err != nil {
		return nil, err
	}

	srcs := make([]string, 0, len(filtered))
	for src := range filtered {
		srcs = append(srcs, src)
	}
	sort.Strings(srcs)

	var list CopyList
	for _, src := range srcs {
		datum := filtered[src]

		name := camelCase(datum["type"])
		for _, t := range terms {
			// type filters, camera and optic file; none of them name
			switch t.Key {
			case "type", "camera", "optic":
				continue
			}
			if datum[t.Key] == "" {
				continue
			}
			header := meta.DenormalizeHeader(t.Key)
			if header == "" {
				header = strings.ToUpper(t.Key)
			}
			name += "_" + header + "_" + datum[t.Key]
		}
		name += filepath.Ext(src)

		segments := []string{outputDir, datum["camera"]}
		if termKeys["optic"] && datum["optic"] != "" {
			segments = append(segments, datum["optic"])
		}
		if termKeys["focal_ratio"] && datum["focal_ratio"] != "" {
			segments = append(segments, "@f"+datum["focal_ratio"])
		}
		segments = append(segments, name)

		list = append(list, CopyDirective{Src: src, Dst: filepath.Join(segments...)})
	}
	return list, nil
}

// copyListToLights matches calibration frames to light directories. For each
// directory holding lights, the lights' own attribute values along the
// cleansed grouping dimensions form the calibration signature. A directory
// whose DATE segment already holds a master matching the signature is
// skipped; otherwise exactly one library frame may match it. A signature
// with no match yields a directive with an empty source and an entry in the
// missing aggregation.
func copyListToLights(calibration, lights, existing map[string]meta.Attrs, required []string) (CopyList, []meta.Attrs, error) {
	var cleansed []string
	for _, rp := range required {
		if rp == "type" || contains(cleansed, rp) {
			continue
		}
		if contains(DarksRequiredProperties, rp) || contains(FlatsRequiredProperties, rp) {
			cleansed = append(cleansed, rp)
		}
	}

	signatures := make(map[string]meta.Attrs)
	for filename, datum := range lights {
		dir := filepath.Dir(filename)
		if _, ok := signatures[dir]; ok {
			continue
		}
		sig := make(meta.Attrs, len(cleansed))
		for _, rp := range cleansed {
			sig[rp] = datum[rp]
		}
		signatures[dir] = sig
	}

	dirs := make([]string, 0, len(signatures))
	for dir := range signatures {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var list CopyList
	var missing []meta.Attrs
	for _, lightDir := range dirs {
		sig := signatures[lightDir]

		filters := make(map[string]scan.Predicate, len(sig))
		for k, v := range sig {
			filters[k] = scan.Exact(v)
		}

		if len(existing) > 0 {
			filed, err := scan.Filter(existing, filters)
			if err != nil {
				return nil, nil, err
			}
			if anyUnderDirectory(filed, dateDirectory(lightDir)) {
				continue
			}
		}

		matches, err := scan.Filter(calibration, filters)
		if err != nil {
			return nil, nil, err
		}

		switch {
		case len(matches) > 1:
			return nil, nil, &AmbiguousCalibrationMatchError{Directory: lightDir, Count: len(matches)}
		case len(matches) == 0:
			list = append(list, CopyDirective{Src: "", Dst: lightDir})
			missing = append(missing, sig)
		default:
			for src := range matches {
				list = append(list, CopyDirective{
					Src: src,
					Dst: filepath.Join(dateDirectory(lightDir), filepath.Base(src)),
				})
			}
		}
	}
	return list, missing, nil
}

// anyUnderDirectory reports whether any of the files lives under dir.
func anyUnderDirectory(data map[string]meta.Attrs, dir string) bool {
	prefix := filepath.ToSlash(dir) + "/"
	for filename := range data {
		f := filepath.ToSlash(filename)
		if f == prefix[:len(prefix)-1] || strings.HasPrefix(f, prefix) {
			return true
		}
	}
	return false
}

// dateDirectory truncates a light directory after its first DATE segment, so
// calibration lands beside the session rather than in deeper subdirectories.
func dateDirectory(dir string) string {
	parts := strings.Split(filepath.ToSlash(dir), "/")
	for i, d := range parts {
		if strings.Contains(d, "DATE") {
			parts = parts[:i+1]
			break
		}
	}
	return filepath.FromSlash(strings.Join(parts, "/"))
}

// camelCase converts a frame type to its library filename prefix, e.g.
// "MASTER DARK" to "masterDark".
func camelCase(s string) string {
	var b strings.Builder
	newWord := true
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			newWord = true
			continue
		}
		if newWord {
			b.WriteRune(unicode.ToUpper(r))
			newWord = false
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	out := b.String()
	if out == "" {
		return out
	}
	return strings.ToLower(out[:1]) + out[1:]
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
