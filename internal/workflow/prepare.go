package workflow

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"astrokeep/internal/config"
	"astrokeep/internal/fsutil"
	"astrokeep/internal/meta"
	"astrokeep/internal/scan"
)

// requiredForType returns the attributes a frame of the given type must carry
// before it can be filed.
func requiredForType(frameType string) ([]string, error) {
	switch frameType {
	case "BIAS", "DARK":
		return []string{"camera", "type", "date", "exposureseconds", "datetime", "filename"}, nil
	case "FLAT":
		return []string{"camera", "type", "date", "exposureseconds", "datetime", "filename", "optic", "focal_ratio", "filter"}, nil
	case "LIGHT":
		return []string{"camera", "type", "date", "exposureseconds", "datetime", "filename", "optic", "focal_ratio", "filter", "targetname"}, nil
	}
	return nil, fmt.Errorf("unexpected image type: %s", frameType)
}

var dateParentRE = regexp.MustCompile(`(.*)[\\/]DATE.*`)

// Prepare moves freshly captured frames from the capture drop directory into
// the staged library layout, one frame type at a time.
type Prepare struct {
	InputDir       string
	InputPattern   string
	OutputDirBias  string
	OutputDirDark  string
	OutputDirFlat  string
	OutputDirLight string
	DryRun         bool
}

func (p *Prepare) Bias() error { return p.prepare("BIAS", p.OutputDirBias, false) }
func (p *Prepare) Dark() error { return p.prepare("DARK", p.OutputDirDark, false) }
func (p *Prepare) Flat() error { return p.prepare("FLAT", p.OutputDirFlat, false) }

// Light files light frames into the blink stage and then prunes the emptied
// capture directories.
func (p *Prepare) Light() error {
	if err := p.prepare("LIGHT", p.OutputDirLight, true); err != nil {
		return err
	}
	if p.DryRun {
		return nil
	}
	return fsutil.DeleteEmptyDirectories(p.InputDir)
}

func (p *Prepare) prepare(frameType, outputDir string, recursive bool) error {
	required, err := requiredForType(frameType)
	if err != nil {
		return err
	}

	result, err := scan.LoadFiltered(scan.Options{
		Dirs:      []string{p.InputDir},
		Patterns:  patternsOrDefault(p.InputPattern),
		Recursive: recursive,
		Required:  required,
	}, map[string]scan.Predicate{"type": scan.Exact(frameType)})
	if err != nil {
		return err
	}

	srcs := make([]string, 0, len(result.Data))
	for src := range result.Data {
		srcs = append(srcs, src)
	}
	sort.Strings(srcs)

	// parents of DATE directories get an accept subdirectory as we go, so
	// an interrupted run still leaves a usable layout behind
	targetDirs := make(map[string]bool)

	for _, src := range srcs {
		attrs := result.Data[src]

		stateDir := ""
		if attrs["type"] == "LIGHT" {
			stateDir = config.DirBlink
		}
		dst, err := meta.ComposeFilename(outputDir, src, attrs, stateDir)
		if err != nil {
			return err
		}

		slog.Info("filing frame", "type", frameType, "from", src, "to", dst)
		if !p.DryRun {
			if err := fsutil.MoveFile(src, dst); err != nil {
				return err
			}
		}

		if m := dateParentRE.FindStringSubmatch(dst); m != nil && !targetDirs[m[1]] {
			if !p.DryRun {
				if err := os.MkdirAll(filepath.Join(m[1], config.DirAccept), 0o755); err != nil {
					return err
				}
			}
			targetDirs[m[1]] = true
		}
	}
	return nil
}

// Delete removes already-filed frames of a type from a directory tree, then
// prunes the directories it emptied. Used to clear raw calibration frames
// once their masters are stacked.
type Delete struct {
	InputDir     string
	InputPattern string
	DryRun       bool
}

func (d *Delete) Bias() error  { return d.delete("BIAS") }
func (d *Delete) Dark() error  { return d.delete("DARK") }
func (d *Delete) Flat() error  { return d.delete("FLAT") }
func (d *Delete) Light() error { return d.delete("LIGHT") }

func (d *Delete) delete(frameType string) error {
	required, err := requiredForType(frameType)
	if err != nil {
		return err
	}

	result, err := scan.LoadFiltered(scan.Options{
		Dirs:      []string{d.InputDir},
		Patterns:  patternsOrDefault(d.InputPattern),
		Recursive: true,
		Required:  required,
	}, map[string]scan.Predicate{"type": scan.Exact(frameType)})
	if err != nil {
		return err
	}

	srcs := make([]string, 0, len(result.Data))
	for src := range result.Data {
		srcs = append(srcs, src)
	}
	sort.Strings(srcs)

	for _, src := range srcs {
		slog.Info("deleting frame", "type", frameType, "file", src)
		if d.DryRun {
			continue
		}
		if err := os.Remove(src); err != nil {
			return err
		}
	}

	if d.DryRun {
		return nil
	}
	return fsutil.DeleteEmptyDirectories(d.InputDir)
}

func patternsOrDefault(pattern string) []string {
	if pattern == "" {
		return nil
	}
	return []string{pattern}
}
