package workflow

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"astrokeep/internal/config"
	"astrokeep/internal/fsutil"
	"astrokeep/internal/meta"
	"astrokeep/internal/scan"
)

// Cull rejects light frames whose focus or guiding quality falls outside the
// configured limits, moving them into a parallel reject tree for review.
type Cull struct {
	SrcDir    string
	RejectDir string
	MaxHFR    float64
	MaxRMS    float64

	// Reject a directory's batch without asking when it is below this
	// percentage of the directory's frames.
	AutoYesPercent float64

	// Confirm asks the operator whether to reject a batch. Nil means never
	// confirm interactively (only automatic batches are rejected).
	Confirm func(question string) bool

	DryRun bool
}

// Stats summarizes one cull pass.
type Stats struct {
	Rejected int
	Total    int
}

// Run inspects every frame under SrcDir, grouped per directory. Frames under
// an accept directory are left alone.
func (c *Cull) Run() (Stats, error) {
	var stats Stats

	result, err := scan.Load(scan.Options{
		Dirs:            []string{c.SrcDir},
		Recursive:       true,
		ProfileFromPath: true,
	})
	if err != nil {
		return stats, err
	}

	groups := make(map[string][]meta.Attrs)
	for filename, attrs := range result.Data {
		if strings.Contains(filename, config.DirAccept) {
			continue
		}
		dir := filepath.Dir(filename)
		groups[dir] = append(groups[dir], attrs)
	}

	dirs := make([]string, 0, len(groups))
	for dir := range groups {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		frames := groups[dir]
		total := len(frames)
		stats.Total += total

		var rejects []meta.Attrs
		rejectHFR, rejectRMS := 0, 0
		for _, attrs := range frames {
			if v, ok := parseQuality(attrs, "hfr"); ok && v > c.MaxHFR {
				rejectHFR++
				rejects = append(rejects, attrs)
				continue
			}
			if v, ok := parseQuality(attrs, "rmsac"); ok && v > c.MaxRMS {
				rejectRMS++
				rejects = append(rejects, attrs)
			}
		}
		if len(rejects) == 0 {
			continue
		}

		percent := 100 * float64(len(rejects)) / float64(total)
		question := fmt.Sprintf("OK hfr=%d, rms=%d to reject (%d/%d, %.1f%%)? (y/N)",
			rejectHFR, rejectRMS, len(rejects), total, percent)

		accepted := false
		switch {
		case percent < c.AutoYesPercent:
			slog.Info("rejecting batch automatically", "dir", dir, "question", question)
			accepted = true
		case c.DryRun:
			slog.Info("rejecting batch (dryrun)", "dir", dir, "question", question)
			accepted = true
		case c.Confirm != nil:
			accepted = c.Confirm(fmt.Sprintf("Reject for '%s'. %s", strings.TrimPrefix(dir, c.SrcDir), question))
		}
		if !accepted {
			continue
		}

		stats.Rejected += len(rejects)
		for _, attrs := range rejects {
			if err := c.reject(dir, attrs["filename"]); err != nil {
				return stats, err
			}
		}
	}

	if stats.Total > 0 {
		slog.Info("cull finished", "rejected", stats.Rejected, "total", stats.Total)
	}
	return stats, nil
}

// reject moves a frame into the reject tree, preserving its directory
// structure relative to the source root.
func (c *Cull) reject(dir, filename string) error {
	relativeDir := strings.TrimPrefix(dir, c.SrcDir+string(filepath.Separator))
	base := filepath.Base(filename)

	toDir := filepath.Join(c.RejectDir, relativeDir)
	toFile := filepath.Join(toDir, base)

	// refuse to move anywhere outside the reject tree
	if !strings.Contains(toDir, c.RejectDir) {
		return fmt.Errorf("attempting to move file to invalid location: %s", toFile)
	}

	if !c.DryRun {
		if err := fsutil.MoveFile(filename, toFile); err != nil {
			return err
		}
	}
	slog.Info("REJECTED", "file", filepath.Join(relativeDir, base))
	return nil
}

func parseQuality(attrs meta.Attrs, key string) (float64, bool) {
	raw := attrs[key]
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("unparseable quality metric", "key", key, "value", raw, "file", attrs["filename"])
		return 0, false
	}
	return v, true
}
