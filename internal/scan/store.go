// Package scan loads frame metadata from directory trees and filters it.
//
// Loading is two-phase: a cheap pass over file paths alone, then a per-file
// enrichment pass that opens only the files whose path did not carry every
// required attribute.
package scan

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"astrokeep/internal/config"
	"astrokeep/internal/meta"
)

// DefaultPatterns matches the frame container written by the capture rig.
var DefaultPatterns = []string{"*.fits"}

// Options control one Load pass.
type Options struct {
	Dirs            []string
	Patterns        []string // doublestar patterns against base names; DefaultPatterns when empty
	Recursive       bool
	Required        []string // attributes that must be non-empty, enriching from file contents if needed
	ProfileFromPath bool
}

// Result is the outcome of a Load: attribute maps keyed by file path, plus
// the files whose enrichment failed. Failed files are not in Data.
type Result struct {
	Data   map[string]meta.Attrs
	Failed map[string]error
}

// Filenames lists the files under dirs whose base name matches any pattern.
// Recursive walks skip stash directories; environment placeholders in the
// directory paths are expanded.
func Filenames(dirs, patterns []string, recursive bool) ([]string, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	var filenames []string
	for _, pattern := range patterns {
		for _, dir := range dirs {
			dir = config.ExpandEnvVars(dir)
			if !recursive {
				entries, err := os.ReadDir(dir)
				if err != nil {
					return nil, fmt.Errorf("listing %s: %w", dir, err)
				}
				for _, e := range entries {
					if e.IsDir() {
						continue
					}
					if ok, _ := doublestar.Match(pattern, e.Name()); ok {
						filenames = append(filenames, filepath.Join(dir, e.Name()))
					}
				}
				continue
			}

			err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return nil
				}
				// stashed data is parked out of the pipeline
				if strings.Contains(filepath.Dir(p), "_stash") {
					return nil
				}
				if ok, _ := doublestar.Match(pattern, d.Name()); ok {
					filenames = append(filenames, p)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("walking %s: %w", dir, err)
			}
		}
	}
	return filenames, nil
}

// Load reads metadata for every matching file. Path-derived attributes come
// first; files missing any required attribute are enriched by opening them,
// in lexicographic path order.
func Load(opts Options) (*Result, error) {
	required := append([]string(nil), opts.Required...)
	// targetname is always required, if only to hold an empty value
	if !contains(required, "targetname") {
		required = append(required, "targetname")
	}

	filenames, err := Filenames(opts.Dirs, opts.Patterns, opts.Recursive)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Data:   make(map[string]meta.Attrs, len(filenames)),
		Failed: make(map[string]error),
	}

	for _, filename := range filenames {
		attrs, err := meta.FileHeaders(filename, opts.ProfileFromPath)
		if err != nil {
			result.Failed[filename] = err
			continue
		}
		result.Data[attrs["filename"]] = attrs
	}

	// make sure required attributes at least exist
	for _, attrs := range result.Data {
		for _, rp := range required {
			if _, ok := attrs[rp]; !ok {
				attrs[rp] = ""
			}
		}
	}

	var toEnrich []string
	for filename, attrs := range result.Data {
		for _, rp := range required {
			if attrs[rp] == "" {
				toEnrich = append(toEnrich, filename)
				break
			}
		}
	}
	sort.Strings(toEnrich)

	for _, filename := range toEnrich {
		enriched, err := meta.ReadFileHeaders(filename, opts.ProfileFromPath, true)
		if err != nil {
			slog.Warn("enrichment failed", "file", filename, "error", err)
			result.Failed[filename] = err
			delete(result.Data, filename)
			continue
		}
		for _, rp := range required {
			if _, ok := enriched[rp]; !ok {
				enriched[rp] = ""
			}
		}
		result.Data[filename] = enriched
	}

	// enrichment can rewrite it, so stamp the key back on
	for filename := range result.Data {
		result.Data[filename]["filename"] = filename
	}

	return result, nil
}

// LoadFiltered loads metadata and keeps only the entries matching the given
// predicates. The filter set is validated before any file is touched. Every
// filter key joins the required attributes, so a file whose path never names
// a filtered attribute is enriched rather than matched vacuously.
func LoadFiltered(opts Options, filters map[string]Predicate) (*Result, error) {
	if len(filters) == 0 {
		return nil, &InvalidFilterError{Reason: "no filters given"}
	}
	for key, pred := range filters {
		if pred == nil {
			return nil, &InvalidFilterError{Reason: fmt.Sprintf("filter key '%s' has no value", key)}
		}
	}

	required := append([]string(nil), opts.Required...)
	for key := range filters {
		if !contains(required, key) {
			required = append(required, key)
		}
	}
	opts.Required = required

	result, err := Load(opts)
	if err != nil {
		return nil, err
	}
	filtered, err := Filter(result.Data, filters)
	if err != nil {
		return nil, err
	}
	result.Data = filtered
	return result, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
