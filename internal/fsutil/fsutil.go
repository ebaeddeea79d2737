package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var frameExts = map[string]struct{}{
	".fits": {},
	".xisf": {},
	".cr2":  {},
}

// IsFrameFile checks if a file is a supported image frame format.
func IsFrameFile(path string) bool {
	_, ok := frameExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// FirstExisting returns the first path that exists.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// CopyFile copies src to dst, creating dst's parent directories as needed.
// File mode and modification time are preserved.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying to %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dst, err)
	}

	// keep the acquisition timestamp on the copy
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// MoveFile copies src to dst and then removes src. Copy-then-delete survives
// moves across filesystems, which renames do not.
func MoveFile(src, dst string) error {
	if err := CopyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("removing %s after copy: %w", src, err)
	}
	return nil
}

// DeleteEmptyDirectories removes empty directories under root, repeating
// until no deletion succeeds so that newly emptied parents are cleaned up
// too. The root itself is never removed. Directories holding a ".keep" file
// are not empty and therefore survive.
func DeleteEmptyDirectories(root string) error {
	for {
		deleted := false
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() || path == root {
				return nil
			}
			if os.Remove(path) == nil {
				deleted = true
				return filepath.SkipDir
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("pruning empty directories under %s: %w", root, err)
		}
		if !deleted {
			return nil
		}
	}
}
