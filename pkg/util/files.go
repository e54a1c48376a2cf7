package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FramePath returns the numbered output path for frame n of a sequence.
func FramePath(dir, prefix string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%06d.png", prefix, n))
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// IsRemote reports whether a media reference points at an http(s) URL.
func IsRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// LocalPath strips a file:// scheme so the reference can be opened directly.
func LocalPath(ref string) string {
	return strings.TrimPrefix(ref, "file://")
}
