package platform

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// File permissions
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// Temp file layout
const (
	TempDirPrefix   = "hls-job-"
	SlotFilePattern = "segment_%08d.ts"
	MergedFileName  = "merged.ts"
)

// EnsureDir creates dir and any missing parents
func EnsureDir(fs afero.Fs, dir string) error {
	return fs.MkdirAll(dir, DefaultDirPermissions)
}

// NewJobTempDir creates a uniquely named scratch directory for one job's
// segment slots and intermediates
func NewJobTempDir(fs afero.Fs) (string, error) {
	dir, err := afero.TempDir(fs, "", TempDirPrefix)
	if err != nil {
		return "", fmt.Errorf("create job temp dir: %w", err)
	}
	return dir, nil
}

// SlotPath returns the slot file path for a segment index. Zero-padded
// names keep directory listings in sequence order.
func SlotPath(tempDir string, index int) string {
	return filepath.Join(tempDir, fmt.Sprintf(SlotFilePattern, index))
}

// MergedPath returns the path of the concatenated intermediate file
func MergedPath(tempDir string) string {
	return filepath.Join(tempDir, MergedFileName)
}

// WriteSlot persists segment bytes to its slot file. Each worker owns a
// unique slot path, so no two workers ever write the same file.
func WriteSlot(fs afero.Fs, path string, data []byte) error {
	if err := afero.WriteFile(fs, path, data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write slot %s: %w", path, err)
	}
	return nil
}

// MoveFile renames src to dst, falling back to copy-and-remove when the
// rename crosses filesystems
func MoveFile(fs afero.Fs, src, dst string) error {
	if err := fs.Rename(src, dst); err == nil {
		return nil
	}

	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("move %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, DefaultFilePermissions)
	if err != nil {
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}

	return fs.Remove(src)
}

// RemoveTree deletes dir and its contents, ignoring errors; cleanup is
// best-effort on both success and failure paths
func RemoveTree(fs afero.Fs, dir string) {
	if dir == "" {
		return
	}
	_ = fs.RemoveAll(dir)
}

// HomeDownloadsDir returns the standard Downloads directory for the user
func HomeDownloadsDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, "Downloads"), nil
}
