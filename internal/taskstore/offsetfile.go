package taskstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// readOffsetFile reads the OFFSET file in dir, stripping any trailing
// newline. Returns ("", false, nil) if the file does not exist, and
// ("", false, nil) if it exists but is empty; both are "no usable
// offset" from the caller's point of view, and the Directory Validator
// treats both as an invalid directory.
func readOffsetFile(dir string) (offset string, ok bool, err error) {
	data, err := os.ReadFile(filepath.Clean(offsetFilePath(dir)))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read offset file: %w", err)
	}
	data = bytes.TrimRight(data, "\r\n")
	if len(data) == 0 {
		return "", false, nil
	}
	return string(data), true, nil
}

// writeOffsetFile atomically replaces the OFFSET file in dir via
// write-to-temp + rename, so a concurrent reader never observes a
// truncated file.
func writeOffsetFile(dir, offset string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	path := offsetFilePath(dir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(offset), 0o600); err != nil {
		return fmt.Errorf("write offset temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename offset file: %w", err)
	}
	return nil
}

// deleteOffsetFile removes the OFFSET file in dir, if present.
func deleteOffsetFile(dir string) error {
	if err := os.Remove(offsetFilePath(dir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete offset file: %w", err)
	}
	return nil
}

// offsetFileModTime returns the OFFSET file's last-modified time.
func offsetFileModTime(dir string) (time.Time, error) {
	info, err := os.Stat(offsetFilePath(dir))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
