package taskstore

import (
	"fmt"
	"os"
	"time"
)

// validateLoggedDir decides whether the logged partition directory at
// dir is valid for reuse (SPEC_FULL.md §4.1). A directory is valid iff:
//
//   - the store is persisted to disk;
//   - an OFFSET file exists in dir and its content is non-empty;
//   - now - lastModified(OFFSET) is within the store's retention window.
//
// A missing directory is not stale, it is simply absent; callers treat
// that as "nothing to validate" rather than as a failure.
//
// When valid, the saved offset is returned so the caller can seed
// fileOffset. When invalid, dir (if present) is recursively removed.
//
// defaultRetentionMs is Config.DefaultChangelogDeleteRetentionMs; it
// overrides the package-wide default for any descriptor that does not
// set its own ChangelogDeleteRetentionMs.
func validateLoggedDir(desc StoreDescriptor, dir string, now time.Time, defaultRetentionMs int64) (offset string, valid bool, err error) {
	if !desc.Properties.IsPersistedToDisk {
		return "", false, removeIfPresent(dir)
	}

	offset, ok, err := readOffsetFile(dir)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, removeIfPresent(dir)
	}

	modTime, err := offsetFileModTime(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, removeIfPresent(dir)
		}
		return "", false, fmt.Errorf("stat offset file: %w", err)
	}

	age := now.Sub(modTime)
	if age >= time.Duration(desc.retentionMs(defaultRetentionMs))*time.Millisecond {
		return "", false, removeIfPresent(dir)
	}

	return offset, true, nil
}

func removeIfPresent(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}
