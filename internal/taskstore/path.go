package taskstore

import (
	"path/filepath"
	"strings"
)

// offsetFileName is the name of the checkpoint file inside a logged
// store's partition directory.
const offsetFileName = "OFFSET"

// sanitizeTaskName replaces ASCII space with underscore. Nothing else is
// sanitized: a task name containing path separators or other
// filesystem-unsafe characters is passed through unchanged. This mirrors
// the source system's behavior exactly and is a known gap, not a design
// choice (see SPEC_FULL.md §9.1, OQ1); do not "fix" it here.
func sanitizeTaskName(name TaskName) string {
	return strings.ReplaceAll(string(name), " ", "_")
}

// NonLoggedPartitionDir returns the ephemeral directory for a store,
// deleted unconditionally on every init. Exported so callers can bind a
// StorageEngine (e.g. engine.File) to the same directory the Manager
// will use, before constructing the Manager itself.
func NonLoggedPartitionDir(storeBaseDir, storeName string, task TaskName) string {
	return nonLoggedPartitionDir(storeBaseDir, storeName, task)
}

// LoggedPartitionDir returns the directory for a logged store, preserved
// across task incarnations when valid. Exported for the same reason as
// NonLoggedPartitionDir.
func LoggedPartitionDir(loggedStoreBaseDir, storeName string, task TaskName) string {
	return loggedPartitionDir(loggedStoreBaseDir, storeName, task)
}

func nonLoggedPartitionDir(storeBaseDir, storeName string, task TaskName) string {
	return filepath.Join(storeBaseDir, storeName, sanitizeTaskName(task))
}

func loggedPartitionDir(loggedStoreBaseDir, storeName string, task TaskName) string {
	return filepath.Join(loggedStoreBaseDir, storeName, sanitizeTaskName(task))
}

// partitionDir returns the directory a store's engine should read/write,
// choosing the logged or non-logged layout based on the store's properties.
func partitionDir(cfg Config, desc StoreDescriptor, task TaskName) string {
	if desc.Properties.IsLoggedStore {
		return loggedPartitionDir(cfg.LoggedStoreBaseDir, desc.Name, task)
	}
	return nonLoggedPartitionDir(cfg.StoreBaseDir, desc.Name, task)
}

func offsetFilePath(loggedDir string) string {
	return filepath.Join(loggedDir, offsetFileName)
}
