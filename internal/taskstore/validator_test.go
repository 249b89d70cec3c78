package taskstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func persistedDesc() StoreDescriptor {
	return StoreDescriptor{
		Name:       "s",
		Properties: Properties{IsLoggedStore: true, IsPersistedToDisk: true},
	}
}

func TestValidateLoggedDirMissingDirIsInvalidNotError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	_, valid, err := validateLoggedDir(persistedDesc(), dir, time.Now(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if valid {
		t.Fatal("missing dir should not be valid")
	}
}

func TestValidateLoggedDirNotPersistedIsAlwaysInvalid(t *testing.T) {
	dir := t.TempDir()
	if err := writeOffsetFile(dir, "1"); err != nil {
		t.Fatalf("writeOffsetFile: %v", err)
	}
	desc := StoreDescriptor{Name: "s", Properties: Properties{IsLoggedStore: true, IsPersistedToDisk: false}}
	_, valid, err := validateLoggedDir(desc, dir, time.Now(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if valid {
		t.Fatal("non-persisted store should never be valid for reuse")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("invalid dir should have been removed")
	}
}

func TestValidateLoggedDirMissingOffsetFileIsInvalid(t *testing.T) {
	dir := t.TempDir()
	_, valid, err := validateLoggedDir(persistedDesc(), dir, time.Now(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if valid {
		t.Fatal("dir with no OFFSET file should not be valid")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("invalid dir should have been removed")
	}
}

func TestValidateLoggedDirEmptyOffsetFileIsInvalid(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, offsetFileName), nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, valid, err := validateLoggedDir(persistedDesc(), dir, time.Now(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if valid {
		t.Fatal("empty OFFSET file should not be valid")
	}
}

func TestValidateLoggedDirFreshOffsetIsValid(t *testing.T) {
	dir := t.TempDir()
	if err := writeOffsetFile(dir, "7"); err != nil {
		t.Fatalf("writeOffsetFile: %v", err)
	}
	offset, valid, err := validateLoggedDir(persistedDesc(), dir, time.Now(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !valid {
		t.Fatal("fresh OFFSET file should be valid")
	}
	if offset != "7" {
		t.Errorf("got offset %q, want %q", offset, "7")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Error("valid dir should not have been removed")
	}
}

func TestValidateLoggedDirStaleOffsetIsInvalid(t *testing.T) {
	dir := t.TempDir()
	if err := writeOffsetFile(dir, "7"); err != nil {
		t.Fatalf("writeOffsetFile: %v", err)
	}
	desc := persistedDesc()
	desc.ChangelogDeleteRetentionMs = 1000 // 1s retention
	now := time.Now().Add(2 * time.Second)
	_, valid, err := validateLoggedDir(desc, dir, now, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if valid {
		t.Fatal("offset older than retention window should not be valid")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("stale dir should have been removed")
	}
}

func TestRetentionMsDefaultsWhenUnset(t *testing.T) {
	desc := StoreDescriptor{}
	if got := desc.retentionMs(0); got != DefaultChangelogDeleteRetentionMs {
		t.Errorf("got %d, want %d", got, DefaultChangelogDeleteRetentionMs)
	}
	desc.ChangelogDeleteRetentionMs = 500
	if got := desc.retentionMs(0); got != 500 {
		t.Errorf("got %d, want 500", got)
	}
}

func TestRetentionMsFallbackOverridesPackageDefault(t *testing.T) {
	desc := StoreDescriptor{}
	if got := desc.retentionMs(2000); got != 2000 {
		t.Errorf("got %d, want fallback 2000", got)
	}
	desc.ChangelogDeleteRetentionMs = 500
	if got := desc.retentionMs(2000); got != 500 {
		t.Errorf("got %d, want descriptor's own 500 to win over fallback", got)
	}
}
