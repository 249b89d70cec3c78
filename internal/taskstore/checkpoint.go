package taskstore

import (
	"context"
	"sync"
)

// newestOffsetRetries is the bounded retry count used when the extended
// admin's single-SSP newest-offset call is available. The
// metadata-fallback path below does not retry at all. This asymmetry
// is preserved intentionally (SPEC_FULL.md §9.1, OQ3).
const newestOffsetRetries = 3

// flushChangelogOffsetFiles is the Offset Checkpointer (SPEC_FULL.md
// §4.5). For every store that is both logged and persisted, it writes
// (or, for an empty changelog, deletes) that store's OFFSET file.
//
// Stores are checkpointed concurrently, but one store's failure must
// never affect another's, so this uses a plain WaitGroup with a
// per-goroutine recover-and-log rather than errgroup.Group, whose
// Wait() would otherwise treat the first error as fatal to the whole
// batch (SPEC_FULL.md §5.1).
func (m *Manager) flushChangelogOffsetFiles(ctx context.Context) {
	var wg sync.WaitGroup
	for _, d := range m.descs {
		if !d.Properties.IsLoggedStore || !d.Properties.IsPersistedToDisk {
			continue
		}
		if d.Changelog == nil {
			continue
		}
		d := d
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("checkpoint panicked, next init will restore more",
						"store", d.Name, "panic", r)
				}
			}()
			if err := m.checkpointStore(ctx, d); err != nil {
				m.logger.Error("checkpoint failed, next init will restore more",
					"store", d.Name, "error", err)
			}
		}()
	}
	wg.Wait()
}

func (m *Manager) checkpointStore(ctx context.Context, d StoreDescriptor) error {
	ssp := d.Changelog.ssp(m.part)
	dir := loggedPartitionDir(m.cfg.LoggedStoreBaseDir, d.Name, m.task)

	offset, err := m.newestOffset(ctx, d, ssp)
	if err != nil {
		return err
	}

	if offset == nil {
		return deleteOffsetFile(dir)
	}
	return writeOffsetFile(dir, offset.Value)
}

// newestOffset prefers the extended admin's single-SSP call, falling
// back to full stream metadata when the admin for ssp's system does not
// implement NewestOffsetAdmin.
func (m *Manager) newestOffset(ctx context.Context, d StoreDescriptor, ssp SSP) (*Offset, error) {
	admin, ok := m.cfg.Admins[ssp.System]
	if !ok {
		return nil, &MissingSystemAdminError{System: ssp.System}
	}

	if ext, ok := admin.(NewestOffsetAdmin); ok {
		return ext.GetNewestOffset(ctx, ssp, newestOffsetRetries)
	}

	meta, err := admin.GetSystemStreamMetadata(ctx, []ChangelogStream{*d.Changelog})
	if err != nil {
		return nil, err
	}
	sm, ok := meta[*d.Changelog]
	if !ok {
		return nil, nil
	}
	return sm.NewestOffsets[m.part], nil
}
