package taskstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"
)

// Manager maintains the local state stores of one partition of one task,
// keeping each logged store consistent with its changelog (SPEC_FULL.md
// §2). Init, Flush, and Stop are called by the task's driver thread and
// are never invoked concurrently with one another.
type Manager struct {
	task  TaskName
	part  Partition
	cfg   Config
	descs []StoreDescriptor

	persistedStores map[string]bool
	toRestore       map[string]bool

	changelogOldestOffsets map[ChangelogStream]map[Partition]*Offset
	fileOffset             map[SSP]string

	logger *slog.Logger
}

// NewManager constructs a Manager for the given task partition and set
// of store descriptors. Descriptors are an immutable set for the
// lifetime of the manager.
func NewManager(task TaskName, part Partition, cfg Config, descs []StoreDescriptor) (*Manager, error) {
	if task == "" {
		return nil, fmt.Errorf("taskstore: task name must not be empty")
	}
	if cfg.ChangeLogStreamPartitions <= 0 {
		return nil, fmt.Errorf("taskstore: ChangeLogStreamPartitions must be configured")
	}
	cfg.applyDefaults()

	m := &Manager{
		task:                   task,
		part:                   part,
		cfg:                    cfg,
		descs:                  descs,
		persistedStores:        map[string]bool{},
		toRestore:              map[string]bool{},
		changelogOldestOffsets: map[ChangelogStream]map[Partition]*Offset{},
		fileOffset:             map[SSP]string{},
		logger:                 scopedLogger(cfg.Logger),
	}
	for _, d := range descs {
		if d.Properties.IsPersistedToDisk {
			m.persistedStores[d.Name] = true
		}
		if d.Properties.IsLoggedStore {
			m.toRestore[d.Name] = true
		}
	}
	return m, nil
}

// Store returns the named store's engine handle, and whether it exists.
func (m *Manager) Store(name string) (StorageEngine, bool) {
	for _, d := range m.descs {
		if d.Name == name {
			return d.Engine, true
		}
	}
	return nil, false
}

// Init performs the six ordered phases of SPEC_FULL.md §4.2. Any error
// from phases 3-5 aborts init and is returned to the caller; no partial
// rollback of already-completed phases is attempted.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.cleanBaseDirs(); err != nil {
		return fmt.Errorf("clean base dirs: %w", err)
	}
	if err := m.setupBaseDirs(); err != nil {
		return fmt.Errorf("setup base dirs: %w", err)
	}
	if err := m.validateChangelogStreams(ctx); err != nil {
		return fmt.Errorf("validate changelog streams: %w", err)
	}
	if err := m.startConsumers(ctx); err != nil {
		return fmt.Errorf("start consumers: %w", err)
	}
	if err := m.restoreStores(); err != nil {
		return fmt.Errorf("restore stores: %w", err)
	}
	if err := m.stopConsumers(); err != nil {
		return fmt.Errorf("stop consumers: %w", err)
	}
	m.logger.Info("init complete", "task", m.task, "partition", m.part, "stores", len(m.descs))
	return nil
}

// cleanBaseDirs is phase 1: delete every non-logged store's directory
// unconditionally, and evaluate every logged store's directory via the
// Directory Validator, seeding fileOffset for those that survive.
func (m *Manager) cleanBaseDirs() error {
	now := m.cfg.Now()
	for _, d := range m.descs {
		if !d.Properties.IsLoggedStore {
			dir := nonLoggedPartitionDir(m.cfg.StoreBaseDir, d.Name, m.task)
			if err := removeIfPresent(dir); err != nil {
				return err
			}
			continue
		}

		dir := loggedPartitionDir(m.cfg.LoggedStoreBaseDir, d.Name, m.task)
		offset, valid, err := validateLoggedDir(d, dir, now, m.cfg.DefaultChangelogDeleteRetentionMs)
		if err != nil {
			return err
		}
		if valid && d.Changelog != nil {
			ssp := d.Changelog.ssp(m.part)
			m.fileOffset[ssp] = offset
			m.logger.Debug("reusing logged store directory", "store", d.Name, "offset", offset)
		}
	}
	return nil
}

// setupBaseDirs is phase 2: create each store's partition directory if
// absent. The non-logged path always calls MkdirAll; the logged path
// checks existence first. Both converge on the same end state; this
// asymmetry is preserved intentionally (SPEC_FULL.md §9.1, OQ2).
func (m *Manager) setupBaseDirs() error {
	for _, d := range m.descs {
		dir := partitionDir(m.cfg, d, m.task)
		if d.Properties.IsLoggedStore {
			exists, err := statDir(dir)
			if err != nil {
				return err
			}
			if !exists {
				if err := mkdirAll(dir); err != nil {
					return err
				}
			}
			continue
		}
		if err := mkdirAll(dir); err != nil {
			return err
		}
	}
	return nil
}

// validateChangelogStreams is phase 3: for each distinct changelog,
// validate partition count, then gather metadata for all changelogs in
// one batch and extract this partition's oldest offset.
func (m *Manager) validateChangelogStreams(ctx context.Context) error {
	streams := m.distinctChangelogs()
	if len(streams) == 0 {
		return nil
	}

	byAdmin := map[string][]ChangelogStream{}
	for _, s := range streams {
		byAdmin[s.System] = append(byAdmin[s.System], s)
	}

	for system, group := range byAdmin {
		admin, ok := m.cfg.Admins[system]
		if !ok {
			return &MissingSystemAdminError{System: system}
		}
		for _, s := range group {
			if err := admin.ValidateChangelogStream(ctx, s, m.cfg.ChangeLogStreamPartitions); err != nil {
				return err
			}
		}
		meta, err := admin.GetSystemStreamMetadata(ctx, group)
		if err != nil {
			return fmt.Errorf("get stream metadata for system %s: %w", system, err)
		}
		for _, s := range group {
			sm, ok := meta[s]
			if !ok {
				continue
			}
			if _, ok := m.changelogOldestOffsets[s]; !ok {
				m.changelogOldestOffsets[s] = map[Partition]*Offset{}
			}
			if off, ok := sm.OldestOffsets[m.part]; ok {
				m.changelogOldestOffsets[s][m.part] = off
			}
		}
	}
	return nil
}

func (m *Manager) distinctChangelogs() []ChangelogStream {
	seen := map[ChangelogStream]bool{}
	var out []ChangelogStream
	for _, d := range m.descs {
		if d.Changelog == nil {
			continue
		}
		if seen[*d.Changelog] {
			continue
		}
		seen[*d.Changelog] = true
		out = append(out, *d.Changelog)
	}
	return out
}

// startConsumers is phase 4: resolve a starting offset for each store
// with a changelog and register it, then start the consumer. A store
// whose changelog resolves to a null offset (empty changelog) is
// dropped from toRestore and never registered; a default must never be
// substituted here (SPEC_FULL.md §9.1, OQ4).
func (m *Manager) startConsumers(ctx context.Context) error {
	for _, d := range m.descs {
		if d.Changelog == nil {
			continue
		}
		ssp := d.Changelog.ssp(m.part)

		if saved, ok := m.fileOffset[ssp]; ok {
			if err := m.cfg.Consumer.Register(ssp, Offset{Value: saved}); err != nil {
				return fmt.Errorf("register consumer for %s: %w", ssp, err)
			}
			continue
		}

		oldest, ok := m.changelogOldestOffsets[*d.Changelog][m.part]
		if !ok {
			return &MissingChangelogOffsetError{SSP: ssp}
		}
		if oldest == nil {
			delete(m.toRestore, d.Name)
			m.logger.Debug("changelog is empty, skipping restore", "store", d.Name)
			continue
		}
		if err := m.cfg.Consumer.Register(ssp, *oldest); err != nil {
			return fmt.Errorf("register consumer for %s: %w", ssp, err)
		}
	}
	return m.cfg.Consumer.Start(ctx)
}

// restoreStores is phase 5: hand each remaining logged store's
// restoration iterator to its engine. Independent stores restore
// concurrently; any single failure aborts the whole phase.
func (m *Manager) restoreStores() error {
	var g errgroup.Group
	for _, d := range m.descs {
		d := d
		if !m.toRestore[d.Name] || d.Changelog == nil {
			continue
		}
		ssp := d.Changelog.ssp(m.part)
		it := m.cfg.Consumer.Iterator(ssp)
		g.Go(func() error {
			if err := d.Engine.Restore(it); err != nil {
				return fmt.Errorf("restore store %s: %w", d.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// stopConsumers is phase 6.
func (m *Manager) stopConsumers() error {
	return m.cfg.Consumer.Stop()
}

// Flush drives every engine's Flush in declaration order, then
// checkpoints. SPEC_FULL.md §4.4 requires engine flushes to complete
// before any checkpoint's newest-offset read begins.
func (m *Manager) Flush(ctx context.Context) error {
	for _, d := range m.descs {
		if err := d.Engine.Flush(); err != nil {
			return fmt.Errorf("flush store %s: %w", d.Name, err)
		}
	}
	m.flushChangelogOffsetFiles(ctx)
	return nil
}

// Stop stops every engine, then checkpoints.
func (m *Manager) Stop(ctx context.Context) error {
	for _, d := range m.descs {
		if err := d.Engine.Stop(); err != nil {
			return fmt.Errorf("stop store %s: %w", d.Name, err)
		}
	}
	m.flushChangelogOffsetFiles(ctx)
	return nil
}

func mkdirAll(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

// statDir reports whether dir already exists.
func statDir(dir string) (bool, error) {
	_, err := os.Stat(dir)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", dir, err)
}
