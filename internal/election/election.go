// Package election implements leader election atop a hierarchical
// coordination service (e.g. a ZooKeeper-like tree of ephemeral
// sequential nodes). An Elector has at most one outstanding predecessor
// watch at a time and rewires it as the sibling list changes, so that
// at any quiescent point exactly one participant sharing a processors
// path is leader.
//
// Logging is dependency-injected via Config.Logger, never a package
// global. Components that don't receive a logger use a discard logger.
package election

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"taskcore/internal/logging"
)

// ProcessorsPath is the coordination-service parent node under which
// every participant registers an ephemeral sequential child.
type ProcessorsPath string

// Coordinator is the hierarchical coordination service this package
// consumes: an abstract key-value tree supporting ephemeral sequential
// node creation, child listing, existence checks, and data-change
// watches. A real implementation (not provided here) would wrap a
// client such as ZooKeeper or etcd; election/memcoord is the in-memory
// demo/test implementation.
type Coordinator interface {
	// CreateEphemeralSequential creates a child of parent whose name is
	// a service-chosen prefix plus a server-assigned, monotonically
	// increasing sequence, populated with payload. Returns the child's
	// full path. The node is deleted automatically when this
	// Coordinator's session ends.
	CreateEphemeralSequential(ctx context.Context, parent ProcessorsPath, payload []byte) (string, error)

	// GetChildren lists the basenames of parent's current children.
	GetChildren(ctx context.Context, parent ProcessorsPath) ([]string, error)

	// Exists reports whether path currently exists.
	Exists(ctx context.Context, path string) (bool, error)

	// SubscribeDataChanges registers handler to be invoked on data
	// changes and deletions of path. At most one subscription per path
	// per handler is meaningful; registering twice is the caller's
	// error to avoid.
	SubscribeDataChanges(ctx context.Context, path string, handler WatchHandler) error

	// UnsubscribeDataChanges removes a prior subscription. Unsubscribing
	// a path with no active subscription is a no-op.
	UnsubscribeDataChanges(ctx context.Context, path string) error
}

// WatchHandler receives coordination-service watch callbacks for one
// subscribed path.
type WatchHandler interface {
	OnDataChanged(path string)
	OnDataDeleted(path string)
}

var (
	// ErrReconnectNeeded is returned when this participant's node is not
	// present among processorsPath's children, meaning the session must
	// be considered lost. The caller decides whether and how to retry.
	ErrReconnectNeeded = errors.New("election: participant not present in children list, reconnect needed")

	// ErrUnknownHost is returned at construction when the local hostname
	// cannot be determined.
	ErrUnknownHost = errors.New("election: could not determine local hostname")
)

// Config configures an Elector.
type Config struct {
	Coordinator    Coordinator
	ProcessorsPath ProcessorsPath

	// Hostname identifies this participant in its node's payload.
	// Required; construction fails with ErrUnknownHost if empty.
	Hostname string

	// SessionID distinguishes this process's registration across
	// reconnects within the same Coordinator session. If empty, a fresh
	// uuid is generated, so a reconnecting process passing its previous
	// SessionID back in is recognized as "the same session" even when
	// Hostname collides with another participant in a multi-process demo.
	SessionID string

	// Rand supplies the jitter sleep's random source. If nil, each
	// Elector gets its own *rand.Rand seeded with 1; tests can inject a
	// deterministic source.
	Rand *rand.Rand

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(1))
	}
}

// Elector runs the election state machine for one participant sharing
// Config.ProcessorsPath with its siblings.
type Elector struct {
	cfg    Config
	logger *slog.Logger

	registrar *registrar

	// mu serializes tryBecomeLeader callers against the watch-handler
	// callback goroutine, per SPEC_FULL.md §5's two-thread model.
	mu                  sync.Mutex
	currentSubscription string // predecessor basename, "" means none

	isLeader atomic.Bool

	closed atomic.Bool
}

// New constructs an Elector. It does not register a node or contend for
// leadership until TryBecomeLeader is first called.
func New(cfg Config) (*Elector, error) {
	if cfg.Hostname == "" {
		return nil, ErrUnknownHost
	}
	cfg.applyDefaults()
	logger := logging.Default(cfg.Logger).With("component", "election", "processorsPath", string(cfg.ProcessorsPath))
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Elector{
		cfg:    cfg,
		logger: logger,
		registrar: &registrar{
			coord:     cfg.Coordinator,
			parent:    cfg.ProcessorsPath,
			hostname:  cfg.Hostname,
			sessionID: sessionID,
		},
	}, nil
}

// TryBecomeLeader runs the election algorithm: register this
// participant if needed, rank it against its siblings, and either
// declare leadership or attach/rewire a watch on the immediate
// predecessor. Implemented as an explicit loop rather than recursion;
// the predecessor-vanished race can repeat once per remaining sibling,
// and the loop has no iteration cap of its own.
func (e *Elector) TryBecomeLeader(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tryBecomeLeaderLocked(ctx)
}

func (e *Elector) tryBecomeLeaderLocked(ctx context.Context) (bool, error) {
	for {
		path, err := e.registrar.register(ctx)
		if err != nil {
			return false, fmt.Errorf("register participant: %w", err)
		}

		siblings, err := e.cfg.Coordinator.GetChildren(ctx, e.cfg.ProcessorsPath)
		if err != nil {
			return false, fmt.Errorf("list children of %s: %w", e.cfg.ProcessorsPath, err)
		}
		sortBySequence(siblings)

		myBase := basename(path)
		idx := indexOf(siblings, myBase)
		if idx < 0 {
			return false, ErrReconnectNeeded
		}

		if idx == 0 {
			e.isLeader.Store(true)
			return true, nil
		}

		e.isLeader.Store(false)
		pred := siblings[idx-1]
		if pred != e.currentSubscription {
			if e.currentSubscription != "" {
				oldPath := string(e.cfg.ProcessorsPath) + "/" + e.currentSubscription
				if err := e.cfg.Coordinator.UnsubscribeDataChanges(ctx, oldPath); err != nil {
					e.logger.Warn("unsubscribe old predecessor failed", "path", oldPath, "error", err)
				}
			}
			predPath := string(e.cfg.ProcessorsPath) + "/" + pred
			if err := e.cfg.Coordinator.SubscribeDataChanges(ctx, predPath, (*watchAdapter)(e)); err != nil {
				return false, fmt.Errorf("subscribe to predecessor %s: %w", predPath, err)
			}
			e.currentSubscription = pred
		}

		predPath := string(e.cfg.ProcessorsPath) + "/" + pred
		exists, err := e.cfg.Coordinator.Exists(ctx, predPath)
		if err != nil {
			return false, fmt.Errorf("check predecessor %s exists: %w", predPath, err)
		}
		if exists {
			return false, nil
		}

		jitterSleep(ctx, e.cfg.Rand)
	}
}

// ResignLeadership clears the leadership flag. It does not delete the
// participant's node; session close handles that.
func (e *Elector) ResignLeadership() {
	e.isLeader.Store(false)
}

// AmILeader reports the current leadership flag.
func (e *Elector) AmILeader() bool {
	return e.isLeader.Load()
}

// Path returns this process's participant path, registering it with the
// coordinator if it has not already done so.
func (e *Elector) Path(ctx context.Context) (string, error) {
	return e.registrar.register(ctx)
}

// Close unsubscribes any outstanding predecessor watch. It does not
// delete the participant's ephemeral node; that is the coordination
// session's responsibility on disconnect. Not itself a leadership
// operation, but necessary for clean process shutdown.
func (e *Elector) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentSubscription == "" {
		return nil
	}
	path := string(e.cfg.ProcessorsPath) + "/" + e.currentSubscription
	err := e.cfg.Coordinator.UnsubscribeDataChanges(ctx, path)
	e.currentSubscription = ""
	if err != nil {
		return fmt.Errorf("unsubscribe on close: %w", err)
	}
	return nil
}

// watchAdapter adapts an *Elector to WatchHandler without exporting
// OnDataChanged/OnDataDeleted as part of the Elector's own API.
type watchAdapter Elector

func (w *watchAdapter) OnDataChanged(path string) {
	(*Elector)(w).logger.Debug("predecessor data changed", "path", path)
}

func (w *watchAdapter) OnDataDeleted(path string) {
	e := (*Elector)(w)
	e.logger.Info("predecessor deleted, re-running election", "path", path)
	ctx := context.Background()
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.tryBecomeLeaderLocked(ctx); err != nil {
		e.logger.Error("re-election after predecessor deletion failed", "error", err)
	}
}

func basename(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return path
	}
	return path[i+1:]
}

func indexOf(siblings []string, name string) int {
	for i, s := range siblings {
		if s == name {
			return i
		}
	}
	return -1
}

// sortBySequence sorts basenames ascending by their numeric sequence
// suffix, the coordination service's server-assigned tail after the
// last hyphen.
func sortBySequence(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return sequenceOf(names[i]) < sequenceOf(names[j])
	})
}

func sequenceOf(name string) int64 {
	i := strings.LastIndex(name, "-")
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseInt(name[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func jitterSleep(ctx context.Context, r *rand.Rand) {
	d := jitterDuration(r)
	select {
	case <-ctx.Done():
	case <-sleepChan(d):
	}
}
