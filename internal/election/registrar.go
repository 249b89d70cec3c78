package election

import (
	"context"
	"fmt"
	"sync"

	"taskcore/internal/callgroup"
)

// nodePayload formats the data stored in a participant's ephemeral
// sequential node: its hostname followed by the session identifier that
// lets a reconnecting process recognize "this was mine" independent of
// hostname collisions in multi-process demos.
func nodePayload(hostname, sessionID string) []byte {
	return []byte(hostname + "\x00" + sessionID)
}

// registrar is the Participant Registrar (SPEC_FULL.md §4.7): given a
// hostname, ensures this process has exactly one ephemeral sequential
// child under parent, returning its full path. The first call within a
// session creates the node; every subsequent call returns the cached
// path without contacting the coordinator again. Concurrent first calls
// collapse into a single CreateEphemeralSequential via callgroup, so two
// goroutines racing to register the same process's node never create
// two siblings.
type registrar struct {
	coord     Coordinator
	parent    ProcessorsPath
	hostname  string
	sessionID string

	group callgroup.Group[string]

	mu   sync.Mutex
	path string // "" until registered
}

// register returns this process's participant path, registering it with
// the coordinator on first call and reusing the cached path thereafter.
func (r *registrar) register(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.path != "" {
		p := r.path
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	err := <-r.group.DoChan(r.sessionID, func() error {
		r.mu.Lock()
		registered := r.path != ""
		r.mu.Unlock()
		if registered {
			return nil
		}
		path, err := r.coord.CreateEphemeralSequential(ctx, r.parent, nodePayload(r.hostname, r.sessionID))
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.path = path
		r.mu.Unlock()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create ephemeral sequential node under %s: %w", r.parent, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path, nil
}
