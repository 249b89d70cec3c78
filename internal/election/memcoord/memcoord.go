// Package memcoord implements election.Coordinator in memory, for
// deterministic tests and the CLI's single-process, multi-participant
// election demo.
// It models the same semantics a real hierarchical coordination service
// would expose: ephemeral sequential children under a parent path, and
// data-change/data-deleted watch callbacks.
package memcoord

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"taskcore/internal/election"
)

// Service is an in-memory coordination tree. One Service instance
// stands in for one coordination-service cluster; any number of
// Electors can share it.
type Service struct {
	mu       sync.Mutex
	seq      map[string]int64 // parent -> next sequence
	children map[string]map[string][]byte
	watches  map[string]election.WatchHandler
}

// NewService creates an empty coordination tree.
func NewService() *Service {
	return &Service{
		seq:      map[string]int64{},
		children: map[string]map[string][]byte{},
		watches:  map[string]election.WatchHandler{},
	}
}

// CreateEphemeralSequential implements election.Coordinator.
func (s *Service) CreateEphemeralSequential(_ context.Context, parent election.ProcessorsPath, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := string(parent)
	n := s.seq[p]
	s.seq[p] = n + 1
	name := fmt.Sprintf("n-%010d", n)
	if s.children[p] == nil {
		s.children[p] = map[string][]byte{}
	}
	s.children[p][name] = payload
	return p + "/" + name, nil
}

// GetChildren implements election.Coordinator.
func (s *Service) GetChildren(_ context.Context, parent election.ProcessorsPath) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kids := s.children[string(parent)]
	out := make([]string, 0, len(kids))
	for name := range kids {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Exists implements election.Coordinator.
func (s *Service) Exists(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, name := split(path)
	kids, ok := s.children[parent]
	if !ok {
		return false, nil
	}
	_, ok = kids[name]
	return ok, nil
}

// SubscribeDataChanges implements election.Coordinator.
func (s *Service) SubscribeDataChanges(_ context.Context, path string, handler election.WatchHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watches[path] = handler
	return nil
}

// UnsubscribeDataChanges implements election.Coordinator.
func (s *Service) UnsubscribeDataChanges(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watches, path)
	return nil
}

// DeleteNode removes path (simulating an ephemeral node's session-close
// deletion, e.g. a participant being terminated in a demo or test) and
// fires any active data-deleted watch.
func (s *Service) DeleteNode(path string) {
	s.mu.Lock()
	parent, name := split(path)
	if kids, ok := s.children[parent]; ok {
		delete(kids, name)
	}
	handler, watched := s.watches[path]
	s.mu.Unlock()

	if watched {
		handler.OnDataDeleted(path)
	}
}

// TouchNode simulates a data-changed event on path without deleting it.
func (s *Service) TouchNode(path string) {
	s.mu.Lock()
	handler, watched := s.watches[path]
	s.mu.Unlock()
	if watched {
		handler.OnDataChanged(path)
	}
}

func split(path string) (parent, name string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

var _ election.Coordinator = (*Service)(nil)
