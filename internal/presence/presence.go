// Package presence maps actors to the live connection that last announced
// them. It is advisory: the ride record is the source of truth.
package presence

import (
	"context"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

type Registry interface {
	Register(ctx context.Context, actorID string, actorType models.ActorType, connID string) error
	Lookup(ctx context.Context, actorID string, actorType models.ActorType) (string, bool, error)
	// Clear drops every binding that still points at connID.
	Clear(ctx context.Context, connID string) error
}

type actorKey struct {
	id  string
	typ models.ActorType
}

// Memory keeps bindings in process.
type Memory struct {
	mu      sync.Mutex
	byActor map[actorKey]string
	byConn  map[string]map[actorKey]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		byActor: make(map[actorKey]string),
		byConn:  make(map[string]map[actorKey]struct{}),
	}
}

func (m *Memory) Register(ctx context.Context, actorID string, actorType models.ActorType, connID string) error {
	k := actorKey{actorID, actorType}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.byActor[k]; ok && old != connID {
		m.detach(old, k)
	}
	m.byActor[k] = connID
	set := m.byConn[connID]
	if set == nil {
		set = make(map[actorKey]struct{})
		m.byConn[connID] = set
	}
	set[k] = struct{}{}
	return nil
}

func (m *Memory) Lookup(ctx context.Context, actorID string, actorType models.ActorType) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byActor[actorKey{actorID, actorType}]
	return c, ok, nil
}

func (m *Memory) Clear(ctx context.Context, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.byConn[connID] {
		if m.byActor[k] == connID {
			delete(m.byActor, k)
		}
	}
	delete(m.byConn, connID)
	return nil
}

func (m *Memory) detach(connID string, k actorKey) {
	set := m.byConn[connID]
	delete(set, k)
	if len(set) == 0 {
		delete(m.byConn, connID)
	}
}
