package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore keeps everything in process. One mutex guards all maps so a
// transition's check and write happen under the same lock.
type MemoryStore struct {
	mu      sync.RWMutex
	rides   map[string]models.Ride
	riders  map[string]models.Rider
	drivers map[string]models.Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:   make(map[string]models.Ride),
		riders:  make(map[string]models.Rider),
		drivers: make(map[string]models.Driver),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
func (m *MemoryStore) Close() error                   { return nil }

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) TransitionRide(ctx context.Context, id string, t Transition) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != t.From || (t.OTP != "" && r.OTP != t.OTP) {
		return nil, ErrPrecondition
	}
	r.Status = t.To
	r.UpdatedAt = t.At
	if t.DriverID != "" {
		r.DriverID = t.DriverID
	}
	if t.Start {
		at := t.At
		r.StartedAt = &at
	}
	if t.End {
		at := t.At
		r.EndedAt = &at
		if r.StartedAt != nil {
			mins := durationMinutes(*r.StartedAt, at)
			r.TotalDurationMinutes = &mins
		}
	}
	m.rides[id] = r
	return &r, nil
}

func (m *MemoryStore) ListPendingBefore(ctx context.Context, before time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, r := range m.rides {
		if r.Status == models.RidePending && r.CreatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// UpsertRider writes the profile columns. An existing rider keeps its
// connection id.
func (m *MemoryStore) UpsertRider(ctx context.Context, r models.Rider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.riders[r.ID]; ok {
		r.ConnectionID = cur.ConnectionID
	}
	m.riders[r.ID] = r
	return nil
}

// UpsertDriver writes the profile columns. Status, location and connection id
// are taken from d only when the driver is new.
func (m *MemoryStore) UpsertDriver(ctx context.Context, d models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.drivers[d.ID]; ok {
		d.Status = cur.Status
		d.Location = cur.Location
		d.ConnectionID = cur.ConnectionID
		d.Updated = cur.Updated
	} else if d.Location != nil {
		loc := *d.Location
		d.Location = &loc
	}
	m.drivers[d.ID] = d
	return nil
}

func (m *MemoryStore) GetRider(ctx context.Context, id string) (*models.Rider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.riders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

// GetDrivers skips unknown ids.
func (m *MemoryStore) GetDrivers(ctx context.Context, ids []string) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Driver, 0, len(ids))
	for _, id := range ids {
		if d, ok := m.drivers[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListLocatedDrivers(ctx context.Context) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		if d.Location != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateDriverLocation(ctx context.Context, id string, loc models.Coord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrNotFound
	}
	d.Location = &loc
	d.Updated = time.Now()
	m.drivers[id] = d
	return nil
}

func (m *MemoryStore) SetConnectionID(ctx context.Context, actorType models.ActorType, id, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch actorType {
	case models.ActorRider:
		r, ok := m.riders[id]
		if !ok {
			return ErrNotFound
		}
		r.ConnectionID = connID
		m.riders[id] = r
	case models.ActorDriver:
		d, ok := m.drivers[id]
		if !ok {
			return ErrNotFound
		}
		d.ConnectionID = connID
		m.drivers[id] = d
	default:
		return ErrNotFound
	}
	return nil
}

func (m *MemoryStore) GetConnectionID(ctx context.Context, actorType models.ActorType, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch actorType {
	case models.ActorRider:
		if r, ok := m.riders[id]; ok {
			return r.ConnectionID, nil
		}
	case models.ActorDriver:
		if d, ok := m.drivers[id]; ok {
			return d.ConnectionID, nil
		}
	}
	return "", ErrNotFound
}

func (m *MemoryStore) ClearConnectionID(ctx context.Context, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.riders {
		if r.ConnectionID == connID {
			r.ConnectionID = ""
			m.riders[id] = r
		}
	}
	for id, d := range m.drivers {
		if d.ConnectionID == connID {
			d.ConnectionID = ""
			m.drivers[id] = d
		}
	}
	return nil
}
