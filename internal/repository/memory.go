package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/iliyamo/unpacker/internal/model"
)

// MemoryStore is the in-process user store.  It always works and is the
// shadow copy every read and write goes through first.
type MemoryStore struct {
	mu    sync.Mutex
	users map[int64]model.UserProfile
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[int64]model.UserProfile)}
}

func (m *MemoryStore) GetUser(_ context.Context, id int64) (model.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.users[id]
	if !ok {
		return model.UserProfile{}, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryStore) UpsertUser(_ context.Context, p model.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[p.ID] = p.Clone()
	return nil
}

// PutIfAbsent stores p unless a profile already exists and returns the
// stored profile.  Two concurrent first references end up sharing one
// profile.
func (m *MemoryStore) PutIfAbsent(p model.UserProfile) model.UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.users[p.ID]; ok {
		return cur.Clone()
	}
	m.users[p.ID] = p.Clone()
	return p.Clone()
}

// Update runs fn on the stored profile under the store lock and returns the
// result.  ErrNotFound when missing.
func (m *MemoryStore) Update(id int64, fn func(*model.UserProfile)) (model.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.users[id]
	if !ok {
		return model.UserProfile{}, ErrNotFound
	}
	fn(&p)
	m.users[id] = p
	return p.Clone(), nil
}

func (m *MemoryStore) IncrementUsage(_ context.Context, id int64, d model.UsageDelta) error {
	_, err := m.Update(id, func(p *model.UserProfile) { p.Apply(d) })
	return err
}

func (m *MemoryStore) PatchUser(_ context.Context, id int64, patch model.UserPatch) error {
	_, err := m.Update(id, func(p *model.UserProfile) { p.ApplyPatch(patch) })
	return err
}

func (m *MemoryStore) ListUserIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *MemoryStore) CountUsers(_ context.Context) (model.UserCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c model.UserCounts
	for _, p := range m.users {
		c.Total++
		if p.Premium {
			c.Premium++
		}
		if p.Banned {
			c.Banned++
		}
	}
	return c, nil
}
