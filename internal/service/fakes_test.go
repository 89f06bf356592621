package service

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/iliyamo/unpacker/internal/model"
	"github.com/iliyamo/unpacker/internal/queue"
	"github.com/iliyamo/unpacker/internal/repository"
)

// fakeDurable is an in-memory stand-in for a durable backend.  With fail
// set every call reports the backend as unavailable.
type fakeDurable struct {
	mu      sync.Mutex
	fail    bool
	users   map[int64]model.UserProfile
	temps   map[string]model.TempFileRecord
	upserts int
	incs    int
	patches int
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{
		users: make(map[int64]model.UserProfile),
		temps: make(map[string]model.TempFileRecord),
	}
}

func (f *fakeDurable) GetUser(_ context.Context, id int64) (model.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return model.UserProfile{}, repository.ErrBackendUnavailable
	}
	p, ok := f.users[id]
	if !ok {
		return model.UserProfile{}, repository.ErrNotFound
	}
	return p.Clone(), nil
}

func (f *fakeDurable) UpsertUser(_ context.Context, p model.UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return repository.ErrBackendUnavailable
	}
	f.upserts++
	f.users[p.ID] = p.Clone()
	return nil
}

func (f *fakeDurable) IncrementUsage(_ context.Context, id int64, d model.UsageDelta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return repository.ErrBackendUnavailable
	}
	p, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	f.incs++
	p.Apply(d)
	f.users[id] = p
	return nil
}

func (f *fakeDurable) PatchUser(_ context.Context, id int64, patch model.UserPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return repository.ErrBackendUnavailable
	}
	p, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	f.patches++
	p.ApplyPatch(patch)
	f.users[id] = p
	return nil
}

func (f *fakeDurable) ListUserIDs(context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, repository.ErrBackendUnavailable
	}
	var ids []int64
	for id := range f.users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (f *fakeDurable) CountUsers(context.Context) (model.UserCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return model.UserCounts{}, repository.ErrBackendUnavailable
	}
	var c model.UserCounts
	for _, p := range f.users {
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

func (f *fakeDurable) PutTempFile(_ context.Context, rec model.TempFileRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return repository.ErrBackendUnavailable
	}
	f.temps[rec.Path] = rec
	return nil
}

func (f *fakeDurable) ReapExpiredTempFiles(_ context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, repository.ErrBackendUnavailable
	}
	var out []string
	for p, rec := range f.temps {
		if rec.Expired(now) {
			out = append(out, p)
			delete(f.temps, p)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (f *fakeDurable) DeleteTempFile(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return repository.ErrBackendUnavailable
	}
	delete(f.temps, path)
	return nil
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingNotifier captures published events.
type recordingNotifier struct {
	mu     sync.Mutex
	tasks  []queue.TaskCompletedEvent
	reaped []queue.ArtifactsReapedEvent
}

func (n *recordingNotifier) PublishTaskCompleted(_ context.Context, ev queue.TaskCompletedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tasks = append(n.tasks, ev)
	return nil
}

func (n *recordingNotifier) PublishArtifactsReaped(_ context.Context, ev queue.ArtifactsReapedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reaped = append(n.reaped, ev)
	return nil
}
