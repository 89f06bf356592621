package service

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iliyamo/unpacker/internal/logging"
	"github.com/iliyamo/unpacker/internal/model"
	"github.com/iliyamo/unpacker/internal/repository"
)

// Registry tracks temporary artifacts until their TTL runs out.  Records
// live in a map keyed by path plus a min-heap ordered by expiry, so a reap
// only touches expired entries.  Registrations are mirrored best-effort to
// the durable backend and a reap also drains expired durable records, which
// covers artifacts registered before a restart.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*regEntry
	queue   expiryQueue
	// reported holds paths reaped from memory while the durable reap
	// failed, keyed by reap time.  Their durable copies are skipped when a
	// later reap returns them.
	reported map[string]time.Time

	durable repository.TempFileBackend
	now     func() time.Time
	timeout time.Duration
	log     *logging.Logger
}

type regEntry struct {
	rec     model.TempFileRecord
	expires time.Time
	index   int
}

// RegistryOptions configures NewRegistry.  Durable may be nil.
type RegistryOptions struct {
	Durable repository.TempFileBackend
	Clock   func() time.Time
	Timeout time.Duration
	Logger  *logging.Logger
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 1500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewTestLogger()
	}
	return &Registry{
		entries:  make(map[string]*regEntry),
		reported: make(map[string]time.Time),
		durable:  opts.Durable,
		now:     opts.Clock,
		timeout: opts.Timeout,
		log:     opts.Logger.With("component", "registry"),
	}
}

// Register records path for deletion ttlMinutes from now.  Registering a
// known path replaces its record.
func (r *Registry) Register(ctx context.Context, ownerID int64, path string, ttlMinutes int) (model.TempFileRecord, error) {
	if ttlMinutes <= 0 {
		return model.TempFileRecord{}, fmt.Errorf("register %q: %w", path, ErrInvalidTTL)
	}
	if path == "" {
		return model.TempFileRecord{}, ErrInvalidPath
	}
	rec := model.TempFileRecord{
		Path:       path,
		OwnerID:    ownerID,
		CreatedAt:  r.now().UTC(),
		TTLMinutes: ttlMinutes,
	}

	r.mu.Lock()
	delete(r.reported, path)
	if e, ok := r.entries[path]; ok {
		e.rec, e.expires = rec, rec.ExpiresAt()
		heap.Fix(&r.queue, e.index)
	} else {
		e := &regEntry{rec: rec, expires: rec.ExpiresAt()}
		r.entries[path] = e
		heap.Push(&r.queue, e)
	}
	registeredPaths.Set(float64(len(r.entries)))
	r.mu.Unlock()

	r.mirror(ctx, "put_temp_file", func(ctx context.Context) error {
		return r.durable.PutTempFile(ctx, rec)
	})
	return rec, nil
}

// Unregister forgets path without reporting it as expired.
func (r *Registry) Unregister(ctx context.Context, path string) {
	r.mu.Lock()
	if e, ok := r.entries[path]; ok {
		heap.Remove(&r.queue, e.index)
		delete(r.entries, path)
		registeredPaths.Set(float64(len(r.entries)))
	}
	r.mu.Unlock()

	r.mirror(ctx, "delete_temp_file", func(ctx context.Context) error {
		return r.durable.DeleteTempFile(ctx, path)
	})
}

// reportedRetention bounds how long a path reaped during a durable outage
// is remembered.
const reportedRetention = time.Hour

// ListAndReapExpired removes every record whose expiry is at or before now
// and returns the deduplicated paths.  A path is reported once per
// registration, including when its durable copy outlives a failed durable
// reap.
func (r *Registry) ListAndReapExpired(ctx context.Context, now time.Time) []string {
	r.mu.Lock()
	var paths []string
	seen := make(map[string]struct{})
	for r.queue.Len() > 0 && !r.queue[0].expires.After(now) {
		e := heap.Pop(&r.queue).(*regEntry)
		delete(r.entries, e.rec.Path)
		paths = append(paths, e.rec.Path)
		seen[e.rec.Path] = struct{}{}
	}
	registeredPaths.Set(float64(len(r.entries)))
	r.mu.Unlock()

	if r.durable == nil {
		return paths
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	remote, err := r.durable.ReapExpiredTempFiles(dctx, now)

	r.mu.Lock()
	defer r.mu.Unlock()
	for p, at := range r.reported {
		if now.Sub(at) > reportedRetention {
			delete(r.reported, p)
		}
	}
	if err != nil {
		r.failed("reap_temp_files", err)
		for _, p := range paths {
			r.reported[p] = now
		}
		return paths
	}
	for _, p := range remote {
		if _, dup := seen[p]; dup {
			continue
		}
		if _, done := r.reported[p]; done {
			delete(r.reported, p)
			continue
		}
		// still live in memory: the durable copy is a stale mirror
		if _, live := r.entries[p]; live {
			continue
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	return paths
}

// Len is the number of records held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) mirror(ctx context.Context, op string, fn func(context.Context) error) {
	if r.durable == nil {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := fn(dctx); err != nil {
		r.failed(op, err)
	}
}

func (r *Registry) failed(op string, err error) {
	mirrorFailures.WithLabelValues(op).Inc()
	r.log.Warn("durable backend call failed", "op", op, "err", err)
}

// expiryQueue implements heap.Interface ordered by expiry.
type expiryQueue []*regEntry

func (q expiryQueue) Len() int           { return len(q) }
func (q expiryQueue) Less(i, j int) bool { return q[i].expires.Before(q[j].expires) }
func (q expiryQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *expiryQueue) Push(x any) {
	e := x.(*regEntry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}
