package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/iliyamo/unpacker/internal/logging"
	"github.com/iliyamo/unpacker/internal/model"
	"github.com/iliyamo/unpacker/internal/repository"
)

// UserStore is the user-profile facade.  Every read and write goes to the
// in-memory shadow first and is then mirrored best-effort to the durable
// backend, so callers never see a durable failure.
//
// Daily counters are reset lazily: any operation that observes a
// LastResetDate other than today zeroes the counters before doing anything
// else, and the reset is persisted like any other write.
type UserStore struct {
	shadow   *repository.MemoryStore
	durable  repository.UserBackend
	defaults model.Settings
	loc      *time.Location
	now      func() time.Time
	timeout  time.Duration
	log      *logging.Logger
}

// UserStoreOptions configures NewUserStore.  Durable may be nil for memory
// only operation.
type UserStoreOptions struct {
	Durable              repository.UserBackend
	AutoDeleteDefaultMin int
	Location             *time.Location
	Clock                func() time.Time
	Timeout              time.Duration
	Logger               *logging.Logger
}

func NewUserStore(opts UserStoreOptions) *UserStore {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 1500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewTestLogger()
	}
	if opts.AutoDeleteDefaultMin <= 0 {
		opts.AutoDeleteDefaultMin = 30
	}
	return &UserStore{
		shadow:   repository.NewMemoryStore(),
		durable:  opts.Durable,
		defaults: model.DefaultSettings(opts.AutoDeleteDefaultMin),
		loc:      opts.Location,
		now:      opts.Clock,
		timeout:  opts.Timeout,
		log:      opts.Logger.With("component", "userstore"),
	}
}

// Durable reports whether a durable backend is attached.
func (s *UserStore) Durable() bool { return s.durable != nil }

// Today returns the current quota day.
func (s *UserStore) Today() string {
	return s.now().In(s.loc).Format(model.DateLayout)
}

// Get returns the profile, creating it with defaults on first reference.
func (s *UserStore) Get(ctx context.Context, id int64) model.UserProfile {
	s.load(ctx, id)
	today := s.Today()
	reset := false
	p, _ := s.shadow.Update(id, func(p *model.UserProfile) {
		reset = p.ResetIfStale(today)
	})
	if reset {
		s.mirrorPatch(ctx, p, model.UserPatch{ResetDay: today})
	}
	return p
}

// IsBanned reports the ban flag.
func (s *UserStore) IsBanned(ctx context.Context, id int64) bool {
	return s.Get(ctx, id).Banned
}

// RecordTask counts one task of sizeMB against today's usage and stamps
// LastTaskAt.
func (s *UserStore) RecordTask(ctx context.Context, id int64, sizeMB float64) (model.UserProfile, error) {
	if sizeMB < 0 {
		return model.UserProfile{}, fmt.Errorf("record task: %w", ErrInvalidSize)
	}
	s.load(ctx, id)
	delta := model.UsageDelta{SizeMB: sizeMB, At: s.now().UTC(), Day: s.Today()}
	p, _ := s.shadow.Update(id, func(p *model.UserProfile) { p.Apply(delta) })

	s.mirror(ctx, "increment_usage", func(ctx context.Context) error {
		err := s.durable.IncrementUsage(ctx, id, delta)
		if errors.Is(err, repository.ErrNotFound) {
			return s.durable.UpsertUser(ctx, p)
		}
		return err
	})
	return p, nil
}

// SetPremium toggles the premium tier.
func (s *UserStore) SetPremium(ctx context.Context, id int64, v bool) model.UserProfile {
	return s.update(ctx, id, model.UserPatch{Premium: &v})
}

// SetBanned toggles the ban flag.
func (s *UserStore) SetBanned(ctx context.Context, id int64, v bool) model.UserProfile {
	return s.update(ctx, id, model.UserPatch{Banned: &v})
}

// UpdateSettings merges patch into the user's settings.
func (s *UserStore) UpdateSettings(ctx context.Context, id int64, patch model.SettingsPatch) (model.UserProfile, error) {
	if err := validatePatch(patch); err != nil {
		return model.UserProfile{}, err
	}
	return s.update(ctx, id, model.UserPatch{Settings: patch}), nil
}

func validatePatch(patch model.SettingsPatch) error {
	if v := patch.AutoDeleteMinutes; v != nil && *v <= 0 {
		return fmt.Errorf("%w: auto_delete_min must be > 0", ErrInvalidSettings)
	}
	if v := patch.Language; v != nil && (len(*v) < 2 || len(*v) > 8) {
		return fmt.Errorf("%w: lang must be a language code", ErrInvalidSettings)
	}
	if v := patch.ExtractMode; v != nil && *v != model.ExtractFull && *v != model.ExtractSingle {
		return fmt.Errorf("%w: default_extract_mode must be full or single", ErrInvalidSettings)
	}
	if v := patch.PreferredOutput; v != nil && *v != model.OutputFile && *v != model.OutputLink {
		return fmt.Errorf("%w: preferred_output must be file or link", ErrInvalidSettings)
	}
	return nil
}

// ListUserIDs returns every known id: the durable listing merged with
// profiles that so far only exist in memory.
func (s *UserStore) ListUserIDs(ctx context.Context) []int64 {
	ids, _ := s.shadow.ListUserIDs(ctx)
	if s.durable == nil {
		return ids
	}
	dctx, cancel := s.durableCtx(ctx)
	defer cancel()
	remote, err := s.durable.ListUserIDs(dctx)
	if err != nil {
		s.failed("list_users", err)
		return ids
	}
	ids = append(ids, remote...)
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Count returns population counts from the durable backend when it
// answers, otherwise from memory.
func (s *UserStore) Count(ctx context.Context) model.UserCounts {
	if s.durable != nil {
		dctx, cancel := s.durableCtx(ctx)
		defer cancel()
		c, err := s.durable.CountUsers(dctx)
		if err == nil {
			return c
		}
		s.failed("count_users", err)
	}
	c, _ := s.shadow.CountUsers(ctx)
	return c
}

// update applies patch to the shadow after the day reset and mirrors the
// same patch.  Durable fields the patch does not name are left untouched.
func (s *UserStore) update(ctx context.Context, id int64, patch model.UserPatch) model.UserProfile {
	s.load(ctx, id)
	patch.ResetDay = s.Today()
	p, _ := s.shadow.Update(id, func(p *model.UserProfile) { p.ApplyPatch(patch) })
	s.mirrorPatch(ctx, p, patch)
	return p
}

// mirrorPatch sends patch to the durable backend, writing the whole shadow
// profile only when the durable copy does not exist yet.
func (s *UserStore) mirrorPatch(ctx context.Context, p model.UserProfile, patch model.UserPatch) {
	s.mirror(ctx, "patch_user", func(ctx context.Context) error {
		err := s.durable.PatchUser(ctx, p.ID, patch)
		if errors.Is(err, repository.ErrNotFound) {
			return s.durable.UpsertUser(ctx, p)
		}
		return err
	})
}

// load makes sure the shadow holds the profile: read-through from the
// durable backend, otherwise create defaults.
func (s *UserStore) load(ctx context.Context, id int64) {
	if _, err := s.shadow.GetUser(ctx, id); err == nil {
		return
	}
	durableMissing := false
	if s.durable != nil {
		dctx, cancel := s.durableCtx(ctx)
		p, err := s.durable.GetUser(dctx, id)
		cancel()
		switch {
		case err == nil:
			s.shadow.PutIfAbsent(p)
			return
		case errors.Is(err, repository.ErrNotFound):
			durableMissing = true
		default:
			s.failed("get_user", err)
		}
	}
	p := s.shadow.PutIfAbsent(model.NewUserProfile(id, s.defaults, s.Today()))
	if durableMissing {
		s.mirror(ctx, "upsert_user", func(ctx context.Context) error {
			return s.durable.UpsertUser(ctx, p)
		})
	}
	s.log.Debug("user profile created", "user_id", id)
}

// durableCtx bounds a durable call and detaches it from the caller's
// cancellation.
func (s *UserStore) durableCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func (s *UserStore) mirror(ctx context.Context, op string, fn func(context.Context) error) {
	if s.durable == nil {
		return
	}
	dctx, cancel := s.durableCtx(ctx)
	defer cancel()
	if err := fn(dctx); err != nil {
		s.failed(op, err)
	}
}

func (s *UserStore) failed(op string, err error) {
	mirrorFailures.WithLabelValues(op).Inc()
	s.log.Warn("durable backend call failed", "op", op, "err", err)
}
