package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/unpacker/internal/model"
	"github.com/iliyamo/unpacker/internal/repository"
)

func newTestStore(durable repository.UserBackend, clock *fakeClock) *UserStore {
	return NewUserStore(UserStoreOptions{
		Durable:              durable,
		AutoDeleteDefaultMin: 30,
		Clock:                clock.Now,
	})
}

func TestUserStoreCreatesDefaults(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := newTestStore(nil, clock)

	p := s.Get(context.Background(), 42)
	assert.Equal(t, int64(42), p.ID)
	assert.False(t, p.Premium)
	assert.Equal(t, model.DefaultSettings(30), p.Settings)
	assert.Equal(t, "2026-03-01", p.Usage.LastResetDate)
	assert.Nil(t, p.Usage.LastTaskAt)
}

func TestUserStoreDayBoundaryReset(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC))
	s := newTestStore(nil, clock)

	_, err := s.RecordTask(ctx, 1, 100)
	require.NoError(t, err)
	_, err = s.RecordTask(ctx, 1, 50)
	require.NoError(t, err)
	p := s.Get(ctx, 1)
	assert.Equal(t, 2, p.Usage.DailyTaskCount)
	assert.InDelta(t, 150, p.Usage.DailySizeMB, 1e-9)

	clock.Advance(2 * time.Minute)
	p = s.Get(ctx, 1)
	assert.Equal(t, "2026-03-02", p.Usage.LastResetDate)
	assert.Zero(t, p.Usage.DailyTaskCount)
	assert.Zero(t, p.Usage.DailySizeMB)
	require.NotNil(t, p.Usage.LastTaskAt, "last task instant survives the reset")

	p, err = s.RecordTask(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Usage.DailyTaskCount)
	assert.InDelta(t, 10, p.Usage.DailySizeMB, 1e-9)
}

func TestUserStoreQuotaTimezone(t *testing.T) {
	ctx := context.Background()
	// 21:00 UTC is already the next day at UTC+5
	clock := newFakeClock(time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC))
	s := NewUserStore(UserStoreOptions{Clock: clock.Now, Location: time.FixedZone("UTC+5", 5*3600)})
	assert.Equal(t, "2026-03-02", s.Get(ctx, 1).Usage.LastResetDate)
}

func TestUserStoreReadThroughAndMirror(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	durable := newFakeDurable()
	stored := model.NewUserProfile(7, model.DefaultSettings(45), "2026-03-01")
	stored.Premium = true
	durable.users[7] = stored

	s := newTestStore(durable, clock)
	p := s.Get(ctx, 7)
	assert.True(t, p.Premium)
	assert.Equal(t, 45, p.Settings.AutoDeleteMinutes)

	_, err := s.RecordTask(ctx, 7, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, durable.incs)
	assert.Equal(t, 1, durable.users[7].Usage.DailyTaskCount)

	// unknown user: created with defaults and written through
	s.Get(ctx, 8)
	_, ok := durable.users[8]
	assert.True(t, ok)
}

func TestUserStoreIncrementFallsBackToUpsert(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	durable := newFakeDurable()
	durable.fail = true
	s := newTestStore(durable, clock)
	s.Get(ctx, 9) // created in memory only while the backend is down

	durable.fail = false
	_, err := s.RecordTask(ctx, 9, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, durable.users[9].Usage.DailyTaskCount)
}

func TestUserStorePersistsReadPathReset(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	durable := newFakeDurable()
	s := newTestStore(durable, clock)
	_, err := s.RecordTask(ctx, 3, 1)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	s.Get(ctx, 3)
	assert.Equal(t, "2026-03-02", durable.users[3].Usage.LastResetDate)
	assert.Zero(t, durable.users[3].Usage.DailyTaskCount)
}

func TestUserStoreMirrorKeepsDurableAdminFlags(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	durable := newFakeDurable()
	stored := model.NewUserProfile(11, model.DefaultSettings(30), "2026-02-28")
	stored.Premium = true
	stored.Banned = true
	durable.users[11] = stored

	// seeded with defaults while the backend is down
	durable.fail = true
	s := newTestStore(durable, clock)
	assert.False(t, s.Get(ctx, 11).Premium)
	durable.fail = false

	lang := "fa"
	_, err := s.UpdateSettings(ctx, 11, model.SettingsPatch{Language: &lang})
	require.NoError(t, err)

	got := durable.users[11]
	assert.True(t, got.Premium)
	assert.True(t, got.Banned)
	assert.Equal(t, "fa", got.Settings.Language)
	assert.Equal(t, "2026-03-01", got.Usage.LastResetDate)
	assert.Equal(t, 1, durable.patches)
	assert.Zero(t, durable.upserts)

	s.SetBanned(ctx, 11, false)
	assert.False(t, durable.users[11].Banned)
	assert.True(t, durable.users[11].Premium)
}

func TestUserStoreSurvivesFailingBackend(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	durable := newFakeDurable()
	durable.fail = true
	s := newTestStore(durable, clock)

	s.SetPremium(ctx, 5, true)
	s.SetBanned(ctx, 6, true)
	_, err := s.RecordTask(ctx, 5, 20)
	require.NoError(t, err)

	p := s.Get(ctx, 5)
	assert.True(t, p.Premium)
	assert.Equal(t, 1, p.Usage.DailyTaskCount)
	assert.True(t, s.IsBanned(ctx, 6))
	assert.Equal(t, []int64{5, 6}, s.ListUserIDs(ctx))
	assert.Equal(t, model.UserCounts{Total: 2, Premium: 1, Banned: 1}, s.Count(ctx))
}

func TestUserStoreUpdateSettings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(nil, newFakeClock(time.Now()))

	minutes := 90
	mode := model.ExtractSingle
	p, err := s.UpdateSettings(ctx, 1, model.SettingsPatch{AutoDeleteMinutes: &minutes, ExtractMode: &mode})
	require.NoError(t, err)
	assert.Equal(t, 90, p.Settings.AutoDeleteMinutes)
	assert.Equal(t, model.ExtractSingle, p.Settings.ExtractMode)
	assert.Equal(t, "en", p.Settings.Language)

	zero := 0
	_, err = s.UpdateSettings(ctx, 1, model.SettingsPatch{AutoDeleteMinutes: &zero})
	assert.ErrorIs(t, err, ErrInvalidSettings)
	bad := model.OutputMode("fax")
	_, err = s.UpdateSettings(ctx, 1, model.SettingsPatch{PreferredOutput: &bad})
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestUserStoreRejectsNegativeSize(t *testing.T) {
	s := newTestStore(nil, newFakeClock(time.Now()))
	_, err := s.RecordTask(context.Background(), 1, -1)
	assert.ErrorIs(t, err, ErrInvalidSize)
}
