package model

import "time"

// DateLayout is the layout used for Usage.LastResetDate.
const DateLayout = "2006-01-02"

// ExtractMode selects whether a user extracts whole archives or picks a
// single member by default.
type ExtractMode string

const (
	ExtractFull   ExtractMode = "full"
	ExtractSingle ExtractMode = "single"
)

// OutputMode selects how results are delivered to the user.
type OutputMode string

const (
	OutputFile OutputMode = "file"
	OutputLink OutputMode = "link"
)

// UserProfile is the persisted per-user document.  Profiles are created on
// first reference and never hard-deleted; the admin flags are toggled in
// place.
//
// Fields:
//
//	ID       – externally assigned identifier (immutable).
//	Premium  – premium tier flag, set by administrators only.
//	Banned   – ban flag, set by administrators only.
//	Settings – owner-editable preferences.
//	Usage    – rolling daily counters, reset lazily on date change.
type UserProfile struct {
	ID       int64    `json:"_id"`
	Premium  bool     `json:"is_premium"`
	Banned   bool     `json:"is_banned"`
	Settings Settings `json:"settings"`
	Usage    Usage    `json:"stats"`
}

// Settings holds owner-editable preferences.
type Settings struct {
	AutoDeleteMinutes int         `json:"auto_delete_min"`
	Language          string      `json:"lang"`
	ExtractMode       ExtractMode `json:"default_extract_mode"`
	PreferredOutput   OutputMode  `json:"preferred_output"`
}

// SettingsPatch carries a partial settings update; nil fields are left alone.
type SettingsPatch struct {
	AutoDeleteMinutes *int         `json:"auto_delete_min,omitempty"`
	Language          *string      `json:"lang,omitempty"`
	ExtractMode       *ExtractMode `json:"default_extract_mode,omitempty"`
	PreferredOutput   *OutputMode  `json:"preferred_output,omitempty"`
}

// Usage holds the daily counters.  LastResetDate is the calendar date
// (DateLayout) of the last counter mutation.
type Usage struct {
	LastResetDate  string     `json:"last_reset"`
	DailyTaskCount int        `json:"daily_tasks"`
	DailySizeMB    float64    `json:"daily_size_mb"`
	LastTaskAt     *time.Time `json:"last_task_ts"`
}

// UsageDelta describes one recorded task.  Day is the calendar date the
// task was recorded on; backends reset counters first when it differs
// from the stored LastResetDate.
type UsageDelta struct {
	SizeMB float64
	At     time.Time
	Day    string
}

// UserCounts summarises the user population.
type UserCounts struct {
	Total   int `json:"total"`
	Premium int `json:"premium"`
	Banned  int `json:"banned"`
}

// NewUserProfile returns a profile with default settings and zeroed usage
// dated today.
func NewUserProfile(id int64, defaults Settings, today string) UserProfile {
	return UserProfile{
		ID:       id,
		Settings: defaults,
		Usage:    Usage{LastResetDate: today},
	}
}

// DefaultSettings returns the settings every new user starts with.
func DefaultSettings(autoDeleteMinutes int) Settings {
	return Settings{
		AutoDeleteMinutes: autoDeleteMinutes,
		Language:          "en",
		ExtractMode:       ExtractFull,
		PreferredOutput:   OutputFile,
	}
}

// ResetIfStale zeroes the daily counters when today differs from
// LastResetDate and reports whether it did so.  LastTaskAt is kept: the
// inter-task wait spans midnight.
func (p *UserProfile) ResetIfStale(today string) bool {
	if p.Usage.LastResetDate == today {
		return false
	}
	p.Usage.LastResetDate = today
	p.Usage.DailyTaskCount = 0
	p.Usage.DailySizeMB = 0
	return true
}

// Apply records one task on the profile, resetting stale counters first.
func (p *UserProfile) Apply(d UsageDelta) {
	p.ResetIfStale(d.Day)
	p.Usage.DailyTaskCount++
	p.Usage.DailySizeMB += d.SizeMB
	at := d.At.UTC()
	p.Usage.LastTaskAt = &at
}

// ApplySettings merges a patch into the profile settings.
func (p *UserProfile) ApplySettings(patch SettingsPatch) {
	if patch.AutoDeleteMinutes != nil {
		p.Settings.AutoDeleteMinutes = *patch.AutoDeleteMinutes
	}
	if patch.Language != nil {
		p.Settings.Language = *patch.Language
	}
	if patch.ExtractMode != nil {
		p.Settings.ExtractMode = *patch.ExtractMode
	}
	if patch.PreferredOutput != nil {
		p.Settings.PreferredOutput = *patch.PreferredOutput
	}
}

// UserPatch is a field-level profile update.  Only the set fields are
// written, so a durable copy keeps whatever the patch does not name.
type UserPatch struct {
	Premium  *bool
	Banned   *bool
	Settings SettingsPatch
	// ResetDay, when set, resets stale daily counters first.
	ResetDay string
}

// ApplyPatch applies patch to the profile.
func (p *UserProfile) ApplyPatch(patch UserPatch) {
	if patch.ResetDay != "" {
		p.ResetIfStale(patch.ResetDay)
	}
	if patch.Premium != nil {
		p.Premium = *patch.Premium
	}
	if patch.Banned != nil {
		p.Banned = *patch.Banned
	}
	p.ApplySettings(patch.Settings)
}

// Clone returns a deep copy so callers never share the LastTaskAt pointer
// with a store's shadow copy.
func (p UserProfile) Clone() UserProfile {
	if p.Usage.LastTaskAt != nil {
		t := *p.Usage.LastTaskAt
		p.Usage.LastTaskAt = &t
	}
	return p
}
