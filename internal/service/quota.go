package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iliyamo/unpacker/internal/config"
	"github.com/iliyamo/unpacker/internal/model"
)

// DenyReason names the first quota rule a request failed.
type DenyReason string

const (
	DenyBanned          DenyReason = "banned"
	DenyDailyTaskLimit  DenyReason = "daily_task_limit_exceeded"
	DenyDailySizeLimit  DenyReason = "daily_size_limit_exceeded"
	DenyArchiveTooLarge DenyReason = "archive_too_large"
	DenyMustWait        DenyReason = "must_wait"
)

// Limits are the per-tier quota parameters.  A premium daily limit of zero
// means unlimited.
type Limits struct {
	FreeDailyTasks      int
	PremiumDailyTasks   int
	FreeDailySizeMB     float64
	PremiumDailySizeMB  float64
	FreeMinWait         time.Duration
	PremiumMinWait      time.Duration
	MaxArchiveFreeMB    float64
	MaxArchivePremiumMB float64
}

// LimitsFromConfig maps the environment configuration onto Limits.
func LimitsFromConfig(cfg config.Config) Limits {
	return Limits{
		FreeDailyTasks:      cfg.FreeDailyTaskLimit,
		PremiumDailyTasks:   cfg.PremiumDailyTaskLimit,
		FreeDailySizeMB:     float64(cfg.FreeDailySizeMB),
		PremiumDailySizeMB:  float64(cfg.PremiumDailySizeMB),
		FreeMinWait:         time.Duration(cfg.FreeMinWaitSec) * time.Second,
		PremiumMinWait:      time.Duration(cfg.PremiumMinWaitSec) * time.Second,
		MaxArchiveFreeMB:    float64(cfg.MaxArchiveFreeMB),
		MaxArchivePremiumMB: float64(cfg.MaxArchivePremiumMB),
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     DenyReason    `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"-"`
	Message    string        `json:"message,omitempty"`
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Policy evaluates quota rules.  It is pure: the same profile, size and
// instant always give the same decision.
type Policy struct {
	Limits Limits
}

// Admit checks the rules in a fixed order and returns the first failure.
// The profile is expected to have had its day reset applied already.
func (p Policy) Admit(profile model.UserProfile, sizeMB float64, now time.Time) Decision {
	l := p.Limits
	if profile.Banned {
		return deny(DenyBanned, 0, "you are banned from using this service")
	}

	taskLimit, sizeLimit := l.FreeDailyTasks, l.FreeDailySizeMB
	maxArchive, minWait := l.MaxArchiveFreeMB, l.FreeMinWait
	if profile.Premium {
		taskLimit, sizeLimit = l.PremiumDailyTasks, l.PremiumDailySizeMB
		maxArchive, minWait = l.MaxArchivePremiumMB, l.PremiumMinWait
	}
	enforceDaily := !profile.Premium

	if (enforceDaily || taskLimit > 0) && profile.Usage.DailyTaskCount >= taskLimit {
		return deny(DenyDailyTaskLimit, 0,
			fmt.Sprintf("daily limit of %d tasks reached", taskLimit))
	}
	if (enforceDaily || sizeLimit > 0) && profile.Usage.DailySizeMB+sizeMB > sizeLimit {
		return deny(DenyDailySizeLimit, 0,
			fmt.Sprintf("daily size limit of %s reached (%s used)", mbString(sizeLimit), mbString(profile.Usage.DailySizeMB)))
	}
	if sizeMB > maxArchive {
		return deny(DenyArchiveTooLarge, 0,
			fmt.Sprintf("archive of %s exceeds the %s limit", mbString(sizeMB), mbString(maxArchive)))
	}
	if last := profile.Usage.LastTaskAt; last != nil {
		if elapsed := now.Sub(*last); elapsed < minWait {
			wait := minWait - elapsed
			return deny(DenyMustWait, wait,
				fmt.Sprintf("please wait %s before the next task", wait.Round(time.Second)))
		}
	}
	return Decision{Allowed: true}
}

func deny(reason DenyReason, retry time.Duration, msg string) Decision {
	return Decision{Reason: reason, RetryAfter: retry, Message: msg}
}

func mbString(mb float64) string {
	return humanize.IBytes(uint64(mb * 1024 * 1024))
}

// QuotaDeniedError carries a negative decision.
type QuotaDeniedError struct {
	Decision Decision
}

func (e *QuotaDeniedError) Error() string {
	return fmt.Sprintf("quota denied (%s): %s", e.Decision.Reason, e.Decision.Message)
}

// QuotaService checks admission against the live profile.
type QuotaService struct {
	users  *UserStore
	policy Policy
	now    func() time.Time
}

func NewQuotaService(users *UserStore, limits Limits, clock func() time.Time) *QuotaService {
	if clock == nil {
		clock = time.Now
	}
	return &QuotaService{users: users, policy: Policy{Limits: limits}, now: clock}
}

// MaxArchiveMB is the per-archive size cap for the profile's tier.
func (q *QuotaService) MaxArchiveMB(profile model.UserProfile) float64 {
	if profile.Premium {
		return q.policy.Limits.MaxArchivePremiumMB
	}
	return q.policy.Limits.MaxArchiveFreeMB
}

// Check loads the profile (applying the lazy day reset) and evaluates it.
// A denial is returned both as the Decision and as a *QuotaDeniedError.
func (q *QuotaService) Check(ctx context.Context, id int64, sizeMB float64) (Decision, error) {
	if sizeMB < 0 {
		return Decision{}, fmt.Errorf("quota check: %w", ErrInvalidSize)
	}
	profile := q.users.Get(ctx, id)
	d := q.policy.Admit(profile, sizeMB, q.now())
	if !d.Allowed {
		quotaDenials.WithLabelValues(string(d.Reason)).Inc()
		return d, &QuotaDeniedError{Decision: d}
	}
	return d, nil
}
