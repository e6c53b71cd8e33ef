package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gemini-backend/internal/metrics"
	"gemini-backend/internal/repo"
)

// ErrQuotaExceeded is returned when a basic-tier user is over the daily cap.
var ErrQuotaExceeded = errors.New("daily message limit exceeded")

// Store is the slice of the repository the tracker needs.
type Store interface {
	ResetDailyCount(ctx context.Context, userID int64, now time.Time) error
	IncrementDailyCount(ctx context.Context, userID int64, now time.Time) error
}

// Tracker enforces the per-user daily message quota. Pro users bypass it
// entirely; basic users get a fixed number of messages per calendar day.
type Tracker struct {
	store   Store
	limit   int
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New builds a Tracker with the given daily limit for basic users.
func New(store Store, limit int, logger *slog.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{
		store:   store,
		limit:   limit,
		now:     time.Now,
		logger:  logger.With("component", "quota"),
		metrics: m,
	}
}

// Check decides whether the user may send a message right now. The counter is
// reset and committed before evaluation whenever the last counted date is not
// today, so the check stays correct across day boundaries and is idempotent
// within a day. Check never consumes quota; see Increment.
func (t *Tracker) Check(ctx context.Context, user *repo.User) error {
	if user.SubscriptionTier == repo.TierPro {
		return nil
	}

	now := t.now()
	if user.LastMessageDate == nil || !sameDay(*user.LastMessageDate, now) {
		if err := t.store.ResetDailyCount(ctx, user.ID, now); err != nil {
			return fmt.Errorf("reset daily count: %w", err)
		}
		user.DailyMessageCount = 0
		user.LastMessageDate = &now
	}

	if user.DailyMessageCount >= t.limit {
		if t.metrics != nil {
			t.metrics.QuotaRejections.Inc()
		}
		t.logger.Info("message rejected by quota", "user_id", user.ID, "count", user.DailyMessageCount)
		return ErrQuotaExceeded
	}
	return nil
}

// Increment consumes one unit of quota. It is invoked only after the message
// is durably recorded, so rejected downstream steps never burn quota. Pro
// users are a no-op.
func (t *Tracker) Increment(ctx context.Context, user *repo.User) error {
	if user.SubscriptionTier != repo.TierBasic {
		return nil
	}

	now := t.now()
	if err := t.store.IncrementDailyCount(ctx, user.ID, now); err != nil {
		return fmt.Errorf("increment daily count: %w", err)
	}
	user.DailyMessageCount++
	user.LastMessageDate = &now
	return nil
}

// Limit reports the configured daily cap for basic users.
func (t *Tracker) Limit() int {
	return t.limit
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
