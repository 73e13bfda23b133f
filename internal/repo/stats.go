// Package repo – backlog statistics
//
// DueBacklog summarizes what the next sweep would pick up. The ops API
// serves it so an operator can tell a stalled dispatcher (growing lag)
// from an idle one.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/medcia/medreminder/internal/domain"
)

// Backlog describes the undelivered reminders due at a point in time.
type Backlog struct {
	Pending int64 `json:"pending"`
	// OldestDue is the earliest scheduled_at among them; nil when Pending is 0.
	OldestDue *time.Time `json:"oldest_due,omitempty"`
}

// Lag is how long the oldest due reminder has been waiting at now.
func (b Backlog) Lag(now time.Time) time.Duration {
	if b.OldestDue == nil {
		return 0
	}
	if d := now.Sub(*b.OldestDue); d > 0 {
		return d
	}
	return 0
}

// DueBacklog counts undelivered reminders scheduled at or before now and
// finds the oldest one. Two lightweight queries, no locking.
func DueBacklog(ctx context.Context, db *gorm.DB, now time.Time) (Backlog, error) {
	var (
		b   Backlog
		err error
	)
	if b.Pending, err = CountPending(ctx, db, now); err != nil {
		return Backlog{}, err
	}
	if b.Pending == 0 {
		return b, nil
	}

	q := db.WithContext(ctx).
		Model(&domain.Reminder{}).
		Where("delivered = ? AND scheduled_at <= ?", false, now.UTC())

	// ORDER BY + LIMIT instead of MIN(), which SQLite returns as TEXT
	var row struct {
		ScheduledAt time.Time
	}
	if err := q.Select("scheduled_at").Order("scheduled_at ASC").Limit(1).Scan(&row).Error; err != nil {
		return Backlog{}, err
	}
	oldest := row.ScheduledAt.UTC()
	b.OldestDue = &oldest
	return b, nil
}
