// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the reminder store contract consumed
// by the dispatcher: selecting the due set, flipping the delivered flag and
// resolving the owner's contact details.
//
// All functions are context-aware and accept a *gorm.DB handle, so the
// dispatcher can run them inside its per-run transaction.
//
// Error semantics:
//   - When a reminder is not found (or is no longer undelivered), functions
//     return ErrNotFound.
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/medcia/medreminder/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ListDue returns undelivered reminders scheduled at or before now, oldest
// first, with their medicine and owner preloaded. limit <= 0 means no limit.
//
// On PostgreSQL the selected rows are locked FOR UPDATE SKIP LOCKED, so two
// overlapping transactions never pick the same reminder. The query itself
// never mutates state.
func ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Reminder, error) {
	q := db.WithContext(ctx).
		Preload("Medicine").
		Preload("User").
		Where("delivered = ? AND scheduled_at <= ?", false, now.UTC()).
		Order("scheduled_at ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if db.Dialector != nil && db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	var out []domain.Reminder
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// MarkDelivered flips delivered to true for id. The update is conditional on
// the row still being undelivered; if no row matched (deleted meanwhile or
// already delivered by another run) it returns ErrNotFound.
func MarkDelivered(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Reminder{}).
		Where("id = ? AND delivered = ?", id, false).
		Updates(map[string]any{
			"delivered":  true,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResolveContact derives the recipient contact for r's owner: the email from
// the user record, phone and timezone from the optional profile. A reminder
// without an owner (or whose owner vanished) yields an empty contact.
func ResolveContact(ctx context.Context, db *gorm.DB, r *domain.Reminder) (domain.Contact, error) {
	var c domain.Contact
	if r == nil || r.UserID == nil || strings.TrimSpace(*r.UserID) == "" {
		return c, nil
	}

	u := r.User
	if u == nil {
		var loaded domain.User
		err := db.WithContext(ctx).First(&loaded, "id = ?", *r.UserID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c, nil
		}
		if err != nil {
			return c, err
		}
		u = &loaded
	}
	c.Email = strings.TrimSpace(u.Email)

	var p domain.UserProfile
	err := db.WithContext(ctx).Where("user_id = ?", u.ID).Limit(1).Find(&p).Error
	if err != nil {
		return c, err
	}
	if p.Phone != nil {
		c.Phone = strings.TrimSpace(*p.Phone)
	}
	c.Timezone = strings.TrimSpace(p.Timezone)
	return c, nil
}

// CountPending returns how many reminders are due and undelivered at now.
func CountPending(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Reminder{}).
		Where("delivered = ? AND scheduled_at <= ?", false, now.UTC()).
		Count(&n).Error
	return n, err
}

// GetReminder fetches a reminder by id, or ErrNotFound.
func GetReminder(ctx context.Context, db *gorm.DB, id string) (*domain.Reminder, error) {
	var r domain.Reminder
	if err := db.WithContext(ctx).Preload("Medicine").First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateReminder inserts an undelivered reminder for medicineID. userID may
// be nil for an ownerless reminder. ScheduledAt is stored in UTC.
func CreateReminder(ctx context.Context, db *gorm.DB, medicineID string, userID *string, at time.Time) (*domain.Reminder, error) {
	r := &domain.Reminder{
		ID:          uuid.NewString(),
		MedicineID:  medicineID,
		UserID:      userID,
		ScheduledAt: at.UTC(),
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}
