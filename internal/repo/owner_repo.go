// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides helpers for medicines, users and their
// profiles. The dispatcher only reads these rows; the helpers exist for the
// seed command and for tests.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/medcia/medreminder/internal/domain"
)

// CreateMedicine inserts a medicine with a fresh UUID.
func CreateMedicine(ctx context.Context, db *gorm.DB, name, dosage, frequency string) (*domain.Medicine, error) {
	m := &domain.Medicine{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Dosage:    dosage,
		Frequency: frequency,
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// CreateUser inserts a user. email may be empty.
func CreateUser(ctx context.Context, db *gorm.DB, username, email string) (*domain.User, error) {
	u := &domain.User{
		ID:       uuid.NewString(),
		Username: strings.TrimSpace(username),
		Email:    strings.TrimSpace(email),
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// UpsertProfile creates or replaces the one-to-one profile of userID.
func UpsertProfile(ctx context.Context, db *gorm.DB, userID string, phone *string, timezone string) (*domain.UserProfile, error) {
	now := time.Now().UTC()
	p := &domain.UserProfile{
		ID:        uuid.NewString(),
		UserID:    userID,
		Phone:     phone,
		Timezone:  strings.TrimSpace(timezone),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"phone", "timezone", "updated_at"}),
		}).
		Create(p).Error
	if err != nil {
		return nil, err
	}

	var out domain.UserProfile
	if err := db.WithContext(ctx).First(&out, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &out, nil
}
