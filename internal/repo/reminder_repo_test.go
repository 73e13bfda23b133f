package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/medcia/medreminder/internal/domain"
)

// newRepoDB opens an isolated in-memory database with the full schema.
func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedMedicine(t *testing.T, db *gorm.DB, name string) *domain.Medicine {
	t.Helper()
	m, err := CreateMedicine(context.Background(), db, name, "500mg", "daily")
	if err != nil {
		t.Fatalf("CreateMedicine: %v", err)
	}
	return m
}

func seedReminder(t *testing.T, db *gorm.DB, medID string, userID *string, at time.Time) *domain.Reminder {
	t.Helper()
	r, err := CreateReminder(context.Background(), db, medID, userID, at)
	if err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	return r
}

func TestListDue_SelectsOnlyUndeliveredAndPast(t *testing.T) {
	ctx := context.Background()
	db := newRepoDB(t)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	med := seedMedicine(t, db, "Paracetamol")

	weekOld := seedReminder(t, db, med.ID, nil, now.Add(-7*24*time.Hour))
	exact := seedReminder(t, db, med.ID, nil, now)
	_ = seedReminder(t, db, med.ID, nil, now.Add(time.Minute)) // future
	done := seedReminder(t, db, med.ID, nil, now.Add(-time.Hour))
	if err := db.Model(&domain.Reminder{}).Where("id = ?", done.ID).Update("delivered", true).Error; err != nil {
		t.Fatalf("pre-deliver: %v", err)
	}

	got, err := ListDue(ctx, db, now, 0)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 due reminders, got %d", len(got))
	}
	if got[0].ID != weekOld.ID || got[1].ID != exact.ID {
		t.Fatalf("expected oldest first, got %s then %s", got[0].ID, got[1].ID)
	}
	if got[0].Medicine.Name != "Paracetamol" {
		t.Fatalf("medicine not preloaded: %+v", got[0].Medicine)
	}

	// Pure read: nothing changed.
	n, err := CountPending(ctx, db, now)
	if err != nil || n != 2 {
		t.Fatalf("CountPending = %d, %v; want 2", n, err)
	}
}

func TestListDue_Limit(t *testing.T) {
	ctx := context.Background()
	db := newRepoDB(t)
	now := time.Now().UTC()
	med := seedMedicine(t, db, "Ibuprofen")
	for i := 0; i < 5; i++ {
		seedReminder(t, db, med.ID, nil, now.Add(-time.Duration(i+1)*time.Minute))
	}

	got, err := ListDue(ctx, db, now, 3)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected limit 3, got %d", len(got))
	}
}

func TestListDue_PreloadsOwner(t *testing.T) {
	ctx := context.Background()
	db := newRepoDB(t)
	now := time.Now().UTC()
	med := seedMedicine(t, db, "Aspirin")
	u, err := CreateUser(ctx, db, "alice", "a@x.com")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	seedReminder(t, db, med.ID, &u.ID, now.Add(-time.Minute))

	got, err := ListDue(ctx, db, now, 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("ListDue = %d, %v", len(got), err)
	}
	if got[0].User == nil || got[0].User.Email != "a@x.com" {
		t.Fatalf("owner not preloaded: %+v", got[0].User)
	}
}

func TestMarkDelivered_FlipsOnceAndExcludesFromDueSet(t *testing.T) {
	ctx := context.Background()
	db := newRepoDB(t)
	now := time.Now().UTC()
	med := seedMedicine(t, db, "Paracetamol")
	r := seedReminder(t, db, med.ID, nil, now.Add(-time.Minute))

	if err := MarkDelivered(ctx, db, r.ID); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	got, err := GetReminder(ctx, db, r.ID)
	if err != nil {
		t.Fatalf("GetReminder: %v", err)
	}
	if !got.Delivered {
		t.Fatalf("expected delivered=true")
	}

	// A second mark finds no undelivered row.
	if err := MarkDelivered(ctx, db, r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second mark, got %v", err)
	}

	due, err := ListDue(ctx, db, now.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("delivered reminder re-selected: %+v", due)
	}
}

func TestMarkDelivered_MissingRow(t *testing.T) {
	db := newRepoDB(t)
	if err := MarkDelivered(context.Background(), db, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetReminder_NotFound(t *testing.T) {
	db := newRepoDB(t)
	if _, err := GetReminder(context.Background(), db, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveContact(t *testing.T) {
	ctx := context.Background()
	db := newRepoDB(t)

	// no owner
	c, err := ResolveContact(ctx, db, &domain.Reminder{})
	if err != nil || c != (domain.Contact{}) {
		t.Fatalf("ownerless reminder: got %+v, %v", c, err)
	}

	// owner without profile
	u, err := CreateUser(ctx, db, "bob", "b@x.com")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	c, err = ResolveContact(ctx, db, &domain.Reminder{UserID: &u.ID})
	if err != nil {
		t.Fatalf("ResolveContact: %v", err)
	}
	if c.Email != "b@x.com" || c.Phone != "" {
		t.Fatalf("expected email only, got %+v", c)
	}

	// owner with profile
	phone := " +15005550006 "
	if _, err := UpsertProfile(ctx, db, u.ID, &phone, "Europe/Athens"); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	c, err = ResolveContact(ctx, db, &domain.Reminder{UserID: &u.ID})
	if err != nil {
		t.Fatalf("ResolveContact: %v", err)
	}
	if c.Email != "b@x.com" || c.Phone != "+15005550006" || c.Timezone != "Europe/Athens" {
		t.Fatalf("unexpected contact: %+v", c)
	}

	// preloaded owner is used as-is
	c, err = ResolveContact(ctx, db, &domain.Reminder{UserID: &u.ID, User: &domain.User{ID: u.ID, Email: "pre@x.com"}})
	if err != nil || c.Email != "pre@x.com" || c.Phone != "+15005550006" {
		t.Fatalf("preloaded owner: got %+v, %v", c, err)
	}

	// dangling owner reference
	ghost := "ghost"
	c, err = ResolveContact(ctx, db, &domain.Reminder{UserID: &ghost})
	if err != nil || c != (domain.Contact{}) {
		t.Fatalf("dangling owner: got %+v, %v", c, err)
	}
}

func TestResolveContact_StoreError(t *testing.T) {
	db := newRepoDB(t)
	u, err := CreateUser(context.Background(), db, "carol", "")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()

	if _, err := ResolveContact(context.Background(), db, &domain.Reminder{UserID: &u.ID}); err == nil {
		t.Fatalf("expected error on closed DB")
	}
}

func TestUpsertProfile_ReplacesExisting(t *testing.T) {
	ctx := context.Background()
	db := newRepoDB(t)
	u, err := CreateUser(ctx, db, "dave", "d@x.com")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	first := "+15005550001"
	if _, err := UpsertProfile(ctx, db, u.ID, &first, ""); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	p, err := UpsertProfile(ctx, db, u.ID, nil, "UTC")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if p.Phone != nil || p.Timezone != "UTC" {
		t.Fatalf("expected phone cleared and tz=UTC, got %+v", p)
	}
	var n int64
	db.Model(&domain.UserProfile{}).Where("user_id = ?", u.ID).Count(&n)
	if n != 1 {
		t.Fatalf("expected exactly one profile, got %d", n)
	}
}

func TestListDue_ClosedDB(t *testing.T) {
	db := newRepoDB(t)
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()
	if _, err := ListDue(context.Background(), db, time.Now(), 0); err == nil {
		t.Fatalf("expected error on closed DB")
	}
}
