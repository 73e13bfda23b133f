package repo

import (
	"context"
	"testing"
	"time"
)

func TestDueBacklog_Empty(t *testing.T) {
	db := newRepoDB(t)
	b, err := DueBacklog(context.Background(), db, time.Now())
	if err != nil {
		t.Fatalf("DueBacklog: %v", err)
	}
	if b.Pending != 0 || b.OldestDue != nil || b.Lag(time.Now()) != 0 {
		t.Fatalf("expected empty backlog, got %+v", b)
	}
}

func TestDueBacklog_CountsDueUndeliveredAndFindsOldest(t *testing.T) {
	ctx := context.Background()
	db := newRepoDB(t)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	med := seedMedicine(t, db, "Ibuprofen")

	seedReminder(t, db, med.ID, nil, now.Add(-10*time.Minute))
	oldest := seedReminder(t, db, med.ID, nil, now.Add(-2*time.Hour))
	seedReminder(t, db, med.ID, nil, now) // boundary is due
	seedReminder(t, db, med.ID, nil, now.Add(time.Minute))
	done := seedReminder(t, db, med.ID, nil, now.Add(-3*time.Hour))
	if err := MarkDelivered(ctx, db, done.ID); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	b, err := DueBacklog(ctx, db, now)
	if err != nil {
		t.Fatalf("DueBacklog: %v", err)
	}
	if b.Pending != 3 {
		t.Fatalf("Pending = %d; want 3", b.Pending)
	}
	if b.OldestDue == nil || !b.OldestDue.Equal(oldest.ScheduledAt) {
		t.Fatalf("OldestDue = %v; want %v", b.OldestDue, oldest.ScheduledAt)
	}
	if got := b.Lag(now); got != 2*time.Hour {
		t.Fatalf("Lag = %v; want 2h", got)
	}
	if got := b.Lag(now.Add(-5 * time.Hour)); got != 0 {
		t.Fatalf("Lag before the oldest due time must be 0, got %v", got)
	}

	n, err := CountPending(ctx, db, now)
	if err != nil || n != b.Pending {
		t.Fatalf("CountPending = %d, %v; want %d", n, err, b.Pending)
	}
}

func TestDueBacklog_StoreError(t *testing.T) {
	db := newRepoDB(t)
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()
	if _, err := DueBacklog(context.Background(), db, time.Now()); err == nil {
		t.Fatalf("expected error on closed store")
	}
}
