// Package services – Dispatcher
//
// This file implements the due-reminder sweep. One Run:
//
//  1. takes the run claim, so overlapping runs do nothing;
//  2. opens one store transaction and selects the due set;
//  3. for every due reminder resolves the owner's contact, renders the
//     message, attempts every applicable channel concurrently and waits for
//     all of them, then marks the reminder delivered whatever the outcome;
//  4. commits and reports.
//
// Delivery is at-most-once: a failed send is never retried by a later run.
// Channel sends happen inside the transaction's lifetime but are not part
// of it. If the transaction rolls back, messages already handed to a
// provider stay sent and those reminders are selected again next run, so
// only a store failure may roll back. The run context bounds channel
// attempts and the intake of further reminders; store statements and the
// commit run detached from its cancellation, and a run that hits its
// deadline commits the reminders it already processed.
//
// Observability: Run is OpenTelemetry-instrumented and records Prometheus
// metrics through observability.DispatchMetrics.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/medcia/medreminder/internal/claim"
	"github.com/medcia/medreminder/internal/config"
	"github.com/medcia/medreminder/internal/domain"
	"github.com/medcia/medreminder/internal/notify"
	"github.com/medcia/medreminder/internal/observability"
	"github.com/medcia/medreminder/internal/repo"
)

// Dispatcher runs due-reminder sweeps.
type Dispatcher struct {
	DB       *gorm.DB
	Channels *notify.Registry
	// Locker guards against overlapping runs; nil uses an in-process claim.
	Locker claim.Locker
	// Clock returns "now"; nil means time.Now.
	Clock func() time.Time
	// Location renders times for owners without a valid profile timezone.
	Location   *time.Location
	AppName    string
	BatchLimit int

	Metrics  *observability.DispatchMetrics
	Reporter *Reporter
	Logger   zerolog.Logger

	initOnce sync.Once
	mu       sync.RWMutex
	last     *Report
}

// NewDispatcher builds a Dispatcher from the dispatch section of cfg.
func NewDispatcher(cfg config.Config, db *gorm.DB, channels *notify.Registry, locker claim.Locker,
	metrics *observability.DispatchMetrics, reporter *Reporter, logger zerolog.Logger) (*Dispatcher, error) {
	loc, err := time.LoadLocation(cfg.Dispatch.DisplayTimezone)
	if err != nil {
		return nil, fmt.Errorf("display timezone: %w", err)
	}
	return &Dispatcher{
		DB:         db,
		Channels:   channels,
		Locker:     locker,
		Location:   loc,
		AppName:    cfg.Dispatch.AppName,
		BatchLimit: cfg.Dispatch.BatchLimit,
		Metrics:    metrics,
		Reporter:   reporter,
		Logger:     logger,
	}, nil
}

func (d *Dispatcher) init() {
	d.initOnce.Do(func() {
		if d.Locker == nil {
			d.Locker = claim.NewLocal()
		}
		if d.Clock == nil {
			d.Clock = time.Now
		}
		if d.Location == nil {
			d.Location = time.UTC
		}
	})
}

// LastReport returns a copy of the most recent finished run, or nil.
func (d *Dispatcher) LastReport() *Report {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last.clone()
}

// Backlog reports the reminders the next sweep would pick up.
func (d *Dispatcher) Backlog(ctx context.Context) (repo.Backlog, error) {
	if d.DB == nil {
		return repo.Backlog{}, ErrNotConfigured
	}
	d.init()
	b, err := repo.DueBacklog(ctx, d.DB, d.Clock())
	if err != nil {
		return repo.Backlog{}, fmt.Errorf("%w: due backlog: %w", ErrStoreUnavailable, err)
	}
	return b, nil
}

// Run performs one sweep. It returns ErrRunInProgress without touching the
// store when another run holds the claim. Store failures abort the run,
// roll back its transaction and come back wrapped in ErrStoreUnavailable;
// the returned report still describes what was sent before the failure.
// When ctx ends mid-run the remaining reminders are left for the next run,
// the processed ones are committed and the context error is returned.
// Channel failures never fail the run.
func (d *Dispatcher) Run(ctx context.Context) (*Report, error) {
	if d.DB == nil || d.Channels == nil {
		return nil, ErrNotConfigured
	}
	d.init()

	tr := otel.Tracer("services/Dispatcher")
	ctx, span := tr.Start(ctx, "Run")
	defer span.End()

	release, err := d.Locker.Acquire(ctx)
	if errors.Is(err, claim.ErrHeld) {
		d.Metrics.ObserveRun(observability.RunSkipped, 0, 0, 0)
		d.Logger.Info().Msg("dispatch run skipped: claim held by another run")
		span.SetAttributes(attribute.Bool("dispatch.skipped", true))
		return nil, ErrRunInProgress
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "acquire claim")
		d.Metrics.ObserveRun(observability.RunError, 0, 0, 0)
		return nil, fmt.Errorf("acquire run claim: %w", err)
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			d.Logger.Warn().Err(rerr).Msg("release run claim")
		}
	}()

	now := d.Clock()
	report := newReport(uuid.NewString(), now, d.Channels.Names())
	log := d.Logger.With().Str("run_id", report.RunID).Logger()
	span.SetAttributes(attribute.String("dispatch.run_id", report.RunID))

	// Store work must outlive the run deadline: an interrupted commit
	// would un-deliver reminders whose messages already went out.
	storeCtx := context.WithoutCancel(ctx)
	var stopped error

	err = d.DB.WithContext(storeCtx).Transaction(func(tx *gorm.DB) error {
		due, err := repo.ListDue(storeCtx, tx, now, d.BatchLimit)
		if err != nil {
			return fmt.Errorf("%w: list due reminders: %w", ErrStoreUnavailable, err)
		}
		report.Found = len(due)
		if len(due) == 0 {
			return nil
		}
		log.Debug().Int("found", len(due)).Msg("due reminders selected")

		for i := range due {
			if err := ctx.Err(); err != nil {
				stopped = err
				log.Warn().Err(err).Int("processed", i).Int("left", len(due)-i).
					Msg("run deadline reached; committing reminders processed so far")
				return nil
			}
			if err := d.dispatchOne(ctx, tx, &due[i], report, log); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil && !errors.Is(err, ErrStoreUnavailable) {
		// begin or commit failed
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	report.FinishedAt = d.Clock()
	report.Committed = err == nil
	if err != nil {
		log.Error().Err(err).Int("processed", report.Processed).
			Msg("dispatch run aborted; delivered flags rolled back, sends already made cannot be recalled")
	} else if stopped != nil {
		err = fmt.Errorf("dispatch run stopped after %d of %d due reminders: %w",
			report.Processed, report.Found, stopped)
	}
	result := observability.RunOK
	if err != nil {
		report.Error = err.Error()
		result = observability.RunError
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch run failed")
	}
	span.SetAttributes(
		attribute.Int("dispatch.found", report.Found),
		attribute.Int("dispatch.processed", report.Processed),
		attribute.Int("dispatch.failures", len(report.Failures)),
	)
	d.Metrics.ObserveRun(result, report.Found, committedCount(report), report.Duration())
	d.Reporter.Emit(report)

	d.mu.Lock()
	d.last = report.clone()
	d.mu.Unlock()

	return report, err
}

func committedCount(r *Report) int {
	if !r.Committed {
		return 0
	}
	return r.Processed
}

// dispatchOne notifies the owner of r and marks r delivered. Only store
// errors are returned.
func (d *Dispatcher) dispatchOne(ctx context.Context, tx *gorm.DB, r *domain.Reminder, report *Report, log zerolog.Logger) error {
	ctx, span := otel.Tracer("services/Dispatcher").Start(ctx, "dispatchOne",
		trace.WithAttributes(attribute.String("reminder.id", r.ID)),
	)
	defer span.End()
	storeCtx := context.WithoutCancel(ctx)

	contact, err := repo.ResolveContact(storeCtx, tx, r)
	if err != nil {
		return fmt.Errorf("%w: resolve contact for reminder %s: %w", ErrStoreUnavailable, r.ID, err)
	}

	msg := notify.Render(*r, d.AppName, notify.Location(contact.Timezone, d.Location))
	for _, o := range d.attemptAll(ctx, contact, msg) {
		report.record(r.ID, o)
		d.Metrics.ObserveAttempt(o.Channel, string(o.Status))
		switch o.Status {
		case notify.StatusFailed:
			log.Warn().Str("reminder_id", r.ID).Str("channel", o.Channel).
				Dur("took", o.Duration).Err(o.Err).Msg("channel send failed")
		case notify.StatusDelivered:
			log.Debug().Str("reminder_id", r.ID).Str("channel", o.Channel).
				Dur("took", o.Duration).Msg("channel send delivered")
		}
	}

	// At-most-once: the flag is set whatever the channels reported.
	if err := repo.MarkDelivered(storeCtx, tx, r.ID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: mark reminder %s delivered: %w", ErrStoreUnavailable, r.ID, err)
		}
		report.Stale++
		log.Warn().Str("reminder_id", r.ID).Msg("reminder deleted or already delivered before it could be marked")
	}
	report.Processed++
	return nil
}

// attemptAll runs every applicable channel concurrently and waits for all
// of them. Outcomes come back in registry order.
func (d *Dispatcher) attemptAll(ctx context.Context, contact domain.Contact, msg notify.Message) []notify.Outcome {
	chans := d.Channels.Channels()
	out := make([]notify.Outcome, len(chans))

	var g errgroup.Group
	for i, ch := range chans {
		to, ok := ch.Recipient(contact)
		if !ok {
			out[i] = notify.NotApplicable(ch.Name())
			continue
		}
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					out[i] = notify.Outcome{Channel: ch.Name(), Status: notify.StatusFailed, Recipient: to,
						Err: fmt.Errorf("channel panic: %v", p)}
				}
			}()
			out[i] = ch.Attempt(ctx, to, msg.Subject, msg.Body)
			if out[i].Channel == "" {
				out[i].Channel = ch.Name()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
