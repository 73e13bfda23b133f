// Package notify implements the notification channels used by the reminder
// dispatcher (email and SMS), the registry that holds them and the rendering
// of reminder messages.
//
// Every channel shares one contract: Attempt never returns an error and never
// panics. Invalid addresses, provider rejections, network errors, timeouts
// and panics inside a provider client all come back as an Outcome with
// StatusFailed and the cause attached.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medcia/medreminder/internal/domain"
)

// Status is the result of one channel attempt.
type Status string

const (
	StatusDelivered     Status = "delivered"
	StatusFailed        Status = "failed"
	StatusNotApplicable Status = "not_applicable"
)

// Outcome describes a single channel attempt for a single reminder.
type Outcome struct {
	Channel   string
	Status    Status
	Err       error
	Recipient string
	Duration  time.Duration
}

// Cause returns the failure cause as text, or "" for non-failures.
func (o Outcome) Cause() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Channel is one independent delivery mechanism.
type Channel interface {
	// Name is the stable identifier used in reports and metrics.
	Name() string
	// Recipient picks the address this channel would use for c. ok is false
	// when the channel is not applicable (address missing or channel
	// unconfigured).
	Recipient(c domain.Contact) (recipient string, ok bool)
	// Attempt delivers subject/body to recipient.
	Attempt(ctx context.Context, recipient, subject, body string) Outcome
}

// ErrNotConfigured is the cause reported when Attempt is called on a
// disabled channel.
var ErrNotConfigured = errors.New("channel not configured")

// NotApplicable builds the outcome for a channel that was skipped.
func NotApplicable(channel string) Outcome {
	return Outcome{Channel: channel, Status: StatusNotApplicable}
}

// guard runs send under a timeout and converts every failure mode into an
// Outcome. send is run on its own goroutine so a provider client that ignores
// ctx still cannot hold the caller past the deadline.
func guard(ctx context.Context, channel, recipient string, timeout time.Duration, send func(context.Context) error) Outcome {
	start := time.Now()
	out := Outcome{Channel: channel, Recipient: recipient}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%s provider panic: %v", channel, r)
			}
		}()
		done <- send(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("%s send aborted: %w", channel, ctx.Err())
	}

	out.Duration = time.Since(start)
	if err != nil {
		out.Status = StatusFailed
		out.Err = err
		return out
	}
	out.Status = StatusDelivered
	return out
}
