// Package services – Run report
//
// This file holds the per-run aggregate (Report) and the Reporter that
// writes it to the operator: a one-line summary on a console sink plus a
// structured log event. Reports are never persisted.
package services

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medcia/medreminder/internal/notify"
)

// ChannelStats counts outcomes of one channel during a run.
type ChannelStats struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Failure is one failed channel attempt.
type Failure struct {
	ReminderID string `json:"reminder_id"`
	Channel    string `json:"channel"`
	Cause      string `json:"cause"`
}

// Report is the in-memory aggregate of one dispatch run.
//
// Processed counts reminders whose delivered flag was written in the run's
// transaction; Committed tells whether that transaction committed. Stale
// counts reminders that disappeared or were delivered elsewhere between
// selection and the flag write.
type Report struct {
	RunID      string                   `json:"run_id"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Found      int                      `json:"found"`
	Processed  int                      `json:"processed"`
	Stale      int                      `json:"stale"`
	Committed  bool                     `json:"committed"`
	Channels   map[string]*ChannelStats `json:"channels"`
	Failures   []Failure                `json:"failures"`
	Error      string                   `json:"error,omitempty"`
}

func newReport(runID string, started time.Time, channels []string) *Report {
	r := &Report{
		RunID:     runID,
		StartedAt: started,
		Channels:  make(map[string]*ChannelStats, len(channels)),
		Failures:  []Failure{},
	}
	for _, name := range channels {
		r.Channels[name] = &ChannelStats{}
	}
	return r
}

// record folds one channel outcome into the report.
func (r *Report) record(reminderID string, o notify.Outcome) {
	st, ok := r.Channels[o.Channel]
	if !ok {
		st = &ChannelStats{}
		r.Channels[o.Channel] = st
	}
	switch o.Status {
	case notify.StatusDelivered:
		st.Sent++
	case notify.StatusFailed:
		st.Failed++
		r.Failures = append(r.Failures, Failure{ReminderID: reminderID, Channel: o.Channel, Cause: o.Cause()})
	default:
		st.Skipped++
	}
}

// Sent is the number of successful channel attempts across channels.
func (r *Report) Sent() int {
	n := 0
	for _, st := range r.Channels {
		n += st.Sent
	}
	return n
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary renders the report as one human-readable line.
func (r *Report) Summary() string {
	if r.Found == 0 && r.Error == "" {
		return "No due reminders."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Processed %d of %d due reminders", r.Processed, r.Found)
	for _, name := range r.channelNames() {
		st := r.Channels[name]
		fmt.Fprintf(&b, "; %s: %d sent, %d failed, %d skipped", name, st.Sent, st.Failed, st.Skipped)
	}
	fmt.Fprintf(&b, "; %d failure(s)", len(r.Failures))
	if r.Stale > 0 {
		fmt.Fprintf(&b, "; %d stale", r.Stale)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "; aborted: %s", r.Error)
	}
	b.WriteString(".")
	return b.String()
}

func (r *Report) channelNames() []string {
	names := make([]string, 0, len(r.Channels))
	for name := range r.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// clone returns a deep copy safe to hand to other goroutines.
func (r *Report) clone() *Report {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Channels = make(map[string]*ChannelStats, len(r.Channels))
	for k, v := range r.Channels {
		st := *v
		cp.Channels[k] = &st
	}
	cp.Failures = append([]Failure(nil), r.Failures...)
	if cp.Failures == nil {
		cp.Failures = []Failure{}
	}
	return &cp
}

// Reporter writes run reports to the operator.
type Reporter struct {
	// Out receives the one-line summary; nil disables it.
	Out    io.Writer
	Logger zerolog.Logger
}

// Emit writes the summary line and a structured event for r.
func (rp *Reporter) Emit(r *Report) {
	if rp == nil || r == nil {
		return
	}
	if rp.Out != nil {
		fmt.Fprintln(rp.Out, r.Summary())
	}

	ev := rp.Logger.Info()
	if r.Error != "" {
		ev = rp.Logger.Error()
	} else if len(r.Failures) > 0 {
		ev = rp.Logger.Warn()
	}
	chans := zerolog.Dict()
	for _, name := range r.channelNames() {
		st := r.Channels[name]
		chans = chans.Dict(name, zerolog.Dict().
			Int("sent", st.Sent).
			Int("failed", st.Failed).
			Int("skipped", st.Skipped))
	}
	ev.Str("run_id", r.RunID).
		Int("found", r.Found).
		Int("processed", r.Processed).
		Int("stale", r.Stale).
		Int("failures", len(r.Failures)).
		Bool("committed", r.Committed).
		Dur("duration", r.Duration()).
		Dict("channels", chans).
		Msg("dispatch run finished")
}
