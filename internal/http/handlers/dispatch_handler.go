// Dispatch HTTP handlers.
//
// This file exposes the ops endpoints of the reminder sweep:
//   - POST /dispatch/runs   (run one sweep now and return its report)
//   - GET  /dispatch/last   (report of the most recent finished sweep)
//   - GET  /dispatch/pending (due backlog and its lag)
//
// Handlers are transport-thin: the run itself, its claim and its reporting
// live in services.Dispatcher.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medcia/medreminder/internal/repo"
	"github.com/medcia/medreminder/internal/services"
)

// Dispatcher is the service contract consumed by DispatchHandler.
type Dispatcher interface {
	// Run performs one sweep; see services.Dispatcher.Run for the error set.
	Run(ctx context.Context) (*services.Report, error)
	// LastReport returns the most recent finished sweep or nil.
	LastReport() *services.Report
	// Backlog counts the reminders the next sweep would pick up.
	Backlog(ctx context.Context) (repo.Backlog, error)
}

// DispatchHandler serves the dispatch endpoints.
type DispatchHandler struct {
	svc     Dispatcher
	timeout time.Duration
	now     func() time.Time
}

// NewDispatchHandler binds the handler to svc. timeout bounds a manually
// triggered run; <= 0 leaves it unbounded.
func NewDispatchHandler(svc Dispatcher, timeout time.Duration) *DispatchHandler {
	return &DispatchHandler{svc: svc, timeout: timeout, now: time.Now}
}

// RunResponse wraps a run report with its one-line summary.
type RunResponse struct {
	Summary string           `json:"summary" example:"Processed 1 of 1 due reminders; email: 1 sent, 0 failed, 0 skipped; 0 failure(s)."`
	Report  *services.Report `json:"report"`
}

// TriggerRun godoc
// @ID          triggerDispatchRun
// @Summary     Run a dispatch sweep now
// @Description Sends every due reminder through the configured channels and marks it delivered.
// @Tags        Dispatch
// @Produce     json
// @Success     200  {object}  handlers.RunResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Another run holds the claim"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     503  {object}  handlers.ErrorResponse  "Reminder store unavailable"
// @Failure     504  {object}  handlers.ErrorResponse  "Run timed out"
// @Router      /dispatch/runs [post]
func (h *DispatchHandler) TriggerRun(c *gin.Context) {
	// A client hanging up must not abort a sweep halfway through its
	// transaction, so only the configured timeout bounds the run.
	ctx := context.WithoutCancel(c.Request.Context())
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	rep, err := h.svc.Run(ctx)
	switch {
	case err == nil:
		ok(c, http.StatusOK, RunResponse{Summary: rep.Summary(), Report: rep})
	case errors.Is(err, services.ErrRunInProgress):
		fail(c, http.StatusConflict, ErrCodeRunInProgress, "another dispatch run holds the claim", nil)
	case errors.Is(err, services.ErrStoreUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "reminder store unavailable", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		fail(c, http.StatusGatewayTimeout, ErrCodeRunCanceled, "dispatch run did not finish in time", err)
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "dispatch run failed", err)
	}
}

// LastRun godoc
// @ID          lastDispatchRun
// @Summary     Report of the most recent dispatch sweep
// @Tags        Dispatch
// @Produce     json
// @Success     200  {object}  handlers.RunResponse
// @Failure     404  {object}  handlers.ErrorResponse  "No sweep has finished yet"
// @Router      /dispatch/last [get]
func (h *DispatchHandler) LastRun(c *gin.Context) {
	rep := h.svc.LastReport()
	if rep == nil {
		fail(c, http.StatusNotFound, ErrCodeNoRunYet, "no dispatch run has finished yet", nil)
		return
	}
	ok(c, http.StatusOK, RunResponse{Summary: rep.Summary(), Report: rep})
}

// BacklogResponse is the due backlog with its lag in seconds.
type BacklogResponse struct {
	repo.Backlog
	LagSeconds float64 `json:"lag_seconds"`
}

// Pending godoc
// @ID          dispatchBacklog
// @Summary     Due reminders waiting for the next sweep
// @Tags        Dispatch
// @Produce     json
// @Success     200  {object}  handlers.BacklogResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Reminder store unavailable"
// @Router      /dispatch/pending [get]
func (h *DispatchHandler) Pending(c *gin.Context) {
	b, err := h.svc.Backlog(c.Request.Context())
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "reminder store unavailable", err)
		return
	}
	ok(c, http.StatusOK, BacklogResponse{Backlog: b, LagSeconds: b.Lag(h.now()).Seconds()})
}
