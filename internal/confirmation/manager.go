package confirmation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/events"
)

var (
	// ErrNoPendingRequest is returned by ConfirmAction when nothing is waiting.
	ErrNoPendingRequest = errors.New("no pending confirmation request")
	// ErrRequestPending is logged when a second request arrives while one is outstanding.
	ErrRequestPending = errors.New("a confirmation request is already pending")
)

// DefaultTimeout applies when a request carries no timeout of its own.
const DefaultTimeout = 60 * time.Second

// emitTimeout bounds how long a slow subscriber can hold up a resolution.
const emitTimeout = 2 * time.Second

// decision is what a responder sends to the waiting requester.
type decision struct {
	confirmed bool
	cancelled bool
	comment   string
}

// pendingRequest tracks the request that is waiting for a human.
type pendingRequest struct {
	req      *Request
	response chan decision
	answered bool
}

// Manager owns the single outstanding confirmation request.
type Manager struct {
	logger         *zap.Logger
	emitter        events.Emitter
	defaultTimeout time.Duration

	mu      sync.Mutex
	pending *pendingRequest
	last    *Request
}

// NewManager creates a confirmation manager. emitter may be nil.
func NewManager(logger *zap.Logger, emitter events.Emitter, defaultTimeout time.Duration) *Manager {
	if emitter == nil {
		emitter = events.Nop{}
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Manager{
		logger:         logger.Named("confirmation"),
		emitter:        emitter,
		defaultTimeout: defaultTimeout,
	}
}

// RequestConfirmation publishes req and blocks until it is confirmed,
// rejected, cancelled, or its timer fires. It returns true only on an explicit
// confirmation. req.Status holds the final status afterwards.
func (m *Manager) RequestConfirmation(ctx context.Context, req *Request) bool {
	if req.Timeout <= 0 {
		req.Timeout = m.defaultTimeout
	}

	m.mu.Lock()
	if m.pending != nil {
		m.mu.Unlock()
		m.logger.Warn("Rejecting concurrent confirmation request.",
			zap.String("request_id", req.ID),
			zap.Error(ErrRequestPending))
		m.finish(ctx, req, decision{cancelled: true, comment: ErrRequestPending.Error()})
		return false
	}
	req.Status = StatusPending
	p := &pendingRequest{req: req, response: make(chan decision, 1)}
	m.pending = p
	m.mu.Unlock()

	m.logger.Info("Awaiting confirmation.",
		zap.String("request_id", req.ID),
		zap.String("level", string(req.Risk.Level)),
		zap.Duration("timeout", req.Timeout))
	m.emit(ctx, events.ConfirmationRequested, req)

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	var d decision
	timedOut := false
	select {
	case d = <-p.response:
	case <-timer.C:
		timedOut = true
	case <-ctx.Done():
		d = decision{cancelled: true, comment: ctx.Err().Error()}
	}

	m.mu.Lock()
	if m.pending == p {
		m.pending = nil
	}
	m.mu.Unlock()

	if timedOut {
		m.resolve(req, StatusTimeout, "")
		m.logger.Warn("Confirmation timed out; treating as rejection.", zap.String("request_id", req.ID))
		m.emit(ctx, events.ConfirmationTimeout, req)
		return false
	}
	return m.finish(ctx, req, d)
}

// finish records a decision and emits the matching event.
func (m *Manager) finish(ctx context.Context, req *Request, d decision) bool {
	switch {
	case d.cancelled:
		m.resolve(req, StatusCancelled, d.comment)
		m.emit(ctx, events.ConfirmationCancelled, req)
		return false
	case d.confirmed:
		m.resolve(req, StatusConfirmed, d.comment)
	default:
		m.resolve(req, StatusRejected, d.comment)
	}
	m.logger.Info("Confirmation received.",
		zap.String("request_id", req.ID),
		zap.String("status", string(req.Status)))
	m.emit(ctx, events.ConfirmationReceived, req)
	return d.confirmed
}

func (m *Manager) resolve(req *Request, status Status, comment string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.Status = status
	req.Comment = comment
	req.ResolvedAt = time.Now()
	m.last = req.clone()
}

// ConfirmAction answers the pending request.
func (m *Manager) ConfirmAction(confirmed bool, comment string) error {
	return m.respond(decision{confirmed: confirmed, comment: comment})
}

// Cancel withdraws the pending request. It reports whether one was pending.
func (m *Manager) Cancel() bool {
	return m.respond(decision{cancelled: true, comment: "cancelled"}) == nil
}

func (m *Manager) respond(d decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil || m.pending.answered {
		return ErrNoPendingRequest
	}
	m.pending.answered = true
	m.pending.response <- d
	return nil
}

// Pending returns a copy of the outstanding request, or nil.
func (m *Manager) Pending() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil
	}
	return m.pending.req.clone()
}

// Last returns a copy of the most recently resolved request, or nil.
func (m *Manager) Last() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last.clone()
}

func (m *Manager) emit(ctx context.Context, typ events.Type, req *Request) {
	m.mu.Lock()
	payload := events.ConfirmationPayload{
		RequestID: req.ID,
		RiskLevel: string(req.Risk.Level),
		Score:     req.Risk.Score,
		Preview:   req.Preview,
		Status:    string(req.Status),
		Confirmed: req.Status == StatusConfirmed,
		Comment:   req.Comment,
		Timeout:   req.Timeout,
	}
	if req.Action != nil {
		payload.Tool = req.Action.Tool
	}
	m.mu.Unlock()

	// Resolution events must still go out after the caller's context ends.
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()
	m.emitter.Emit(ectx, events.Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
