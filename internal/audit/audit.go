// Package audit records authentication events without ever blocking or
// failing the operation being audited.
package audit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/SspStark/adminsphere-server/internal/logger"
	"github.com/SspStark/adminsphere-server/internal/metrics"
)

type Action string

const (
	ActionLoginSuccess    Action = "LOGIN_SUCCESS"
	ActionLoginFailed     Action = "LOGIN_FAILED"
	ActionLogout          Action = "LOGOUT"
	ActionOAuthLogin      Action = "OAUTH_LOGIN"
	ActionPasswordReset   Action = "PASSWORD_RESET"
	ActionPasswordChanged Action = "PASSWORD_CHANGED"
	ActionSessionReplaced Action = "SESSION_REPLACED"
	ActionSessionRevoked  Action = "SESSION_REVOKED"
)

// Entry is one audited event. UserID is empty when the identity is unknown.
type Entry struct {
	UserID    string
	Action    Action
	Provider  string
	IP        string
	UserAgent string
}

// Record is an Entry as stored.
type Record struct {
	ID        string    `db:"id" json:"id"`
	UserID    *string   `db:"user_id" json:"userId,omitempty"`
	Action    Action    `db:"action" json:"action"`
	Provider  string    `db:"provider" json:"provider"`
	IP        string    `db:"ip" json:"ip"`
	UserAgent string    `db:"user_agent" json:"userAgent"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Sink stores records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

type Options struct {
	// QueueSize defaults to 256.
	QueueSize int
	// WriteTimeout bounds each sink write. Defaults to 3s.
	WriteTimeout time.Duration
	Metrics      *metrics.Metrics
}

// Recorder queues entries for a background writer.
type Recorder struct {
	sink    Sink
	queue   chan Record
	timeout time.Duration
	metrics *metrics.Metrics
	dropped atomic.Uint64
	now     func() time.Time
}

func NewRecorder(sink Sink, opts Options) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	return &Recorder{
		sink:    sink,
		queue:   make(chan Record, opts.QueueSize),
		timeout: opts.WriteTimeout,
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

// Record enqueues an event. It drops the event when the queue is full.
func (r *Recorder) Record(e Entry) {
	rec := Record{
		ID:        ksuid.New().String(),
		Action:    e.Action,
		Provider:  e.Provider,
		IP:        e.IP,
		UserAgent: e.UserAgent,
		CreatedAt: r.now(),
	}
	if e.UserID != "" {
		id := e.UserID
		rec.UserID = &id
	}

	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
		r.metrics.AuditDropped()
		logger.Warn("audit queue full, entry dropped", map[string]any{
			"action":  string(e.Action),
			"user_id": e.UserID,
		})
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Run writes queued entries until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case e := <-r.queue:
			r.write(context.WithoutCancel(ctx), e)
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (r *Recorder) flush(ctx context.Context) {
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, rec Record) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.sink.Write(ctx, rec); err != nil {
		r.metrics.AuditFailed()
		logger.Error("audit write failed", map[string]any{
			"action": string(rec.Action),
			"error":  err.Error(),
		})
	}
}
