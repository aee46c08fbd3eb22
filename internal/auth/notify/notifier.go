// Package notify delivers forced-logout notices off the request path.
package notify

import (
	"context"

	"github.com/SspStark/adminsphere-server/internal/logger"
	"github.com/SspStark/adminsphere-server/internal/metrics"
)

const (
	MessageReplaced = "Logged out due to another login"
	MessageRevoked  = "Your session was ended by an administrator"
)

// Publisher pushes a logout notice to an identity's live connections and
// returns how many received it.
type Publisher interface {
	ForceLogout(userID, message string) int
}

type notice struct {
	userID  string
	message string
}

type Options struct {
	// QueueSize defaults to 128.
	QueueSize int
	Metrics   *metrics.Metrics
}

type Notifier struct {
	pub     Publisher
	queue   chan notice
	metrics *metrics.Metrics
}

func New(pub Publisher, opts Options) *Notifier {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 128
	}
	return &Notifier{
		pub:     pub,
		queue:   make(chan notice, opts.QueueSize),
		metrics: opts.Metrics,
	}
}

// SessionReplaced queues a notice for the devices of a superseded session.
func (n *Notifier) SessionReplaced(userID string) {
	n.enqueue(notice{userID: userID, message: MessageReplaced})
}

// SessionRevoked queues a notice after an administrator ends a session.
func (n *Notifier) SessionRevoked(userID string) {
	n.enqueue(notice{userID: userID, message: MessageRevoked})
}

func (n *Notifier) enqueue(nt notice) {
	select {
	case n.queue <- nt:
	default:
		n.metrics.ForceLogout("dropped")
		logger.Warn("force logout queue full, notice dropped", map[string]any{
			"user_id": nt.userID,
		})
	}
}

// Run delivers queued notices until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case nt := <-n.queue:
			n.deliver(nt)
		case <-ctx.Done():
			return nil
		}
	}
}

func (n *Notifier) deliver(nt notice) {
	if sent := n.pub.ForceLogout(nt.userID, nt.message); sent > 0 {
		n.metrics.ForceLogout("delivered")
		logger.Info("force logout sent", map[string]any{
			"user_id":     nt.userID,
			"connections": sent,
		})
		return
	}
	n.metrics.ForceLogout("no_connection")
	logger.Debug("force logout had no live connection", map[string]any{"user_id": nt.userID})
}
