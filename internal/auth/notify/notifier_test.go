package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu    sync.Mutex
	calls map[string][]string
}

func (p *recordingPublisher) ForceLogout(userID, message string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[string][]string)
	}
	p.calls[userID] = append(p.calls[userID], message)
	return 1
}

func (p *recordingPublisher) messages(userID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls[userID]...)
}

func TestNotifierDelivers(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	n := New(pub, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = n.Run(ctx) }()

	n.SessionReplaced("u1")
	n.SessionRevoked("u2")

	require.Eventually(t, func() bool {
		return len(pub.messages("u1")) == 1 && len(pub.messages("u2")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{MessageReplaced}, pub.messages("u1"))
	assert.Equal(t, []string{MessageRevoked}, pub.messages("u2"))
}

func TestNotifierNeverBlocksCaller(t *testing.T) {
	t.Parallel()

	n := New(&recordingPublisher{}, Options{QueueSize: 1})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			n.SessionReplaced("u1")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SessionReplaced blocked on a full queue")
	}
}

func TestNotifierStopsOnCancel(t *testing.T) {
	t.Parallel()

	n := New(&recordingPublisher{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, n.Run(ctx))
}
