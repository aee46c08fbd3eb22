package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu      sync.Mutex
	entries []Record
	err     error
	block   chan struct{}
}

func (s *memorySink) Write(ctx context.Context, rec Record) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, rec)
	return nil
}

func (s *memorySink) all() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.entries...)
}

func TestRecorderWritesEntries(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	r := NewRecorder(sink, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	r.Record(Entry{UserID: "u1", Action: ActionLoginSuccess, Provider: "local", IP: "10.0.0.1", UserAgent: "curl/8"})
	r.Record(Entry{Action: ActionLoginFailed, Provider: "local", IP: "10.0.0.2", UserAgent: "curl/8"})

	require.Eventually(t, func() bool { return len(sink.all()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	got := sink.all()
	assert.Equal(t, ActionLoginSuccess, got[0].Action)
	require.NotNil(t, got[0].UserID)
	assert.Equal(t, "u1", *got[0].UserID)
	assert.NotEmpty(t, got[0].ID)
	assert.Nil(t, got[1].UserID)
}

func TestRecorderDropsWhenFullWithoutBlocking(t *testing.T) {
	t.Parallel()

	r := NewRecorder(&memorySink{}, Options{QueueSize: 2})

	start := time.Now()
	for i := 0; i < 5; i++ {
		r.Record(Entry{UserID: "u1", Action: ActionLogout, Provider: "local"})
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, uint64(3), r.Dropped())
}

func TestRecorderSwallowsSinkErrors(t *testing.T) {
	t.Parallel()

	sink := &memorySink{err: errors.New("db down")}
	r := NewRecorder(sink, Options{})

	r.Record(Entry{UserID: "u1", Action: ActionPasswordReset, Provider: "local"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, r.Run(ctx))
	assert.Empty(t, sink.all())
}

func TestRecorderFlushesOnShutdown(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	r := NewRecorder(sink, Options{})
	r.Record(Entry{UserID: "u1", Action: ActionOAuthLogin, Provider: "google"})
	r.Record(Entry{UserID: "u1", Action: ActionSessionReplaced, Provider: "google"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))
	assert.Len(t, sink.all(), 2)
}

func TestRecorderWriteTimeout(t *testing.T) {
	t.Parallel()

	sink := &memorySink{block: make(chan struct{})}
	r := NewRecorder(sink, Options{WriteTimeout: 20 * time.Millisecond})
	r.Record(Entry{UserID: "u1", Action: ActionLogout, Provider: "local"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	require.NoError(t, r.Run(ctx))
	assert.Less(t, time.Since(start), time.Second)
}
