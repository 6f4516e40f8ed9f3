package memstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nfrund/roomsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = domain.Identity{UID: "alice", DisplayName: "Alice"}

// fixedClock hands out the configured times in order, repeating the last one.
func fixedClock(times ...time.Time) func() time.Time {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := times[i]
		if i < len(times)-1 {
			i++
		}
		return t
	}
}

type recorder struct {
	mu        sync.Mutex
	snapshots [][]domain.Message
	updates   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{updates: make(chan struct{}, 64)}
}

func (r *recorder) handle(msgs []domain.Message) {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, msgs)
	r.mu.Unlock()
	r.updates <- struct{}{}
}

func (r *recorder) last() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil
	}
	return r.snapshots[len(r.snapshots)-1]
}

// waitFor blocks until the latest snapshot satisfies cond.
func (r *recorder) waitFor(t *testing.T, cond func([]domain.Message) bool) []domain.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if msgs := r.last(); msgs != nil && cond(msgs) {
			return msgs
		}
		select {
		case <-r.updates:
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot, last: %+v", r.last())
		}
	}
}

func hasLen(n int) func([]domain.Message) bool {
	return func(msgs []domain.Message) bool { return len(msgs) == n }
}

func TestStore_SubscribeDeliversInitialSnapshot(t *testing.T) {
	s := New()
	defer s.Close()

	rec := newRecorder()
	sub, err := s.Subscribe(context.Background(), rec.handle)
	require.NoError(t, err)
	defer sub.Cancel()

	msgs := rec.waitFor(t, hasLen(0))
	assert.Empty(t, msgs)
}

func TestStore_AppendOrdersByCreationTime(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	// The second write gets an earlier server time than the first.
	s := New(WithClock(fixedClock(base.Add(time.Second), base, base)))
	defer s.Close()

	ctx := context.Background()
	first, err := s.Append(ctx, domain.NewDraft(alice, "first"))
	require.NoError(t, err)
	second, err := s.Append(ctx, domain.NewDraft(alice, "second"))
	require.NoError(t, err)
	third, err := s.Append(ctx, domain.NewDraft(alice, "third"))
	require.NoError(t, err)

	msgs, rev := s.Snapshot()
	require.Len(t, msgs, 3)
	assert.Equal(t, uint64(3), rev)

	// second and third share a timestamp and keep append order.
	assert.Equal(t, []domain.MessageID{second, third, first},
		[]domain.MessageID{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}
}

func TestStore_SubscribersSeeEveryWrite(t *testing.T) {
	s := New()
	defer s.Close()

	rec := newRecorder()
	sub, err := s.Subscribe(context.Background(), rec.handle)
	require.NoError(t, err)
	defer sub.Cancel()
	rec.waitFor(t, hasLen(0))

	ctx := context.Background()
	id, err := s.Append(ctx, domain.NewDraft(alice, "hello"))
	require.NoError(t, err)

	msgs := rec.waitFor(t, hasLen(1))
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, domain.UserID("alice"), msgs[0].AuthorID)
	assert.NotNil(t, msgs[0].Reactions)

	require.NoError(t, s.MutateReactions(ctx, id, domain.Reactions{"bob": "🔥"}))
	msgs = rec.waitFor(t, func(msgs []domain.Message) bool {
		return len(msgs) == 1 && msgs[0].Reactions["bob"] == "🔥"
	})
	assert.Equal(t, domain.Reactions{"bob": "🔥"}, msgs[0].Reactions)
}

func TestStore_SnapshotsAreIndependentCopies(t *testing.T) {
	s := New()
	defer s.Close()

	id, err := s.Append(context.Background(), domain.NewDraft(alice, "hello"))
	require.NoError(t, err)

	msgs, _ := s.Snapshot()
	msgs[0].Reactions["mallory"] = "👀"
	msgs[0].Text = "changed"

	fresh, _ := s.Snapshot()
	assert.Equal(t, id, fresh[0].ID)
	assert.Equal(t, "hello", fresh[0].Text)
	assert.Empty(t, fresh[0].Reactions)
}

func TestStore_MutateReactionsUnknownID(t *testing.T) {
	s := New()
	defer s.Close()

	err := s.MutateReactions(context.Background(), "missing", domain.Reactions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	msgs, rev := s.Snapshot()
	assert.Empty(t, msgs)
	assert.Zero(t, rev)
}

func TestStore_AppendRejectsInvalidDraft(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.Append(context.Background(), domain.NewDraft(alice, ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidDraft)

	msgs, _ := s.Snapshot()
	assert.Empty(t, msgs)
}

func TestStore_FaultInjection(t *testing.T) {
	unreachable := errors.New("server unreachable")
	s := New(WithFault(func(op Op) error {
		if op == OpAppend {
			return unreachable
		}
		return nil
	}))
	defer s.Close()

	_, err := s.Append(context.Background(), domain.NewDraft(alice, "hello"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrWriteFailed)
	assert.ErrorIs(t, err, unreachable)

	s.SetFault(nil)
	_, err = s.Append(context.Background(), domain.NewDraft(alice, "hello"))
	require.NoError(t, err)
}

func TestStore_CancelStopsDelivery(t *testing.T) {
	s := New()
	defer s.Close()

	rec := newRecorder()
	sub, err := s.Subscribe(context.Background(), rec.handle)
	require.NoError(t, err)
	rec.waitFor(t, hasLen(0))

	sub.Cancel()
	_, err = s.Append(context.Background(), domain.NewDraft(alice, "after cancel"))
	require.NoError(t, err)

	select {
	case <-rec.updates:
		t.Fatal("snapshot delivered after cancel")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Empty(t, rec.last())
}

func TestStore_DeliveriesNeverGoBackwards(t *testing.T) {
	s := New()
	defer s.Close()

	rec := newRecorder()
	sub, err := s.Subscribe(context.Background(), rec.handle)
	require.NoError(t, err)
	defer sub.Cancel()

	const writes = 20
	var wg sync.WaitGroup
	for i := 0; i < writes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append(context.Background(), domain.NewDraft(alice, "burst"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec.waitFor(t, hasLen(writes))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i := 1; i < len(rec.snapshots); i++ {
		assert.GreaterOrEqual(t, len(rec.snapshots[i]), len(rec.snapshots[i-1]))
	}
}

func TestStore_CancelFromHandler(t *testing.T) {
	s := New()
	defer s.Close()

	var sub domain.Subscription
	ready := make(chan struct{})
	canceled := make(chan struct{})
	var calls atomic.Int32

	sub, err := s.Subscribe(context.Background(), func(msgs []domain.Message) {
		calls.Add(1)
		if len(msgs) == 0 {
			return
		}
		<-ready
		sub.Cancel()
		close(canceled)
	})
	require.NoError(t, err)
	close(ready)

	_, err = s.Append(context.Background(), domain.NewDraft(alice, "last one"))
	require.NoError(t, err)

	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel from inside the handler did not return")
	}

	_, err = s.Append(context.Background(), domain.NewDraft(alice, "ignored"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, calls.Load(), int32(2))
}
