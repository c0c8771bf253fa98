package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venturekit/planner/internal/domain"
	"github.com/venturekit/planner/internal/logging"
	"github.com/venturekit/planner/internal/retry"
	"github.com/venturekit/planner/internal/transport"
)

func fastRetry(maxAttempts int) retry.Config {
	return retry.Config{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
		Retryable:      transport.IsRetryable,
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) listener() Listener {
	return func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	}
}

func (r *eventRecorder) byType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func okDeliver(reply string) DeliverFunc {
	return func(ctx context.Context) (*transport.SendReply, error) {
		return &transport.SendReply{AssistantReply: reply, TokensUsed: 5}, nil
	}
}

func newController(store *MessageStore, maxAttempts int, wait time.Duration, notify Listener) *DeliveryController {
	return NewDeliveryController(store, fastRetry(maxAttempts), wait, notify, logging.Silent())
}

func TestDeliverSuccess(t *testing.T) {
	store := NewMessageStore()
	d := newController(store, 3, time.Minute, nil)

	err := d.Deliver(context.Background(), "sess", userMsg("m1", "hello"), okDeliver("hi there"), KeepFailed)
	require.NoError(t, err)

	msgs := store.List("sess")
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.StatusSent, msgs[0].Status)
	assert.Equal(t, 5, msgs[0].TokensUsed)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hi there", msgs[1].Content)
	assert.Equal(t, domain.StatusSent, msgs[1].Status)

	loading, _ := d.Loading("sess")
	assert.False(t, loading, "lock must be released after success")
}

func TestDeliverRejectsWhileBusy(t *testing.T) {
	store := NewMessageStore()
	d := newController(store, 3, time.Minute, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = d.Deliver(context.Background(), "sess", userMsg("m1", "first"), func(ctx context.Context) (*transport.SendReply, error) {
			close(started)
			<-release
			return &transport.SendReply{AssistantReply: "ok"}, nil
		}, KeepFailed)
	}()
	<-started

	err := d.Deliver(context.Background(), "sess", userMsg("m2", "second"), okDeliver("x"), KeepFailed)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Len(t, store.List("sess"), 1, "rejected send must not mutate the store")

	// A different session is not blocked.
	require.NoError(t, d.Deliver(context.Background(), "other", userMsg("m3", "hi"), okDeliver("y"), KeepFailed))

	close(release)
}

func TestDeliverFailureKeepsMessageWithRetryMetadata(t *testing.T) {
	store := NewMessageStore()
	d := newController(store, 3, time.Minute, nil)

	calls := 0
	err := d.Deliver(context.Background(), "sess", userMsg("m1", "hello"), func(ctx context.Context) (*transport.SendReply, error) {
		calls++
		return nil, transport.NewError(transport.KindServer, 503, "down", nil)
	}, KeepFailed)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, calls)

	msgs := store.List("sess")
	require.Len(t, msgs, 1, "failed message stays visible")
	assert.Equal(t, domain.StatusFailed, msgs[0].Status)
	assert.Equal(t, 3, msgs[0].AttemptNumber)
	assert.Equal(t, 3, msgs[0].MaxRetries)

	loading, _ := d.Loading("sess")
	assert.False(t, loading, "lock must be released after failure")
}

func TestDeliverRollbackOnFailure(t *testing.T) {
	store := NewMessageStore()
	d := newController(store, 2, time.Minute, nil)

	err := d.Deliver(context.Background(), "sess", userMsg("m1", "hello"), func(ctx context.Context) (*transport.SendReply, error) {
		return nil, transport.NewError(transport.KindNetwork, 0, "unreachable", nil)
	}, RollbackOnFailure)

	require.Error(t, err)
	assert.Empty(t, store.List("sess"), "message must not linger as an orphan")
}

func TestCancelReleasesLockAndMarksFailed(t *testing.T) {
	store := NewMessageStore()
	d := newController(store, 3, time.Minute, nil)

	started := make(chan struct{})
	var once sync.Once
	done := make(chan error, 1)
	go func() {
		done <- d.Deliver(context.Background(), "sess", userMsg("m1", "hello"), func(ctx context.Context) (*transport.SendReply, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return nil, ctx.Err()
		}, KeepFailed)
	}()

	<-started
	d.Cancel("sess")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("delivery did not unwind after cancel")
	}

	msgs := store.List("sess")
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.StatusFailed, msgs[0].Status)
	assert.Zero(t, msgs[0].AttemptNumber, "cancellation carries no retry metadata")
	assert.Zero(t, msgs[0].MaxRetries)

	loading, _ := d.Loading("sess")
	assert.False(t, loading)

	// The session is immediately usable again.
	require.NoError(t, d.Deliver(context.Background(), "sess", userMsg("m2", "again"), okDeliver("ok"), KeepFailed))
}

func TestCancelWhenIdleIsNoop(t *testing.T) {
	d := newController(NewMessageStore(), 3, time.Minute, nil)
	d.Cancel("sess")
	d.Cancel("sess")
}

func TestRedeliverReusesMessageIdentity(t *testing.T) {
	store := NewMessageStore()
	d := newController(store, 1, time.Minute, nil)

	// First delivery fails.
	_ = d.Deliver(context.Background(), "sess", userMsg("m1", "hello"), func(ctx context.Context) (*transport.SendReply, error) {
		return nil, transport.NewError(transport.KindServer, 500, "boom", nil)
	}, KeepFailed)
	require.Len(t, store.List("sess"), 1)

	// Retry succeeds: same id, same position, no duplicate entry.
	err := d.Redeliver(context.Background(), "sess", "m1", okDeliver("recovered"))
	require.NoError(t, err)

	msgs := store.List("sess")
	require.Len(t, msgs, 2) // original user message + assistant reply
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, domain.StatusSent, msgs[0].Status)
	assert.Equal(t, "recovered", msgs[1].Content)
}

func TestRedeliverRequiresFailedStatus(t *testing.T) {
	store := NewMessageStore()
	d := newController(store, 1, time.Minute, nil)

	require.NoError(t, d.Deliver(context.Background(), "sess", userMsg("m1", "hello"), okDeliver("ok"), KeepFailed))

	err := d.Redeliver(context.Background(), "sess", "m1", okDeliver("x"))
	assert.ErrorIs(t, err, ErrNotRetryable)

	err = d.Redeliver(context.Background(), "sess", "nope", okDeliver("x"))
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestWaitNoticeFiresWhileInFlight(t *testing.T) {
	store := NewMessageStore()
	rec := &eventRecorder{}
	d := newController(store, 1, 5*time.Millisecond, rec.listener())

	err := d.Deliver(context.Background(), "sess", userMsg("m1", "slow"), func(ctx context.Context) (*transport.SendReply, error) {
		time.Sleep(40 * time.Millisecond)
		return &transport.SendReply{AssistantReply: "finally"}, nil
	}, KeepFailed)
	require.NoError(t, err)

	assert.Len(t, rec.byType(EventWaitExceeded), 1)
}

func TestWaitNoticeSuppressedOnFastReply(t *testing.T) {
	store := NewMessageStore()
	rec := &eventRecorder{}
	d := newController(store, 1, time.Minute, rec.listener())

	require.NoError(t, d.Deliver(context.Background(), "sess", userMsg("m1", "fast"), okDeliver("ok"), KeepFailed))
	time.Sleep(10 * time.Millisecond)

	assert.Empty(t, rec.byType(EventWaitExceeded))
}

func TestDeliverEmitsStatusEvents(t *testing.T) {
	store := NewMessageStore()
	rec := &eventRecorder{}
	d := newController(store, 1, time.Minute, rec.listener())

	require.NoError(t, d.Deliver(context.Background(), "sess", userMsg("m1", "hello"), okDeliver("hi"), KeepFailed))

	updated := rec.byType(EventMessageUpdated)
	// pending insert, sent transition, assistant append.
	require.Len(t, updated, 3)
	assert.Equal(t, domain.StatusPending, updated[0].Message.Status)
	assert.Equal(t, domain.StatusSent, updated[1].Message.Status)
	assert.Equal(t, domain.RoleAssistant, updated[2].Message.Role)
}

func TestNonRetryableFailureStopsChain(t *testing.T) {
	store := NewMessageStore()
	d := newController(store, 5, time.Minute, nil)

	calls := 0
	err := d.Deliver(context.Background(), "sess", userMsg("m1", "hello"), func(ctx context.Context) (*transport.SendReply, error) {
		calls++
		return nil, transport.NewError(transport.KindQuota, 402, "quota", nil)
	}, KeepFailed)

	require.Error(t, err)
	assert.False(t, errors.As(err, new(*retry.ExhaustedError)))
	assert.Equal(t, 1, calls, "quota rejections must not be retried")

	msgs := store.List("sess")
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.StatusFailed, msgs[0].Status)
}
