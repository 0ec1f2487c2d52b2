package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jellydator/ttlcache/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/deciderhq/go-decider/backend/memory"
	"github.com/deciderhq/go-decider/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newCommand(name string) *core.Message {
	return core.NewMessage(time.Time{}, core.MessageKind_Command, core.Direction_Output, name, []byte(`{}`))
}

func newEvent() *core.Message {
	return core.NewMessage(time.Time{}, core.MessageKind_Event, core.Direction_Input, "Received", nil)
}

func noRetries() func() backoff.BackOff {
	return func() backoff.BackOff {
		return &backoff.StopBackOff{}
	}
}

func Test_DispatchPending_AcknowledgesCommands(t *testing.T) {
	ctx := context.Background()
	b := memory.NewMemoryBackend()

	_, err := b.Append(ctx, "wf-1", []*core.Message{newEvent(), newCommand("Sent"), newCommand("Published")})
	require.NoError(t, err)

	var mu sync.Mutex
	var keys []string

	d := New(b, func(ctx context.Context, key string, command *core.Message) error {
		mu.Lock()
		defer mu.Unlock()

		keys = append(keys, key)
		return nil
	})

	processed, err := d.DispatchPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, processed)
	require.Equal(t, []string{"wf-1:Sent:2", "wf-1:Published:3"}, keys)

	pending, err := b.GetPendingCommands(ctx, "")
	require.NoError(t, err)
	require.Empty(t, pending)

	// Nothing left on a second pass
	processed, err = d.DispatchPending(ctx)
	require.NoError(t, err)
	require.Zero(t, processed)
}

func Test_DispatchPending_FailedHandlerLeavesCommandPending(t *testing.T) {
	ctx := context.Background()
	b := memory.NewMemoryBackend()

	_, err := b.Append(ctx, "wf-1", []*core.Message{newCommand("Sent")})
	require.NoError(t, err)

	d := New(b, func(ctx context.Context, key string, command *core.Message) error {
		return errors.New("broker unavailable")
	}, WithRetryPolicy(noRetries()))

	processed, err := d.DispatchPending(ctx)
	require.NoError(t, err)
	require.Zero(t, processed)

	pending, err := b.GetPendingCommands(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func Test_DispatchPending_RetriesHandler(t *testing.T) {
	ctx := context.Background()
	b := memory.NewMemoryBackend()

	_, err := b.Append(ctx, "wf-1", []*core.Message{newCommand("Sent")})
	require.NoError(t, err)

	attempts := 0
	d := New(b, func(ctx context.Context, key string, command *core.Message) error {
		attempts++
		if attempts < 3 {
			return errors.New("flaky")
		}

		return nil
	}, WithRetryPolicy(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5)
	}))

	processed, err := d.DispatchPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)
	require.Equal(t, 3, attempts)
}

func Test_DispatchPending_SuppressesDuplicateKeys(t *testing.T) {
	ctx := context.Background()
	b := memory.NewMemoryBackend()

	_, err := b.Append(ctx, "wf-1", []*core.Message{newCommand("Sent")})
	require.NoError(t, err)

	handled := 0
	d := New(b, func(ctx context.Context, key string, command *core.Message) error {
		handled++
		return nil
	})

	// Simulate a previous pass whose acknowledgment was lost: the key is
	// remembered but the command is still pending.
	d.cache.Set("wf-1:Sent:1", struct{}{}, ttlcache.DefaultTTL)

	processed, err := d.DispatchPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)
	require.Zero(t, handled)

	pending, err := b.GetPendingCommands(ctx, "wf-1")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func Test_DispatchPending_FiltersByWorkflowID(t *testing.T) {
	ctx := context.Background()
	b := memory.NewMemoryBackend()

	_, err := b.Append(ctx, "wf-1", []*core.Message{newCommand("Sent")})
	require.NoError(t, err)
	_, err = b.Append(ctx, "wf-2", []*core.Message{newCommand("Sent")})
	require.NoError(t, err)

	d := New(b, func(ctx context.Context, key string, command *core.Message) error {
		return nil
	}, WithWorkflowID("wf-2"))

	processed, err := d.DispatchPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	pending, err := b.GetPendingCommands(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func Test_Run_StopsOnContextCancel(t *testing.T) {
	b := memory.NewMemoryBackend()

	d := New(b, func(ctx context.Context, key string, command *core.Message) error {
		return nil
	}, WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
