package test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/deciderhq/go-decider/backend"
	"github.com/deciderhq/go-decider/core"
)

// BackendTest is the conformance suite every backend has to pass. It covers
// position assignment, windowed reads, the pending-command work queue,
// mark-processed semantics and stream deletion, including behavior under
// concurrent appenders.
func BackendTest(t *testing.T, setup func() backend.Backend, teardown func(b backend.Backend)) {
	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, b backend.Backend)
	}{
		{
			name: "Append_AssignsSequentialPositions",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				workflowID := uuid.NewString()

				for i := int64(1); i <= 5; i++ {
					lastPosition, err := b.Append(ctx, workflowID, []*core.Message{newEvent()})
					require.NoError(t, err)
					require.Equal(t, i, lastPosition)
				}

				requirePositions(t, ctx, b, workflowID, 5)
			},
		},
		{
			name: "Append_BatchesGetContiguousPositions",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				workflowID := uuid.NewString()

				lastPosition, err := b.Append(ctx, workflowID, []*core.Message{newEvent(), newEvent(), newEvent()})
				require.NoError(t, err)
				require.Equal(t, int64(3), lastPosition)

				lastPosition, err = b.Append(ctx, workflowID, []*core.Message{newEvent(), newEvent()})
				require.NoError(t, err)
				require.Equal(t, int64(5), lastPosition)

				requirePositions(t, ctx, b, workflowID, 5)
			},
		},
		{
			name: "Append_IgnoresCallerSetPositions",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				workflowID := uuid.NewString()

				m := newEvent()
				m.Position = 42

				lastPosition, err := b.Append(ctx, workflowID, []*core.Message{m})
				require.NoError(t, err)
				require.Equal(t, int64(1), lastPosition)

				requirePositions(t, ctx, b, workflowID, 1)
			},
		},
		{
			name: "Append_EmptyBatchErrors",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				_, err := b.Append(ctx, uuid.NewString(), nil)
				require.Error(t, err)
			},
		},
		{
			name: "Append_ConcurrentAppendersSameWorkflow",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				workflowID := uuid.NewString()

				const k = 20

				var wg sync.WaitGroup
				errs := make(chan error, k)

				for i := 0; i < k; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()

						_, err := b.Append(ctx, workflowID, []*core.Message{newEvent()})
						errs <- err
					}()
				}

				wg.Wait()
				close(errs)

				for err := range errs {
					require.NoError(t, err)
				}

				requirePositions(t, ctx, b, workflowID, k)
			},
		},
		{
			name: "Append_ConcurrentAppendersDifferentWorkflows",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				workflowIDs := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}

				var wg sync.WaitGroup
				errs := make(chan error, len(workflowIDs)*5)

				for _, workflowID := range workflowIDs {
					for i := 0; i < 5; i++ {
						wg.Add(1)
						go func(workflowID string) {
							defer wg.Done()

							_, err := b.Append(ctx, workflowID, []*core.Message{newEvent()})
							errs <- err
						}(workflowID)
					}
				}

				wg.Wait()
				close(errs)

				for err := range errs {
					require.NoError(t, err)
				}

				for _, workflowID := range workflowIDs {
					requirePositions(t, ctx, b, workflowID, 5)
				}
			},
		},
		{
			name: "ReadStream_WindowedRead",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				workflowID := uuid.NewString()

				_, err := b.Append(ctx, workflowID, []*core.Message{newEvent(), newEvent(), newEvent(), newEvent(), newEvent()})
				require.NoError(t, err)

				messages, err := b.ReadStream(ctx, workflowID, 3)
				require.NoError(t, err)
				require.Len(t, messages, 3)

				for i, m := range messages {
					require.Equal(t, int64(i+3), m.Position)
					require.Equal(t, workflowID, m.WorkflowID)
				}
			},
		},
		{
			name: "ReadStream_UnknownWorkflowReturnsEmpty",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				messages, err := b.ReadStream(ctx, uuid.NewString(), 1)
				require.NoError(t, err)
				require.Empty(t, messages)
			},
		},
		{
			name: "ReadStream_StampsTimestamps",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				workflowID := uuid.NewString()

				_, err := b.Append(ctx, workflowID, []*core.Message{newEvent()})
				require.NoError(t, err)

				messages, err := b.ReadStream(ctx, workflowID, 1)
				require.NoError(t, err)
				require.Len(t, messages, 1)
				require.False(t, messages[0].Timestamp.IsZero())
			},
		},
		{
			name: "GetPendingCommands_FiltersByKindDirectionProcessed",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				workflowID := uuid.NewString()

				_, err := b.Append(ctx, workflowID, []*core.Message{
					newEvent(),
					newInputEvent(),
					newCommand(),
					newEvent(),
					newCommand(),
				})
				require.NoError(t, err)

				pending, err := b.GetPendingCommands(ctx, workflowID)
				require.NoError(t, err)
				require.Len(t, pending, 2)

				for _, m := range pending {
					require.Equal(t, core.MessageKind_Command, m.Kind)
					require.Equal(t, core.Direction_Output, m.Direction)
					require.NotNil(t, m.Processed)
					require.False(t, *m.Processed)
				}
			},
		},
		{
			name: "GetPendingCommands_AcrossWorkflows",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				first := uuid.NewString()
				second := uuid.NewString()

				_, err := b.Append(ctx, first, []*core.Message{newCommand()})
				require.NoError(t, err)

				_, err = b.Append(ctx, second, []*core.Message{newCommand(), newCommand()})
				require.NoError(t, err)

				pending, err := b.GetPendingCommands(ctx, "")
				require.NoError(t, err)
				require.GreaterOrEqual(t, len(pending), 3)

				pending, err = b.GetPendingCommands(ctx, second)
				require.NoError(t, err)
				require.Len(t, pending, 2)
				for _, m := range pending {
					require.Equal(t, second, m.WorkflowID)
				}
			},
		},
		{
			name: "GetPendingCommands_UnknownWorkflowReturnsEmpty",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				pending, err := b.GetPendingCommands(ctx, uuid.NewString())
				require.NoError(t, err)
				require.Empty(t, pending)
			},
		},
		{
			name: "MarkCommandProcessed_RemovesFromPending",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				workflowID := uuid.NewString()

				_, err := b.Append(ctx, workflowID, []*core.Message{newEvent(), newCommand()})
				require.NoError(t, err)

				require.NoError(t, b.MarkCommandProcessed(ctx, workflowID, 2))

				pending, err := b.GetPendingCommands(ctx, workflowID)
				require.NoError(t, err)
				require.Empty(t, pending)

				messages, err := b.ReadStream(ctx, workflowID, 1)
				require.NoError(t, err)
				require.Len(t, messages, 2)
				require.NotNil(t, messages[1].Processed)
				require.True(t, *messages[1].Processed)
			},
		},
		{
			name: "MarkCommandProcessed_UnknownWorkflowErrors",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				err := b.MarkCommandProcessed(ctx, uuid.NewString(), 1)
				require.ErrorIs(t, err, backend.ErrStreamNotFound)
			},
		},
		{
			name: "MarkCommandProcessed_UnknownPositionErrors",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				workflowID := uuid.NewString()

				_, err := b.Append(ctx, workflowID, []*core.Message{newCommand()})
				require.NoError(t, err)

				err = b.MarkCommandProcessed(ctx, workflowID, 2)
				require.ErrorIs(t, err, backend.ErrPositionNotFound)
			},
		},
		{
			name: "MarkCommandProcessed_EventErrors",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				workflowID := uuid.NewString()

				_, err := b.Append(ctx, workflowID, []*core.Message{newEvent()})
				require.NoError(t, err)

				err = b.MarkCommandProcessed(ctx, workflowID, 1)

				var ime *backend.InvalidMarkError
				require.ErrorAs(t, err, &ime)
				require.Equal(t, core.MessageKind_Event, ime.Kind)
			},
		},
		{
			name: "MarkCommandProcessed_AlreadyProcessedErrors",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				workflowID := uuid.NewString()

				_, err := b.Append(ctx, workflowID, []*core.Message{newCommand()})
				require.NoError(t, err)

				require.NoError(t, b.MarkCommandProcessed(ctx, workflowID, 1))

				err = b.MarkCommandProcessed(ctx, workflowID, 1)

				var ime *backend.InvalidMarkError
				require.ErrorAs(t, err, &ime)
				require.NotNil(t, ime.Processed)
				require.True(t, *ime.Processed)

				// Failed mark must not mutate the log
				messages, err := b.ReadStream(ctx, workflowID, 1)
				require.NoError(t, err)
				require.Len(t, messages, 1)
				require.True(t, *messages[0].Processed)
			},
		},
		{
			name: "Exists_ReflectsAppendsAndDeletes",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				workflowID := uuid.NewString()

				exists, err := b.Exists(ctx, workflowID)
				require.NoError(t, err)
				require.False(t, exists)

				_, err = b.Append(ctx, workflowID, []*core.Message{newEvent()})
				require.NoError(t, err)

				exists, err = b.Exists(ctx, workflowID)
				require.NoError(t, err)
				require.True(t, exists)

				require.NoError(t, b.Delete(ctx, workflowID))

				exists, err = b.Exists(ctx, workflowID)
				require.NoError(t, err)
				require.False(t, exists)

				messages, err := b.ReadStream(ctx, workflowID, 1)
				require.NoError(t, err)
				require.Empty(t, messages)
			},
		},
		{
			name: "Delete_IsIdempotent",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				workflowID := uuid.NewString()

				require.NoError(t, b.Delete(ctx, workflowID))

				_, err := b.Append(ctx, workflowID, []*core.Message{newEvent()})
				require.NoError(t, err)

				require.NoError(t, b.Delete(ctx, workflowID))
				require.NoError(t, b.Delete(ctx, workflowID))
			},
		},
		{
			name: "Delete_ResetsPositions",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				workflowID := uuid.NewString()

				_, err := b.Append(ctx, workflowID, []*core.Message{newEvent(), newEvent()})
				require.NoError(t, err)

				require.NoError(t, b.Delete(ctx, workflowID))

				lastPosition, err := b.Append(ctx, workflowID, []*core.Message{newEvent()})
				require.NoError(t, err)
				require.Equal(t, int64(1), lastPosition)
			},
		},
		{
			name: "GetStats_CountsStreamsAndPendingCommands",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				workflowID := uuid.NewString()

				_, err := b.Append(ctx, workflowID, []*core.Message{newEvent(), newCommand()})
				require.NoError(t, err)

				stats, err := b.GetStats(ctx)
				require.NoError(t, err)
				require.GreaterOrEqual(t, stats.WorkflowStreams, int64(1))
				require.GreaterOrEqual(t, stats.PendingCommands, int64(1))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := setup()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			t.Cleanup(func() {
				if teardown != nil {
					teardown(b)
				}
			})

			tt.f(t, ctx, b)
		})
	}
}

// requirePositions asserts the stream holds exactly the positions 1..n in
// ascending order, with no duplicates and no gaps.
func requirePositions(t *testing.T, ctx context.Context, b backend.Backend, workflowID string, n int64) {
	t.Helper()

	messages, err := b.ReadStream(ctx, workflowID, 1)
	require.NoError(t, err)
	require.Len(t, messages, int(n))

	for i, m := range messages {
		require.Equal(t, int64(i+1), m.Position, "expected gapless positions")
	}
}

func newEvent() *core.Message {
	return core.NewMessage(time.Time{}, core.MessageKind_Event, core.Direction_Output, "Completed", nil)
}

func newInputEvent() *core.Message {
	return core.NewMessage(time.Time{}, core.MessageKind_Event, core.Direction_Input, "Received", []byte(`{"input":true}`))
}

var commandSeq int

func newCommand() *core.Message {
	commandSeq++
	return core.NewMessage(time.Time{}, core.MessageKind_Command, core.Direction_Output, "Send", []byte(fmt.Sprintf(`{"seq":%d}`, commandSeq)))
}
