package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/deciderhq/go-decider/backend/memory"
	"github.com/deciderhq/go-decider/backend/sqlite"
	"github.com/deciderhq/go-decider/core"
	"github.com/deciderhq/go-decider/workflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// signup is a three-state workflow with concrete input/output types so
// payloads survive a serialization round trip.

type signupInput struct {
	Kind  string `json:"kind"`
	Email string `json:"email"`
}

type signupOutput struct {
	Kind  string `json:"kind"`
	Email string `json:"email"`
}

type signupState int

const (
	signupInitial signupState = iota
	signupAwaitingVerification
	signupActive
)

type signupDecider struct{}

var _ workflow.Decider[signupState, signupInput, signupOutput] = (*signupDecider)(nil)

func (signupDecider) InitialState() signupState {
	return signupInitial
}

func (signupDecider) Decide(input signupInput, state signupState) ([]workflow.Command[signupOutput], error) {
	switch {
	case input.Kind == "register" && state == signupInitial:
		return []workflow.Command[signupOutput]{
			workflow.Send(signupOutput{Kind: "verification-email", Email: input.Email}),
			workflow.Schedule(24*time.Hour, signupOutput{Kind: "reminder", Email: input.Email}),
		}, nil

	case input.Kind == "verify" && state == signupAwaitingVerification:
		return []workflow.Command[signupOutput]{
			workflow.Publish(signupOutput{Kind: "account-activated", Email: input.Email}),
			workflow.Reply(signupOutput{Kind: "welcome", Email: input.Email}),
			workflow.Complete[signupOutput](),
		}, nil
	}

	return nil, workflow.NewDecisionError(input, state)
}

func (signupDecider) Evolve(state signupState, event workflow.Event[signupInput, signupOutput]) (signupState, error) {
	switch event := event.(type) {
	case workflow.InitiatedByEvent[signupInput, signupOutput]:
		if event.Input.Kind == "register" && state == signupInitial {
			return signupAwaitingVerification, nil
		}

	case workflow.ReceivedEvent[signupInput, signupOutput]:
		if event.Input.Kind == "verify" && state == signupAwaitingVerification {
			return signupActive, nil
		}

	default:
		if workflow.Generic[signupInput, signupOutput](event) {
			return state, nil
		}
	}

	return state, workflow.NewReplayError[signupInput, signupOutput](event, state)
}

func Test_Execute_BeginsAndContinues(t *testing.T) {
	ctx := context.Background()
	b := memory.NewMemoryBackend()
	e := New[signupState, signupInput, signupOutput](signupDecider{}, b)

	r, err := e.Execute(ctx, "wf-1", signupInput{Kind: "register", Email: "a@example.com"}, signupDecider{}.InitialState())
	require.NoError(t, err)
	require.True(t, r.Began)
	require.Equal(t, signupAwaitingVerification, r.State)
	require.Equal(t, int64(4), r.LastPosition)

	r, err = e.Execute(ctx, "wf-1", signupInput{Kind: "verify", Email: "a@example.com"}, r.State)
	require.NoError(t, err)
	require.False(t, r.Began)
	require.Equal(t, signupActive, r.State)
	require.Equal(t, int64(8), r.LastPosition)

	messages, err := b.ReadStream(ctx, "wf-1", 1)
	require.NoError(t, err)

	names := make([]string, 0, len(messages))
	for _, m := range messages {
		names = append(names, m.Name)
	}

	require.Equal(t, []string{
		"Began", "InitiatedBy", "Sent", "Scheduled",
		"Received", "Published", "Replied", "Completed",
	}, names)
}

func Test_Execute_PersistsPendingCommands(t *testing.T) {
	ctx := context.Background()
	b := memory.NewMemoryBackend()
	e := New[signupState, signupInput, signupOutput](signupDecider{}, b)

	_, err := e.Execute(ctx, "wf-1", signupInput{Kind: "register", Email: "a@example.com"}, signupDecider{}.InitialState())
	require.NoError(t, err)

	pending, err := b.GetPendingCommands(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "Sent", pending[0].Name)
	require.Equal(t, "Scheduled", pending[1].Name)

	for _, m := range pending {
		require.Equal(t, core.MessageKind_Command, m.Kind)
		require.Equal(t, core.Direction_Output, m.Direction)
	}
}

func Test_Replay_ReconstructsState(t *testing.T) {
	ctx := context.Background()
	b := memory.NewMemoryBackend()
	e := New[signupState, signupInput, signupOutput](signupDecider{}, b)

	r, err := e.Execute(ctx, "wf-1", signupInput{Kind: "register", Email: "a@example.com"}, signupDecider{}.InitialState())
	require.NoError(t, err)

	r, err = e.Execute(ctx, "wf-1", signupInput{Kind: "verify", Email: "a@example.com"}, r.State)
	require.NoError(t, err)

	state, err := e.Replay(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, r.State, state)
}

func Test_Execute_UnsupportedInputAppendsNothing(t *testing.T) {
	ctx := context.Background()
	b := memory.NewMemoryBackend()
	e := New[signupState, signupInput, signupOutput](signupDecider{}, b)

	_, err := e.Execute(ctx, "wf-1", signupInput{Kind: "verify"}, signupDecider{}.InitialState())

	var te *workflow.TransitionError
	require.ErrorAs(t, err, &te)

	exists, err := b.Exists(ctx, "wf-1")
	require.NoError(t, err)
	require.False(t, exists)
}

type panickyDecider struct {
	signupDecider
}

func (panickyDecider) Decide(input signupInput, state signupState) ([]workflow.Command[signupOutput], error) {
	panic("boom")
}

func Test_Execute_RecoverDeciderPanic(t *testing.T) {
	ctx := context.Background()
	b := memory.NewMemoryBackend()
	e := New[signupState, signupInput, signupOutput](panickyDecider{}, b)

	_, err := e.Execute(ctx, "wf-1", signupInput{Kind: "register"}, signupInitial)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decider panicked")

	exists, err := b.Exists(ctx, "wf-1")
	require.NoError(t, err)
	require.False(t, exists)
}

func Test_Execute_SqlitePayloadRoundTrip(t *testing.T) {
	// Same flow against a serializing backend to cover the converter path
	// end to end, including replay from persisted payloads.
	ctx := context.Background()
	b := sqlite.NewInMemoryBackend()
	defer b.Close()

	e := New[signupState, signupInput, signupOutput](signupDecider{}, b)

	r, err := e.Execute(ctx, "wf-1", signupInput{Kind: "register", Email: "a@example.com"}, signupInitial)
	require.NoError(t, err)

	r, err = e.Execute(ctx, "wf-1", signupInput{Kind: "verify", Email: "a@example.com"}, r.State)
	require.NoError(t, err)
	require.Equal(t, signupActive, r.State)

	messages, err := b.ReadStream(ctx, "wf-1", 2)
	require.NoError(t, err)
	require.Equal(t, "InitiatedBy", messages[0].Name)
	require.JSONEq(t, `{"kind":"register","email":"a@example.com"}`, string(messages[0].Payload))

	state, err := e.Replay(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, signupActive, state)
}
