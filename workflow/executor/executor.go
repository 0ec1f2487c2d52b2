package executor

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/go-errors/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/deciderhq/go-decider/backend"
	"github.com/deciderhq/go-decider/backend/metrics"
	"github.com/deciderhq/go-decider/internal/metrickeys"
	"github.com/deciderhq/go-decider/workflow"
)

// Executor drives a single decider against a backend. For every input it
// runs Decide, translates the decided commands into events, folds them
// through Evolve and appends the resulting messages to the workflow's log.
//
// Decide and Evolve are evaluated before anything is appended, so a failing
// transition never leaves a partial batch in the log.
type Executor[TState, TInput, TOutput any] struct {
	decider workflow.Decider[TState, TInput, TOutput]
	backend backend.Backend
	tracer  trace.Tracer
}

func New[TState, TInput, TOutput any](decider workflow.Decider[TState, TInput, TOutput], b backend.Backend) *Executor[TState, TInput, TOutput] {
	return &Executor[TState, TInput, TOutput]{
		decider: decider,
		backend: b,
		tracer:  b.Tracer(),
	}
}

// Result carries the outcome of executing one input.
type Result[TState any] struct {
	// State after folding the translated events
	State TState

	// Began is true if this input created the workflow instance
	Began bool

	// LastPosition is the position of the last appended message
	LastPosition int64
}

// Execute feeds one input through the decider and persists the translated
// events. The caller supplies the current state and keeps the returned one
// for the next input.
func (e *Executor[TState, TInput, TOutput]) Execute(ctx context.Context, workflowID string, input TInput, state TState) (*Result[TState], error) {
	ctx, span := e.tracer.Start(ctx, "Execute", trace.WithAttributes(
		attribute.String("workflow_id", workflowID),
	))
	defer span.End()

	start := time.Now()

	exists, err := e.backend.Exists(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("checking workflow existence: %w", err)
	}

	begins := !exists

	commands, err := e.decide(input, state)
	if err != nil {
		return nil, err
	}

	events := workflow.Translate(begins, input, commands)

	newState := state
	for _, event := range events {
		newState, err = e.evolve(newState, event)
		if err != nil {
			return nil, err
		}
	}

	messages, err := e.toMessages(events)
	if err != nil {
		return nil, err
	}

	lastPosition, err := e.backend.Append(ctx, workflowID, messages)
	if err != nil {
		return nil, fmt.Errorf("appending messages: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("began", begins),
		attribute.Int("commands", len(commands)),
		attribute.Int64("last_position", lastPosition),
	)

	mc := e.backend.Metrics()
	mc.Counter(metrickeys.InputsExecuted, metrics.Tags{metrickeys.WorkflowID: workflowID}, 1)
	mc.Timing(metrickeys.ExecuteTime, metrics.Tags{metrickeys.WorkflowID: workflowID}, time.Since(start))

	return &Result[TState]{
		State:        newState,
		Began:        begins,
		LastPosition: lastPosition,
	}, nil
}

// Replay reconstructs the workflow's state by folding its recorded events
// through Evolve. No side effects are re-executed.
func (e *Executor[TState, TInput, TOutput]) Replay(ctx context.Context, workflowID string) (TState, error) {
	state := e.decider.InitialState()

	messages, err := e.backend.ReadStream(ctx, workflowID, 1)
	if err != nil {
		return state, fmt.Errorf("reading stream: %w", err)
	}

	for _, m := range messages {
		event, err := e.toEvent(m)
		if err != nil {
			return state, err
		}

		state, err = e.evolve(state, event)
		if err != nil {
			return state, err
		}
	}

	return state, nil
}

// decide invokes the decider's Decide, turning panics from user code into
// errors with a stack trace.
func (e *Executor[TState, TInput, TOutput]) decide(input TInput, state TState) (commands []workflow.Command[TOutput], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decider panicked: %w", goerrors.Wrap(r, 2))
		}
	}()

	return e.decider.Decide(input, state)
}

func (e *Executor[TState, TInput, TOutput]) evolve(state TState, event workflow.Event[TInput, TOutput]) (newState TState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decider panicked: %w", goerrors.Wrap(r, 2))
		}
	}()

	return e.decider.Evolve(state, event)
}
