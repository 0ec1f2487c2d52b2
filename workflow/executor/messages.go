package executor

import (
	"fmt"
	"time"

	"github.com/deciderhq/go-decider/core"
	"github.com/deciderhq/go-decider/workflow"
)

// scheduledBody is the wire shape of a Scheduled command's payload, keeping
// the delay next to the deferred message.
type scheduledBody[TOutput any] struct {
	Delay   time.Duration `json:"delay"`
	Message TOutput       `json:"message"`
}

// toMessages serializes translated events into log messages. Inbound facts
// become Event/Input entries, outbound intents become Command/Output entries
// that start out unprocessed, and lifecycle outcomes become Event/Output
// entries.
func (e *Executor[TState, TInput, TOutput]) toMessages(events []workflow.Event[TInput, TOutput]) ([]*core.Message, error) {
	converter := e.backend.Options().Converter

	messages := make([]*core.Message, 0, len(events))

	for _, event := range events {
		var kind core.MessageKind
		var direction core.Direction
		var body any

		switch event := event.(type) {
		case workflow.BeganEvent[TInput, TOutput]:
			kind, direction = core.MessageKind_Event, core.Direction_Input

		case workflow.InitiatedByEvent[TInput, TOutput]:
			kind, direction = core.MessageKind_Event, core.Direction_Input
			body = event.Input

		case workflow.ReceivedEvent[TInput, TOutput]:
			kind, direction = core.MessageKind_Event, core.Direction_Input
			body = event.Input

		case workflow.RepliedEvent[TInput, TOutput]:
			kind, direction = core.MessageKind_Command, core.Direction_Output
			body = event.Message

		case workflow.SentEvent[TInput, TOutput]:
			kind, direction = core.MessageKind_Command, core.Direction_Output
			body = event.Message

		case workflow.PublishedEvent[TInput, TOutput]:
			kind, direction = core.MessageKind_Command, core.Direction_Output
			body = event.Message

		case workflow.ScheduledEvent[TInput, TOutput]:
			kind, direction = core.MessageKind_Command, core.Direction_Output
			body = scheduledBody[TOutput]{Delay: event.Delay, Message: event.Message}

		case workflow.CompletedEvent[TInput, TOutput]:
			kind, direction = core.MessageKind_Event, core.Direction_Output

		default:
			return nil, fmt.Errorf("unknown event variant: %s", event.Name())
		}

		var p []byte
		if body != nil {
			var err error
			p, err = converter.To(body)
			if err != nil {
				return nil, fmt.Errorf("serializing %s payload: %w", event.Name(), err)
			}
		}

		messages = append(messages, core.NewMessage(time.Time{}, kind, direction, event.Name(), p))
	}

	return messages, nil
}

// toEvent is the inverse of toMessages, used when replaying a stream.
func (e *Executor[TState, TInput, TOutput]) toEvent(m *core.Message) (workflow.Event[TInput, TOutput], error) {
	converter := e.backend.Options().Converter

	switch m.Name {
	case "Began":
		return workflow.BeganEvent[TInput, TOutput]{}, nil

	case "InitiatedBy":
		var input TInput
		if err := converter.From(m.Payload, &input); err != nil {
			return nil, fmt.Errorf("deserializing %s payload: %w", m.Name, err)
		}

		return workflow.InitiatedByEvent[TInput, TOutput]{Input: input}, nil

	case "Received":
		var input TInput
		if err := converter.From(m.Payload, &input); err != nil {
			return nil, fmt.Errorf("deserializing %s payload: %w", m.Name, err)
		}

		return workflow.ReceivedEvent[TInput, TOutput]{Input: input}, nil

	case "Replied":
		var output TOutput
		if err := converter.From(m.Payload, &output); err != nil {
			return nil, fmt.Errorf("deserializing %s payload: %w", m.Name, err)
		}

		return workflow.RepliedEvent[TInput, TOutput]{Message: output}, nil

	case "Sent":
		var output TOutput
		if err := converter.From(m.Payload, &output); err != nil {
			return nil, fmt.Errorf("deserializing %s payload: %w", m.Name, err)
		}

		return workflow.SentEvent[TInput, TOutput]{Message: output}, nil

	case "Published":
		var output TOutput
		if err := converter.From(m.Payload, &output); err != nil {
			return nil, fmt.Errorf("deserializing %s payload: %w", m.Name, err)
		}

		return workflow.PublishedEvent[TInput, TOutput]{Message: output}, nil

	case "Scheduled":
		var body scheduledBody[TOutput]
		if err := converter.From(m.Payload, &body); err != nil {
			return nil, fmt.Errorf("deserializing %s payload: %w", m.Name, err)
		}

		return workflow.ScheduledEvent[TInput, TOutput]{Delay: body.Delay, Message: body.Message}, nil

	case "Completed":
		return workflow.CompletedEvent[TInput, TOutput]{}, nil

	default:
		return nil, fmt.Errorf("unknown message name: %q", m.Name)
	}
}
