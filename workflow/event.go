package workflow

import (
	"time"
)

// Event is an immutable record of something that happened to a workflow
// instance. Events are the audit-trail counterpart of commands: one event
// kind per command kind, plus the lifecycle markers Began, InitiatedBy,
// Received and Completed.
//
// Every event Translate can produce must be accepted by Evolve.
type Event[TInput, TOutput any] interface {
	isEvent()

	// Name returns the variant tag of this event, for example "Sent"
	Name() string
}

// BeganEvent records that this input created the workflow instance. Always
// followed by an InitiatedByEvent carrying the input.
type BeganEvent[TInput, TOutput any] struct{}

// InitiatedByEvent records the input that created the workflow instance.
type InitiatedByEvent[TInput, TOutput any] struct {
	Input TInput
}

// ReceivedEvent records an input that continued an existing workflow
// instance.
type ReceivedEvent[TInput, TOutput any] struct {
	Input TInput
}

// RepliedEvent is the audit record for a ReplyCommand.
type RepliedEvent[TInput, TOutput any] struct {
	Message TOutput
}

// SentEvent is the audit record for a SendCommand.
type SentEvent[TInput, TOutput any] struct {
	Message TOutput
}

// PublishedEvent is the audit record for a PublishCommand.
type PublishedEvent[TInput, TOutput any] struct {
	Message TOutput
}

// ScheduledEvent is the audit record for a ScheduleCommand.
type ScheduledEvent[TInput, TOutput any] struct {
	Delay   time.Duration
	Message TOutput
}

// CompletedEvent records that the workflow instance finished.
type CompletedEvent[TInput, TOutput any] struct{}

func (BeganEvent[TInput, TOutput]) isEvent()       {}
func (InitiatedByEvent[TInput, TOutput]) isEvent() {}
func (ReceivedEvent[TInput, TOutput]) isEvent()    {}
func (RepliedEvent[TInput, TOutput]) isEvent()     {}
func (SentEvent[TInput, TOutput]) isEvent()        {}
func (PublishedEvent[TInput, TOutput]) isEvent()   {}
func (ScheduledEvent[TInput, TOutput]) isEvent()   {}
func (CompletedEvent[TInput, TOutput]) isEvent()   {}

func (BeganEvent[TInput, TOutput]) Name() string       { return "Began" }
func (InitiatedByEvent[TInput, TOutput]) Name() string { return "InitiatedBy" }
func (ReceivedEvent[TInput, TOutput]) Name() string    { return "Received" }
func (RepliedEvent[TInput, TOutput]) Name() string     { return "Replied" }
func (SentEvent[TInput, TOutput]) Name() string        { return "Sent" }
func (PublishedEvent[TInput, TOutput]) Name() string   { return "Published" }
func (ScheduledEvent[TInput, TOutput]) Name() string   { return "Scheduled" }
func (CompletedEvent[TInput, TOutput]) Name() string   { return "Completed" }

// Generic reports whether the event is one of the lifecycle events a decider
// may leave unhandled: Began, Replied, Sent, Published, Scheduled and
// Completed. Evolve implementations should fall through to the previous
// state for these in their default arm instead of failing.
func Generic[TInput, TOutput any](event Event[TInput, TOutput]) bool {
	switch event.(type) {
	case BeganEvent[TInput, TOutput],
		RepliedEvent[TInput, TOutput],
		SentEvent[TInput, TOutput],
		PublishedEvent[TInput, TOutput],
		ScheduledEvent[TInput, TOutput],
		CompletedEvent[TInput, TOutput]:
		return true
	default:
		return false
	}
}
