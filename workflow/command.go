package workflow

import (
	"time"
)

// Command is an intended side effect decided by a workflow that has not been
// executed yet. TOutput is the workflow's outbound message type.
//
// The set of commands is closed: Reply, Send, Publish, Schedule, and
// Complete. Every switch over commands should still carry a default arm that
// fails loudly, there is no compiler-enforced exhaustiveness for sum types.
type Command[TOutput any] interface {
	isCommand()

	// Name returns the variant tag of this command, for example "Send"
	Name() string
}

// ReplyCommand responds to the caller that triggered the current input. It
// has no persistence side effect beyond its audit event.
type ReplyCommand[TOutput any] struct {
	Message TOutput
}

// SendCommand is a direct, point-to-point dispatch intent.
type SendCommand[TOutput any] struct {
	Message TOutput
}

// PublishCommand is a broadcast dispatch intent.
type PublishCommand[TOutput any] struct {
	Message TOutput
}

// ScheduleCommand is a deferred dispatch intent which fires after Delay.
type ScheduleCommand[TOutput any] struct {
	Delay   time.Duration
	Message TOutput
}

// CompleteCommand marks the workflow instance as finished. It carries no
// payload.
type CompleteCommand[TOutput any] struct{}

func (ReplyCommand[TOutput]) isCommand()    {}
func (SendCommand[TOutput]) isCommand()     {}
func (PublishCommand[TOutput]) isCommand()  {}
func (ScheduleCommand[TOutput]) isCommand() {}
func (CompleteCommand[TOutput]) isCommand() {}

func (ReplyCommand[TOutput]) Name() string    { return "Reply" }
func (SendCommand[TOutput]) Name() string     { return "Send" }
func (PublishCommand[TOutput]) Name() string  { return "Publish" }
func (ScheduleCommand[TOutput]) Name() string { return "Schedule" }
func (CompleteCommand[TOutput]) Name() string { return "Complete" }

func Reply[TOutput any](message TOutput) Command[TOutput] {
	return ReplyCommand[TOutput]{Message: message}
}

func Send[TOutput any](message TOutput) Command[TOutput] {
	return SendCommand[TOutput]{Message: message}
}

func Publish[TOutput any](message TOutput) Command[TOutput] {
	return PublishCommand[TOutput]{Message: message}
}

func Schedule[TOutput any](delay time.Duration, message TOutput) Command[TOutput] {
	return ScheduleCommand[TOutput]{Delay: delay, Message: message}
}

func Complete[TOutput any]() Command[TOutput] {
	return CompleteCommand[TOutput]{}
}
