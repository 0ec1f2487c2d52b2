package core

import (
	"time"

	"github.com/deciderhq/go-decider/backend/payload"
	"github.com/google/uuid"
)

// MessageKind classifies a persisted message as a recorded fact (event) or
// an intended side effect (command).
type MessageKind int

const (
	_ MessageKind = iota

	MessageKind_Event
	MessageKind_Command
)

func (mk MessageKind) String() string {
	switch mk {
	case MessageKind_Event:
		return "Event"
	case MessageKind_Command:
		return "Command"
	default:
		return "Unknown"
	}
}

// Direction indicates whether a message flowed into the workflow instance or
// was emitted by it.
type Direction int

const (
	_ Direction = iota

	Direction_Input
	Direction_Output
)

func (d Direction) String() string {
	switch d {
	case Direction_Input:
		return "Input"
	case Direction_Output:
		return "Output"
	default:
		return "Unknown"
	}
}

// Message is a single entry in a workflow instance's append-only log.
//
// Positions are 1-based and strictly increasing per workflow instance. They
// are assigned by the store at append time, never by the caller.
type Message struct {
	// ID is a unique identifier for this message
	ID string `json:"id,omitempty"`

	// WorkflowID identifies the workflow instance this message belongs to.
	// Stamped by the store at append time.
	WorkflowID string `json:"workflow_id,omitempty"`

	// Position of this message in the instance's log. Assigned by the store.
	Position int64 `json:"position,omitempty"`

	Kind MessageKind `json:"kind,omitempty"`

	Direction Direction `json:"direction,omitempty"`

	// Name is the variant tag of the serialized payload, for example "Sent"
	// or "Received". Used for diagnostics and dispatcher idempotency keys.
	Name string `json:"name,omitempty"`

	// Payload is the serialized message content. Opaque to the store.
	Payload payload.Payload `json:"payload,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`

	// Processed is only set for outbound commands. It starts out false and
	// transitions to true exactly once, when the dispatcher acknowledges the
	// command.
	Processed *bool `json:"processed,omitempty"`
}

type MessageOption func(m *Message)

// WithProcessed pre-sets the processed flag. Mostly useful in tests.
func WithProcessed(processed bool) MessageOption {
	return func(m *Message) {
		m.Processed = &processed
	}
}

func NewMessage(timestamp time.Time, kind MessageKind, direction Direction, name string, p payload.Payload, opts ...MessageOption) *Message {
	m := &Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Direction: direction,
		Name:      name,
		Payload:   p,
		Timestamp: timestamp,
	}

	if kind == MessageKind_Command && direction == Direction_Output {
		processed := false
		m.Processed = &processed
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Pending reports whether this message is an outbound command that has not
// been acknowledged by a dispatcher yet.
func (m *Message) Pending() bool {
	return m.Kind == MessageKind_Command && m.Direction == Direction_Output && m.Processed != nil && !*m.Processed
}
