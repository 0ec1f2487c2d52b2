package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Translate_Begins(t *testing.T) {
	events := Translate(true, "start", []Command[string]{
		Send("x"),
	})

	require.Equal(t, []Event[string, string]{
		BeganEvent[string, string]{},
		InitiatedByEvent[string, string]{Input: "start"},
		SentEvent[string, string]{Message: "x"},
	}, events)
}

func Test_Translate_Continues(t *testing.T) {
	events := Translate(false, "next", []Command[string]{
		Send("y"),
		Complete[string](),
	})

	require.Equal(t, []Event[string, string]{
		ReceivedEvent[string, string]{Input: "next"},
		SentEvent[string, string]{Message: "y"},
		CompletedEvent[string, string]{},
	}, events)
}

func Test_Translate_MapsEveryCommandKind(t *testing.T) {
	events := Translate(false, "in", []Command[string]{
		Reply("r"),
		Send("s"),
		Publish("p"),
		Schedule(5*time.Minute, "d"),
		Complete[string](),
	})

	require.Equal(t, []Event[string, string]{
		ReceivedEvent[string, string]{Input: "in"},
		RepliedEvent[string, string]{Message: "r"},
		SentEvent[string, string]{Message: "s"},
		PublishedEvent[string, string]{Message: "p"},
		ScheduledEvent[string, string]{Delay: 5 * time.Minute, Message: "d"},
		CompletedEvent[string, string]{},
	}, events)
}

func Test_Translate_NoCommands(t *testing.T) {
	events := Translate[string, string](true, "start", nil)

	require.Len(t, events, 2)
	require.Equal(t, "Began", events[0].Name())
	require.Equal(t, "InitiatedBy", events[1].Name())
}

func Test_Generic(t *testing.T) {
	require.True(t, Generic[string, string](BeganEvent[string, string]{}))
	require.True(t, Generic[string, string](SentEvent[string, string]{}))
	require.True(t, Generic[string, string](CompletedEvent[string, string]{}))

	require.False(t, Generic[string, string](InitiatedByEvent[string, string]{}))
	require.False(t, Generic[string, string](ReceivedEvent[string, string]{}))
}
