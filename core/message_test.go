package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_NewMessage_OutboundCommandsStartUnprocessed(t *testing.T) {
	m := NewMessage(time.Now(), MessageKind_Command, Direction_Output, "Sent", nil)

	require.NotEmpty(t, m.ID)
	require.NotNil(t, m.Processed)
	require.False(t, *m.Processed)
	require.True(t, m.Pending())
}

func Test_NewMessage_EventsHaveNoProcessedFlag(t *testing.T) {
	m := NewMessage(time.Now(), MessageKind_Event, Direction_Input, "Received", nil)

	require.Nil(t, m.Processed)
	require.False(t, m.Pending())
}

func Test_Pending(t *testing.T) {
	processed := true

	tests := []struct {
		name    string
		message *Message
		want    bool
	}{
		{"unprocessed outbound command", NewMessage(time.Now(), MessageKind_Command, Direction_Output, "Sent", nil), true},
		{"processed outbound command", NewMessage(time.Now(), MessageKind_Command, Direction_Output, "Sent", nil, WithProcessed(true)), false},
		{"event", NewMessage(time.Now(), MessageKind_Event, Direction_Output, "Completed", nil), false},
		{"inbound message", &Message{Kind: MessageKind_Command, Direction: Direction_Input, Processed: &processed}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.message.Pending())
		})
	}
}
