package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// checkout is a minimal three-state workflow used to exercise the decider
// contract end to end: Initial -> AwaitingPayment -> Completed.

type checkoutInput interface{ isCheckoutInput() }

type startCheckout struct{ Order string }
type confirmPayment struct{ Receipt string }

func (startCheckout) isCheckoutInput()  {}
func (confirmPayment) isCheckoutInput() {}

type checkoutOutput struct {
	Kind  string
	Order string
}

type checkoutState int

const (
	checkoutInitial checkoutState = iota
	checkoutAwaitingPayment
	checkoutCompleted
)

type checkoutDecider struct{}

var _ Decider[checkoutState, checkoutInput, checkoutOutput] = (*checkoutDecider)(nil)

func (checkoutDecider) InitialState() checkoutState {
	return checkoutInitial
}

func (checkoutDecider) Decide(input checkoutInput, state checkoutState) ([]Command[checkoutOutput], error) {
	switch input := input.(type) {
	case startCheckout:
		if state == checkoutInitial {
			return []Command[checkoutOutput]{
				Send(checkoutOutput{Kind: "reserve-payment", Order: input.Order}),
			}, nil
		}

	case confirmPayment:
		if state == checkoutAwaitingPayment {
			return []Command[checkoutOutput]{
				Send(checkoutOutput{Kind: "receipt", Order: input.Receipt}),
				Complete[checkoutOutput](),
			}, nil
		}
	}

	return nil, NewDecisionError(input, state)
}

func (checkoutDecider) Evolve(state checkoutState, event Event[checkoutInput, checkoutOutput]) (checkoutState, error) {
	switch event := event.(type) {
	case InitiatedByEvent[checkoutInput, checkoutOutput]:
		if _, ok := event.Input.(startCheckout); ok && state == checkoutInitial {
			return checkoutAwaitingPayment, nil
		}

	case ReceivedEvent[checkoutInput, checkoutOutput]:
		if _, ok := event.Input.(confirmPayment); ok && state == checkoutAwaitingPayment {
			return checkoutCompleted, nil
		}

	default:
		// Lifecycle events leave the state unchanged
		if Generic[checkoutInput, checkoutOutput](event) {
			return state, nil
		}
	}

	return state, NewReplayError[checkoutInput, checkoutOutput](event, state)
}

func foldEvents(t *testing.T, d Decider[checkoutState, checkoutInput, checkoutOutput], state checkoutState, events []Event[checkoutInput, checkoutOutput]) checkoutState {
	t.Helper()

	for _, e := range events {
		var err error
		state, err = d.Evolve(state, e)
		require.NoError(t, err)
	}

	return state
}

func Test_Checkout_RoundTrip(t *testing.T) {
	d := checkoutDecider{}

	state := d.InitialState()
	require.Equal(t, checkoutInitial, state)

	// First input creates the instance
	commands, err := d.Decide(startCheckout{Order: "order-1"}, state)
	require.NoError(t, err)
	require.Equal(t, []Command[checkoutOutput]{
		Send(checkoutOutput{Kind: "reserve-payment", Order: "order-1"}),
	}, commands)

	events := Translate[checkoutInput](true, startCheckout{Order: "order-1"}, commands)
	require.Equal(t, []Event[checkoutInput, checkoutOutput]{
		BeganEvent[checkoutInput, checkoutOutput]{},
		InitiatedByEvent[checkoutInput, checkoutOutput]{Input: startCheckout{Order: "order-1"}},
		SentEvent[checkoutInput, checkoutOutput]{Message: checkoutOutput{Kind: "reserve-payment", Order: "order-1"}},
	}, events)

	state = foldEvents(t, d, state, events)
	require.Equal(t, checkoutAwaitingPayment, state)

	// Second input continues it and completes the workflow
	commands, err = d.Decide(confirmPayment{Receipt: "receipt-1"}, state)
	require.NoError(t, err)
	require.Equal(t, []Command[checkoutOutput]{
		Send(checkoutOutput{Kind: "receipt", Order: "receipt-1"}),
		Complete[checkoutOutput](),
	}, commands)

	events = Translate[checkoutInput](false, confirmPayment{Receipt: "receipt-1"}, commands)
	require.Equal(t, []Event[checkoutInput, checkoutOutput]{
		ReceivedEvent[checkoutInput, checkoutOutput]{Input: confirmPayment{Receipt: "receipt-1"}},
		SentEvent[checkoutInput, checkoutOutput]{Message: checkoutOutput{Kind: "receipt", Order: "receipt-1"}},
		CompletedEvent[checkoutInput, checkoutOutput]{},
	}, events)

	state = foldEvents(t, d, state, events)
	require.Equal(t, checkoutCompleted, state)
}

func Test_Decide_UnsupportedTransition(t *testing.T) {
	d := checkoutDecider{}

	_, err := d.Decide(confirmPayment{}, checkoutInitial)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	require.Equal(t, TransitionError_DecisionGap, te.Kind)
}

func Test_Evolve_UnsupportedTransition(t *testing.T) {
	d := checkoutDecider{}

	_, err := d.Evolve(checkoutCompleted, ReceivedEvent[checkoutInput, checkoutOutput]{Input: confirmPayment{}})

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	require.Equal(t, TransitionError_ReplayInconsistency, te.Kind)
}

func Test_Evolve_GenericEventsKeepState(t *testing.T) {
	d := checkoutDecider{}

	for _, event := range []Event[checkoutInput, checkoutOutput]{
		BeganEvent[checkoutInput, checkoutOutput]{},
		RepliedEvent[checkoutInput, checkoutOutput]{},
		SentEvent[checkoutInput, checkoutOutput]{},
		PublishedEvent[checkoutInput, checkoutOutput]{},
		ScheduledEvent[checkoutInput, checkoutOutput]{},
		CompletedEvent[checkoutInput, checkoutOutput]{},
	} {
		state, err := d.Evolve(checkoutAwaitingPayment, event)
		require.NoError(t, err, event.Name())
		require.Equal(t, checkoutAwaitingPayment, state, event.Name())
	}
}
