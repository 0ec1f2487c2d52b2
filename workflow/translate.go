package workflow

// Translate maps a decided command list to the ordered event sequence that
// has to be folded through Evolve and appended to the log.
//
// If begins is true, the input created the workflow instance and the
// sequence starts with Began and InitiatedBy(input); otherwise it starts
// with Received(input). Each command then contributes its audit event, in
// command order. Translate is a structural mapping: no side effects, no
// state access.
func Translate[TInput, TOutput any](begins bool, input TInput, commands []Command[TOutput]) []Event[TInput, TOutput] {
	events := make([]Event[TInput, TOutput], 0, len(commands)+2)

	if begins {
		events = append(events,
			BeganEvent[TInput, TOutput]{},
			InitiatedByEvent[TInput, TOutput]{Input: input})
	} else {
		events = append(events, ReceivedEvent[TInput, TOutput]{Input: input})
	}

	for _, c := range commands {
		switch c := c.(type) {
		case ReplyCommand[TOutput]:
			events = append(events, RepliedEvent[TInput, TOutput]{Message: c.Message})
		case SendCommand[TOutput]:
			events = append(events, SentEvent[TInput, TOutput]{Message: c.Message})
		case PublishCommand[TOutput]:
			events = append(events, PublishedEvent[TInput, TOutput]{Message: c.Message})
		case ScheduleCommand[TOutput]:
			events = append(events, ScheduledEvent[TInput, TOutput]{Delay: c.Delay, Message: c.Message})
		case CompleteCommand[TOutput]:
			events = append(events, CompletedEvent[TInput, TOutput]{})
		default:
			panic("unknown command variant: " + c.Name())
		}
	}

	return events
}
