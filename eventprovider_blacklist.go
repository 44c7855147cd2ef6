package sandwich

// BlacklistEventSink drops dispatches of blacklisted event types before they
// reach the wrapped sink. Lifecycle notifications always pass.
type BlacklistEventSink struct {
	EventSink

	blacklist map[string]struct{}
}

// NewBlacklistEventSink wraps next. With an empty blacklist next is returned
// as is.
func NewBlacklistEventSink(next EventSink, blacklist []string) EventSink {
	if len(blacklist) == 0 {
		return next
	}

	return &BlacklistEventSink{
		EventSink: next,
		blacklist: NewEventTypeSet(blacklist),
	}
}

func (s *BlacklistEventSink) Dispatch(event DispatchEvent) {
	if _, ok := s.blacklist[event.Type]; ok {
		return
	}

	s.EventSink.Dispatch(event)
}

// NewEventTypeSet builds a lookup set of event types.
func NewEventTypeSet(eventTypes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(eventTypes))

	for _, eventType := range eventTypes {
		set[eventType] = struct{}{}
	}

	return set
}
