package sandwich

// Option holds a value that may be absent.
type Option[T any] struct {
	value T
	ok    bool
}

func Some[T any](value T) Option[T] {
	return Option[T]{value: value, ok: true}
}

func None[T any]() Option[T] {
	return Option[T]{}
}

func (o Option[T]) Get() (T, bool) {
	return o.value, o.ok
}

func (o Option[T]) IsSome() bool {
	return o.ok
}

// Ptr returns nil when absent so the option marshals as null.
func (o Option[T]) Ptr() *T {
	if !o.ok {
		return nil
	}

	v := o.value

	return &v
}

func (o Option[T]) OrElse(fallback T) T {
	if o.ok {
		return o.value
	}

	return fallback
}

// GatewaySession is the resumable state of a shard. SessionID and Sequence
// are only meaningful together; CloseSequence is the last sequence seen
// before the transport closed and is what a resume replays from.
type GatewaySession struct {
	SessionID        Option[string]
	Sequence         Option[int64]
	CloseSequence    int64
	ResumeGatewayURL string
}

// observe advances the sequence. It never moves backwards.
func (s *GatewaySession) observe(sequence int64) {
	if current, ok := s.Sequence.Get(); !ok || sequence > current {
		s.Sequence = Some(sequence)
	}
}

// closed stores the live sequence as the close sequence and clears it.
func (s *GatewaySession) closed() {
	if sequence, ok := s.Sequence.Get(); ok {
		s.CloseSequence = sequence
	}

	s.Sequence = None[int64]()
}

func (s *GatewaySession) reset() {
	s.SessionID = None[string]()
	s.Sequence = None[int64]()
	s.ResumeGatewayURL = ""
}
