package log

// Logger is the interface applications implement to receive protocol log events.
// Pass nil or NoopLogger to disable logging.
type Logger interface {
	// Log records a protocol event. Implementations must be thread-safe.
	// Connections call Log from their I/O goroutines; blocking stalls them.
	Log(event Event)
}

// NoopLogger discards all events.
// NoopLogger is safe for concurrent use and usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// OrNoop returns l, or NoopLogger if l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// WithURL returns a Logger that stamps url on events that carry none.
// It returns nil for a nil l so that OrNoop still applies downstream.
func WithURL(l Logger, url string) Logger {
	if l == nil {
		return nil
	}
	return urlLogger{next: l, url: url}
}

type urlLogger struct {
	next Logger
	url  string
}

func (u urlLogger) Log(event Event) {
	if event.URL == "" {
		event.URL = u.url
	}
	u.next.Log(event)
}

var (
	_ Logger = NoopLogger{}
	_ Logger = urlLogger{}
)
