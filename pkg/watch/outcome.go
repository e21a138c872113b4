package watch

// Outcome is how a session ended.
type Outcome int

const (
	// ClosedNormal: the peer went away.
	ClosedNormal Outcome = iota
	// ClosedTimeout: the session reached its maximum duration and the
	// server closed it.
	ClosedTimeout
	// ClosedShutdown: the server is stopping.
	ClosedShutdown
	// ClosedError: evaluation or sending failed.
	ClosedError
	// HandshakeFailed: the first message was missing or malformed.
	HandshakeFailed
)

func (o Outcome) String() string {
	switch o {
	case ClosedNormal:
		return "closed_normal"
	case ClosedTimeout:
		return "closed_timeout"
	case ClosedShutdown:
		return "closed_shutdown"
	case ClosedError:
		return "closed_error"
	case HandshakeFailed:
		return "handshake_failed"
	default:
		return "unknown"
	}
}
