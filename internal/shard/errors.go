package shard

import "fmt"

// Kind classifies backend connection failures. None of them is retried: a
// half-established or half-reset backend would corrupt the measurements.
type Kind int

const (
	// Unreachable means the master socket or a discovered shard could not
	// be reached at all.
	Unreachable Kind = iota + 1
	// HandshakeFailed means a shard was reachable but did not pass the
	// readiness probe.
	HandshakeFailed
	// ResetFailed means at least one shard did not acknowledge the cache
	// clear.
	ResetFailed
)

func (k Kind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case HandshakeFailed:
		return "handshake failed"
	case ResetFailed:
		return "cache reset failed"
	default:
		return "unknown"
	}
}

// ConnectionError is a fatal backend failure, carrying the shard address it
// originated from.
type ConnectionError struct {
	Kind Kind
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("shard %s: %s: %v", e.Addr, e.Kind, e.Err)
	}
	return fmt.Sprintf("shard %s: %s", e.Addr, e.Kind)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
