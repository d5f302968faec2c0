package core

// Frame is an encoded outbound signaling message.
type Frame []byte

// ConnID identifies one signaling connection. A participant keeps its identity
// across reconnects; the ConnID changes every time.
type ConnID string

// SignalConnection abstracts the per-connection outbound queue.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
