package realtime

import "errors"

// Close codes sent to clients.
const (
	CloseNormal        = 1000
	CloseTryAgainLater = 1013 // send buffer overflow
	CloseUnauthorized  = 4001
	CloseSessionEnded  = 4002
	CloseKicked        = 4003
)

var (
	// ErrUnknownType is returned by Decode for an unrecognised message type.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformed is returned by Decode for unparseable or invalid envelopes.
	ErrMalformed = errors.New("malformed message")
	// ErrUnauthorized marks a protocol violation: the connection is closed.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionInactive is returned when joining a session that has ended.
	ErrSessionInactive = errors.New("session is not active")
	// ErrPeerClosed is returned by Peer.Send once the connection is shutting down.
	ErrPeerClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned by Peer.Send when the outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
)
