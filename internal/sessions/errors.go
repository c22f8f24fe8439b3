package sessions

import "errors"

var (
	// ErrNotHost is returned when a non-host attempts a host-only lifecycle action.
	ErrNotHost = errors.New("only the host can perform this action")
	// ErrSessionEnded is returned for operations on a session that is no longer active.
	ErrSessionEnded = errors.New("session has ended")
	// ErrBanned is returned when a kicked user tries to rejoin.
	ErrBanned = errors.New("user is banned from this session")
	// ErrNotMember is returned when the caller has no participant record in the session.
	ErrNotMember = errors.New("not a participant of this session")
	// ErrCodeTaken is returned by the store when a generated join code collides.
	ErrCodeTaken = errors.New("session code already in use")
	// ErrInvalidTitle is returned for an empty or oversized title.
	ErrInvalidTitle = errors.New("title must be 1-200 characters")
)
