package store

import "errors"

// Sentinel errors for session and message operations. These are part of
// the Store's public API and should be checked with errors.Is().
var (
	// ErrSessionNotFound indicates the session does not exist or has been
	// tombstoned.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired indicates lastActivity is older than the configured
	// timeout. Advisory: the session still exists and deletion remains an
	// explicit caller decision.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionFull indicates the session already holds the configured
	// maximum number of messages.
	ErrSessionFull = errors.New("session full")

	// ErrMessageNotFound indicates the message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrEmptyContent indicates blank or whitespace-only message text.
	ErrEmptyContent = errors.New("empty message content")

	// ErrInvalidRole indicates a role outside user|assistant.
	ErrInvalidRole = errors.New("invalid message role")
)
