package chat

import "errors"

// ErrUnauthorized marks authentication failures (missing, expired or
// rejected bearer token). Fatal for the current operation: callers must
// not retry automatically.
var ErrUnauthorized = errors.New("unauthorized")

// ErrEmptyMessage is returned when a send carries neither text nor an
// attachment. Rejected synchronously, before any network call.
var ErrEmptyMessage = errors.New("empty message: need text or attachment")

// ErrNoConversation is returned for operations that require an active
// conversation when none is selected.
var ErrNoConversation = errors.New("no active conversation")
