package chat

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewClientMsgID returns a ULID used as the temporary client message id.
// ULIDs are lexicographically sortable, which keeps optimistic entries
// ordered by creation time in logs and traces.
func NewClientMsgID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		// Entropy exhaustion is not recoverable here; fall back to a
		// monotonic-ish id so the send path still works.
		return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	}
	return id.String()
}
