package chat

import (
	"sort"
	"sync"
)

// Store holds the ordered, deduplicated message list for the active
// conversation.
//
// Guarantees:
//   - Append is idempotent under redelivery: the same authoritative id
//     never produces two visible entries.
//   - Confirming an optimistic entry replaces it in place, preserving
//     display position.
//   - Messages stay in non-decreasing CreatedAt order (id tie-break).
//   - Delivery status never regresses.
//
// All mutation goes through the owning Session; the Store is still safe
// for direct concurrent use so tests and the view layer can read it.
type Store struct {
	mu       sync.Mutex
	msgs     []Message
	byID     map[int64]int
	byClient map[string]int

	// Backward-paging cursor. nil means no earlier page exists.
	nextPage *int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	s := &Store{}
	s.resetLocked()
	return s
}

func (s *Store) resetLocked() {
	s.msgs = s.msgs[:0]
	s.byID = make(map[int64]int)
	s.byClient = make(map[string]int)
	s.nextPage = nil
}

// Reset clears all messages and the pagination cursor, for conversation
// switch.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Append inserts candidate unless an entry with the same authoritative id
// already exists. A candidate that confirms a pending optimistic entry
// (matching ClientID) replaces that entry in place rather than appending.
// It reports whether the store changed.
func (s *Store) Append(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Confirmed() {
		if i, ok := s.byID[m.ID]; ok {
			// The push channel can deliver our own echo without its
			// client id before the REST echo that carries both. Fold
			// the leftover optimistic entry into the confirmed row so
			// it never lingers as a pending duplicate.
			if m.ClientID != "" {
				j, found := s.byClient[m.ClientID]
			if found && j != i && !s.msgs[j].Confirmed() {
					s.msgs[i].ClientID = m.ClientID
					s.msgs = append(s.msgs[:j], s.msgs[j+1:]...)
					s.byID = make(map[int64]int, len(s.msgs))
					s.byClient = make(map[string]int, len(s.msgs))
					s.reindexLocked(0)
					return true
				}
				if !found {
					s.msgs[i].ClientID = m.ClientID
					s.byClient[m.ClientID] = i
				}
			}
			return false
		}
	}

	if m.ClientID != "" {
		if i, ok := s.byClient[m.ClientID]; ok {
			// Authoritative echo for an optimistic entry: same position,
			// never a second visible row.
			prev := s.msgs[i]
			if prev.Confirmed() && m.Confirmed() && prev.ID != m.ID {
				// Different authoritative identity reusing a client id is
				// a new message.
				s.insertLocked(m)
				return true
			}
			if m.Status < prev.Status && prev.Status >= StatusSent {
				m.Status = prev.Status
			}
			s.msgs[i] = m
			if m.Confirmed() {
				s.byID[m.ID] = i
			}
			return true
		}
	}

	s.insertLocked(m)
	return true
}

// insertLocked places m at the position that keeps CreatedAt order
// non-decreasing, after any equal timestamps (stable for arrival order).
func (s *Store) insertLocked(m Message) {
	i := sort.Search(len(s.msgs), func(i int) bool {
		if s.msgs[i].CreatedAt.Equal(m.CreatedAt) {
			return m.Confirmed() && s.msgs[i].Confirmed() && s.msgs[i].ID > m.ID
		}
		return s.msgs[i].CreatedAt.After(m.CreatedAt)
	})

	s.msgs = append(s.msgs, Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
	s.reindexLocked(i)
}

// reindexLocked rebuilds index entries from position i onward.
func (s *Store) reindexLocked(i int) {
	for ; i < len(s.msgs); i++ {
		m := s.msgs[i]
		if m.Confirmed() {
			s.byID[m.ID] = i
		}
		if m.ClientID != "" {
			s.byClient[m.ClientID] = i
		}
	}
}

// Prepend inserts a batch of older messages ahead of the current window,
// skipping any id already present. Batch order is preserved.
func (s *Store) Prepend(batch []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]Message, 0, len(batch))
	for _, m := range batch {
		if m.Confirmed() {
			if _, ok := s.byID[m.ID]; ok {
				continue
			}
			// Guard against duplicates within the batch itself.
			s.byID[m.ID] = -1
		}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return
	}

	s.msgs = append(fresh, s.msgs...)
	s.reindexLocked(0)
}

// UpdateStatus sets the delivery status for id. It is a no-op when the id
// is not present and never regresses status backward.
func (s *Store) UpdateStatus(id int64, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return false
	}
	if status <= s.msgs[i].Status {
		return false
	}
	s.msgs[i].Status = status
	return true
}

// MarkFailed flips a pending optimistic entry to the failed, retryable
// state. Confirmed entries are left alone.
func (s *Store) MarkFailed(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byClient[clientID]
	if !ok || s.msgs[i].Confirmed() {
		return false
	}
	s.msgs[i].Status = StatusFailed
	return true
}

// MarkPending re-arms a failed optimistic entry for a retry attempt.
func (s *Store) MarkPending(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byClient[clientID]
	if !ok || s.msgs[i].Status != StatusFailed {
		return false
	}
	s.msgs[i].Status = StatusPending
	return true
}

// MarkDeleted replaces the message body with a tombstone and sets the
// soft-deletion flag. Idempotent; the entry is never removed.
func (s *Store) MarkDeleted(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return false
	}
	if s.msgs[i].Deleted {
		return true
	}
	s.msgs[i].Deleted = true
	s.msgs[i].Body = tombstoneBody
	s.msgs[i].Attachment = ""
	return true
}

// Get returns the message with the given client id, if present.
func (s *Store) Get(clientID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byClient[clientID]
	if !ok {
		return Message{}, false
	}
	return s.msgs[i], true
}

// LastID returns the largest authoritative id in the store, or zero when
// no confirmed message is present. The pull transport uses it as the
// newer-than watermark.
func (s *Store) LastID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var max int64
	for id := range s.byID {
		if id > max {
			max = id
		}
	}
	return max
}

// Len returns the number of visible entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Snapshot returns a copy of the ordered message list for the view layer.
func (s *Store) Snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

// SetCursor records the backward-paging cursor. nil marks end of history.
func (s *Store) SetCursor(nextPage *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPage = nextPage
}

// Cursor returns the backward-paging cursor, nil at end of history.
func (s *Store) Cursor() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextPage
}
