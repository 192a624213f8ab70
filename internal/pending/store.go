package pending

import (
	"sync"
	"time"

	"sqlgate/internal/domain"
)

// DefaultTTL is how long a proposed operation stays confirmable.
const DefaultTTL = 5 * time.Minute

// Store maps confirmation tokens to operations awaiting confirmation. One
// mutex serializes every access. Expiry is evaluated lazily on lookup and
// swept opportunistically on insert; there is no background timer and no
// persistence. An expired entry is logically absent even before it is
// physically removed.
type Store struct {
	mu  sync.Mutex
	ttl time.Duration
	now NowFunc
	ops map[string]domain.PendingOperation
}

// NewStore creates a Store with the given TTL and clock. A zero or negative
// TTL falls back to DefaultTTL; a nil clock falls back to time.Now.
func NewStore(ttl time.Duration, now NowFunc) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Store{ttl: ttl, now: now, ops: make(map[string]domain.PendingOperation)}
}

// Put inserts the operation under its token, then sweeps all entries older
// than the TTL. The sweep is O(n) per insert, which is acceptable at the
// call volume of an administrative tool.
func (s *Store) Put(op domain.PendingOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops[op.Token] = op
	for token, parked := range s.ops {
		if s.now().Sub(parked.CreatedAt) > s.ttl {
			delete(s.ops, token)
		}
	}
}

// Get returns the operation only while its TTL holds. An expired entry is
// deleted and reported absent.
func (s *Store) Get(token string) (domain.PendingOperation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(token)
}

// Take atomically fetches and invalidates the operation. Lookup, TTL check,
// and removal share one critical section so two concurrent confirms of the
// same token cannot both succeed.
func (s *Store) Take(token string) (domain.PendingOperation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.lookupLocked(token)
	if ok {
		delete(s.ops, token)
	}
	return op, ok
}

// Remove deletes the token unconditionally.
func (s *Store) Remove(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, token)
}

// Len reports the number of physically stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

func (s *Store) lookupLocked(token string) (domain.PendingOperation, bool) {
	op, ok := s.ops[token]
	if !ok {
		return domain.PendingOperation{}, false
	}
	if s.now().Sub(op.CreatedAt) > s.ttl {
		delete(s.ops, token)
		return domain.PendingOperation{}, false
	}
	return op, true
}
