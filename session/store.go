// Package session tracks per-user conversation state: connected signer,
// network selection and the in-flight operation. State is in-memory only and
// eviction of idle sessions doubles as the long-idle cancellation path.
package session

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"sigforge/crypto"
	"sigforge/validate"
)

const (
	// IdleThreshold is how long a session may sit untouched before the sweep
	// removes it.
	IdleThreshold = 24 * time.Hour
	// SweepInterval is how often the eviction sweep runs.
	SweepInterval = time.Hour
)

// Operation is the opaque in-flight operation state owned by the flow engine.
type Operation interface {
	OperationKind() string
}

// Signer is the ephemeral signing identity connected to a session. The key is
// exclusively owned by the session and cleared on disconnect.
type Signer struct {
	Address common.Address
	Key     *crypto.PrivateKey
}

// Session is one end user's mutable record.
type Session struct {
	ID             string
	Signer         *Signer
	Network        string
	LedgerContract string
	Active         Operation
	LastActivity   time.Time
}

// Store is an explicit session table handed to the flow engine. Access is
// serialized by a single mutex so multi-threaded hosts need no extra locking.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	now           func() time.Time
	idleThreshold time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

func NewStore() *Store {
	return &Store{
		sessions:      make(map[string]*Session),
		now:           time.Now,
		idleThreshold: IdleThreshold,
		stop:          make(chan struct{}),
	}
}

// Ensure returns the session for id, creating it with defaults on first use.
// The returned copy is a snapshot; mutations go through Mutate.
func (s *Store) Ensure(id string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.ensureLocked(id)
	return *sess
}

// Get returns a snapshot of the session if it exists.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Mutate applies fn to the session under the store lock, creating the session
// if needed, and stamps LastActivity. Every state change of a session funnels
// through here.
func (s *Store) Mutate(id string, fn func(*Session)) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.ensureLocked(id)
	fn(sess)
	sess.LastActivity = s.now()
	return *sess
}

// Update applies fn under the store lock only when the session already
// exists, stamping LastActivity. It reports whether the session was found.
// Paths that must not create sessions as a side effect (step input, cancel,
// confirm) go through here instead of Mutate.
func (s *Store) Update(id string, fn func(*Session)) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	fn(sess)
	sess.LastActivity = s.now()
	return *sess, true
}

// Delete removes the session outright, discarding any ephemeral key material.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) ensureLocked(id string) *Session {
	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{
			ID:           id,
			Network:      validate.NetworkMainnet,
			LastActivity: s.now(),
		}
		s.sessions[id] = sess
	}
	return sess
}

// StartSweeper launches the hourly eviction loop. It only removes sessions
// whose LastActivity is older than the idle threshold at sweep time; a
// session refreshed concurrently survives.
func (s *Store) StartSweeper() {
	go func() {
		ticker := time.NewTicker(SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Sweep evicts idle sessions once and reports how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.idleThreshold)
	evicted := 0
	for id, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

// Close stops the eviction loop.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}
