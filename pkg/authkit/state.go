package authkit

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/meridianabroad/portal/pkg/authkit/credstore"
)

// State is the process-wide trust state. Invariants:
//
//   - Token != "" implies User != nil (never a bare token).
//   - MFAVerified is only meaningful when User.MFAEnabled; accounts without
//     a factor are trivially verified.
type State struct {
	User        *Principal
	Token       string
	MFAVerified bool
}

// Anonymous reports whether no principal is present.
func (s State) Anonymous() bool { return s.User == nil }

// StateStore is the single source of truth for the session's trust state.
// Mutations are serialized by an internal mutex, persisted through the
// credential store, and published to subscribers. Instantiate one per
// process in production; tests can create isolated instances freely.
type StateStore struct {
	mu      sync.RWMutex
	state   State
	expired bool // latched by the first expiry signal, reset by Login

	cache credstore.Store
	log   *slog.Logger

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// NewStateStore returns an anonymous store backed by cache. Logger may be
// nil, in which case slog.Default is used.
func NewStateStore(cache credstore.Store, log *slog.Logger) *StateStore {
	if log == nil {
		log = slog.Default()
	}
	return &StateStore{
		cache: cache,
		log:   log,
		subs:  make(map[int]func(State)),
	}
}

// Login replaces the session wholesale and persists it. mfaVerified is false
// for sessions still pending step-up. The expiry latch is reset so a later
// expiry of this fresh session notifies again.
func (s *StateStore) Login(user *Principal, token string, mfaVerified bool) {
	s.mu.Lock()
	s.state = State{User: user, Token: token, MFAVerified: mfaVerified}
	s.expired = false
	s.persistLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
}

// VerifyMFA marks the session as stepped-up. It has no effect unless a
// principal with an enabled factor is present.
func (s *StateStore) VerifyMFA() {
	s.mu.Lock()
	if s.state.User == nil || !s.state.User.MFAEnabled {
		s.mu.Unlock()
		return
	}
	s.state.MFAVerified = true
	// The session only becomes durable once it is complete.
	s.persistLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
}

// Logout resets the store to anonymous and clears persisted credentials.
// Safe to call at any time, including when already anonymous.
func (s *StateStore) Logout() {
	s.mu.Lock()
	s.state = State{}
	if err := s.cache.Clear(); err != nil {
		s.log.Warn("failed to clear credential cache", "error", err)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
}

// SetUser replaces the principal in place, keeping token and verification
// untouched. Used after a server-side refresh of the account record. A nil
// store state (anonymous) ignores the update.
func (s *StateStore) SetUser(user *Principal) {
	s.mu.Lock()
	if s.state.User == nil {
		s.mu.Unlock()
		return
	}
	s.state.User = user
	s.persistLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
}

// Snapshot returns a copy of the current state.
func (s *StateStore) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Token returns the current bearer token, or "" when anonymous.
func (s *StateStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Token
}

// Subscribe registers fn to run after every state change. The returned
// function removes the subscription. Callbacks run outside the store's lock
// and must not assume ordering across concurrent mutations.
func (s *StateStore) Subscribe(fn func(State)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// markExpired latches the expiry flag. It returns true only for the first
// caller since the last Login, which keeps the expiry notification
// fire-once even under concurrent failing requests.
func (s *StateStore) markExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired {
		return false
	}
	s.expired = true
	return true
}

func (s *StateStore) snapshotLocked() State {
	snap := s.state
	if snap.User != nil {
		u := *snap.User
		snap.User = &u
	}
	return snap
}

// persistLocked writes the current session to the credential cache. Storage
// failures are logged, not fatal: in-memory custody wins over persistence.
// Sessions still pending step-up are never persisted: a reload must not
// resurrect a half-authenticated state.
func (s *StateStore) persistLocked() {
	if s.state.User == nil {
		return
	}
	if s.state.User.MFAEnabled && !s.state.MFAVerified {
		// Drop any previously persisted session so the cache never holds
		// credentials the in-memory state does not vouch for.
		if err := s.cache.Clear(); err != nil {
			s.log.Warn("failed to clear credential cache", "error", err)
		}
		return
	}

	raw, err := json.Marshal(s.state.User)
	if err != nil {
		s.log.Warn("failed to serialize principal for cache", "error", err)
		return
	}

	if err := s.cache.Save(credstore.Credentials{User: raw, Token: s.state.Token}); err != nil {
		s.log.Warn("failed to persist session", "error", err)
	}
}

func (s *StateStore) publish(snap State) {
	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
