// Package session holds the authenticated identity of the local profile:
// bearer token, user id and a cached profile. State is restored from durable
// storage once (hydration) and every mutation is written through before it
// becomes visible in memory.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/raine/walletfront/internal/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// StorageKey is the durable key holding the persisted snapshot.
const StorageKey = "auth-storage"

const snapshotVersion = 0

// ErrClosed is returned by mutations after Close.
var ErrClosed = errors.New("session: store is closed")

// ErrNotHydrated is returned by mutations made before Hydrate. Writing
// from an unrestored state would overwrite the shared snapshot.
var ErrNotHydrated = errors.New("session: store is not hydrated")

// ProfileFetcher loads the profile of a user. Implemented by the API client.
type ProfileFetcher interface {
	UserInfo(ctx context.Context, userID string) (*UserProfile, error)
}

// State is a snapshot of the session. Empty strings mean null.
type State struct {
	Token    string
	UserID   string
	UserInfo *UserProfile
	Hydrated bool
}

// LoggedIn reports whether a bearer token is present.
func (s State) LoggedIn() bool {
	return s.Token != ""
}

// AuthPatch is a partial update for SetAuth. A nil field is left unchanged;
// a field pointing at "" is cleared.
type AuthPatch struct {
	Token  *string
	UserID *string
}

// Value returns a pointer to s for use in AuthPatch.
func Value(s string) *string {
	return &s
}

// persisted is the JSON layout of the durable snapshot.
type persisted struct {
	State struct {
		Token    *string      `json:"token"`
		UserID   *string      `json:"userId"`
		UserInfo *UserProfile `json:"userInfo"`
	} `json:"state"`
	Version int `json:"version"`
}

// Store is the session context of one profile. It is safe for concurrent
// use; mutations are applied one at a time in call order.
type Store struct {
	kv      storage.KV
	fetcher ProfileFetcher

	mu          sync.Mutex
	state       State
	closed      bool
	watchers    map[int]func(State)
	nextWatcher int

	hydrateOnce sync.Once
	hydratedCh  chan struct{}

	refreshGroup singleflight.Group
}

// New creates an empty, not yet hydrated store backed by kv.
// fetcher may be nil, in which case RefreshUserInfo does nothing.
func New(kv storage.KV, fetcher ProfileFetcher) *Store {
	return &Store{
		kv:         kv,
		fetcher:    fetcher,
		watchers:   make(map[int]func(State)),
		hydratedCh: make(chan struct{}),
	}
}

// Hydrate restores the persisted snapshot and marks the store hydrated.
// The transition happens exactly once; later calls are no-ops. A missing or
// unreadable snapshot still completes hydration with an empty session, and
// the read error is returned.
func (s *Store) Hydrate() error {
	var hydrateErr error
	s.hydrateOnce.Do(func() {
		restored, err := s.load()
		if err != nil {
			log.Warn().Err(err).Msg("could not restore persisted session, starting empty")
			hydrateErr = err
		}

		s.mu.Lock()
		restored.Hydrated = true
		s.state = restored
		watchers := s.watcherList()
		s.mu.Unlock()

		close(s.hydratedCh)
		log.Info().Bool("loggedIn", restored.LoggedIn()).Msg("session hydrated")
		notify(watchers, restored)
	})
	return hydrateErr
}

func (s *Store) load() (State, error) {
	raw, ok, err := s.kv.Get(StorageKey)
	if err != nil {
		return State{}, fmt.Errorf("failed to read session snapshot: %w", err)
	}
	if !ok {
		return State{}, nil
	}

	var p persisted
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return State{}, fmt.Errorf("failed to unmarshal session snapshot: %w", err)
	}

	var st State
	if p.State.Token != nil {
		st.Token = *p.State.Token
	}
	if p.State.UserID != nil {
		st.UserID = *p.State.UserID
	}
	st.UserInfo = p.State.UserInfo
	return st, nil
}

func (s *Store) persist(st State) error {
	var p persisted
	p.Version = snapshotVersion
	p.State.Token = nullable(st.Token)
	p.State.UserID = nullable(st.UserID)
	p.State.UserInfo = st.UserInfo

	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}
	if err := s.kv.Set(StorageKey, string(b)); err != nil {
		return fmt.Errorf("failed to write session snapshot: %w", err)
	}
	return nil
}

// mutate applies fn to a copy of the state, writes it through and then
// commits it. fn returns false when nothing changed.
func (s *Store) mutate(fn func(st *State) bool) error {
	s.mu.Lock()
	if err := s.writable(); err != nil {
		s.mu.Unlock()
		return err
	}

	next := s.state
	if !fn(&next) {
		s.mu.Unlock()
		return nil
	}
	if err := s.persist(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	watchers := s.watcherList()
	s.mu.Unlock()

	notify(watchers, next)
	return nil
}

// writable must be called with mu held.
func (s *Store) writable() error {
	if s.closed {
		return ErrClosed
	}
	if !s.state.Hydrated {
		return ErrNotHydrated
	}
	return nil
}

// SetAuth merges the provided fields into the session.
func (s *Store) SetAuth(patch AuthPatch) error {
	return s.mutate(func(st *State) bool {
		changed := false
		if patch.Token != nil && *patch.Token != st.Token {
			st.Token = *patch.Token
			changed = true
		}
		if patch.UserID != nil && *patch.UserID != st.UserID {
			st.UserID = *patch.UserID
			changed = true
		}
		return changed
	})
}

// SetUserInfo replaces the cached profile. nil clears it.
func (s *Store) SetUserInfo(profile *UserProfile) error {
	return s.mutate(func(st *State) bool {
		st.UserInfo = profile
		return true
	})
}

// ClearAuth logs the profile out: token, user id and cached profile are all
// cleared. The in-memory session is cleared even when the durable write fails.
func (s *Store) ClearAuth() error {
	s.mu.Lock()
	if err := s.writable(); err != nil {
		s.mu.Unlock()
		return err
	}

	wasEmpty := s.state.Token == "" && s.state.UserID == "" && s.state.UserInfo == nil
	next := State{Hydrated: true}
	var err error
	if !wasEmpty {
		err = s.persist(next)
	}
	s.state = next
	watchers := s.watcherList()
	s.mu.Unlock()

	if wasEmpty {
		return nil
	}
	log.Info().Msg("session cleared")
	notify(watchers, next)
	return err
}

// RefreshUserInfo reloads the cached profile for the current user. It never
// fails: a missing user id or a fetch error leaves the cache untouched.
// Concurrent calls for the same user share one fetch.
func (s *Store) RefreshUserInfo(ctx context.Context) {
	userID := s.State().UserID
	if userID == "" || s.fetcher == nil {
		return
	}

	s.refreshGroup.Do(userID, func() (any, error) {
		profile, err := s.fetcher.UserInfo(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("failed to refresh user info")
			return nil, nil
		}

		err = s.mutate(func(st *State) bool {
			// the user may have logged out or switched while the fetch was in flight
			if st.UserID != userID {
				return false
			}
			st.UserInfo = profile
			return true
		})
		if err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("failed to store refreshed user info")
		}
		return nil, nil
	})
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the current bearer token, or "" when logged out.
func (s *Store) Token() string {
	return s.State().Token
}

// Hydrated reports whether Hydrate has completed.
func (s *Store) Hydrated() bool {
	select {
	case <-s.hydratedCh:
		return true
	default:
		return false
	}
}

// HydratedCh is closed once hydration completes.
func (s *Store) HydratedCh() <-chan struct{} {
	return s.hydratedCh
}

// ShouldRedirectToLogin reports whether an unauthenticated user should be
// sent to login. It is always false before hydration so a session that is
// still being restored is never mistaken for a logged-out one.
func (s *Store) ShouldRedirectToLogin() bool {
	st := s.State()
	return st.Hydrated && st.Token == ""
}

// Watch registers fn to be called with the new snapshot after every
// committed change. The returned func unregisters it.
func (s *Store) Watch(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// Close tears the store down. Watchers are dropped and further mutations
// fail with ErrClosed. The backing KV is owned by the caller.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.watchers = make(map[int]func(State))
}

func (s *Store) watcherList() []func(State) {
	list := make([]func(State), 0, len(s.watchers))
	for _, fn := range s.watchers {
		list = append(list, fn)
	}
	return list
}

func notify(watchers []func(State), st State) {
	for _, fn := range watchers {
		fn(st)
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
