package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/raine/walletfront/internal/storage"
	"github.com/stretchr/testify/assert"
)

type fetcherFunc func(ctx context.Context, userID string) (*UserProfile, error)

func (f fetcherFunc) UserInfo(ctx context.Context, userID string) (*UserProfile, error) {
	return f(ctx, userID)
}

// failingKV fails every write while keeping reads working
type failingKV struct {
	*storage.MemoryStore
}

func (f failingKV) Set(key, value string) error {
	return errors.New("disk full")
}

func newHydratedStore(t *testing.T, kv storage.KV, fetcher ProfileFetcher) *Store {
	t.Helper()
	s := New(kv, fetcher)
	if err := s.Hydrate(); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	return s
}

func TestSetAuth_PartialUpdatesKeepOmittedFields(t *testing.T) {
	s := newHydratedStore(t, storage.NewMemoryStore(), nil)

	assert.NoError(t, s.SetAuth(AuthPatch{Token: Value("t1"), UserID: Value("u1")}))
	assert.NoError(t, s.SetAuth(AuthPatch{Token: Value("t2")}))
	assert.NoError(t, s.SetAuth(AuthPatch{UserID: Value("u3")}))
	assert.NoError(t, s.SetAuth(AuthPatch{}))

	st := s.State()
	assert.Equal(t, "t2", st.Token)
	assert.Equal(t, "u3", st.UserID)
}

func TestSetAuth_ExplicitNullClearsField(t *testing.T) {
	s := newHydratedStore(t, storage.NewMemoryStore(), nil)

	assert.NoError(t, s.SetAuth(AuthPatch{Token: Value("t1"), UserID: Value("u1")}))
	assert.NoError(t, s.SetAuth(AuthPatch{Token: Value("")}))

	st := s.State()
	assert.Equal(t, "", st.Token)
	assert.Equal(t, "u1", st.UserID)
	assert.False(t, st.LoggedIn())
}

func TestSetAuth_LastValuePerFieldWins(t *testing.T) {
	patches := []AuthPatch{
		{Token: Value("a")},
		{UserID: Value("1")},
		{Token: Value("b"), UserID: Value("2")},
		{Token: Value("c")},
		{},
		{UserID: Value("")},
		{UserID: Value("3")},
	}
	s := newHydratedStore(t, storage.NewMemoryStore(), nil)

	var wantToken, wantUser string
	for _, p := range patches {
		assert.NoError(t, s.SetAuth(p))
		if p.Token != nil {
			wantToken = *p.Token
		}
		if p.UserID != nil {
			wantUser = *p.UserID
		}
	}

	assert.Equal(t, wantToken, s.State().Token)
	assert.Equal(t, wantUser, s.State().UserID)
}

func TestClearAuth_AlwaysEmptiesSession(t *testing.T) {
	cases := []struct {
		name  string
		setup func(s *Store)
	}{
		{"empty", func(s *Store) {}},
		{"token only", func(s *Store) { s.SetAuth(AuthPatch{Token: Value("t")}) }},
		{"full", func(s *Store) {
			s.SetAuth(AuthPatch{Token: Value("t"), UserID: Value("u")})
			s.SetUserInfo(&UserProfile{UserID: "u", Nickname: "nick"})
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newHydratedStore(t, storage.NewMemoryStore(), nil)
			tc.setup(s)

			assert.NoError(t, s.ClearAuth())
			st := s.State()
			assert.Equal(t, "", st.Token)
			assert.Equal(t, "", st.UserID)
			assert.Nil(t, st.UserInfo)
			assert.True(t, st.Hydrated)
		})
	}
}

func TestClearAuth_ClearsMemoryEvenWhenWriteFails(t *testing.T) {
	mem := storage.NewMemoryStore()
	s := newHydratedStore(t, mem, nil)
	assert.NoError(t, s.SetAuth(AuthPatch{Token: Value("t"), UserID: Value("u")}))

	s.kv = failingKV{mem}
	err := s.ClearAuth()
	assert.Error(t, err)
	assert.False(t, s.State().LoggedIn())
}

func TestSetAuth_WriteFailureDoesNotCommit(t *testing.T) {
	s := newHydratedStore(t, failingKV{storage.NewMemoryStore()}, nil)

	err := s.SetAuth(AuthPatch{Token: Value("t")})
	assert.Error(t, err)
	assert.Equal(t, "", s.State().Token)
}

func TestWriteThrough_ReloadSeesLastMutation(t *testing.T) {
	kv := storage.NewMemoryStore()
	s := newHydratedStore(t, kv, nil)

	assert.NoError(t, s.SetAuth(AuthPatch{Token: Value("tok"), UserID: Value("42")}))
	assert.NoError(t, s.SetUserInfo(&UserProfile{UserID: "42", Nickname: "alice", Points: 7}))

	reloaded := New(kv, nil)
	assert.Equal(t, "", reloaded.State().Token)
	assert.NoError(t, reloaded.Hydrate())

	st := reloaded.State()
	assert.Equal(t, "tok", st.Token)
	assert.Equal(t, "42", st.UserID)
	assert.Equal(t, &UserProfile{UserID: "42", Nickname: "alice", Points: 7}, st.UserInfo)
}

func TestPersistedSnapshotUsesNullForEmptyFields(t *testing.T) {
	kv := storage.NewMemoryStore()
	s := newHydratedStore(t, kv, nil)
	assert.NoError(t, s.SetAuth(AuthPatch{Token: Value("tok")}))

	raw, ok, err := kv.Get(StorageKey)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"state":{"token":"tok","userId":null,"userInfo":null},"version":0}`, raw)
}

func TestHydrate_CorruptSnapshotStillHydrates(t *testing.T) {
	kv := storage.NewMemoryStore()
	kv.Set(StorageKey, "{not json")

	s := New(kv, nil)
	err := s.Hydrate()
	assert.Error(t, err)
	assert.True(t, s.Hydrated())
	assert.False(t, s.State().LoggedIn())
}

func TestHydrate_OnlyOnce(t *testing.T) {
	kv := storage.NewMemoryStore()
	s := newHydratedStore(t, kv, nil)
	assert.NoError(t, s.SetAuth(AuthPatch{Token: Value("mine")}))

	// another window writes a different snapshot; a second Hydrate must not reload it
	other := newHydratedStore(t, kv, nil)
	assert.NoError(t, other.SetAuth(AuthPatch{Token: Value("theirs")}))

	assert.NoError(t, s.Hydrate())
	assert.Equal(t, "mine", s.State().Token)
}

func TestShouldRedirectToLogin_GatedOnHydration(t *testing.T) {
	s := New(storage.NewMemoryStore(), nil)

	assert.False(t, s.Hydrated())
	assert.Equal(t, "", s.State().Token)
	assert.False(t, s.ShouldRedirectToLogin())

	assert.NoError(t, s.Hydrate())
	assert.True(t, s.ShouldRedirectToLogin())

	assert.NoError(t, s.SetAuth(AuthPatch{Token: Value("t")}))
	assert.False(t, s.ShouldRedirectToLogin())
}

func TestHydratedCh_ClosedAfterHydrate(t *testing.T) {
	s := New(storage.NewMemoryStore(), nil)
	select {
	case <-s.HydratedCh():
		t.Fatal("channel closed before hydration")
	default:
	}

	s.Hydrate()
	select {
	case <-s.HydratedCh():
	case <-time.After(time.Second):
		t.Fatal("channel not closed after hydration")
	}
}

func TestRefreshUserInfo_StoresProfile(t *testing.T) {
	fetcher := fetcherFunc(func(ctx context.Context, userID string) (*UserProfile, error) {
		return &UserProfile{UserID: userID, Nickname: "bob", Points: 100}, nil
	})
	s := newHydratedStore(t, storage.NewMemoryStore(), fetcher)
	s.SetAuth(AuthPatch{Token: Value("t"), UserID: Value("u1")})

	s.RefreshUserInfo(context.Background())

	assert.Equal(t, &UserProfile{UserID: "u1", Nickname: "bob", Points: 100}, s.State().UserInfo)
}

func TestRefreshUserInfo_NoUserIDIsNoop(t *testing.T) {
	var calls int32
	fetcher := fetcherFunc(func(ctx context.Context, userID string) (*UserProfile, error) {
		atomic.AddInt32(&calls, 1)
		return &UserProfile{}, nil
	})
	s := newHydratedStore(t, storage.NewMemoryStore(), fetcher)

	s.RefreshUserInfo(context.Background())

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Nil(t, s.State().UserInfo)
}

func TestRefreshUserInfo_FetchErrorIsSwallowed(t *testing.T) {
	fetcher := fetcherFunc(func(ctx context.Context, userID string) (*UserProfile, error) {
		return nil, errors.New("boom")
	})
	s := newHydratedStore(t, storage.NewMemoryStore(), fetcher)
	cached := &UserProfile{UserID: "u1", Nickname: "old"}
	s.SetAuth(AuthPatch{Token: Value("t"), UserID: Value("u1")})
	s.SetUserInfo(cached)

	s.RefreshUserInfo(context.Background())

	assert.Equal(t, cached, s.State().UserInfo)
}

func TestRefreshUserInfo_DroppedWhenUserChangedMidFlight(t *testing.T) {
	release := make(chan struct{})
	var s *Store
	fetcher := fetcherFunc(func(ctx context.Context, userID string) (*UserProfile, error) {
		<-release
		return &UserProfile{UserID: userID}, nil
	})
	s = newHydratedStore(t, storage.NewMemoryStore(), fetcher)
	s.SetAuth(AuthPatch{Token: Value("t"), UserID: Value("u1")})

	done := make(chan struct{})
	go func() {
		s.RefreshUserInfo(context.Background())
		close(done)
	}()

	assert.NoError(t, s.ClearAuth())
	close(release)
	<-done

	assert.Nil(t, s.State().UserInfo)
}

func TestRefreshUserInfo_ConcurrentCallsShareFetch(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := fetcherFunc(func(ctx context.Context, userID string) (*UserProfile, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return &UserProfile{UserID: userID}, nil
	})
	s := newHydratedStore(t, storage.NewMemoryStore(), fetcher)
	s.SetAuth(AuthPatch{Token: Value("t"), UserID: Value("u1")})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RefreshUserInfo(context.Background())
	}()
	<-started

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RefreshUserInfo(context.Background())
		}()
	}
	// give the followers time to join the in-flight call
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWatch_ReceivesCommittedStates(t *testing.T) {
	s := New(storage.NewMemoryStore(), nil)

	var mu sync.Mutex
	var seen []State
	cancel := s.Watch(func(st State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	s.Hydrate()
	s.SetAuth(AuthPatch{Token: Value("t")})
	s.SetAuth(AuthPatch{Token: Value("t")}) // unchanged, no notification
	cancel()
	s.ClearAuth()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 2)
	assert.True(t, seen[0].Hydrated)
	assert.Equal(t, "t", seen[1].Token)
}

func TestMutationsBeforeHydrateKeepSharedSnapshot(t *testing.T) {
	kv := storage.NewMemoryStore()
	first := newHydratedStore(t, kv, nil)
	assert.NoError(t, first.SetAuth(AuthPatch{Token: Value("tok"), UserID: Value("u1")}))

	second := New(kv, nil)
	assert.ErrorIs(t, second.SetUserInfo(&UserProfile{Nickname: "x"}), ErrNotHydrated)
	assert.ErrorIs(t, second.SetAuth(AuthPatch{Token: Value("other")}), ErrNotHydrated)
	assert.ErrorIs(t, second.ClearAuth(), ErrNotHydrated)

	assert.NoError(t, second.Hydrate())
	st := second.State()
	assert.Equal(t, "tok", st.Token)
	assert.Equal(t, "u1", st.UserID)
}

func TestClose_RejectsMutations(t *testing.T) {
	s := newHydratedStore(t, storage.NewMemoryStore(), nil)
	s.Close()

	assert.ErrorIs(t, s.SetAuth(AuthPatch{Token: Value("t")}), ErrClosed)
	assert.ErrorIs(t, s.ClearAuth(), ErrClosed)
}

func TestCredentialPatch(t *testing.T) {
	s := newHydratedStore(t, storage.NewMemoryStore(), nil)
	assert.NoError(t, s.SetAuth(Credential{Token: "tk", UserID: "9"}.Patch()))
	assert.Equal(t, "tk", s.Token())
	assert.Equal(t, "9", s.State().UserID)
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "42",
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	assert.NoError(t, err)

	got, ok := TokenExpiry(signed)
	assert.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = TokenExpiry("opaque-token")
	assert.False(t, ok)
	_, ok = TokenExpiry("")
	assert.False(t, ok)
}

func TestRunProfileRefresher_StopsOnCancel(t *testing.T) {
	var calls int32
	fetcher := fetcherFunc(func(ctx context.Context, userID string) (*UserProfile, error) {
		atomic.AddInt32(&calls, 1)
		return &UserProfile{UserID: userID}, nil
	})
	s := newHydratedStore(t, storage.NewMemoryStore(), fetcher)
	s.SetAuth(AuthPatch{Token: Value("t"), UserID: Value("u")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.RunProfileRefresher(ctx, time.Hour) }()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
