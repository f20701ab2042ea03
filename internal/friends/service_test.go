package friends

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realbeatz/backend/internal/models"
)

type fixture struct {
	store *InMemoryStore
	svc   *Service
	ids   int
}

func newFixture(t *testing.T, usernames ...string) *fixture {
	t.Helper()
	f := &fixture{store: NewInMemoryStore()}
	clock := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	f.svc = NewService(f.store,
		WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
		WithIDGenerator(func() string {
			f.ids++
			return fmt.Sprintf("req-%d", f.ids)
		}),
	)
	for _, name := range usernames {
		f.store.PutUser(models.User{ID: name, Username: name})
	}
	return f
}

func friendIDs(t *testing.T, svc *Service, userID string) []string {
	t.Helper()
	friends, err := svc.ListFriends(context.Background(), userID)
	require.NoError(t, err)
	ids := make([]string, 0, len(friends))
	for _, f := range friends {
		ids = append(ids, f.ID)
	}
	return ids
}

func msg(s string) *string { return &s }

func TestAddFriendDirectIsSymmetric(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	require.NoError(t, f.svc.AddFriendDirect(ctx, "alice", "bob"))

	assert.Equal(t, []string{"bob"}, friendIDs(t, f.svc, "alice"))
	assert.Equal(t, []string{"alice"}, friendIDs(t, f.svc, "bob"))
}

func TestAddFriendDirectFailures(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	err := f.svc.AddFriendDirect(ctx, "alice", "alice")
	assert.ErrorIs(t, err, ErrSelfReference)

	err = f.svc.AddFriendDirect(ctx, "alice", "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)

	err = f.svc.AddFriendDirect(ctx, "ghost", "alice")
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, f.svc.AddFriendDirect(ctx, "alice", "bob"))
	assert.ErrorIs(t, f.svc.AddFriendDirect(ctx, "alice", "bob"), ErrDuplicateFriendship)
	assert.ErrorIs(t, f.svc.AddFriendDirect(ctx, "bob", "alice"), ErrDuplicateFriendship)
}

func TestAddFriendDirectDetectsHalfEdge(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.store.PutEdge("bob", "alice")

	err := f.svc.AddFriendDirect(context.Background(), "alice", "bob")
	assert.ErrorIs(t, err, ErrDuplicateFriendship)
}

func TestRemoveFriend(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()

	require.NoError(t, f.svc.AddFriendDirect(ctx, "alice", "bob"))
	require.NoError(t, f.svc.AddFriendDirect(ctx, "alice", "carol"))
	require.NoError(t, f.svc.RemoveFriend(ctx, "bob", "alice"))

	assert.Equal(t, []string{"carol"}, friendIDs(t, f.svc, "alice"))
	assert.Empty(t, friendIDs(t, f.svc, "bob"))
}

func TestRemoveFriendFailures(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.RemoveFriend(ctx, "alice", "alice"), ErrSelfReference)
	assert.ErrorIs(t, f.svc.RemoveFriend(ctx, "alice", "ghost"), ErrUserNotFound)
	assert.ErrorIs(t, f.svc.RemoveFriend(ctx, "alice", "bob"), ErrFriendshipNotFound)

	f.store.PutEdge("alice", "bob")
	err := f.svc.RemoveFriend(ctx, "alice", "bob")
	require.ErrorIs(t, err, ErrFriendshipNotFound)
	assert.Contains(t, err.Error(), "asymmetric")
	assert.Equal(t, []string{"bob"}, friendIDs(t, f.svc, "alice"), "rejected removal must not write")
}

func TestCreateFriendRequest(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()

	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u1", "u2", msg("hi")))

	req, ok := f.store.Request("req-1")
	require.True(t, ok)
	assert.Equal(t, "u1", req.Requester)
	assert.Equal(t, "u2", req.NewFriend)
	assert.Equal(t, "hi", req.Message)
	assert.Equal(t, models.FriendRequestSent, req.Status)
	assert.Nil(t, req.RespondedAt)
}

func TestCreateFriendRequestDefaultsMessage(t *testing.T) {
	f := newFixture(t, "u1", "u2")

	require.NoError(t, f.svc.CreateFriendRequest(context.Background(), "u1", "u2", nil))

	req, ok := f.store.Request("req-1")
	require.True(t, ok)
	assert.Equal(t, "", req.Message)
}

func TestCreateFriendRequestFailures(t *testing.T) {
	f := newFixture(t, "u1", "u2", "u3")
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.CreateFriendRequest(ctx, "u1", "u1", nil), ErrSelfReference)
	assert.ErrorIs(t, f.svc.CreateFriendRequest(ctx, "u1", "ghost", nil), ErrUserNotFound)
	assert.ErrorIs(t, f.svc.CreateFriendRequest(ctx, "u1", "u2", msg(strings.Repeat("x", MaxMessageLength+1))), ErrInvalidMessage)

	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u1", "u2", nil))
	assert.ErrorIs(t, f.svc.CreateFriendRequest(ctx, "u1", "u2", msg("again")), ErrDuplicateRequest)

	require.NoError(t, f.svc.AddFriendDirect(ctx, "u1", "u3"))
	assert.ErrorIs(t, f.svc.CreateFriendRequest(ctx, "u3", "u1", nil), ErrAlreadyFriends)

	assert.Len(t, f.store.Requests(), 1)
}

func TestCreateFriendRequestAllowsMutualRequests(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()

	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u1", "u2", nil))
	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u2", "u1", nil))
	assert.Len(t, f.store.Requests(), 2)
}

func TestCreateFriendRequestAfterRefusal(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()

	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u1", "u2", nil))
	require.NoError(t, f.svc.RefuseFriendRequest(ctx, "u2", "u1"))
	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u1", "u2", msg("please")))

	requests := f.store.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, models.FriendRequestRefused, requests[0].Status)
	assert.Equal(t, models.FriendRequestSent, requests[1].Status)
}

func TestConfirmFriendRequest(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()

	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u1", "u2", msg("hi")))
	require.NoError(t, f.svc.ConfirmFriendRequest(ctx, "u2", "u1"))

	req, ok := f.store.Request("req-1")
	require.True(t, ok)
	assert.Equal(t, models.FriendRequestConfirmed, req.Status)
	assert.NotNil(t, req.RespondedAt)
	assert.Equal(t, []string{"u2"}, friendIDs(t, f.svc, "u1"))
	assert.Equal(t, []string{"u1"}, friendIDs(t, f.svc, "u2"))
}

func TestConfirmFriendRequestConfirmsReverseRequest(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()

	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u1", "u2", nil))
	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u2", "u1", nil))
	require.NoError(t, f.svc.ConfirmFriendRequest(ctx, "u2", "u1"))

	for _, r := range f.store.Requests() {
		assert.Equal(t, models.FriendRequestConfirmed, r.Status, "request %s", r.ID)
	}
	assert.ErrorIs(t, f.svc.ConfirmFriendRequest(ctx, "u1", "u2"), ErrRequestNotFound)
}

func TestConfirmFriendRequestBetweenExistingFriends(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()

	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u1", "u2", nil))
	require.NoError(t, f.svc.AddFriendDirect(ctx, "u2", "u1"))
	require.NoError(t, f.svc.ConfirmFriendRequest(ctx, "u2", "u1"))

	assert.Equal(t, []string{"u2"}, friendIDs(t, f.svc, "u1"))
}

func TestRefuseFriendRequest(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()

	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u1", "u2", msg("hi")))
	require.NoError(t, f.svc.RefuseFriendRequest(ctx, "u2", "u1"))

	req, ok := f.store.Request("req-1")
	require.True(t, ok)
	assert.Equal(t, models.FriendRequestRefused, req.Status)
	assert.Empty(t, friendIDs(t, f.svc, "u1"))
	assert.Empty(t, friendIDs(t, f.svc, "u2"))
}

func TestRefuseFriendRequestDeletesReverseRequest(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()

	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u1", "u2", nil))
	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u2", "u1", nil))
	require.NoError(t, f.svc.RefuseFriendRequest(ctx, "u2", "u1"))

	requests := f.store.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "req-1", requests[0].ID)
	assert.Equal(t, models.FriendRequestRefused, requests[0].Status)
}

func TestConfirmAndRefuseRequireUnresolvedRequest(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(ctx context.Context, svc *Service) error
		detail string
	}{
		{
			name:   "neverCreated",
			setup:  func(context.Context, *Service) error { return nil },
			detail: "doesn't exist",
		},
		{
			name: "withdrawn",
			setup: func(ctx context.Context, svc *Service) error {
				if err := svc.CreateFriendRequest(ctx, "u1", "u2", nil); err != nil {
					return err
				}
				return svc.DeleteFriendRequestSent(ctx, "u1", "u2")
			},
			detail: "doesn't exist",
		},
		{
			name: "alreadyProcessed",
			setup: func(ctx context.Context, svc *Service) error {
				if err := svc.CreateFriendRequest(ctx, "u1", "u2", nil); err != nil {
					return err
				}
				return svc.RefuseFriendRequest(ctx, "u2", "u1")
			},
			detail: "already been processed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "u1", "u2")
			ctx := context.Background()
			require.NoError(t, tc.setup(ctx, f.svc))

			err := f.svc.ConfirmFriendRequest(ctx, "u2", "u1")
			require.ErrorIs(t, err, ErrRequestNotFound)
			assert.Contains(t, err.Error(), tc.detail)

			err = f.svc.RefuseFriendRequest(ctx, "u2", "u1")
			require.ErrorIs(t, err, ErrRequestNotFound)
			assert.Contains(t, err.Error(), tc.detail)
		})
	}
}

// seedDuplicateRequests stores two SENT requests from u1 to u2, bypassing
// the duplicate check, and returns their ids oldest first.
func seedDuplicateRequests(t *testing.T, f *fixture) (older, newer string) {
	t.Helper()
	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	err := f.store.InTx(context.Background(), func(tx Tx) error {
		// Inserted newest first so insertion order alone would pick the wrong one.
		for _, r := range []models.FriendRequest{
			{ID: "dup-new", Requester: "u1", NewFriend: "u2", Status: models.FriendRequestSent, CreatedAt: base.Add(time.Minute)},
			{ID: "dup-old", Requester: "u1", NewFriend: "u2", Status: models.FriendRequestSent, CreatedAt: base},
		} {
			if err := tx.InsertRequest(context.Background(), r); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return "dup-old", "dup-new"
}

func requestStatus(t *testing.T, f *fixture, id string) models.FriendRequestStatus {
	t.Helper()
	r, ok := f.store.Request(id)
	require.True(t, ok, "request %s missing", id)
	return r.Status
}

func TestDuplicateRequestsOnlyOldestIsProcessed(t *testing.T) {
	ctx := context.Background()

	t.Run("confirm", func(t *testing.T) {
		f := newFixture(t, "u1", "u2")
		older, newer := seedDuplicateRequests(t, f)

		require.NoError(t, f.svc.ConfirmFriendRequest(ctx, "u2", "u1"))
		assert.Equal(t, models.FriendRequestConfirmed, requestStatus(t, f, older))
		assert.Equal(t, models.FriendRequestSent, requestStatus(t, f, newer))
	})

	t.Run("refuse", func(t *testing.T) {
		f := newFixture(t, "u1", "u2")
		older, newer := seedDuplicateRequests(t, f)

		require.NoError(t, f.svc.RefuseFriendRequest(ctx, "u2", "u1"))
		assert.Equal(t, models.FriendRequestRefused, requestStatus(t, f, older))
		assert.Equal(t, models.FriendRequestSent, requestStatus(t, f, newer))
	})

	t.Run("withdraw", func(t *testing.T) {
		f := newFixture(t, "u1", "u2")
		older, newer := seedDuplicateRequests(t, f)

		require.NoError(t, f.svc.DeleteFriendRequestSent(ctx, "u1", "u2"))
		_, ok := f.store.Request(older)
		assert.False(t, ok, "oldest request should be withdrawn")
		assert.Equal(t, models.FriendRequestSent, requestStatus(t, f, newer))
	})
}

func TestConfirmFriendRequestUnknownUser(t *testing.T) {
	f := newFixture(t, "u1")
	assert.ErrorIs(t, f.svc.ConfirmFriendRequest(context.Background(), "u1", "ghost"), ErrUserNotFound)
}

func TestDeleteFriendRequestSent(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()

	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u1", "u2", nil))
	require.NoError(t, f.svc.DeleteFriendRequestSent(ctx, "u1", "u2"))

	_, ok := f.store.Request("req-1")
	assert.False(t, ok)
	assert.ErrorIs(t, f.svc.ConfirmFriendRequest(ctx, "u2", "u1"), ErrRequestNotFound)
	assert.ErrorIs(t, f.svc.DeleteFriendRequestSent(ctx, "u1", "u2"), ErrRequestNotFound)
}

func TestDeleteFriendRequestSentOnlyWithdrawsUnresolved(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()

	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u1", "u2", nil))
	require.NoError(t, f.svc.ConfirmFriendRequest(ctx, "u2", "u1"))

	err := f.svc.DeleteFriendRequestSent(ctx, "u1", "u2")
	require.ErrorIs(t, err, ErrRequestNotFound)
	_, ok := f.store.Request("req-1")
	assert.True(t, ok, "confirmed requests are kept as history")

	assert.ErrorIs(t, f.svc.DeleteFriendRequestSent(ctx, "u2", "u1"), ErrRequestNotFound)
}

func TestListReceivedAndSentRequests(t *testing.T) {
	f := newFixture(t, "u1", "u2", "u3")
	ctx := context.Background()

	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u1", "u3", nil))
	require.NoError(t, f.svc.CreateFriendRequest(ctx, "u2", "u3", nil))
	require.NoError(t, f.svc.RefuseFriendRequest(ctx, "u3", "u1"))

	received, err := f.svc.ListReceivedRequests(ctx, "u3")
	require.NoError(t, err)
	require.Len(t, received, 2)
	assert.Equal(t, "u2", received[0].Requester, "newest first")
	assert.Equal(t, models.FriendRequestRefused, received[1].Status)

	sent, err := f.svc.ListSentRequests(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sent, 1)

	_, err = f.svc.ListReceivedRequests(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestListFriendsUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListFriends(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.svc.ListFriendsByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestListFriendsByUsername(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	require.NoError(t, f.svc.AddFriendDirect(context.Background(), "alice", "bob"))

	friends, err := f.svc.ListFriendsByUsername(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, "alice", friends[0].Username)
}

type failingStore struct{ err error }

func (s failingStore) InTx(context.Context, func(Tx) error) error { return s.err }

func TestStoreFailuresAreWrapped(t *testing.T) {
	cause := errors.New("connection reset")
	svc := NewService(failingStore{err: cause})

	err := svc.AddFriendDirect(context.Background(), "a", "b")
	require.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "store_error", Kind(err))
}

type cacheEntry struct {
	generation uint64
	friends    []models.User
}

type cacheStub struct {
	mu          sync.Mutex
	entries     map[string]cacheEntry
	generations map[string]uint64
	invalidated []string
}

func newCacheStub() *cacheStub {
	return &cacheStub{entries: make(map[string]cacheEntry), generations: make(map[string]uint64)}
}

func (c *cacheStub) Get(_ context.Context, userID string) ([]models.User, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.generations[userID]
	e, ok := c.entries[userID]
	if !ok || e.generation != gen {
		return nil, gen, false
	}
	return e.friends, gen, true
}

func (c *cacheStub) Set(_ context.Context, userID string, generation uint64, friends []models.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = cacheEntry{generation: generation, friends: friends}
}

func (c *cacheStub) Invalidate(_ context.Context, userIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		c.generations[id]++
		delete(c.entries, id)
		c.invalidated = append(c.invalidated, id)
	}
}

func TestListFriendsUsesCacheAndMutationsInvalidate(t *testing.T) {
	store := NewInMemoryStore()
	store.PutUser(models.User{ID: "a", Username: "a"})
	store.PutUser(models.User{ID: "b", Username: "b"})
	cache := newCacheStub()
	svc := NewService(store, WithCache(cache))
	ctx := context.Background()

	friends, err := svc.ListFriends(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, friends)
	_, _, cached := cache.Get(ctx, "a")
	assert.True(t, cached)

	require.NoError(t, svc.AddFriendDirect(ctx, "a", "b"))
	assert.ElementsMatch(t, []string{"a", "b"}, cache.invalidated)

	friends, err = svc.ListFriends(ctx, "a")
	require.NoError(t, err)
	require.Len(t, friends, 1)

	_, gen, _ := cache.Get(ctx, "a")
	cache.Set(ctx, "a", gen, []models.User{{ID: "stale"}})
	friends, err = svc.ListFriends(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "stale", friends[0].ID)
}

// autocommitStore applies every write immediately and runs transactions
// concurrently, like statements outside an explicit lock. afterList runs
// once after the first ListFriends read.
type autocommitStore struct {
	state     memState
	once      sync.Once
	afterList func()
}

func (s *autocommitStore) InTx(_ context.Context, fn func(Tx) error) error {
	return fn(&hookedTx{memTx: &memTx{state: s.state}, store: s})
}

type hookedTx struct {
	*memTx
	store *autocommitStore
}

func (t *hookedTx) ListFriends(ctx context.Context, userID string) ([]models.User, error) {
	list, err := t.memTx.ListFriends(ctx, userID)
	if t.store.afterList != nil {
		t.store.once.Do(t.store.afterList)
	}
	return list, err
}

func TestListFriendsDoesNotCacheListReadBeforeConcurrentAdd(t *testing.T) {
	paused := make(chan struct{})
	resume := make(chan struct{})
	store := &autocommitStore{
		state: memState{
			users: map[string]models.User{
				"a": {ID: "a", Username: "a"},
				"b": {ID: "b", Username: "b"},
			},
			edges: make(map[edge]time.Time),
		},
		afterList: func() {
			close(paused)
			<-resume
		},
	}
	svc := NewService(store, WithCache(newCacheStub()))
	ctx := context.Background()

	readerDone := make(chan error, 1)
	go func() {
		_, err := svc.ListFriends(ctx, "a")
		readerDone <- err
	}()

	<-paused
	require.NoError(t, svc.AddFriendDirect(ctx, "a", "b"))
	close(resume)
	require.NoError(t, <-readerDone)

	assert.Equal(t, []string{"b"}, friendIDs(t, svc, "a"))
}

type recorderStub struct {
	outcomes map[string]string
}

func (r *recorderStub) Observe(op, outcome string, _ time.Duration) {
	r.outcomes[op] = outcome
}

func TestRecorderReceivesOutcomes(t *testing.T) {
	store := NewInMemoryStore()
	store.PutUser(models.User{ID: "a", Username: "a"})
	rec := &recorderStub{outcomes: make(map[string]string)}
	svc := NewService(store, WithRecorder(rec))

	_ = svc.AddFriendDirect(context.Background(), "a", "a")
	_, _ = svc.ListFriends(context.Background(), "a")
	_, _ = svc.ListFriendsByUsername(context.Background(), "ghost")

	assert.Equal(t, "self_reference", rec.outcomes[opAddFriend])
	assert.Equal(t, "ok", rec.outcomes[opListFriends])
	assert.Equal(t, "user_not_found", rec.outcomes[opListByUsername])
}

func TestConcurrentMutualAddsLeaveOneFriendship(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		wg.Add(1)
		go func(i int, from, to string) {
			defer wg.Done()
			errs[i] = f.svc.AddFriendDirect(ctx, from, to)
		}(i, pair[0], pair[1])
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicateFriendship):
			dup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)
	assert.Equal(t, []string{"b"}, friendIDs(t, f.svc, "a"))
}
