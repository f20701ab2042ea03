package friends

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/realbeatz/backend/internal/models"
)

type edge struct{ from, to string }

type memState struct {
	users    map[string]models.User
	edges    map[edge]time.Time
	requests []models.FriendRequest // insertion order
}

func (s memState) clone() memState {
	return memState{
		users:    maps.Clone(s.users),
		edges:    maps.Clone(s.edges),
		requests: slices.Clone(s.requests),
	}
}

// InMemoryStore implements Store for tests and local development. Transactions
// run one at a time against a private copy of the state that replaces the
// shared state only when the transaction succeeds.
type InMemoryStore struct {
	mu    sync.Mutex
	state memState
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{state: memState{
		users: make(map[string]models.User),
		edges: make(map[edge]time.Time),
	}}
}

// PutUser registers or replaces a user in the directory.
func (s *InMemoryStore) PutUser(user models.User) {
	s.mu.Lock()
	s.state.users[user.ID] = user
	s.mu.Unlock()
}

// PutEdge writes a single directed edge, bypassing the Service. Useful for
// reproducing corrupted graphs in tests.
func (s *InMemoryStore) PutEdge(from, to string) {
	s.mu.Lock()
	s.state.edges[edge{from, to}] = time.Now().UTC()
	s.mu.Unlock()
}

// Request returns the stored request with the given id.
func (s *InMemoryStore) Request(id string) (models.FriendRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.state.requests {
		if r.ID == id {
			return r, true
		}
	}
	return models.FriendRequest{}, false
}

// Requests returns a copy of every stored request in insertion order.
func (s *InMemoryStore) Requests() []models.FriendRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.requests)
}

// InTx implements Store.
func (s *InMemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

var errMemRequestMissing = errors.New("request missing")

type memTx struct {
	state memState
}

func (t *memTx) LockUsers(context.Context, string, string) error { return nil }

func (t *memTx) FindUser(_ context.Context, id string) (models.User, bool, error) {
	user, ok := t.state.users[id]
	return user, ok, nil
}

func (t *memTx) FindUserByUsername(_ context.Context, username string) (models.User, bool, error) {
	for _, user := range t.state.users {
		if user.Username == username {
			return user, true, nil
		}
	}
	return models.User{}, false, nil
}

func (t *memTx) HasEdge(_ context.Context, from, to string) (bool, error) {
	_, ok := t.state.edges[edge{from, to}]
	return ok, nil
}

func (t *memTx) SetSymmetricEdge(_ context.Context, a, b string, at time.Time) error {
	for _, e := range []edge{{a, b}, {b, a}} {
		if _, ok := t.state.edges[e]; !ok {
			t.state.edges[e] = at
		}
	}
	return nil
}

func (t *memTx) ClearSymmetricEdge(_ context.Context, a, b string) error {
	delete(t.state.edges, edge{a, b})
	delete(t.state.edges, edge{b, a})
	return nil
}

func (t *memTx) ListFriends(_ context.Context, userID string) ([]models.User, error) {
	var friends []models.User
	for e := range t.state.edges {
		if e.from != userID {
			continue
		}
		if user, ok := t.state.users[e.to]; ok {
			friends = append(friends, user)
		}
	}
	sort.Slice(friends, func(i, j int) bool { return friends[i].Username < friends[j].Username })
	return friends, nil
}

func (t *memTx) InsertRequest(_ context.Context, request models.FriendRequest) error {
	for _, r := range t.state.requests {
		if r.ID == request.ID {
			return fmt.Errorf("request %s already stored", request.ID)
		}
	}
	t.state.requests = append(t.state.requests, request)
	return nil
}

func (t *memTx) FindRequests(_ context.Context, requester, newFriend string) ([]models.FriendRequest, error) {
	return t.filter(func(r models.FriendRequest) bool {
		return r.Requester == requester && r.NewFriend == newFriend
	}, false), nil
}

func (t *memTx) UpdateRequestStatus(_ context.Context, requestID string, status models.FriendRequestStatus, respondedAt time.Time) error {
	for i := range t.state.requests {
		if t.state.requests[i].ID == requestID {
			at := respondedAt
			t.state.requests[i].Status = status
			t.state.requests[i].RespondedAt = &at
			return nil
		}
	}
	return fmt.Errorf("update %s: %w", requestID, errMemRequestMissing)
}

func (t *memTx) DeleteRequest(_ context.Context, requestID string) error {
	for i := range t.state.requests {
		if t.state.requests[i].ID == requestID {
			t.state.requests = slices.Delete(t.state.requests, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("delete %s: %w", requestID, errMemRequestMissing)
}

func (t *memTx) ListReceivedRequests(_ context.Context, userID string) ([]models.FriendRequest, error) {
	return t.filter(func(r models.FriendRequest) bool { return r.NewFriend == userID }, true), nil
}

func (t *memTx) ListSentRequests(_ context.Context, userID string) ([]models.FriendRequest, error) {
	return t.filter(func(r models.FriendRequest) bool { return r.Requester == userID }, true), nil
}

// filter returns matching requests ordered by creation time, oldest first, or
// newest first when newestFirst is set. Insertion order breaks ties.
func (t *memTx) filter(match func(models.FriendRequest) bool, newestFirst bool) []models.FriendRequest {
	var out []models.FriendRequest
	for _, r := range t.state.requests {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

var _ Store = (*InMemoryStore)(nil)
var _ Tx = (*memTx)(nil)
