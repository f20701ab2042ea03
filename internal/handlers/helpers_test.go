package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/realbeatz/backend/internal/auth"
	"github.com/realbeatz/backend/internal/config"
	"github.com/realbeatz/backend/internal/friends"
	"github.com/realbeatz/backend/internal/models"
	"github.com/realbeatz/backend/internal/repositories"
	"github.com/realbeatz/backend/internal/users"
)

// inMemoryUserStore mirrors every write into the friend store so both views
// of the user table stay aligned, as they do in Postgres.
type inMemoryUserStore struct {
	mu      sync.Mutex
	users   map[string]models.User
	friends *friends.InMemoryStore
}

func newInMemoryUserStore(friendStore *friends.InMemoryStore) *inMemoryUserStore {
	return &inMemoryUserStore{users: make(map[string]models.User), friends: friendStore}
}

func (s *inMemoryUserStore) Create(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username {
			return repositories.ErrConflict
		}
	}
	s.users[user.ID] = user
	s.friends.PutUser(user)
	return nil
}

func (s *inMemoryUserStore) FindByID(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return models.User{}, repositories.ErrNotFound
	}
	return user, nil
}

func (s *inMemoryUserStore) FindByUsername(_ context.Context, username string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return models.User{}, repositories.ErrNotFound
}

func (s *inMemoryUserStore) Update(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return repositories.ErrNotFound
	}
	for id, u := range s.users {
		if id != user.ID && u.Username == user.Username {
			return repositories.ErrConflict
		}
	}
	s.users[user.ID] = user
	s.friends.PutUser(user)
	return nil
}

type testEnv struct {
	mux         *http.ServeMux
	manager     *auth.Manager
	directory   *users.Directory
	friendStore *friends.InMemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	friendStore := friends.NewInMemoryStore()
	directory := users.NewDirectory(newInMemoryUserStore(friendStore), users.RulesFromConfig(config.ValidationConfig{
		UsernameMinLength: 3,
		UsernameMaxLength: 30,
		PasswordMinLength: 8,
		NameMaxLength:     50,
		BioMaxLength:      300,
		MinimumAgeYears:   13,
	}), users.WithHashCost(bcrypt.MinCost))
	manager := auth.NewManager(auth.Config{
		Secret:     []byte("handler-test-secret"),
		Issuer:     "realbeatz-test",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	}, auth.NewInMemorySessionStore())

	mux := http.NewServeMux()
	RegisterRoutes(mux, Dependencies{
		Accounts: directory,
		Sessions: manager,
		Verifier: manager,
		Friends:  friends.NewService(friendStore),
	})
	return &testEnv{mux: mux, manager: manager, directory: directory, friendStore: friendStore}
}

// signUp registers username and returns its id and access token.
func (e *testEnv) signUp(t *testing.T, username string) (string, string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/signup", "", signUpRequest{Username: username, Password: "password123"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup %s: status %d body %s", username, rec.Code, rec.Body.String())
	}
	var resp authResponse
	decodeBody(t, rec, &resp)
	return resp.User.ID, resp.Tokens.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}
