package handlers

import (
	"context"
	"net/http"

	"github.com/realbeatz/backend/internal/auth"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Ping: deps.Ping}
	authn := AuthHandler{Accounts: deps.Accounts, Sessions: deps.Sessions}
	me := UserHandler{Accounts: deps.Accounts}
	friends := FriendHandler{Friends: deps.Friends}

	protect := func(h http.HandlerFunc) http.Handler {
		return auth.RequireUser(deps.Verifier, h)
	}

	mux.HandleFunc("/healthz", health.Handle)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}

	mux.HandleFunc("/api/v1/auth/login", authn.Login)
	mux.HandleFunc("/api/v1/auth/signup", authn.SignUp)
	mux.HandleFunc("/api/v1/auth/refresh", authn.Refresh)
	mux.HandleFunc("/api/v1/auth/logout", authn.Logout)

	mux.Handle("/api/v1/users/me", protect(me.Me))
	mux.Handle("/api/v1/users/me/profile", protect(me.Profile))
	mux.Handle("/api/v1/users/me/picture", protect(me.Picture))

	mux.Handle("/api/v1/friends", protect(friends.List))
	mux.Handle("/api/v1/friends/add", protect(friends.Add))
	mux.Handle("/api/v1/friends/remove", protect(friends.Remove))
	mux.Handle("/api/v1/friends/requests", protect(friends.CreateRequest))
	mux.Handle("/api/v1/friends/requests/received", protect(friends.Received))
	mux.Handle("/api/v1/friends/requests/sent", protect(friends.Sent))
	mux.Handle("/api/v1/friends/requests/confirm", protect(friends.Confirm))
	mux.Handle("/api/v1/friends/requests/refuse", protect(friends.Refuse))
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Accounts Accounts
	Sessions SessionManager
	Verifier auth.TokenVerifier
	Friends  FriendService
	Metrics  http.Handler
	Ping     func(ctx context.Context) error
}
