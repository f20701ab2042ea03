package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/realbeatz/backend/internal/auth"
	"github.com/realbeatz/backend/internal/friends"
	"github.com/realbeatz/backend/internal/logging"
	"github.com/realbeatz/backend/internal/models"
)

// FriendHandler exposes the friend graph and friend request endpoints. Every
// route acts on behalf of the authenticated caller.
type FriendHandler struct {
	Friends FriendService
}

type newFriendPayload struct {
	NewFriendID string `json:"newFriendId"`
}

type removeFriendRequest struct {
	FriendID string `json:"friendId"`
}

type createFriendRequestRequest struct {
	NewFriendID string  `json:"newFriendId"`
	Message     *string `json:"message"`
}

type respondFriendRequestRequest struct {
	RequesterID string `json:"requesterId"`
}

// List handles GET /api/v1/friends. With ?username= it lists that user's friends instead.
func (h FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var (
		list []models.User
		err  error
	)
	if username := strings.TrimSpace(r.URL.Query().Get("username")); username != "" {
		list, err = h.Friends.ListFriendsByUsername(ctx, username)
	} else {
		list, err = h.Friends.ListFriends(ctx, userID)
	}
	if err != nil {
		respondFriendError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"friends": newUserResponses(list)})
}

// Add handles POST /api/v1/friends/add.
func (h FriendHandler) Add(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req newFriendPayload
	if !decodeTarget(ctx, w, r, &req, &req.NewFriendID, "newFriendId") {
		return
	}

	if err := h.Friends.AddFriendDirect(ctx, userID, req.NewFriendID); err != nil {
		respondFriendError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]string{"message": "friend added"})
}

// Remove handles DELETE /api/v1/friends/remove.
func (h FriendHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req removeFriendRequest
	if !decodeTarget(ctx, w, r, &req, &req.FriendID, "friendId") {
		return
	}

	if err := h.Friends.RemoveFriend(ctx, userID, req.FriendID); err != nil {
		respondFriendError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]string{"message": "friend removed"})
}

// CreateRequest handles POST /api/v1/friends/requests.
func (h FriendHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req createFriendRequestRequest
	if !decodeTarget(ctx, w, r, &req, &req.NewFriendID, "newFriendId") {
		return
	}

	if err := h.Friends.CreateFriendRequest(ctx, userID, req.NewFriendID, req.Message); err != nil {
		respondFriendError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, map[string]string{"message": "friend request sent"})
}

// Received handles GET /api/v1/friends/requests/received.
func (h FriendHandler) Received(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	requests, err := h.Friends.ListReceivedRequests(ctx, userID)
	if err != nil {
		respondFriendError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"requests": newFriendRequestResponses(requests)})
}

// Sent handles GET (list) and DELETE (withdraw) on /api/v1/friends/requests/sent.
func (h FriendHandler) Sent(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listSent(w, r)
	case http.MethodDelete:
		h.withdraw(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h FriendHandler) listSent(w http.ResponseWriter, r *http.Request) {
	ctx, userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	requests, err := h.Friends.ListSentRequests(ctx, userID)
	if err != nil {
		respondFriendError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"requests": newFriendRequestResponses(requests)})
}

func (h FriendHandler) withdraw(w http.ResponseWriter, r *http.Request) {
	ctx, userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req newFriendPayload
	if !decodeTarget(ctx, w, r, &req, &req.NewFriendID, "newFriendId") {
		return
	}

	if err := h.Friends.DeleteFriendRequestSent(ctx, userID, req.NewFriendID); err != nil {
		respondFriendError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]string{"message": "friend request withdrawn"})
}

// Confirm handles POST /api/v1/friends/requests/confirm.
func (h FriendHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.Friends.ConfirmFriendRequest, "friend request confirmed")
}

// Refuse handles POST /api/v1/friends/requests/refuse.
func (h FriendHandler) Refuse(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.Friends.RefuseFriendRequest, "friend request refused")
}

func (h FriendHandler) respond(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, requesterID string) error, message string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req respondFriendRequestRequest
	if !decodeTarget(ctx, w, r, &req, &req.RequesterID, "requesterId") {
		return
	}

	if err := op(ctx, userID, req.RequesterID); err != nil {
		respondFriendError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]string{"message": message})
}

// caller returns the authenticated user id, responding with an error when the
// handler is misconfigured or the request is anonymous.
func (h FriendHandler) caller(w http.ResponseWriter, r *http.Request) (context.Context, string, bool) {
	ctx := r.Context()
	if h.Friends == nil {
		logging.FromContext(ctx).Error("friend service unavailable")
		respondError(ctx, w, http.StatusInternalServerError, "friend service unavailable")
		return ctx, "", false
	}
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "authentication required")
		return ctx, "", false
	}
	return ctx, userID, true
}

// decodeTarget decodes the body into req and requires *id to be non-empty.
func decodeTarget(ctx context.Context, w http.ResponseWriter, r *http.Request, req any, id *string, field string) bool {
	if err := decodeJSON(w, r, req); err != nil {
		logging.FromContext(ctx).Warn("invalid friend payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return false
	}
	*id = strings.TrimSpace(*id)
	if *id == "" {
		respondError(ctx, w, http.StatusBadRequest, field+" is required")
		return false
	}
	return true
}

func friendErrorStatus(err error) int {
	switch {
	case errors.Is(err, friends.ErrUserNotFound),
		errors.Is(err, friends.ErrRequestNotFound),
		errors.Is(err, friends.ErrFriendshipNotFound):
		return http.StatusNotFound
	case errors.Is(err, friends.ErrDuplicateFriendship),
		errors.Is(err, friends.ErrDuplicateRequest),
		errors.Is(err, friends.ErrAlreadyFriends):
		return http.StatusConflict
	case errors.Is(err, friends.ErrSelfReference),
		errors.Is(err, friends.ErrInvalidMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondFriendError(ctx context.Context, w http.ResponseWriter, err error) {
	status := friendErrorStatus(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(ctx).Error("friend operation failed", "error", err)
		respondError(ctx, w, status, "internal error")
		return
	}
	respondError(ctx, w, status, err.Error())
}
