package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/realbeatz/backend/internal/logging"
	"github.com/realbeatz/backend/internal/models"
)

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	respondJSON(ctx, w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

type userResponse struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName"`
	Bio            string    `json:"bio"`
	DateOfBirth    string    `json:"dob,omitempty"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func newUserResponse(u models.User) userResponse {
	resp := userResponse{
		ID:             u.ID,
		Username:       u.Username,
		FirstName:      u.Profile.FirstName,
		LastName:       u.Profile.LastName,
		Bio:            u.Profile.Bio,
		ProfilePicture: u.Profile.ProfilePicture,
		CreatedAt:      u.CreatedAt,
	}
	if u.Profile.DateOfBirth != nil {
		resp.DateOfBirth = u.Profile.DateOfBirth.Format("2006-01-02")
	}
	return resp
}

func newUserResponses(list []models.User) []userResponse {
	out := make([]userResponse, 0, len(list))
	for _, u := range list {
		out = append(out, newUserResponse(u))
	}
	return out
}

type friendRequestResponse struct {
	ID          string     `json:"id"`
	RequesterID string     `json:"requesterId"`
	NewFriendID string     `json:"newFriendId"`
	Message     string     `json:"message"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
}

func newFriendRequestResponses(list []models.FriendRequest) []friendRequestResponse {
	out := make([]friendRequestResponse, 0, len(list))
	for _, r := range list {
		out = append(out, friendRequestResponse{
			ID:          r.ID,
			RequesterID: r.Requester,
			NewFriendID: r.NewFriend,
			Message:     r.Message,
			Status:      string(r.Status),
			CreatedAt:   r.CreatedAt,
			RespondedAt: r.RespondedAt,
		})
	}
	return out
}
