package handlers

import (
	"context"
	"io"

	"github.com/realbeatz/backend/internal/models"
)

// Accounts captures the user directory operations used by the auth and user handlers.
type Accounts interface {
	Register(ctx context.Context, username, password string, profile map[string]string) (models.User, error)
	Authenticate(ctx context.Context, username, password string) (models.User, error)
	Get(ctx context.Context, id string) (models.User, error)
	UpdateAccount(ctx context.Context, id string, updates map[string]string) (models.User, error)
	UpdateProfile(ctx context.Context, id string, updates map[string]string) (models.User, error)
	SetProfilePicture(ctx context.Context, id, filename string, r io.Reader) (models.User, error)
}

// SessionManager issues, refreshes and revokes authentication tokens.
type SessionManager interface {
	Issue(ctx context.Context, userID string) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// FriendService captures the friend graph and request operations.
type FriendService interface {
	ListFriends(ctx context.Context, userID string) ([]models.User, error)
	ListFriendsByUsername(ctx context.Context, username string) ([]models.User, error)
	AddFriendDirect(ctx context.Context, userID, friendID string) error
	RemoveFriend(ctx context.Context, userID, friendID string) error
	CreateFriendRequest(ctx context.Context, requesterID, newFriendID string, message *string) error
	ConfirmFriendRequest(ctx context.Context, userID, requesterID string) error
	RefuseFriendRequest(ctx context.Context, userID, requesterID string) error
	DeleteFriendRequestSent(ctx context.Context, userID, newFriendID string) error
	ListReceivedRequests(ctx context.Context, userID string) ([]models.FriendRequest, error)
	ListSentRequests(ctx context.Context, userID string) ([]models.FriendRequest, error)
}
