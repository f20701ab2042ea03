package models

import "time"

// User represents an account within the RealBeatz platform.
type User struct {
	ID        string
	Username  string
	Password  string
	Profile   Profile
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Profile holds the user-editable presentation fields of an account.
type Profile struct {
	FirstName      string
	LastName       string
	Bio            string
	DateOfBirth    *time.Time
	ProfilePicture string
}

// FriendRequestStatus tracks where a friend request sits in its lifecycle.
type FriendRequestStatus string

const (
	FriendRequestSent      FriendRequestStatus = "SENT"
	FriendRequestConfirmed FriendRequestStatus = "CONFIRMED"
	FriendRequestRefused   FriendRequestStatus = "REFUSED"
)

// Unresolved reports whether the request still awaits a response.
func (s FriendRequestStatus) Unresolved() bool {
	return s == FriendRequestSent
}

// FriendRequest represents one user proposing friendship to another.
type FriendRequest struct {
	ID          string
	Requester   string
	NewFriend   string
	Message     string
	Status      FriendRequestStatus
	CreatedAt   time.Time
	RespondedAt *time.Time
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}
