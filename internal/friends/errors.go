package friends

import "errors"

var (
	// ErrUserNotFound indicates a referenced user id does not resolve.
	ErrUserNotFound = errors.New("user not found")
	// ErrSelfReference indicates a user tried to befriend or request themself.
	ErrSelfReference = errors.New("user cannot reference themself")
	// ErrDuplicateFriendship indicates the friendship edge already exists.
	ErrDuplicateFriendship = errors.New("friendship already exists")
	// ErrFriendshipNotFound indicates the friendship edge is missing in at least one direction.
	ErrFriendshipNotFound = errors.New("friendship not found")
	// ErrAlreadyFriends indicates a request was attempted between existing friends.
	ErrAlreadyFriends = errors.New("users are already friends")
	// ErrDuplicateRequest indicates an unresolved request already exists for the pair.
	ErrDuplicateRequest = errors.New("friend request already pending")
	// ErrRequestNotFound indicates no unresolved request matches the lookup.
	ErrRequestNotFound = errors.New("friend request not found")
	// ErrInvalidMessage indicates the request message exceeds the allowed length.
	ErrInvalidMessage = errors.New("invalid friend request message")
	// ErrStore wraps failures reported by the underlying store.
	ErrStore = errors.New("friend store failure")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrUserNotFound, "user_not_found"},
	{ErrSelfReference, "self_reference"},
	{ErrDuplicateFriendship, "duplicate_friendship"},
	{ErrFriendshipNotFound, "friendship_not_found"},
	{ErrAlreadyFriends, "already_friends"},
	{ErrDuplicateRequest, "duplicate_request"},
	{ErrRequestNotFound, "request_not_found"},
	{ErrInvalidMessage, "invalid_message"},
	{ErrStore, "store_error"},
}

// Kind returns a stable label for err: "ok" for nil, the error kind name for
// the package sentinels and "unknown" otherwise.
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}
