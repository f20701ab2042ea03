package friends

import (
	"context"
	"time"

	"github.com/realbeatz/backend/internal/models"
)

// Store opens the transaction scope used by every Service operation.
type Store interface {
	// InTx runs fn in one transaction. Writes made through tx become visible
	// to other callers only if fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the reads and writes the Service needs inside a transaction.
// Implementations do not enforce domain rules beyond storage constraints.
type Tx interface {
	// LockUsers blocks concurrent transactions touching either user until
	// this one finishes. Rows are locked in a stable order.
	LockUsers(ctx context.Context, a, b string) error
	FindUser(ctx context.Context, id string) (models.User, bool, error)
	FindUserByUsername(ctx context.Context, username string) (models.User, bool, error)

	HasEdge(ctx context.Context, from, to string) (bool, error)
	// SetSymmetricEdge writes both a->b and b->a.
	SetSymmetricEdge(ctx context.Context, a, b string, at time.Time) error
	// ClearSymmetricEdge removes both a->b and b->a.
	ClearSymmetricEdge(ctx context.Context, a, b string) error
	ListFriends(ctx context.Context, userID string) ([]models.User, error)

	InsertRequest(ctx context.Context, request models.FriendRequest) error
	// FindRequests returns every request from requester to newFriend, oldest first.
	FindRequests(ctx context.Context, requester, newFriend string) ([]models.FriendRequest, error)
	UpdateRequestStatus(ctx context.Context, requestID string, status models.FriendRequestStatus, respondedAt time.Time) error
	DeleteRequest(ctx context.Context, requestID string) error
	ListReceivedRequests(ctx context.Context, userID string) ([]models.FriendRequest, error)
	ListSentRequests(ctx context.Context, userID string) ([]models.FriendRequest, error)
}

// FriendListCache caches ListFriends results per user. Each user has a
// generation that Invalidate advances. Get reports the current generation
// and Set stores a list under the generation observed before it was read,
// so a list read before an invalidation is never served after it.
// Implementations must tolerate backend failures by reporting a miss.
type FriendListCache interface {
	Get(ctx context.Context, userID string) (friends []models.User, generation uint64, ok bool)
	Set(ctx context.Context, userID string, generation uint64, friends []models.User)
	Invalidate(ctx context.Context, userIDs ...string)
}

// Recorder observes the outcome of each Service operation.
type Recorder interface {
	Observe(op, outcome string, elapsed time.Duration)
}
