package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/realbeatz/backend/internal/db"
	"github.com/realbeatz/backend/internal/friends"
	"github.com/realbeatz/backend/internal/models"
)

// PostgresFriendStore provides PostgreSQL-backed persistence for the
// friendship graph and friend requests.
type PostgresFriendStore struct {
	pool db.Pool
}

// NewPostgresFriendStore constructs a friend store backed by PostgreSQL.
func NewPostgresFriendStore(pool db.Pool) *PostgresFriendStore {
	return &PostgresFriendStore{pool: pool}
}

// InTx implements friends.Store.
func (s *PostgresFriendStore) InTx(ctx context.Context, fn func(tx friends.Tx) error) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgFriendTx{tx: tx})
	})
}

type pgFriendTx struct {
	tx pgx.Tx
}

func (t *pgFriendTx) LockUsers(ctx context.Context, a, b string) error {
	ids := make([]string, 0, 2)
	for _, id := range []string{a, b} {
		if validID(id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := t.tx.Query(ctx, `
        SELECT id FROM users
        WHERE id = ANY($1::UUID[])
        ORDER BY id
        FOR UPDATE
    `, ids)
	if err != nil {
		return fmt.Errorf("lock users: %w", err)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock users: %w", err)
	}
	return nil
}

func (t *pgFriendTx) FindUser(ctx context.Context, id string) (models.User, bool, error) {
	if !validID(id) {
		return models.User{}, false, nil
	}
	return t.findUser(ctx, "id", id)
}

func (t *pgFriendTx) FindUserByUsername(ctx context.Context, username string) (models.User, bool, error) {
	return t.findUser(ctx, "username", username)
}

func (t *pgFriendTx) findUser(ctx context.Context, column, value string) (models.User, bool, error) {
	user, err := scanUser(t.tx.QueryRow(ctx, `
        SELECT `+userColumns+`
        FROM users
        WHERE `+column+` = $1
    `, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, false, nil
		}
		return models.User{}, false, fmt.Errorf("select user by %s: %w", column, err)
	}
	return user, true, nil
}

func (t *pgFriendTx) HasEdge(ctx context.Context, from, to string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM friendships WHERE user_id = $1 AND friend_id = $2
        )
    `, from, to).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("select friendship: %w", err)
	}
	return exists, nil
}

func (t *pgFriendTx) SetSymmetricEdge(ctx context.Context, a, b string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO friendships (user_id, friend_id, created_at)
        VALUES ($1, $2, $3), ($2, $1, $3)
        ON CONFLICT (user_id, friend_id) DO NOTHING
    `, a, b, at.UTC())
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("%w: %v", friends.ErrUserNotFound, err)
		}
		return fmt.Errorf("insert friendship: %w", err)
	}
	return nil
}

func (t *pgFriendTx) ClearSymmetricEdge(ctx context.Context, a, b string) error {
	_, err := t.tx.Exec(ctx, `
        DELETE FROM friendships
        WHERE (user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1)
    `, a, b)
	if err != nil {
		return fmt.Errorf("delete friendship: %w", err)
	}
	return nil
}

func (t *pgFriendTx) ListFriends(ctx context.Context, userID string) ([]models.User, error) {
	rows, err := t.tx.Query(ctx, `
        SELECT u.id, u.username, u.password_hash, u.first_name, u.last_name, u.bio,
               u.date_of_birth, u.profile_picture, u.created_at, u.updated_at
        FROM friendships f
        JOIN users u ON u.id = f.friend_id
        WHERE f.user_id = $1
        ORDER BY u.username
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("select friends: %w", err)
	}
	defer rows.Close()

	var list []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		list = append(list, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friends: %w", err)
	}
	return list, nil
}

func (t *pgFriendTx) InsertRequest(ctx context.Context, request models.FriendRequest) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO friend_requests (id, requester_id, new_friend_id, message, status, created_at, responded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, request.ID, request.Requester, request.NewFriend, request.Message,
		string(request.Status), request.CreatedAt.UTC(), request.RespondedAt)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %v", friends.ErrDuplicateRequest, err)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %v", friends.ErrUserNotFound, err)
		}
		return fmt.Errorf("insert friend request: %w", err)
	}
	return nil
}

const requestColumns = `id, requester_id, new_friend_id, message, status, created_at, responded_at`

func (t *pgFriendTx) FindRequests(ctx context.Context, requester, newFriend string) ([]models.FriendRequest, error) {
	if !validID(requester) || !validID(newFriend) {
		return nil, nil
	}
	return t.queryRequests(ctx, `
        SELECT `+requestColumns+`
        FROM friend_requests
        WHERE requester_id = $1 AND new_friend_id = $2
        ORDER BY created_at, id
    `, requester, newFriend)
}

func (t *pgFriendTx) UpdateRequestStatus(ctx context.Context, requestID string, status models.FriendRequestStatus, respondedAt time.Time) error {
	tag, err := t.tx.Exec(ctx, `
        UPDATE friend_requests
        SET status = $2, responded_at = $3
        WHERE id = $1
    `, requestID, string(status), respondedAt.UTC())
	if err != nil {
		return fmt.Errorf("update friend request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update friend request %s: %w", requestID, ErrNotFound)
	}
	return nil
}

func (t *pgFriendTx) DeleteRequest(ctx context.Context, requestID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM friend_requests WHERE id = $1`, requestID)
	if err != nil {
		return fmt.Errorf("delete friend request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete friend request %s: %w", requestID, ErrNotFound)
	}
	return nil
}

func (t *pgFriendTx) ListReceivedRequests(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	return t.queryRequests(ctx, `
        SELECT `+requestColumns+`
        FROM friend_requests
        WHERE new_friend_id = $1
        ORDER BY created_at DESC, id
    `, userID)
}

func (t *pgFriendTx) ListSentRequests(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	return t.queryRequests(ctx, `
        SELECT `+requestColumns+`
        FROM friend_requests
        WHERE requester_id = $1
        ORDER BY created_at DESC, id
    `, userID)
}

func (t *pgFriendTx) queryRequests(ctx context.Context, query string, args ...any) ([]models.FriendRequest, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select friend requests: %w", err)
	}
	defer rows.Close()

	var requests []models.FriendRequest
	for rows.Next() {
		var (
			request models.FriendRequest
			status  string
		)
		if err := rows.Scan(&request.ID, &request.Requester, &request.NewFriend, &request.Message,
			&status, &request.CreatedAt, &request.RespondedAt); err != nil {
			return nil, fmt.Errorf("scan friend request: %w", err)
		}
		request.Status = models.FriendRequestStatus(status)
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend requests: %w", err)
	}
	return requests, nil
}

var _ friends.Store = (*PostgresFriendStore)(nil)
var _ friends.Tx = (*pgFriendTx)(nil)
