package repositories

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/realbeatz/backend/internal/auth"
	"github.com/realbeatz/backend/internal/db"
)

// PostgresSessionStore keeps refresh tokens in the sessions table. Only a
// SHA-256 digest of each token is written to the database.
type PostgresSessionStore struct {
	pool db.Pool
}

func NewPostgresSessionStore(pool db.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

func tokenDigest(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:])
}

// Save inserts the session, or moves an existing token to the new owner and expiry.
func (s *PostgresSessionStore) Save(ctx context.Context, session auth.Session) error {
	if !validID(session.UserID) {
		return fmt.Errorf("save session: user id %q is not a uuid", session.UserID)
	}

	return s.exec(ctx, func(conn *pgxConn) error {
		_, err := conn.Exec(ctx, `
            INSERT INTO sessions (token_digest, user_id, expires_at)
            VALUES ($1, $2, $3)
            ON CONFLICT (token_digest)
            DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at
        `, tokenDigest(session.RefreshToken), session.UserID, session.ExpiresAt.UTC())
		switch {
		case err == nil:
			return nil
		case pgCode(err) == pgForeignKeyViolation:
			return fmt.Errorf("save session for %s: %w", session.UserID, ErrNotFound)
		default:
			return fmt.Errorf("save session: %w", err)
		}
	})
}

// Find returns the session for refreshToken, expired or not. Expiry is the
// caller's concern.
func (s *PostgresSessionStore) Find(ctx context.Context, refreshToken string) (auth.Session, error) {
	session := auth.Session{RefreshToken: refreshToken}
	err := s.exec(ctx, func(conn *pgxConn) error {
		err := conn.QueryRow(ctx, `
            SELECT user_id, expires_at FROM sessions WHERE token_digest = $1
        `, tokenDigest(refreshToken)).Scan(&session.UserID, &session.ExpiresAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("find session: %w", err)
		}
		return nil
	})
	if err != nil {
		return auth.Session{}, err
	}
	session.ExpiresAt = session.ExpiresAt.UTC()
	return session, nil
}

func (s *PostgresSessionStore) Delete(ctx context.Context, refreshToken string) error {
	return s.exec(ctx, func(conn *pgxConn) error {
		tag, err := conn.Exec(ctx, `DELETE FROM sessions WHERE token_digest = $1`, tokenDigest(refreshToken))
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return auth.ErrSessionNotFound
		}
		return nil
	})
}

func (s *PostgresSessionStore) exec(ctx context.Context, fn func(conn *pgxConn) error) error {
	return withConn(ctx, s.pool, fn)
}

var _ auth.SessionStore = (*PostgresSessionStore)(nil)
