package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/realbeatz/backend/internal/db"
	"github.com/realbeatz/backend/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const userColumns = `id, username, password_hash, first_name, last_name, bio, date_of_birth, profile_picture, created_at, updated_at`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.Username, &user.Password,
		&user.Profile.FirstName, &user.Profile.LastName, &user.Profile.Bio,
		&user.Profile.DateOfBirth, &user.Profile.ProfilePicture,
		&user.CreatedAt, &user.UpdatedAt,
	)
	return user, err
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

type pgxConn = pgxpool.Conn

// withConn runs fn on a pooled connection and releases it afterwards.
func withConn(ctx context.Context, pool db.Pool, fn func(conn *pgxConn) error) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()
	return fn(conn)
}

// validID reports whether id can be compared against a UUID column. Callers
// treat malformed ids as unknown rows instead of surfacing a cast error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// PostgresUserRepository stores users in the users table.
type PostgresUserRepository struct {
	pool db.Pool
}

func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create inserts user. A taken username or id is reported as ErrConflict.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	return withConn(ctx, r.pool, func(conn *pgxConn) error {
		_, err := conn.Exec(ctx, `
            INSERT INTO users (`+userColumns+`)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        `, user.ID, user.Username, user.Password,
			user.Profile.FirstName, user.Profile.LastName, user.Profile.Bio,
			user.Profile.DateOfBirth, user.Profile.ProfilePicture,
			user.CreatedAt, user.UpdatedAt)
		return userWriteErr("create", user.Username, err)
	})
}

func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	if !validID(id) {
		return models.User{}, ErrNotFound
	}
	return r.findOne(ctx, "id", id)
}

func (r *PostgresUserRepository) FindByUsername(ctx context.Context, username string) (models.User, error) {
	return r.findOne(ctx, "username", username)
}

// findOne is only called with the literal columns "id" and "username".
func (r *PostgresUserRepository) findOne(ctx context.Context, column, value string) (models.User, error) {
	var user models.User
	err := withConn(ctx, r.pool, func(conn *pgxConn) error {
		var err error
		user, err = scanUser(conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, value))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("find user by %s: %w", column, err)
		}
		return nil
	})
	return user, err
}

// Update overwrites every mutable column of the user with user.ID.
func (r *PostgresUserRepository) Update(ctx context.Context, user models.User) error {
	if !validID(user.ID) {
		return ErrNotFound
	}

	return withConn(ctx, r.pool, func(conn *pgxConn) error {
		tag, err := conn.Exec(ctx, `
            UPDATE users
            SET username = $2, password_hash = $3, first_name = $4, last_name = $5,
                bio = $6, date_of_birth = $7, profile_picture = $8, updated_at = $9
            WHERE id = $1
        `, user.ID, user.Username, user.Password,
			user.Profile.FirstName, user.Profile.LastName, user.Profile.Bio,
			user.Profile.DateOfBirth, user.Profile.ProfilePicture, user.UpdatedAt)
		if err != nil {
			return userWriteErr("update", user.Username, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func userWriteErr(op, username string, err error) error {
	switch {
	case err == nil:
		return nil
	case pgCode(err) == pgUniqueViolation:
		return fmt.Errorf("%s user %q: %w", op, username, ErrConflict)
	default:
		return fmt.Errorf("%s user: %w", op, err)
	}
}

var _ UserRepository = (*PostgresUserRepository)(nil)
