package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tbalsam/ripple/internal/wire"
)

// User is an account row.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    int64
}

// GetUserByUsername fetches an account by username.
func (q *Queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := q.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = ?",
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// CreateUserParams are the fields of a new account.
type CreateUserParams struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    int64
}

// CreateUser inserts an account row.
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)",
		arg.ID, arg.Username, arg.PasswordHash, arg.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetCurrentUserInfo returns the socket representation of the principal.
func (q *Queries) GetCurrentUserInfo(ctx context.Context, userID string) (wire.CurrentUserInfo, error) {
	var username string
	err := q.db.QueryRowContext(ctx,
		"SELECT username FROM users WHERE id = ?", userID).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return wire.CurrentUserInfo{}, ErrNotFound
	}
	if err != nil {
		return wire.CurrentUserInfo{}, fmt.Errorf("get current user: %w", err)
	}
	return wire.CurrentUserInfo{ID: userID, Username: username}, nil
}

// GetKnownUserInfos returns every user who shares a thread with userID
// (including userID itself), keyed by id.
func (q *Queries) GetKnownUserInfos(ctx context.Context, userID string) (map[string]wire.UserInfo, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT DISTINCT u.id, u.username
		FROM users u
		JOIN memberships m ON m.user_id = u.id
		WHERE m.thread_id IN (SELECT thread_id FROM memberships WHERE user_id = ?)`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("fetch known users: %w", err)
	}
	defer rows.Close()
	return scanUserInfos(rows)
}

// GetUserInfosByID returns users by id regardless of thread overlap; used
// for targeted consistency repair and involvement backfill.
func (q *Queries) GetUserInfosByID(ctx context.Context, ids []string) (map[string]wire.UserInfo, error) {
	if len(ids) == 0 {
		return map[string]wire.UserInfo{}, nil
	}
	query := fmt.Sprintf("SELECT id, username FROM users WHERE id IN (%s)", placeholders(len(ids)))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	defer rows.Close()
	return scanUserInfos(rows)
}

func scanUserInfos(rows *sql.Rows) (map[string]wire.UserInfo, error) {
	userInfos := make(map[string]wire.UserInfo)
	for rows.Next() {
		var info wire.UserInfo
		if err := rows.Scan(&info.ID, &info.Username); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		userInfos[info.ID] = info
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	return userInfos, nil
}
