package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tbalsam/ripple/internal/wire"
)

// Cookie is a credential record. Anonymous cookies have no user id.
type Cookie struct {
	ID                     string
	UserID                 string
	Anonymous              bool
	Secret                 string
	Platform               string
	PlatformDetails        *wire.PlatformDetails
	SignedIdentityKeysBlob *wire.SignedIdentityKeysBlob
	CreatedAt              int64
	LastUsedAt             int64
}

// GetCookie fetches a cookie by id.
func (q *Queries) GetCookie(ctx context.Context, id string) (Cookie, error) {
	var c Cookie
	var userID, details, blob sql.NullString
	var anonymous int
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, anonymous, secret, platform, platform_details,
		       signed_identity_keys_blob, created_at, last_used_at
		FROM cookies WHERE id = ?`, id,
	).Scan(&c.ID, &userID, &anonymous, &c.Secret, &c.Platform, &details,
		&blob, &c.CreatedAt, &c.LastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Cookie{}, ErrNotFound
	}
	if err != nil {
		return Cookie{}, fmt.Errorf("get cookie: %w", err)
	}
	c.UserID = userID.String
	c.Anonymous = anonymous != 0
	if details.Valid && details.String != "" {
		c.PlatformDetails = &wire.PlatformDetails{}
		if err := json.Unmarshal([]byte(details.String), c.PlatformDetails); err != nil {
			return Cookie{}, fmt.Errorf("decode cookie platform details: %w", err)
		}
	}
	if blob.Valid && blob.String != "" {
		c.SignedIdentityKeysBlob = &wire.SignedIdentityKeysBlob{}
		if err := json.Unmarshal([]byte(blob.String), c.SignedIdentityKeysBlob); err != nil {
			return Cookie{}, fmt.Errorf("decode signed identity keys blob: %w", err)
		}
	}
	return c, nil
}

// CreateCookieParams are the fields of a new cookie row.
type CreateCookieParams struct {
	ID        string
	UserID    string
	Anonymous bool
	Secret    string
	Platform  string
	CreatedAt int64
}

// CreateCookie inserts a cookie.
func (q *Queries) CreateCookie(ctx context.Context, arg CreateCookieParams) error {
	userID := sql.NullString{String: arg.UserID, Valid: arg.UserID != ""}
	anonymous := 0
	if arg.Anonymous {
		anonymous = 1
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO cookies (id, user_id, anonymous, secret, platform, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, userID, anonymous, arg.Secret, arg.Platform, arg.CreatedAt, arg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create cookie: %w", err)
	}
	return nil
}

// DeleteCookie revokes a credential. Sessions referencing it are removed by
// the foreign key cascade.
func (q *Queries) DeleteCookie(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM cookies WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete cookie: %w", err)
	}
	return nil
}

// ExtendCookieLifespan bumps the cookie's last-used timestamp.
func (q *Queries) ExtendCookieLifespan(ctx context.Context, id string, now int64) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE cookies SET last_used_at = ? WHERE id = ?", now, id)
	if err != nil {
		return fmt.Errorf("extend cookie lifespan: %w", err)
	}
	return nil
}

// SetCookiePlatform records the platform reported in a PLATFORM response.
func (q *Queries) SetCookiePlatform(ctx context.Context, id, platform string) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE cookies SET platform = ? WHERE id = ?", platform, id)
	if err != nil {
		return fmt.Errorf("set cookie platform: %w", err)
	}
	return nil
}

// SetCookiePlatformDetails records the build info reported in a
// PLATFORM_DETAILS response.
func (q *Queries) SetCookiePlatformDetails(ctx context.Context, id string, details wire.PlatformDetails) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode platform details: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		"UPDATE cookies SET platform = ?, platform_details = ? WHERE id = ?",
		details.Platform, string(raw), id)
	if err != nil {
		return fmt.Errorf("set cookie platform details: %w", err)
	}
	return nil
}

// SetCookieSignedIdentityKeysBlob stores a verified identity-key blob.
func (q *Queries) SetCookieSignedIdentityKeysBlob(ctx context.Context, id string, blob wire.SignedIdentityKeysBlob) error {
	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("encode signed identity keys blob: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		"UPDATE cookies SET signed_identity_keys_blob = ? WHERE id = ?", string(raw), id)
	if err != nil {
		return fmt.Errorf("set signed identity keys blob: %w", err)
	}
	return nil
}
