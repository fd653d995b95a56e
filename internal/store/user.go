package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lucasreze/dmsync/internal/model"
)

// UpsertUser inserts or updates a user directory entry. The lowercase name
// index column is derived here so callers never get it out of step.
func (db *DB) UpsertUser(u *model.User) error {
	creator := ""
	if u.Creator != nil {
		b, err := json.Marshal(u.Creator)
		if err != nil {
			return fmt.Errorf("encode creator profile: %w", err)
		}
		creator = string(b)
	}
	_, err := db.Exec(`
		INSERT INTO users (id, display_name, display_name_lc, email, photo_url, is_online, last_seen, creator_profile)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			display_name_lc = excluded.display_name_lc,
			email = excluded.email,
			photo_url = excluded.photo_url,
			is_online = excluded.is_online,
			last_seen = excluded.last_seen,
			creator_profile = excluded.creator_profile`,
		u.ID, u.DisplayName, strings.ToLower(u.DisplayName), u.Email, u.PhotoURL,
		u.IsOnline, u.LastSeen, creator)
	if err != nil {
		return fmt.Errorf("upsert user %q: %w", u.ID, err)
	}
	return nil
}

// GetUser returns a user by id or ErrNotFound.
func (db *DB) GetUser(id string) (*model.User, error) {
	var u model.User
	var creator string
	err := db.QueryRow(`
		SELECT id, display_name, display_name_lc, email, photo_url, is_online, last_seen, creator_profile
		FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.DisplayName, &u.DisplayNameLower, &u.Email, &u.PhotoURL,
			&u.IsOnline, &u.LastSeen, &creator)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", id, err)
	}
	if creator != "" {
		var cp model.CreatorProfile
		if err := json.Unmarshal([]byte(creator), &cp); err == nil {
			u.Creator = &cp
		}
	}
	return &u, nil
}

// DeleteUser removes a user directory entry.
func (db *DB) DeleteUser(id string) error {
	_, err := db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user %q: %w", id, err)
	}
	return nil
}

// TouchPresence updates the online flag and last-seen timestamp.
func (db *DB) TouchPresence(id string, online bool) error {
	res, err := db.Exec(`UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?`,
		online, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("touch presence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
