package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lucasreze/dmsync/internal/model"
)

const conversationCols = `id, participants, kind, title, last_message_preview,
	last_message_at, unread_counts, category, last_synced_at,
	pending_uploads, pending_downloads, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*model.Conversation, error) {
	var c model.Conversation
	var participants, unread string
	err := row.Scan(&c.ID, &participants, &c.Kind, &c.Title, &c.LastMessagePreview,
		&c.LastMessageAt, &unread, &c.Category, &c.LastSyncedAt,
		&c.PendingUploads, &c.PendingDownloads, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Participants = decodeStringSlice(participants)
	c.UnreadCounts = decodeIntMap(unread)
	return &c, nil
}

func getConversation(q dbtx, id string) (*model.Conversation, error) {
	c, err := scanConversation(q.QueryRow(
		`SELECT `+conversationCols+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %q: %w", id, err)
	}
	return c, nil
}

func writeConversation(e dbtx, c *model.Conversation) error {
	_, err := e.Exec(`
		INSERT OR REPLACE INTO conversations
		(`+conversationCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, encodeJSON(c.Participants), c.Kind, c.Title, c.LastMessagePreview,
		c.LastMessageAt, encodeJSON(c.UnreadCounts), c.Category, c.LastSyncedAt,
		c.PendingUploads, c.PendingDownloads, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("write conversation %q: %w", c.ID, err)
	}
	return nil
}

// UpsertConversation applies build-or-mutate semantics: if a row with the id
// exists, mutate is applied to it; otherwise a row is built via build and then
// mutated. Remote-listener events and local optimistic writes race on the same
// id, so insert-new and partial-update collapse into this one atomic call.
func (db *DB) UpsertConversation(id string, build func() *model.Conversation, mutate func(*model.Conversation)) (*model.Conversation, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	c, err := getConversation(tx, id)
	if errors.Is(err, ErrNotFound) {
		if build != nil {
			c = build()
		} else {
			c = &model.Conversation{Kind: model.KindOneOnOne}
		}
		c.CreatedAt = now
	} else if err != nil {
		return nil, err
	}
	c.ID = id
	if mutate != nil {
		mutate(c)
	}
	c.UpdatedAt = now

	if err := writeConversation(tx, c); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// GetConversation returns a conversation by id or ErrNotFound.
func (db *DB) GetConversation(id string) (*model.Conversation, error) {
	return getConversation(db, id)
}

// FetchConversations returns conversations ordered by last message timestamp
// descending (conversations without messages last), title ascending as
// tiebreak.
func (db *DB) FetchConversations(limit int) ([]model.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+conversationCols+`
		FROM conversations
		ORDER BY CASE WHEN last_message_at = 0 THEN 1 ELSE 0 END,
			last_message_at DESC, title ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetConversationCategory is a field-level setter for the AI-derived category.
func (db *DB) SetConversationCategory(id string, cat model.Category) error {
	res, err := db.Exec(`UPDATE conversations SET category = ?, updated_at = ? WHERE id = ?`,
		cat, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("set conversation category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes a conversation and all of its messages.
func (db *DB) DeleteConversation(id string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return tx.Commit()
}

// ConversationIDs returns every conversation id known to the store. The
// enrichment coordinator uses it for the startup sweep.
func (db *DB) ConversationIDs() ([]string, error) {
	rows, err := db.Query(`SELECT id FROM conversations ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("conversation ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ConversationCount returns the total number of conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}
