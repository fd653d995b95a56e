package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lucasreze/dmsync/internal/model"
)

const messageCols = `id, conversation_id, sender_id, content, media_url, timestamp,
	status, read_by, ai_category, ai_sentiment, ai_priority, ai_collab_score,
	ai_extracted, ai_suggested_reply, sync_status, sync_direction, retry_count,
	last_synced_at`

func scanMessage(row interface{ Scan(...any) error }) (*model.Message, error) {
	var m model.Message
	var readBy, extracted string
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.MediaURL,
		&m.Timestamp, &m.Status, &readBy, &m.AI.Category, &m.AI.Sentiment,
		&m.AI.Priority, &m.AI.CollaborationScore, &extracted, &m.AI.SuggestedReply,
		&m.SyncStatus, &m.SyncDirection, &m.RetryCount, &m.LastSyncedAt)
	if err != nil {
		return nil, err
	}
	m.ReadBy = decodeInt64Map(readBy)
	m.AI.ExtractedInfo = decodeStringMap(extracted)
	return &m, nil
}

func getMessage(q dbtx, id string) (*model.Message, error) {
	m, err := scanMessage(q.QueryRow(
		`SELECT `+messageCols+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %q: %w", id, err)
	}
	return m, nil
}

func writeMessage(e dbtx, m *model.Message) error {
	_, err := e.Exec(`
		INSERT OR REPLACE INTO messages
		(`+messageCols+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.MediaURL, m.Timestamp,
		m.Status, encodeJSON(m.ReadBy), m.AI.Category, m.AI.Sentiment,
		m.AI.Priority, m.AI.CollaborationScore, encodeJSON(m.AI.ExtractedInfo),
		m.AI.SuggestedReply, m.SyncStatus, m.SyncDirection, m.RetryCount,
		m.LastSyncedAt, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write message %q: %w", m.ID, err)
	}
	return nil
}

// UpsertMessage applies build-or-mutate semantics on the message id, same
// contract as UpsertConversation. Timestamp is treated as immutable: once a
// row exists its stored timestamp wins over whatever the mutator sets.
func (db *DB) UpsertMessage(id string, build func() *model.Message, mutate func(*model.Message)) (*model.Message, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	m, err := getMessage(tx, id)
	created := false
	if errors.Is(err, ErrNotFound) {
		created = true
		if build != nil {
			m = build()
		} else {
			m = &model.Message{Status: model.StatusSent, SyncStatus: model.SyncSynced}
		}
	} else if err != nil {
		return nil, err
	}
	m.ID = id
	ts := m.Timestamp
	if mutate != nil {
		mutate(m)
	}
	if !created {
		m.Timestamp = ts
	}

	if err := writeMessage(tx, m); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

// GetMessage returns a message by id or ErrNotFound.
func (db *DB) GetMessage(id string) (*model.Message, error) {
	return getMessage(db, id)
}

// FetchMessages returns messages for a conversation ordered by timestamp
// ascending.
func (db *DB) FetchMessages(conversationID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT `+messageCols+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// UnanalyzedMessages returns the enrichment work for a conversation: messages
// from other senders that have no category yet and non-blank content, in
// timestamp order.
func (db *DB) UnanalyzedMessages(conversationID, currentUserID string) ([]model.Message, error) {
	rows, err := db.Query(`
		SELECT `+messageCols+`
		FROM messages
		WHERE conversation_id = ? AND sender_id != ?
			AND ai_category = '' AND TRIM(content) != ''
		ORDER BY timestamp ASC`, conversationID, currentUserID)
	if err != nil {
		return nil, fmt.Errorf("unanalyzed messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// UpdateMessageStatus is a field-level setter for delivery status.
func (db *DB) UpdateMessageStatus(id string, status model.DeliveryStatus) error {
	res, err := db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMessageSyncStatus sets the sync fields and keeps the owning
// conversation's pending upload/download counters in step: entering pending
// increments, leaving pending to a terminal state decrements (zero-floored).
func (db *DB) UpdateMessageSyncStatus(id string, status model.SyncStatus, direction model.SyncDirection, syncedAt int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	old, err := getMessage(tx, id)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE messages SET sync_status = ?, sync_direction = ?, last_synced_at = ?
		WHERE id = ?`, status, direction, syncedAt, id); err != nil {
		return fmt.Errorf("update message sync status: %w", err)
	}

	col := pendingCounterCol(direction)
	oldCol := pendingCounterCol(old.SyncDirection)
	wasPending := old.SyncStatus == model.SyncPending
	terminal := status == model.SyncSynced || status == model.SyncFailed

	if status == model.SyncPending && !wasPending {
		if _, err := tx.Exec(`
			UPDATE conversations SET `+col+` = `+col+` + 1 WHERE id = ?`,
			old.ConversationID); err != nil {
			return fmt.Errorf("bump pending counter: %w", err)
		}
	} else if wasPending && terminal {
		if _, err := tx.Exec(`
			UPDATE conversations SET `+oldCol+` = MAX(`+oldCol+` - 1, 0) WHERE id = ?`,
			old.ConversationID); err != nil {
			return fmt.Errorf("drop pending counter: %w", err)
		}
	}

	return tx.Commit()
}

func pendingCounterCol(d model.SyncDirection) string {
	if d == model.DirectionDownload {
		return "pending_downloads"
	}
	return "pending_uploads"
}

// BumpMessageRetry increments the retry attempt counter.
func (db *DB) BumpMessageRetry(id string) error {
	res, err := db.Exec(`UPDATE messages SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("bump retry count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMessageAIMetadata writes the enrichment fields for a message.
func (db *DB) SetMessageAIMetadata(id string, md model.AIMetadata) error {
	res, err := db.Exec(`
		UPDATE messages SET ai_category = ?, ai_sentiment = ?, ai_priority = ?,
			ai_collab_score = ?, ai_extracted = ?, ai_suggested_reply = ?
		WHERE id = ?`,
		md.Category, md.Sentiment, md.Priority, md.CollaborationScore,
		encodeJSON(md.ExtractedInfo), md.SuggestedReply, id)
	if err != nil {
		return fmt.Errorf("set message ai metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMessage removes a message and recomputes the owning conversation's
// preview from the most recent remaining message.
func (db *DB) DeleteMessage(id string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	old, err := getMessage(tx, id)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	var preview string
	var ts int64
	err = tx.QueryRow(`
		SELECT content, timestamp FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp DESC LIMIT 1`, old.ConversationID).Scan(&preview, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		preview, ts = "", 0
	} else if err != nil {
		return fmt.Errorf("recompute preview: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE conversations SET last_message_preview = ?, last_message_at = ?, updated_at = ?
		WHERE id = ?`,
		model.Preview(preview), ts, time.Now().UnixMilli(), old.ConversationID); err != nil {
		return fmt.Errorf("update preview: %w", err)
	}
	return tx.Commit()
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
