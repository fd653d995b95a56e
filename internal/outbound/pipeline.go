// Package outbound implements the message send pipeline: optimistic local
// write, remote commit, terminal status transition, caller-driven retry.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lucasreze/dmsync/internal/bus"
	"github.com/lucasreze/dmsync/internal/model"
	"github.com/lucasreze/dmsync/internal/remote"
	"github.com/lucasreze/dmsync/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrEmptyMessage rejects blank text sends before any write happens.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrMissingCurrentUser rejects sends without a sender identity.
	ErrMissingCurrentUser = errors.New("no current user")
	// ErrRemoteFailure wraps remote write failures. The local row is already
	// in its failed state when this is returned; retry re-enters the
	// protocol at the remote commit.
	ErrRemoteFailure = errors.New("remote write failed")
)

// Pipeline accepts user-authored messages and moves each one through
// sending/pending to a terminal sent/synced or failed/failed pair. A
// user-visible message never lacks a status.
type Pipeline struct {
	db     *store.DB
	remote remote.Store
	bus    *bus.Bus
	logger *zap.Logger
}

// NewPipeline creates a send pipeline.
func NewPipeline(db *store.DB, r remote.Store, b *bus.Bus, logger *zap.Logger) *Pipeline {
	return &Pipeline{db: db, remote: r, bus: b, logger: logger}
}

// SendText sends a text message. Empty or whitespace-only content is rejected
// with ErrEmptyMessage before any write occurs.
func (p *Pipeline) SendText(ctx context.Context, conversationID, senderID, content string) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	if senderID == "" {
		return nil, ErrMissingCurrentUser
	}
	msg := p.newOutgoing(conversationID, senderID, content, "")
	if err := p.insertOptimistic(msg); err != nil {
		return nil, err
	}
	return p.commit(ctx, msg)
}

// SendMedia sends a message carrying an attachment. Content may be empty; the
// placeholder text stands in for the preview.
func (p *Pipeline) SendMedia(ctx context.Context, conversationID, senderID, mediaURL, placeholder string) (*model.Message, error) {
	if mediaURL == "" {
		return nil, ErrEmptyMessage
	}
	if senderID == "" {
		return nil, ErrMissingCurrentUser
	}
	msg := p.newOutgoing(conversationID, senderID, placeholder, mediaURL)
	if err := p.insertOptimistic(msg); err != nil {
		return nil, err
	}
	return p.commit(ctx, msg)
}

// Retry re-runs the remote commit for an existing failed message. The local
// row is not re-inserted; only its status and sync fields are reset.
func (p *Pipeline) Retry(ctx context.Context, messageID string) (*model.Message, error) {
	msg, err := p.db.GetMessage(messageID)
	if err != nil {
		return nil, err
	}
	if err := p.db.UpdateMessageStatus(msg.ID, model.StatusSending); err != nil {
		return nil, err
	}
	if err := p.db.UpdateMessageSyncStatus(msg.ID, model.SyncPending, model.DirectionUpload, 0); err != nil {
		return nil, err
	}
	if err := p.db.BumpMessageRetry(msg.ID); err != nil {
		return nil, err
	}
	msg.Status = model.StatusSending
	msg.SyncStatus = model.SyncPending
	msg.SyncDirection = model.DirectionUpload
	return p.commit(ctx, msg)
}

func (p *Pipeline) newOutgoing(conversationID, senderID, content, mediaURL string) *model.Message {
	return &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		MediaURL:       mediaURL,
		Timestamp:      time.Now().UnixMilli(),
		Status:         model.StatusSending,
		ReadBy:         map[string]int64{},
		SyncDirection:  model.DirectionUpload,
	}
}

// insertOptimistic writes the message locally so the UI shows it immediately,
// and bumps the owning conversation's preview. The sync-status setter runs
// last so the pending-upload counter is adjusted exactly once.
func (p *Pipeline) insertOptimistic(msg *model.Message) error {
	built := *msg
	if _, err := p.db.UpsertMessage(msg.ID,
		func() *model.Message { return &built },
		nil); err != nil {
		return err
	}
	if err := p.db.UpdateMessageSyncStatus(msg.ID, model.SyncPending, model.DirectionUpload, 0); err != nil {
		return err
	}
	msg.SyncStatus = model.SyncPending

	sender := msg.SenderID
	if _, err := p.db.UpsertConversation(msg.ConversationID,
		func() *model.Conversation {
			return &model.Conversation{Participants: []string{sender}}
		},
		func(row *model.Conversation) {
			if msg.Timestamp >= row.LastMessageAt {
				row.LastMessageAt = msg.Timestamp
				row.LastMessagePreview = model.Preview(msg.Content)
			}
		}); err != nil {
		return err
	}

	p.bus.Publish(bus.Event{
		Kind:      bus.MessageUpserted,
		Timestamp: time.Now(),
		Payload:   bus.MessageRef{ConversationID: msg.ConversationID, MessageID: msg.ID},
	})
	return nil
}

// commit attempts the remote write and records the terminal outcome locally.
func (p *Pipeline) commit(ctx context.Context, msg *model.Message) (*model.Message, error) {
	doc := remote.EncodeMessage(msg)
	doc.Status = string(model.StatusSent)

	err := p.remote.CommitMessage(ctx, doc)
	now := time.Now().UnixMilli()
	if err != nil {
		p.logger.Error("remote commit failed",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.String("conversation_id", msg.ConversationID))
		if serr := p.db.UpdateMessageStatus(msg.ID, model.StatusFailed); serr != nil {
			p.logger.Error("mark message failed", zap.Error(serr), zap.String("message_id", msg.ID))
		}
		if serr := p.db.UpdateMessageSyncStatus(msg.ID, model.SyncFailed, model.DirectionUpload, now); serr != nil {
			p.logger.Error("mark sync failed", zap.Error(serr), zap.String("message_id", msg.ID))
		}
		p.bus.Publish(bus.Event{
			Kind:      bus.SendFailed,
			Timestamp: time.Now(),
			Payload:   bus.MessageRef{ConversationID: msg.ConversationID, MessageID: msg.ID},
		})
		return nil, fmt.Errorf("%w: %v", ErrRemoteFailure, err)
	}

	if serr := p.db.UpdateMessageStatus(msg.ID, model.StatusSent); serr != nil {
		p.logger.Error("mark message sent", zap.Error(serr), zap.String("message_id", msg.ID))
	}
	if serr := p.db.UpdateMessageSyncStatus(msg.ID, model.SyncSynced, model.DirectionUpload, now); serr != nil {
		p.logger.Error("mark sync synced", zap.Error(serr), zap.String("message_id", msg.ID))
	}

	p.bus.Publish(bus.Event{
		Kind:      bus.SendAck,
		Timestamp: time.Now(),
		Payload:   bus.MessageRef{ConversationID: msg.ConversationID, MessageID: msg.ID},
	})
	return p.db.GetMessage(msg.ID)
}
