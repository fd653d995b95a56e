package remote

import (
	"context"
	"sync"
	"time"

	"github.com/lucasreze/dmsync/internal/bus"
	"github.com/lucasreze/dmsync/internal/model"
	"github.com/lucasreze/dmsync/internal/store"
	"go.uber.org/zap"
)

// Listener reconciles remote change batches into the local store and emits
// bus events consumed by the enrichment coordinator and presentation layers.
// One subscription is active per key at a time: starting a key that is
// already listening replaces the prior subscription.
type Listener struct {
	remote      Store
	db          *store.DB
	bus         *bus.Bus
	logger      *zap.Logger
	currentUser string

	mu   sync.Mutex
	subs map[string]Subscription
}

// NewListener creates a listener bound to the current user's collections.
func NewListener(r Store, db *store.DB, b *bus.Bus, currentUser string, logger *zap.Logger) *Listener {
	return &Listener{
		remote:      r,
		db:          db,
		bus:         b,
		logger:      logger,
		currentUser: currentUser,
		subs:        make(map[string]Subscription),
	}
}

// ListenConversations starts (or restarts) the conversation-set subscription.
func (l *Listener) ListenConversations(ctx context.Context) error {
	sub, err := l.remote.SubscribeConversations(ctx, l.currentUser)
	if err != nil {
		return err
	}
	l.replace("conversations", sub)
	go l.run(sub, l.applyConversationBatch)
	return nil
}

// ListenMessages starts (or restarts) the per-conversation message
// subscription.
func (l *Listener) ListenMessages(ctx context.Context, conversationID string) error {
	sub, err := l.remote.SubscribeMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	l.replace("messages:"+conversationID, sub)
	go l.run(sub, func(batch Batch) { l.applyMessageBatch(conversationID, batch) })
	return nil
}

// ListenUsers starts (or restarts) the user directory subscription.
func (l *Listener) ListenUsers(ctx context.Context) error {
	sub, err := l.remote.SubscribeUsers(ctx)
	if err != nil {
		return err
	}
	l.replace("users", sub)
	go l.run(sub, l.applyUserBatch)
	return nil
}

// Stop closes every active subscription. The drain goroutines exit when their
// change channels close.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, sub := range l.subs {
		sub.Close()
		delete(l.subs, key)
	}
}

func (l *Listener) replace(key string, sub Subscription) {
	l.mu.Lock()
	if old, ok := l.subs[key]; ok {
		old.Close()
	}
	l.subs[key] = sub
	l.mu.Unlock()
}

func (l *Listener) run(sub Subscription, apply func(Batch)) {
	for batch := range sub.Changes() {
		apply(batch)
	}
}

// applyConversationBatch processes changes in delivery order. Undecodable
// items are skipped, never fatal.
func (l *Listener) applyConversationBatch(batch Batch) {
	now := time.Now().UnixMilli()
	var touched []string
	for _, ch := range batch {
		if ch.Kind == Removed {
			if err := l.db.DeleteConversation(ch.ID); err != nil {
				l.logger.Error("delete conversation", zap.Error(err), zap.String("conversation_id", ch.ID))
			}
			continue
		}
		if ch.Conversation == nil {
			continue
		}
		c, err := DecodeConversation(ch.Conversation)
		if err != nil {
			l.logger.Warn("skipping undecodable conversation", zap.Error(err))
			continue
		}
		_, err = l.db.UpsertConversation(c.ID,
			func() *model.Conversation { return &model.Conversation{} },
			func(row *model.Conversation) {
				row.Participants = c.Participants
				row.Kind = c.Kind
				row.Title = c.Title
				row.LastMessagePreview = c.LastMessagePreview
				row.LastMessageAt = c.LastMessageAt
				row.UnreadCounts = c.UnreadCounts
				row.Category = c.Category
				row.LastSyncedAt = now
			})
		if err != nil {
			l.logger.Error("upsert conversation", zap.Error(err), zap.String("conversation_id", c.ID))
			continue
		}
		touched = append(touched, c.ID)
	}
	l.bus.Publish(bus.Event{Kind: bus.ConversationUpdated, Timestamp: time.Now(), Payload: touched})
}

// applyMessageBatch processes a message change batch for one conversation.
func (l *Listener) applyMessageBatch(conversationID string, batch Batch) {
	now := time.Now().UnixMilli()
	for _, ch := range batch {
		if ch.Kind == Removed {
			if err := l.db.DeleteMessage(ch.ID); err != nil {
				l.logger.Error("delete message", zap.Error(err), zap.String("message_id", ch.ID))
			}
			continue
		}
		if ch.Message == nil {
			continue
		}
		m, err := DecodeMessage(ch.Message)
		if err != nil {
			l.logger.Warn("skipping undecodable message", zap.Error(err))
			continue
		}
		if m.Status == model.StatusUnrecognized {
			// Downloaded message with no parseable status: ours were sent,
			// everyone else's were at least delivered to us.
			if m.SenderID == l.currentUser {
				m.Status = model.StatusSent
			} else {
				m.Status = model.StatusDelivered
			}
		}

		_, err = l.db.UpsertMessage(m.ID,
			func() *model.Message {
				return &model.Message{
					Timestamp:     m.Timestamp,
					SyncStatus:    model.SyncSynced,
					SyncDirection: model.DirectionDownload,
				}
			},
			func(row *model.Message) {
				row.ConversationID = m.ConversationID
				row.SenderID = m.SenderID
				row.Content = m.Content
				row.MediaURL = m.MediaURL
				row.Status = m.Status
				row.ReadBy = m.ReadBy
				row.AI = m.AI
				// The send pipeline owns sync fields while an upload is
				// pending; otherwise the remote copy is authoritative.
				if row.SyncStatus != model.SyncPending {
					row.SyncStatus = model.SyncSynced
					row.LastSyncedAt = now
				}
			})
		if err != nil {
			l.logger.Error("upsert message", zap.Error(err), zap.String("message_id", m.ID))
			continue
		}

		msg := m
		_, err = l.db.UpsertConversation(conversationID,
			func() *model.Conversation {
				return &model.Conversation{Participants: []string{msg.SenderID}}
			},
			func(row *model.Conversation) {
				if msg.Timestamp >= row.LastMessageAt {
					row.LastMessageAt = msg.Timestamp
					row.LastMessagePreview = model.Preview(msg.Content)
				}
			})
		if err != nil {
			l.logger.Error("bump conversation preview", zap.Error(err), zap.String("conversation_id", conversationID))
		}

		l.bus.Publish(bus.Event{
			Kind:      bus.MessageUpserted,
			Timestamp: time.Now(),
			Payload:   bus.MessageRef{ConversationID: conversationID, MessageID: m.ID},
		})
	}
	l.bus.Publish(bus.Event{Kind: bus.ConversationUpdated, Timestamp: time.Now(), Payload: []string{conversationID}})
	l.bus.Publish(bus.Event{Kind: bus.MessagesUpdated, Timestamp: time.Now(), Payload: conversationID})
}

// applyUserBatch reconciles the user directory.
func (l *Listener) applyUserBatch(batch Batch) {
	for _, ch := range batch {
		if ch.Kind == Removed {
			if err := l.db.DeleteUser(ch.ID); err != nil {
				l.logger.Error("delete user", zap.Error(err), zap.String("user_id", ch.ID))
			}
			continue
		}
		if ch.User == nil {
			continue
		}
		u, err := DecodeUser(ch.User)
		if err != nil {
			l.logger.Warn("skipping undecodable user", zap.Error(err))
			continue
		}
		if err := l.db.UpsertUser(u); err != nil {
			l.logger.Error("upsert user", zap.Error(err), zap.String("user_id", u.ID))
		}
	}
}
