// Package remote defines the capability boundary to the server-side document
// store. The sync core never talks to a concrete backend directly; it is
// handed a Store implementation, so tests and local development substitute the
// in-memory one.
package remote

import "context"

// ChangeKind classifies an item within a change batch.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one changed item. Exactly one of the document pointers is set for
// Added/Modified; Removed carries only the document id.
type Change struct {
	Kind         ChangeKind
	ID           string
	Conversation *ConversationDoc
	Message      *MessageDoc
	User         *UserDoc
}

// Batch is an ordered change batch as delivered by the remote transport.
// The transport's per-document ordering is trusted and not re-verified.
type Batch []Change

// Subscription is a live change feed for one collection key. Close tears the
// feed down; Changes is closed afterwards.
type Subscription interface {
	Changes() <-chan Batch
	Close()
}

// Store is the remote document store contract consumed by the sync core.
type Store interface {
	// CommitMessage creates the message document and updates the owning
	// conversation's last-message snapshot as one logical step.
	CommitMessage(ctx context.Context, msg *MessageDoc) error
	// SetMessageMetadata writes AI metadata onto a message document.
	SetMessageMetadata(ctx context.Context, conversationID, messageID string, md *AIMetadataDoc) error
	// SetConversationCategory writes the AI category onto a conversation.
	SetConversationCategory(ctx context.Context, conversationID, category string) error

	SubscribeConversations(ctx context.Context, userID string) (Subscription, error)
	SubscribeMessages(ctx context.Context, conversationID string) (Subscription, error)
	SubscribeUsers(ctx context.Context) (Subscription, error)
}
