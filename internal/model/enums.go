package model

// ConversationKind distinguishes direct chats from group chats.
type ConversationKind string

const (
	KindOneOnOne ConversationKind = "one_on_one"
	KindGroup    ConversationKind = "group"
	// KindUnrecognized is returned for remote values this build does not know.
	KindUnrecognized ConversationKind = "unrecognized"
)

// ParseConversationKind maps a remote wire value onto a local kind.
// Unknown values map to KindUnrecognized; callers decide whether that
// means "skip" or "default".
func ParseConversationKind(s string) ConversationKind {
	switch s {
	case "oneOnOne":
		return KindOneOnOne
	case "group":
		return KindGroup
	default:
		return KindUnrecognized
	}
}

// Wire returns the remote wire value for the kind.
func (k ConversationKind) Wire() string {
	if k == KindGroup {
		return "group"
	}
	return "oneOnOne"
}

// DeliveryStatus is the user-visible message lifecycle.
type DeliveryStatus string

const (
	StatusSending      DeliveryStatus = "sending"
	StatusSent         DeliveryStatus = "sent"
	StatusDelivered    DeliveryStatus = "delivered"
	StatusRead         DeliveryStatus = "read"
	StatusFailed       DeliveryStatus = "failed"
	StatusUnrecognized DeliveryStatus = "unrecognized"
)

// ParseDeliveryStatus maps a remote status string onto a local status.
func ParseDeliveryStatus(s string) DeliveryStatus {
	switch DeliveryStatus(s) {
	case StatusSending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return DeliveryStatus(s)
	default:
		return StatusUnrecognized
	}
}

// SyncStatus tracks a message's position in the local/remote reconciliation
// lifecycle. Distinct from DeliveryStatus.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// SyncDirection records which side initiated the pending transfer.
type SyncDirection string

const (
	DirectionUpload   SyncDirection = "upload"
	DirectionDownload SyncDirection = "download"
)

// Category is the AI-derived conversation/message classification.
// The zero value means "not yet analyzed".
type Category string

const (
	CategoryUnset        Category = ""
	CategoryFan          Category = "fan"
	CategoryBusiness     Category = "business"
	CategorySpam         Category = "spam"
	CategoryUrgent       Category = "urgent"
	CategoryGeneral      Category = "general"
	CategoryUnrecognized Category = "unrecognized"
)

// ParseCategory maps an analysis category string onto a local category.
// Unknown values map to CategoryUnrecognized and are never persisted;
// the enrichment coordinator skips them so the message stays unanalyzed.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategoryFan, CategoryBusiness, CategorySpam, CategoryUrgent, CategoryGeneral:
		return Category(s)
	default:
		return CategoryUnrecognized
	}
}

// Sentiment is the AI-derived sentiment label.
type Sentiment string

const (
	SentimentUnset        Sentiment = ""
	SentimentPositive     Sentiment = "positive"
	SentimentNeutral      Sentiment = "neutral"
	SentimentNegative     Sentiment = "negative"
	SentimentUnrecognized Sentiment = "unrecognized"
)

// ParseSentiment maps a sentiment string onto a local sentiment.
func ParseSentiment(s string) Sentiment {
	switch Sentiment(s) {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return Sentiment(s)
	default:
		return SentimentUnrecognized
	}
}
