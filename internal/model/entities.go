package model

// Conversation is the local row for a chat. LastSyncedAt, PendingUploads and
// PendingDownloads are local-only sync bookkeeping and never leave the device.
type Conversation struct {
	ID                 string
	Participants       []string
	Kind               ConversationKind
	Title              string
	LastMessagePreview string
	LastMessageAt      int64 // unix ms, 0 = no message yet
	UnreadCounts       map[string]int
	Category           Category

	LastSyncedAt     int64
	PendingUploads   int
	PendingDownloads int
	CreatedAt        int64
	UpdatedAt        int64
}

// AIMetadata holds the enrichment fields attached to a message after analysis.
// A zero Category means the message has not been analyzed yet.
type AIMetadata struct {
	Category           Category
	Sentiment          Sentiment
	Priority           int // 1..5, 0 = unset
	CollaborationScore float64
	ExtractedInfo      map[string]string
	SuggestedReply     string
}

// Message is the local row for a single message. ID is generated client-side
// for fresh sends and is stable for the message's lifetime, as is Timestamp.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	MediaURL       string
	Timestamp      int64 // unix ms, immutable after creation
	Status         DeliveryStatus
	ReadBy         map[string]int64
	AI             AIMetadata

	SyncStatus    SyncStatus
	SyncDirection SyncDirection
	RetryCount    int
	LastSyncedAt  int64
}

// User mirrors the remote user directory entry. CreatorProfile feeds the
// AI gateway requests; the sync core never mutates it.
type User struct {
	ID               string
	DisplayName      string
	DisplayNameLower string
	Email            string
	PhotoURL         string
	IsOnline         bool
	LastSeen         int64
	Creator          *CreatorProfile
}

// CreatorProfile configures how replies are generated on the user's behalf.
type CreatorProfile struct {
	Persona         string
	Tone            string
	StyleGuidelines string
	VoiceSamples    []string
	Signature       string
	PreferredFormat string
	AutoRespond     bool
}
