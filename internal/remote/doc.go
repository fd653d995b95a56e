package remote

import (
	"errors"
	"fmt"

	"github.com/lucasreze/dmsync/internal/model"
)

// Document shapes mirror the server collections field for field. These are
// compatibility-sensitive: renaming a JSON tag is a wire break.

// ConversationDoc is conversations/{id}.
type ConversationDoc struct {
	ID              string         `json:"id"`
	Participants    []string       `json:"participants"`
	Type            string         `json:"type"`
	Title           string         `json:"title,omitempty"`
	LastMessage     *MessageDoc    `json:"lastMessage,omitempty"`
	LastMessageTime int64          `json:"lastMessageTime,omitempty"`
	UnreadCount     map[string]int `json:"unreadCount,omitempty"`
	AICategory      string         `json:"aiCategory,omitempty"`
	CreatedAt       int64          `json:"createdAt,omitempty"`
	UpdatedAt       int64          `json:"updatedAt,omitempty"`
}

// MessageDoc is conversations/{id}/messages/{id}.
type MessageDoc struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversationId"`
	SenderID       string           `json:"senderId"`
	Content        string           `json:"content"`
	MediaURL       string           `json:"mediaURL,omitempty"`
	Timestamp      int64            `json:"timestamp"`
	Status         string           `json:"status,omitempty"`
	ReadBy         map[string]int64 `json:"readBy,omitempty"`
	AIMetadata     *AIMetadataDoc   `json:"aiMetadata,omitempty"`
}

// AIMetadataDoc is the aiMetadata sub-document of a message.
type AIMetadataDoc struct {
	Category           string            `json:"category,omitempty"`
	Sentiment          string            `json:"sentiment,omitempty"`
	ExtractedInfo      map[string]string `json:"extractedInfo,omitempty"`
	SuggestedResponse  string            `json:"suggestedResponse,omitempty"`
	CollaborationScore float64           `json:"collaborationScore,omitempty"`
	Priority           int               `json:"priority,omitempty"`
}

// UserDoc is users/{id}.
type UserDoc struct {
	ID                   string             `json:"id"`
	DisplayName          string             `json:"displayName"`
	DisplayNameLowercase string             `json:"displayName_lowercase,omitempty"`
	Email                string             `json:"email,omitempty"`
	PhotoURL             string             `json:"photoURL,omitempty"`
	IsOnline             bool               `json:"isOnline"`
	LastSeen             int64              `json:"lastSeen,omitempty"`
	CreatorProfile       *CreatorProfileDoc `json:"creatorProfile,omitempty"`
}

// CreatorProfileDoc is the creatorProfile sub-document of a user.
type CreatorProfileDoc struct {
	Persona         string   `json:"persona,omitempty"`
	Tone            string   `json:"tone,omitempty"`
	StyleGuidelines string   `json:"styleGuidelines,omitempty"`
	VoiceSamples    []string `json:"voiceSamples,omitempty"`
	Signature       string   `json:"signature,omitempty"`
	PreferredFormat string   `json:"preferredFormat,omitempty"`
	AutoRespond     bool     `json:"autoRespond,omitempty"`
}

var (
	errMissingID           = errors.New("document has no id")
	errMissingConversation = errors.New("message has no conversation id")
	errNoParticipants      = errors.New("conversation has no participants")
)

// DecodeConversation maps a conversation document onto the domain type.
// Unknown type strings degrade to one-on-one rather than failing the item.
func DecodeConversation(doc *ConversationDoc) (*model.Conversation, error) {
	if doc.ID == "" {
		return nil, errMissingID
	}
	if len(doc.Participants) == 0 {
		return nil, fmt.Errorf("conversation %q: %w", doc.ID, errNoParticipants)
	}
	kind := model.ParseConversationKind(doc.Type)
	if kind == model.KindUnrecognized {
		kind = model.KindOneOnOne
	}
	c := &model.Conversation{
		ID:            doc.ID,
		Participants:  doc.Participants,
		Kind:          kind,
		Title:         doc.Title,
		LastMessageAt: doc.LastMessageTime,
		UnreadCounts:  doc.UnreadCount,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
	if c.UnreadCounts == nil {
		c.UnreadCounts = map[string]int{}
	}
	if cat := model.ParseCategory(doc.AICategory); cat != model.CategoryUnrecognized {
		c.Category = cat
	}
	if doc.LastMessage != nil {
		c.LastMessagePreview = model.Preview(doc.LastMessage.Content)
		if c.LastMessageAt == 0 {
			c.LastMessageAt = doc.LastMessage.Timestamp
		}
	}
	return c, nil
}

// EncodeConversation maps a domain conversation onto the wire shape.
// Local-only sync fields are not part of the document.
func EncodeConversation(c *model.Conversation) *ConversationDoc {
	doc := &ConversationDoc{
		ID:              c.ID,
		Participants:    c.Participants,
		Type:            c.Kind.Wire(),
		Title:           c.Title,
		LastMessageTime: c.LastMessageAt,
		UnreadCount:     c.UnreadCounts,
		AICategory:      string(c.Category),
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	return doc
}

// DecodeMessage maps a message document onto the domain type. The delivery
// status may come back StatusUnrecognized; the listener decides the default
// based on sender identity.
func DecodeMessage(doc *MessageDoc) (*model.Message, error) {
	if doc.ID == "" {
		return nil, errMissingID
	}
	if doc.ConversationID == "" {
		return nil, fmt.Errorf("message %q: %w", doc.ID, errMissingConversation)
	}
	m := &model.Message{
		ID:             doc.ID,
		ConversationID: doc.ConversationID,
		SenderID:       doc.SenderID,
		Content:        doc.Content,
		MediaURL:       doc.MediaURL,
		Timestamp:      doc.Timestamp,
		Status:         model.ParseDeliveryStatus(doc.Status),
		ReadBy:         doc.ReadBy,
	}
	if m.ReadBy == nil {
		m.ReadBy = map[string]int64{}
	}
	if doc.AIMetadata != nil {
		md := doc.AIMetadata
		if cat := model.ParseCategory(md.Category); cat != model.CategoryUnrecognized {
			m.AI.Category = cat
		}
		if s := model.ParseSentiment(md.Sentiment); s != model.SentimentUnrecognized {
			m.AI.Sentiment = s
		}
		m.AI.Priority = md.Priority
		m.AI.CollaborationScore = md.CollaborationScore
		m.AI.ExtractedInfo = md.ExtractedInfo
		m.AI.SuggestedReply = md.SuggestedResponse
	}
	return m, nil
}

// EncodeMessage maps a domain message onto the wire shape.
func EncodeMessage(m *model.Message) *MessageDoc {
	doc := &MessageDoc{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		MediaURL:       m.MediaURL,
		Timestamp:      m.Timestamp,
		Status:         string(m.Status),
		ReadBy:         m.ReadBy,
	}
	if m.AI.Category != model.CategoryUnset || m.AI.SuggestedReply != "" {
		doc.AIMetadata = EncodeMetadata(m.AI)
	}
	return doc
}

// EncodeMetadata maps enrichment fields onto the aiMetadata sub-document.
func EncodeMetadata(md model.AIMetadata) *AIMetadataDoc {
	return &AIMetadataDoc{
		Category:           string(md.Category),
		Sentiment:          string(md.Sentiment),
		ExtractedInfo:      md.ExtractedInfo,
		SuggestedResponse:  md.SuggestedReply,
		CollaborationScore: md.CollaborationScore,
		Priority:           md.Priority,
	}
}

// DecodeUser maps a user document onto the domain type.
func DecodeUser(doc *UserDoc) (*model.User, error) {
	if doc.ID == "" {
		return nil, errMissingID
	}
	u := &model.User{
		ID:               doc.ID,
		DisplayName:      doc.DisplayName,
		DisplayNameLower: doc.DisplayNameLowercase,
		Email:            doc.Email,
		PhotoURL:         doc.PhotoURL,
		IsOnline:         doc.IsOnline,
		LastSeen:         doc.LastSeen,
	}
	if doc.CreatorProfile != nil {
		cp := doc.CreatorProfile
		u.Creator = &model.CreatorProfile{
			Persona:         cp.Persona,
			Tone:            cp.Tone,
			StyleGuidelines: cp.StyleGuidelines,
			VoiceSamples:    cp.VoiceSamples,
			Signature:       cp.Signature,
			PreferredFormat: cp.PreferredFormat,
			AutoRespond:     cp.AutoRespond,
		}
	}
	return u, nil
}

// EncodeUser maps a domain user onto the wire shape.
func EncodeUser(u *model.User) *UserDoc {
	doc := &UserDoc{
		ID:                   u.ID,
		DisplayName:          u.DisplayName,
		DisplayNameLowercase: u.DisplayNameLower,
		Email:                u.Email,
		PhotoURL:             u.PhotoURL,
		IsOnline:             u.IsOnline,
		LastSeen:             u.LastSeen,
	}
	if u.Creator != nil {
		doc.CreatorProfile = &CreatorProfileDoc{
			Persona:         u.Creator.Persona,
			Tone:            u.Creator.Tone,
			StyleGuidelines: u.Creator.StyleGuidelines,
			VoiceSamples:    u.Creator.VoiceSamples,
			Signature:       u.Creator.Signature,
			PreferredFormat: u.Creator.PreferredFormat,
			AutoRespond:     u.Creator.AutoRespond,
		}
	}
	return doc
}
