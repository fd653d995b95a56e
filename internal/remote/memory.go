package remote

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// Memory is an in-memory Store. Tests script it directly and local
// development runs against it when no backend is configured. Subscriptions
// deliver the current collection contents as an initial added batch, then one
// batch per mutation, in mutation order.
type Memory struct {
	mu            sync.Mutex
	conversations map[string]*ConversationDoc
	messages      map[string]map[string]*MessageDoc
	users         map[string]*UserDoc

	subs      map[int]*memSub
	nextSubID int

	commitErr error
}

type memSub struct {
	kind   string // "conversations", "messages", "users"
	filter string // conversation id for message subs
	ch     chan Batch
	closed bool
	owner  *Memory
	id     int
}

func (s *memSub) Changes() <-chan Batch { return s.ch }

func (s *memSub) Close() {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.owner.subs, s.id)
	close(s.ch)
}

// NewMemory creates an empty in-memory remote store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*ConversationDoc),
		messages:      make(map[string]map[string]*MessageDoc),
		users:         make(map[string]*UserDoc),
		subs:          make(map[int]*memSub),
	}
}

// SetCommitErr makes subsequent CommitMessage calls fail with err until
// cleared with nil. Used to script remote-write failures.
func (m *Memory) SetCommitErr(err error) {
	m.mu.Lock()
	m.commitErr = err
	m.mu.Unlock()
}

func (m *Memory) subscribe(kind, filter string, initial Batch) Subscription {
	sub := &memSub{
		kind:   kind,
		filter: filter,
		ch:     make(chan Batch, 64),
		owner:  m,
		id:     m.nextSubID,
	}
	m.nextSubID++
	m.subs[sub.id] = sub
	if len(initial) > 0 {
		sub.ch <- initial
	}
	return sub
}

func (m *Memory) notify(kind, filter string, batch Batch) {
	for _, sub := range m.subs {
		if sub.kind != kind {
			continue
		}
		if sub.kind == "messages" && sub.filter != filter {
			continue
		}
		select {
		case sub.ch <- batch:
		default:
		}
	}
}

// SubscribeConversations implements Store. The userID filter mirrors the real
// backend's participant query.
func (m *Memory) SubscribeConversations(_ context.Context, userID string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var initial Batch
	for _, doc := range m.conversations {
		if userID == "" || slices.Contains(doc.Participants, userID) {
			initial = append(initial, Change{Kind: Added, ID: doc.ID, Conversation: doc})
		}
	}
	return m.subscribe("conversations", "", initial), nil
}

// SubscribeMessages implements Store.
func (m *Memory) SubscribeMessages(_ context.Context, conversationID string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var initial Batch
	for _, doc := range m.messages[conversationID] {
		initial = append(initial, Change{Kind: Added, ID: doc.ID, Message: doc})
	}
	return m.subscribe("messages", conversationID, initial), nil
}

// SubscribeUsers implements Store.
func (m *Memory) SubscribeUsers(_ context.Context) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var initial Batch
	for _, doc := range m.users {
		initial = append(initial, Change{Kind: Added, ID: doc.ID, User: doc})
	}
	return m.subscribe("users", "", initial), nil
}

// CommitMessage implements Store: the message write and the conversation
// last-message update land together or not at all.
func (m *Memory) CommitMessage(_ context.Context, msg *MessageDoc) error {
	if msg.ID == "" || msg.ConversationID == "" {
		return errors.New("commit message: incomplete document")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}

	kind := Added
	if byConv, ok := m.messages[msg.ConversationID]; ok {
		if _, exists := byConv[msg.ID]; exists {
			kind = Modified
		}
	} else {
		m.messages[msg.ConversationID] = make(map[string]*MessageDoc)
	}
	stored := *msg
	m.messages[msg.ConversationID][msg.ID] = &stored

	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		conv = &ConversationDoc{
			ID:           msg.ConversationID,
			Participants: []string{msg.SenderID},
			Type:         "oneOnOne",
		}
		m.conversations[msg.ConversationID] = conv
	}
	conv.LastMessage = &stored
	conv.LastMessageTime = stored.Timestamp

	m.notify("messages", msg.ConversationID, Batch{{Kind: kind, ID: msg.ID, Message: &stored}})
	m.notify("conversations", "", Batch{{Kind: Modified, ID: conv.ID, Conversation: conv}})
	return nil
}

// SetMessageMetadata implements Store.
func (m *Memory) SetMessageMetadata(_ context.Context, conversationID, messageID string, md *AIMetadataDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.messages[conversationID][messageID]
	if !ok {
		return errors.New("set message metadata: no such message")
	}
	doc.AIMetadata = md
	m.notify("messages", conversationID, Batch{{Kind: Modified, ID: messageID, Message: doc}})
	return nil
}

// SetConversationCategory implements Store.
func (m *Memory) SetConversationCategory(_ context.Context, conversationID, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.conversations[conversationID]
	if !ok {
		return errors.New("set conversation category: no such conversation")
	}
	doc.AICategory = category
	m.notify("conversations", "", Batch{{Kind: Modified, ID: conversationID, Conversation: doc}})
	return nil
}

// PutConversation stores a conversation document and notifies subscribers.
// This is the test/dev hook for simulating server-side writes.
func (m *Memory) PutConversation(doc *ConversationDoc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kind := Added
	if _, exists := m.conversations[doc.ID]; exists {
		kind = Modified
	}
	stored := *doc
	m.conversations[doc.ID] = &stored
	m.notify("conversations", "", Batch{{Kind: kind, ID: doc.ID, Conversation: &stored}})
}

// RemoveConversation deletes a conversation document and notifies subscribers.
func (m *Memory) RemoveConversation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, id)
	delete(m.messages, id)
	m.notify("conversations", "", Batch{{Kind: Removed, ID: id}})
}

// PutMessage stores a message document and notifies subscribers.
func (m *Memory) PutMessage(doc *MessageDoc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kind := Added
	if byConv, ok := m.messages[doc.ConversationID]; ok {
		if _, exists := byConv[doc.ID]; exists {
			kind = Modified
		}
	} else {
		m.messages[doc.ConversationID] = make(map[string]*MessageDoc)
	}
	stored := *doc
	m.messages[doc.ConversationID][doc.ID] = &stored
	m.notify("messages", doc.ConversationID, Batch{{Kind: kind, ID: doc.ID, Message: &stored}})
}

// PushMessageBatch notifies message subscribers with one multi-item batch,
// storing every document first. Lets tests exercise in-batch ordering.
func (m *Memory) PushMessageBatch(conversationID string, docs []*MessageDoc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[conversationID]; !ok {
		m.messages[conversationID] = make(map[string]*MessageDoc)
	}
	var batch Batch
	for _, doc := range docs {
		kind := Added
		if _, exists := m.messages[conversationID][doc.ID]; exists {
			kind = Modified
		}
		stored := *doc
		m.messages[conversationID][doc.ID] = &stored
		batch = append(batch, Change{Kind: kind, ID: doc.ID, Message: &stored})
	}
	m.notify("messages", conversationID, batch)
}

// RemoveMessage deletes a message document and notifies subscribers.
func (m *Memory) RemoveMessage(conversationID, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages[conversationID], id)
	m.notify("messages", conversationID, Batch{{Kind: Removed, ID: id}})
}

// PutUser stores a user document and notifies subscribers.
func (m *Memory) PutUser(doc *UserDoc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kind := Added
	if _, exists := m.users[doc.ID]; exists {
		kind = Modified
	}
	stored := *doc
	m.users[doc.ID] = &stored
	m.notify("users", "", Batch{{Kind: kind, ID: doc.ID, User: &stored}})
}

// Message returns the stored message document, or nil.
func (m *Memory) Message(conversationID, id string) *MessageDoc {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.messages[conversationID][id]
	if !ok {
		return nil
	}
	cp := *doc
	return &cp
}

// Conversation returns the stored conversation document, or nil.
func (m *Memory) Conversation(id string) *ConversationDoc {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.conversations[id]
	if !ok {
		return nil
	}
	cp := *doc
	return &cp
}
