// Package enrich runs the background categorization coordinator: a
// single-writer queue that annotates incoming messages with AI-derived
// metadata, one conversation at a time.
package enrich

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lucasreze/dmsync/internal/ai"
	"github.com/lucasreze/dmsync/internal/bus"
	"github.com/lucasreze/dmsync/internal/model"
	"github.com/lucasreze/dmsync/internal/remote"
	"github.com/lucasreze/dmsync/internal/store"
	"go.uber.org/zap"
)

// autoReplyPriority is the minimum analysis priority that triggers a
// suggested reply when the current user's profile has auto-response enabled.
const autoReplyPriority = 4

// Coordinator serializes enrichment work per conversation. A FIFO queue plus
// a membership set guarantee at most one queued entry per conversation id;
// a single processing flag guarantees at most one batch runs at any instant.
type Coordinator struct {
	db          *store.DB
	remote      remote.Store
	gateway     *ai.Client
	bus         *bus.Bus
	logger      *zap.Logger
	currentUser string

	mu         sync.Mutex
	queue      []string
	queued     map[string]bool
	processing bool
	running    bool
	cancel     context.CancelFunc
	unsubs     []func()
}

// NewCoordinator creates a coordinator. It does nothing until Start.
func NewCoordinator(db *store.DB, r remote.Store, gw *ai.Client, b *bus.Bus, currentUser string, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		db:          db,
		remote:      r,
		gateway:     gw,
		bus:         b,
		logger:      logger,
		currentUser: currentUser,
		queued:      make(map[string]bool),
	}
}

// Start subscribes to the listener's event streams and performs the one-time
// startup sweep over every known conversation. Unqueued work lost on Stop is
// re-derived here from the unanalyzed-message predicate, which is why the
// queue needs no persistence.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	ctx, c.cancel = context.WithCancel(ctx)

	msgCh, unsubMsg := c.bus.Subscribe(bus.MessagesUpdated, 256)
	convCh, unsubConv := c.bus.Subscribe(bus.ConversationUpdated, 256)
	c.unsubs = []func(){unsubMsg, unsubConv}
	c.mu.Unlock()

	go func() {
		for {
			select {
			case evt := <-msgCh:
				if id, ok := evt.Payload.(string); ok {
					c.enqueue(ctx, id)
				}
			case evt := <-convCh:
				if ids, ok := evt.Payload.([]string); ok {
					for _, id := range ids {
						c.enqueue(ctx, id)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	ids, err := c.db.ConversationIDs()
	if err != nil {
		c.logger.Error("startup sweep failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		c.enqueue(ctx, id)
	}
}

// Stop tears down subscriptions and discards queued work. In-flight
// per-message calls complete but their results are not applied.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.queue = nil
	c.queued = make(map[string]bool)
}

// QueueLen reports the number of queued conversations (diagnostics).
func (c *Coordinator) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// enqueue adds a conversation id unless it is already queued. If no batch is
// running, it also kicks off the drain goroutine.
func (c *Coordinator) enqueue(ctx context.Context, conversationID string) {
	if conversationID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.queued[conversationID] {
		return
	}
	c.queue = append(c.queue, conversationID)
	c.queued[conversationID] = true
	if !c.processing {
		c.processing = true
		go c.drain(ctx)
	}
}

// drain processes queued conversations one at a time until the queue is
// empty. A completion always attempts the next queued conversation.
func (c *Coordinator) drain(ctx context.Context) {
	for {
		c.mu.Lock()
		if !c.running || len(c.queue) == 0 {
			c.processing = false
			c.mu.Unlock()
			return
		}
		id := c.queue[0]
		c.queue = c.queue[1:]
		delete(c.queued, id)
		c.mu.Unlock()

		c.processConversation(ctx, id)
	}
}

// processConversation enriches every unanalyzed message of one conversation,
// sequentially in timestamp order. A single bad message never aborts the
// batch.
func (c *Coordinator) processConversation(ctx context.Context, conversationID string) {
	msgs, err := c.db.UnanalyzedMessages(conversationID, c.currentUser)
	if err != nil {
		c.logger.Error("load enrichment work", zap.Error(err), zap.String("conversation_id", conversationID))
		return
	}
	for i := range msgs {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx, &msgs[i])
	}
}

func (c *Coordinator) processMessage(ctx context.Context, msg *model.Message) {
	req := &ai.AnalyzeRequest{Message: msg.Content}
	if sender, err := c.db.GetUser(msg.SenderID); err == nil {
		req.SenderProfile = senderProfile(sender)
	}
	me, meErr := c.db.GetUser(c.currentUser)
	if meErr == nil && me.Creator != nil {
		req.CreatorContext = creatorContext(me.Creator)
	}

	res, err := c.gateway.AnalyzeMessage(ctx, req)
	if err != nil {
		c.logger.Warn("analyze failed, skipping message",
			zap.Error(err), zap.String("message_id", msg.ID))
		return
	}

	cat := model.ParseCategory(res.Category)
	if cat == model.CategoryUnrecognized {
		// Leave the message unanalyzed; the next trigger retries it. This is
		// deliberately stricter than the gateway's general default.
		c.logger.Warn("unrecognized category, leaving message unanalyzed",
			zap.String("category", res.Category), zap.String("message_id", msg.ID))
		return
	}

	md := model.AIMetadata{
		Category:           cat,
		Priority:           res.Priority,
		CollaborationScore: res.CollaborationScore,
		ExtractedInfo:      flattenExtracted(res.ExtractedInfo),
	}
	if s := model.ParseSentiment(res.Sentiment); s != model.SentimentUnrecognized {
		md.Sentiment = s
	}

	if md.Priority >= autoReplyPriority && meErr == nil && me.Creator != nil && me.Creator.AutoRespond {
		if reply := c.suggestReply(ctx, msg, me.Creator); reply != "" {
			md.SuggestedReply = reply
		}
	}

	if !c.isRunning() {
		return
	}

	// Remote first; the listener on other devices propagates from there.
	if err := c.remote.SetMessageMetadata(ctx, msg.ConversationID, msg.ID, remote.EncodeMetadata(md)); err != nil {
		c.logger.Warn("remote metadata write failed, skipping message",
			zap.Error(err), zap.String("message_id", msg.ID))
		return
	}
	if err := c.remote.SetConversationCategory(ctx, msg.ConversationID, string(cat)); err != nil {
		c.logger.Warn("remote category write failed",
			zap.Error(err), zap.String("conversation_id", msg.ConversationID))
	}

	if err := c.db.SetMessageAIMetadata(msg.ID, md); err != nil {
		c.logger.Error("mirror metadata locally", zap.Error(err), zap.String("message_id", msg.ID))
		return
	}
	if err := c.db.SetConversationCategory(msg.ConversationID, cat); err != nil {
		c.logger.Error("mirror category locally", zap.Error(err), zap.String("conversation_id", msg.ConversationID))
	}

	c.bus.Publish(bus.Event{
		Kind:      bus.EnrichApplied,
		Timestamp: time.Now(),
		Payload:   bus.MessageRef{ConversationID: msg.ConversationID, MessageID: msg.ID},
	})
}

// suggestReply asks the gateway for a reply draft using the trimmed
// conversation history. Failures are silent: the suggestion is best-effort.
func (c *Coordinator) suggestReply(ctx context.Context, msg *model.Message, profile *model.CreatorProfile) string {
	history, err := c.db.FetchMessages(msg.ConversationID, 0)
	if err != nil {
		c.logger.Warn("load history for reply", zap.Error(err), zap.String("conversation_id", msg.ConversationID))
		return ""
	}
	var turns []ai.Turn
	for _, h := range history {
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		turns = append(turns, ai.Turn{Speaker: h.SenderID, Content: h.Content})
	}

	gen, err := c.gateway.GenerateResponse(ctx, &ai.GenerateRequest{
		Message:             msg.Content,
		ConversationHistory: turns,
		CreatorProfile: ai.CreatorProfile{
			Persona:         profile.Persona,
			Tone:            profile.Tone,
			StyleGuidelines: profile.StyleGuidelines,
			VoiceSamples:    profile.VoiceSamples,
			Signature:       profile.Signature,
		},
		ResponsePreferences: ai.ResponsePreferences{Format: profile.PreferredFormat},
	})
	if err != nil {
		c.logger.Warn("generate reply failed", zap.Error(err), zap.String("message_id", msg.ID))
		return ""
	}
	return gen.Reply
}

func (c *Coordinator) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func senderProfile(u *model.User) map[string]string {
	p := map[string]string{"displayName": u.DisplayName}
	if u.Email != "" {
		p["email"] = u.Email
	}
	return p
}

func creatorContext(cp *model.CreatorProfile) map[string]string {
	ctx := map[string]string{}
	if cp.Persona != "" {
		ctx["persona"] = cp.Persona
	}
	if cp.Tone != "" {
		ctx["tone"] = cp.Tone
	}
	if cp.StyleGuidelines != "" {
		ctx["styleGuidelines"] = cp.StyleGuidelines
	}
	return ctx
}

func flattenExtracted(info ai.ExtractedInfo) map[string]string {
	out := map[string]string{}
	if len(info.KeyFacts) > 0 {
		out["keyFacts"] = strings.Join(info.KeyFacts, "; ")
	}
	if len(info.RequestedActions) > 0 {
		out["requestedActions"] = strings.Join(info.RequestedActions, "; ")
	}
	if len(info.MentionedBrands) > 0 {
		out["mentionedBrands"] = strings.Join(info.MentionedBrands, "; ")
	}
	return out
}
