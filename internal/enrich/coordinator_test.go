package enrich

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lucasreze/dmsync/internal/ai"
	"github.com/lucasreze/dmsync/internal/bus"
	"github.com/lucasreze/dmsync/internal/model"
	"github.com/lucasreze/dmsync/internal/remote"
	"github.com/lucasreze/dmsync/internal/store"
	"go.uber.org/zap"
)

// fakeBackend scripts analysis results keyed by message content.
type fakeBackend struct {
	mu         sync.Mutex
	byContent  map[string]*ai.Analysis
	errContent map[string]error
	generation *ai.Generation
	generated  int
}

func (f *fakeBackend) Analyze(_ context.Context, req *ai.AnalyzeRequest) (*ai.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errContent[req.Message]; ok {
		return nil, err
	}
	if res, ok := f.byContent[req.Message]; ok {
		return res, nil
	}
	return &ai.Analysis{Category: "general", Sentiment: "neutral", Priority: 1}, nil
}

func (f *fakeBackend) Generate(_ context.Context, _ *ai.GenerateRequest) (*ai.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated++
	if f.generation != nil {
		return f.generation, nil
	}
	return &ai.Generation{Reply: "draft reply"}, nil
}

func (f *fakeBackend) generateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generated
}

type fixture struct {
	db      *store.DB
	mem     *remote.Memory
	bus     *bus.Bus
	backend *fakeBackend
	coord   *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	backend := &fakeBackend{
		byContent:  make(map[string]*ai.Analysis),
		errContent: make(map[string]error),
	}
	mem := remote.NewMemory()
	b := bus.New()
	coord := NewCoordinator(db, mem, ai.NewClient(backend), b, "me", zap.NewNop())
	t.Cleanup(coord.Stop)

	return &fixture{db: db, mem: mem, bus: b, backend: backend, coord: coord}
}

// seed writes a message into both stores, the way the listener would after a
// remote download.
func (f *fixture) seed(t *testing.T, conv, id, sender, content string, ts int64) {
	t.Helper()
	_, err := f.db.UpsertMessage(id, func() *model.Message {
		return &model.Message{
			ConversationID: conv,
			SenderID:       sender,
			Content:        content,
			Timestamp:      ts,
			Status:         model.StatusDelivered,
			SyncStatus:     model.SyncSynced,
			SyncDirection:  model.DirectionDownload,
		}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.db.UpsertConversation(conv, func() *model.Conversation {
		return &model.Conversation{Participants: []string{"me", sender}}
	}, nil); err != nil {
		t.Fatal(err)
	}
	f.mem.PutConversation(&remote.ConversationDoc{ID: conv, Participants: []string{"me", sender}, Type: "oneOnOne"})
	f.mem.PutMessage(&remote.MessageDoc{ID: id, ConversationID: conv, SenderID: sender, Content: content, Timestamp: ts})
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", desc)
}

func (f *fixture) analyzed(t *testing.T, id string) func() bool {
	return func() bool {
		m, err := f.db.GetMessage(id)
		return err == nil && m.AI.Category != model.CategoryUnset
	}
}

func TestStartupSweepEnrichesBacklog(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", "m1", "alice", "big fan!", 1000)
	f.backend.byContent["big fan!"] = &ai.Analysis{
		Category:           "fan",
		Sentiment:          "positive",
		Priority:           2,
		CollaborationScore: 0.1,
		ExtractedInfo:      ai.ExtractedInfo{KeyFacts: []string{"fan mail", "no ask"}},
	}

	f.coord.Start(context.Background())
	waitFor(t, "backlog enriched", f.analyzed(t, "m1"))

	m, err := f.db.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.AI.Category != model.CategoryFan || m.AI.Sentiment != model.SentimentPositive {
		t.Errorf("metadata = %+v", m.AI)
	}
	if m.AI.ExtractedInfo["keyFacts"] != "fan mail; no ask" {
		t.Errorf("extracted = %v", m.AI.ExtractedInfo)
	}

	// Mirrored to the remote document and the conversation category.
	doc := f.mem.Message("c1", "m1")
	if doc == nil || doc.AIMetadata == nil || doc.AIMetadata.Category != "fan" {
		t.Errorf("remote metadata = %+v", doc)
	}
	c, err := f.db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Category != model.CategoryFan {
		t.Errorf("conversation category = %q", c.Category)
	}
	if f.mem.Conversation("c1").AICategory != "fan" {
		t.Errorf("remote category = %q", f.mem.Conversation("c1").AICategory)
	}
}

func TestOwnAndBlankMessagesSkipped(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", "own", "me", "my own note", 1000)
	f.seed(t, "c1", "blank", "alice", "   ", 2000)

	f.coord.Start(context.Background())
	// Give the sweep a moment, then check nothing was touched.
	time.Sleep(100 * time.Millisecond)

	for _, id := range []string{"own", "blank"} {
		m, err := f.db.GetMessage(id)
		if err != nil {
			t.Fatal(err)
		}
		if m.AI.Category != model.CategoryUnset {
			t.Errorf("message %s got analyzed: %+v", id, m.AI)
		}
	}
}

func TestUnrecognizedCategoryLeavesMessageUnanalyzed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", "m1", "alice", "weird one", 1000)
	f.backend.byContent["weird one"] = &ai.Analysis{Category: "influencer", Sentiment: "positive", Priority: 3}

	f.coord.Start(context.Background())
	time.Sleep(100 * time.Millisecond)

	m, err := f.db.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.AI.Category != model.CategoryUnset {
		t.Errorf("category = %q, want unset", m.AI.Category)
	}
	// Still eligible for the next trigger.
	work, err := f.db.UnanalyzedMessages("c1", "me")
	if err != nil {
		t.Fatal(err)
	}
	if len(work) != 1 {
		t.Errorf("unanalyzed = %d, want 1", len(work))
	}
}

func TestOneBadMessageDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", "bad", "alice", "poison", 1000)
	f.seed(t, "c1", "good", "alice", "fine", 2000)
	f.backend.errContent["poison"] = errors.New("upstream exploded")
	f.backend.byContent["fine"] = &ai.Analysis{Category: "general", Sentiment: "neutral", Priority: 1}

	f.coord.Start(context.Background())
	waitFor(t, "good message enriched", f.analyzed(t, "good"))

	bad, err := f.db.GetMessage("bad")
	if err != nil {
		t.Fatal(err)
	}
	if bad.AI.Category != model.CategoryUnset {
		t.Errorf("bad message category = %q, want unset", bad.AI.Category)
	}
}

func TestRemoteMetadataFailureSkipsLocalApply(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", "m1", "alice", "hello", 1000)
	// Drop the remote message so SetMessageMetadata fails.
	f.mem.RemoveMessage("c1", "m1")

	f.coord.Start(context.Background())
	time.Sleep(100 * time.Millisecond)

	m, err := f.db.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.AI.Category != model.CategoryUnset {
		t.Errorf("local apply happened despite remote failure: %+v", m.AI)
	}
}

func TestEnqueueDeduplicatesQueuedConversations(t *testing.T) {
	f := newFixture(t)

	// Hold the single processing slot on a synthetic entry so queued ids
	// accumulate without being drained.
	f.coord.mu.Lock()
	f.coord.running = true
	f.coord.processing = true
	f.coord.mu.Unlock()

	ctx := context.Background()
	f.coord.enqueue(ctx, "c1")
	f.coord.enqueue(ctx, "c1")
	f.coord.enqueue(ctx, "c2")
	f.coord.enqueue(ctx, "c1")

	if got := f.coord.QueueLen(); got != 2 {
		t.Errorf("queue length = %d, want 2 (c1 deduped)", got)
	}
}

func TestEventTriggersEnrichment(t *testing.T) {
	f := newFixture(t)
	f.coord.Start(context.Background())

	f.seed(t, "c1", "m1", "alice", "triggered", 1000)
	f.backend.byContent["triggered"] = &ai.Analysis{Category: "urgent", Sentiment: "negative", Priority: 5}

	applied, unsub := f.bus.Subscribe(bus.EnrichApplied, 16)
	defer unsub()

	// The listener would publish this after applying a batch.
	f.bus.Publish(bus.Event{Kind: bus.MessagesUpdated, Timestamp: time.Now(), Payload: "c1"})

	select {
	case evt := <-applied:
		ref, ok := evt.Payload.(bus.MessageRef)
		if !ok || ref.MessageID != "m1" {
			t.Errorf("payload = %v", evt.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no enrich.applied event")
	}

	m, err := f.db.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.AI.Category != model.CategoryUrgent || m.AI.Priority != 5 {
		t.Errorf("metadata = %+v", m.AI)
	}
}

func TestHighPriorityAutoReply(t *testing.T) {
	f := newFixture(t)
	if err := f.db.UpsertUser(&model.User{
		ID:          "me",
		DisplayName: "Creator",
		Creator: &model.CreatorProfile{
			Persona:     "upbeat",
			AutoRespond: true,
		},
	}); err != nil {
		t.Fatal(err)
	}
	f.seed(t, "c1", "m1", "alice", "urgent brand deal!", 1000)
	f.backend.byContent["urgent brand deal!"] = &ai.Analysis{
		Category: "business", Sentiment: "positive", Priority: 5, CollaborationScore: 0.95,
	}
	f.backend.generation = &ai.Generation{Reply: "Let's talk details!"}

	f.coord.Start(context.Background())
	waitFor(t, "message enriched", f.analyzed(t, "m1"))

	m, err := f.db.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.AI.SuggestedReply != "Let's talk details!" {
		t.Errorf("suggested reply = %q", m.AI.SuggestedReply)
	}
	if f.backend.generateCalls() != 1 {
		t.Errorf("generate calls = %d, want 1", f.backend.generateCalls())
	}
}

func TestLowPriorityGetsNoAutoReply(t *testing.T) {
	f := newFixture(t)
	if err := f.db.UpsertUser(&model.User{
		ID:      "me",
		Creator: &model.CreatorProfile{AutoRespond: true},
	}); err != nil {
		t.Fatal(err)
	}
	f.seed(t, "c1", "m1", "alice", "just saying hi", 1000)
	f.backend.byContent["just saying hi"] = &ai.Analysis{Category: "fan", Sentiment: "positive", Priority: 2}

	f.coord.Start(context.Background())
	waitFor(t, "message enriched", f.analyzed(t, "m1"))

	if f.backend.generateCalls() != 0 {
		t.Errorf("generate calls = %d, want 0", f.backend.generateCalls())
	}
}

func TestAutoReplyRequiresOptIn(t *testing.T) {
	f := newFixture(t)
	if err := f.db.UpsertUser(&model.User{
		ID:      "me",
		Creator: &model.CreatorProfile{AutoRespond: false},
	}); err != nil {
		t.Fatal(err)
	}
	f.seed(t, "c1", "m1", "alice", "huge deal", 1000)
	f.backend.byContent["huge deal"] = &ai.Analysis{Category: "urgent", Sentiment: "neutral", Priority: 5}

	f.coord.Start(context.Background())
	waitFor(t, "message enriched", f.analyzed(t, "m1"))

	if f.backend.generateCalls() != 0 {
		t.Errorf("generate calls = %d, want 0 without opt-in", f.backend.generateCalls())
	}
}

func TestStopDiscardsQueue(t *testing.T) {
	f := newFixture(t)
	f.coord.Start(context.Background())

	f.coord.mu.Lock()
	f.coord.processing = true // park the drain so the queue holds
	f.coord.mu.Unlock()
	f.coord.enqueue(context.Background(), "c1")
	f.coord.enqueue(context.Background(), "c2")

	f.coord.Stop()
	if got := f.coord.QueueLen(); got != 0 {
		t.Errorf("queue length after stop = %d, want 0", got)
	}

	// Enqueue after stop is a no-op.
	f.coord.enqueue(context.Background(), "c3")
	if got := f.coord.QueueLen(); got != 0 {
		t.Errorf("queue accepted work after stop: %d", got)
	}
}
