package outbound

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lucasreze/dmsync/internal/bus"
	"github.com/lucasreze/dmsync/internal/model"
	"github.com/lucasreze/dmsync/internal/remote"
	"github.com/lucasreze/dmsync/internal/store"
	"go.uber.org/zap"
)

func testPipeline(t *testing.T) (*Pipeline, *store.DB, *remote.Memory, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mem := remote.NewMemory()
	b := bus.New()
	return NewPipeline(db, mem, b, zap.NewNop()), db, mem, b
}

func TestSendTextHappyPath(t *testing.T) {
	p, db, mem, _ := testPipeline(t)

	msg, err := p.SendText(context.Background(), "c1", "me", "hello there")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != model.StatusSent {
		t.Errorf("status = %q, want sent", msg.Status)
	}
	if msg.SyncStatus != model.SyncSynced {
		t.Errorf("sync status = %q, want synced", msg.SyncStatus)
	}
	if msg.LastSyncedAt == 0 {
		t.Error("last synced at not set")
	}

	// Remote copy committed with sent status.
	doc := mem.Message("c1", msg.ID)
	if doc == nil {
		t.Fatal("message missing from remote")
	}
	if doc.Status != "sent" {
		t.Errorf("remote status = %q, want sent", doc.Status)
	}

	// Conversation preview bumped and no pending uploads left behind.
	c, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessagePreview != "hello there" {
		t.Errorf("preview = %q", c.LastMessagePreview)
	}
	if c.PendingUploads != 0 {
		t.Errorf("pending uploads = %d, want 0", c.PendingUploads)
	}
}

func TestSendTextRejectsBlank(t *testing.T) {
	p, db, _, _ := testPipeline(t)

	for _, content := range []string{"", "   ", "\n\t"} {
		if _, err := p.SendText(context.Background(), "c1", "me", content); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("SendText(%q) err = %v, want ErrEmptyMessage", content, err)
		}
	}

	// Nothing was written.
	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("message count = %d, want 0", count)
	}
}

func TestSendTextRequiresSender(t *testing.T) {
	p, _, _, _ := testPipeline(t)

	if _, err := p.SendText(context.Background(), "c1", "", "hi"); !errors.Is(err, ErrMissingCurrentUser) {
		t.Errorf("err = %v, want ErrMissingCurrentUser", err)
	}
}

func TestSendMediaRequiresURL(t *testing.T) {
	p, _, mem, _ := testPipeline(t)

	if _, err := p.SendMedia(context.Background(), "c1", "me", "", "photo"); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}

	msg, err := p.SendMedia(context.Background(), "c1", "me", "https://cdn/x.jpg", "[photo]")
	if err != nil {
		t.Fatal(err)
	}
	doc := mem.Message("c1", msg.ID)
	if doc == nil || doc.MediaURL != "https://cdn/x.jpg" {
		t.Errorf("remote doc = %+v", doc)
	}
}

func TestSendFailThenRetry(t *testing.T) {
	p, db, mem, _ := testPipeline(t)

	mem.SetCommitErr(errors.New("backend down"))
	_, err := p.SendText(context.Background(), "c1", "me", "try me")
	if !errors.Is(err, ErrRemoteFailure) {
		t.Fatalf("err = %v, want ErrRemoteFailure", err)
	}

	// The optimistic row survives in its failed state.
	msgs, err := db.FetchMessages("c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	failed := msgs[0]
	if failed.Status != model.StatusFailed {
		t.Errorf("status = %q, want failed", failed.Status)
	}
	if failed.SyncStatus != model.SyncFailed {
		t.Errorf("sync status = %q, want failed", failed.SyncStatus)
	}
	c, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.PendingUploads != 0 {
		t.Errorf("pending uploads = %d, want 0 after terminal state", c.PendingUploads)
	}

	// Retry with the backend healthy again. Same id, no second row.
	mem.SetCommitErr(nil)
	retried, err := p.Retry(context.Background(), failed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if retried.ID != failed.ID {
		t.Errorf("retry changed id: %q vs %q", retried.ID, failed.ID)
	}
	if retried.Timestamp != failed.Timestamp {
		t.Errorf("retry changed timestamp: %d vs %d", retried.Timestamp, failed.Timestamp)
	}
	if retried.Status != model.StatusSent || retried.SyncStatus != model.SyncSynced {
		t.Errorf("retried = %q/%q, want sent/synced", retried.Status, retried.SyncStatus)
	}
	if retried.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", retried.RetryCount)
	}

	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("message count = %d, want 1", count)
	}
	if mem.Message("c1", failed.ID) == nil {
		t.Error("message missing from remote after retry")
	}
}

func TestRetryUnknownMessage(t *testing.T) {
	p, _, _, _ := testPipeline(t)

	if _, err := p.Retry(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSendPublishesLifecycleEvents(t *testing.T) {
	p, _, mem, b := testPipeline(t)

	events, unsub := b.Subscribe("message.", 16)
	defer unsub()

	if _, err := p.SendText(context.Background(), "c1", "me", "hi"); err != nil {
		t.Fatal(err)
	}
	kinds := []string{}
	for i := 0; i < 2; i++ {
		kinds = append(kinds, (<-events).Kind)
	}
	if kinds[0] != bus.MessageUpserted || kinds[1] != bus.SendAck {
		t.Errorf("event kinds = %v, want upserted then ack", kinds)
	}

	mem.SetCommitErr(errors.New("down"))
	if _, err := p.SendText(context.Background(), "c1", "me", "hi again"); !errors.Is(err, ErrRemoteFailure) {
		t.Fatalf("err = %v", err)
	}
	kinds = kinds[:0]
	for i := 0; i < 2; i++ {
		kinds = append(kinds, (<-events).Kind)
	}
	if kinds[0] != bus.MessageUpserted || kinds[1] != bus.SendFailed {
		t.Errorf("event kinds = %v, want upserted then failed", kinds)
	}
}

// Every terminal outcome leaves the message with a definite delivery status
// and a terminal sync status.
func TestNoMessageLeftInSendingState(t *testing.T) {
	p, db, mem, _ := testPipeline(t)

	if _, err := p.SendText(context.Background(), "c1", "me", "ok"); err != nil {
		t.Fatal(err)
	}
	mem.SetCommitErr(errors.New("down"))
	_, _ = p.SendText(context.Background(), "c1", "me", "not ok")

	msgs, err := db.FetchMessages("c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range msgs {
		if m.Status == model.StatusSending {
			t.Errorf("message %s stuck in sending", m.ID)
		}
		if m.SyncStatus != model.SyncSynced && m.SyncStatus != model.SyncFailed {
			t.Errorf("message %s sync status = %q, want terminal", m.ID, m.SyncStatus)
		}
	}
}
