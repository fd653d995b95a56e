package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/lucasreze/dmsync/internal/bus"
	"github.com/lucasreze/dmsync/internal/config"
	"github.com/lucasreze/dmsync/internal/remote"
	"github.com/lucasreze/dmsync/internal/session"
	"github.com/lucasreze/dmsync/internal/status"
	"github.com/lucasreze/dmsync/internal/store"
	"go.uber.org/fx"
)

func TestDaemonLifecycle(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := config.Save(session.ConfigPath(), &config.Config{CurrentUser: "me"}); err != nil {
		t.Fatal(err)
	}

	mem := remote.NewMemory()
	mem.PutConversation(&remote.ConversationDoc{
		ID:           "c1",
		Participants: []string{"me", "alice"},
		Type:         "oneOnOne",
		Title:        "Alice",
	})

	var db *store.DB
	var machine *status.Machine
	app := fx.New(
		Module(Params{ProfileName: "test", Remote: mem}),
		fx.Populate(&db, &machine),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		t.Fatal(err)
	}

	if machine.Current() != status.Ready {
		t.Errorf("state = %s, want READY", machine.Current())
	}

	// The initial snapshot lands in the local store.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := db.GetConversation("c1"); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	c, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Title != "Alice" {
		t.Errorf("conversation = %+v", c)
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	if machine.Current() != status.Stopped {
		t.Errorf("state after stop = %s, want STOPPED", machine.Current())
	}
}

// A conversation that already holds messages must be synced exactly once and
// then go quiet: message batches publish conversation.updated, so a listener
// re-wired on every event would feed itself snapshot batches forever.
func TestDaemonSettlesWithSeededMessages(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := config.Save(session.ConfigPath(), &config.Config{CurrentUser: "me"}); err != nil {
		t.Fatal(err)
	}

	mem := remote.NewMemory()
	mem.PutConversation(&remote.ConversationDoc{
		ID:           "c1",
		Participants: []string{"me", "alice"},
		Type:         "oneOnOne",
	})
	mem.PutMessage(&remote.MessageDoc{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "alice",
		Content:        "hello",
		Timestamp:      1000,
	})

	var db *store.DB
	var b *bus.Bus
	app := fx.New(
		Module(Params{ProfileName: "test", Remote: mem}),
		fx.Populate(&db, &b),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = app.Stop(context.Background()) }()

	// The seeded message lands via the snapshot batch.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := db.GetMessage("m1"); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := db.GetMessage("m1"); err != nil {
		t.Fatal(err)
	}

	// Let in-flight event handling drain, then count message events while
	// the remote sits idle. An idle remote must produce none.
	time.Sleep(300 * time.Millisecond)
	events, unsub := b.Subscribe(bus.MessagesUpdated, 1024)
	defer unsub()

	settle := time.After(500 * time.Millisecond)
	got := 0
	for {
		select {
		case <-events:
			got++
		case <-settle:
			if got != 0 {
				t.Fatalf("messages.updated events with an idle remote: %d, want 0", got)
			}
			return
		}
	}
}

func TestDaemonRequiresCurrentUser(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	var machine *status.Machine
	app := fx.New(
		Module(Params{ProfileName: "test", Remote: remote.NewMemory()}),
		fx.Populate(&machine),
		fx.NopLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = app.Stop(context.Background()) }()

	if machine.Current() != status.Error {
		t.Errorf("state = %s, want ERROR without current_user", machine.Current())
	}
}
