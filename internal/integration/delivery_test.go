package integration

import (
	"context"
	"testing"
	"time"

	"roomcast/pkg/client"
	"roomcast/pkg/types"
)

// FUNCTIONAL VALIDATION TEST: history seed, live push over both transports and dedup
func TestDelivery_HistoryThenLive(t *testing.T) {
	env := newTestEnv(t)
	first := env.post(t, 5, "carol", "before anyone joined")

	alice := env.newWatcher(t, "sse", time.Second)
	bob := env.newWatcher(t, "ws", time.Second)
	if err := alice.session.Enter(context.Background(), 5, "alice"); err != nil {
		t.Fatalf("alice Enter: %v", err)
	}
	if err := bob.session.Enter(context.Background(), 5, "bob"); err != nil {
		t.Fatalf("bob Enter: %v", err)
	}
	waitFor(t, "both subscribed", func() bool { return env.app.Registry().SubscriberCount(5) == 2 })

	second := env.post(t, 5, "carol", "hello room")

	want := []int64{first.ID, second.ID}
	for name, w := range map[string]*watcher{"alice": alice, "bob": bob} {
		waitFor(t, name+" live message", func() bool { return len(w.receivedIDs()) == 2 })
		if !sameIDs(w.receivedIDs(), want) {
			t.Errorf("%s received %v, want %v", name, w.receivedIDs(), want)
		}
		msgs := w.session.Messages()
		if len(msgs) != 2 || msgs[1].Content != "hello room" {
			t.Errorf("%s sequence = %+v", name, msgs)
		}
	}

	waitFor(t, "alice sees bob online", func() bool { return alice.sawStatus("bob", types.StatusOnline) })
	if bob.sawStatus("bob", types.StatusOnline) {
		t.Error("a user must not receive their own presence event")
	}
}

// FUNCTIONAL VALIDATION TEST: broadcasts stay inside their room
func TestDelivery_RoomIsolation(t *testing.T) {
	env := newTestEnv(t)
	inRoom := env.newWatcher(t, "sse", time.Second)
	elsewhere := env.newWatcher(t, "sse", time.Second)
	inRoom.session.Enter(context.Background(), 1, "alice")
	elsewhere.session.Enter(context.Background(), 2, "bob")
	waitFor(t, "subscribed", func() bool {
		return env.app.Registry().SubscriberCount(1) == 1 && env.app.Registry().SubscriberCount(2) == 1
	})

	msg := env.post(t, 1, "carol", "room one only")
	waitFor(t, "delivery", func() bool { return len(inRoom.receivedIDs()) == 1 })

	time.Sleep(50 * time.Millisecond)
	if len(elsewhere.receivedIDs()) != 0 {
		t.Errorf("room 2 received %v", elsewhere.receivedIDs())
	}
	if inRoom.receivedIDs()[0] != msg.ID {
		t.Errorf("room 1 received %v", inRoom.receivedIDs())
	}
}

// FUNCTIONAL VALIDATION TEST: a message sent while disconnected arrives via resync
func TestDelivery_ResyncAfterReconnect(t *testing.T) {
	env := newTestEnv(t)
	alice := env.newWatcher(t, "sse", 200*time.Millisecond)
	alice.session.Enter(context.Background(), 3, "alice")
	waitFor(t, "subscribed", func() bool { return env.app.Registry().SubscriberCount(3) == 1 })

	env.app.Registry().CloseAll()
	waitFor(t, "dropped", func() bool { return alice.session.State() == client.StateReconnecting })

	missed := env.post(t, 3, "bob", "sent while alice was away")

	waitFor(t, "resynced", func() bool { return len(alice.receivedIDs()) == 1 })
	if alice.receivedIDs()[0] != missed.ID {
		t.Errorf("received %v, want [%d]", alice.receivedIDs(), missed.ID)
	}
	if alice.session.State() != client.StateOpen {
		t.Errorf("state = %v, want open", alice.session.State())
	}

	live := env.post(t, 3, "bob", "after reconnect")
	waitFor(t, "live after reconnect", func() bool { return len(alice.receivedIDs()) == 2 })
	if alice.receivedIDs()[1] != live.ID {
		t.Errorf("received %v", alice.receivedIDs())
	}
}

// FUNCTIONAL VALIDATION TEST: a second subscription for the same user replaces the first
func TestDelivery_ReplacementKeepsOneSubscriber(t *testing.T) {
	env := newTestEnv(t)
	first := env.newWatcher(t, "sse", 10*time.Second)
	first.session.Enter(context.Background(), 4, "alice")
	waitFor(t, "first subscribed", func() bool { return env.app.Registry().SubscriberCount(4) == 1 })

	second := env.newWatcher(t, "ws", 10*time.Second)
	second.session.Enter(context.Background(), 4, "alice")
	waitFor(t, "first displaced", func() bool { return first.session.State() == client.StateReconnecting })

	if n := env.app.Registry().SubscriberCount(4); n != 1 {
		t.Fatalf("subscriber count = %d, want 1", n)
	}
	msg := env.post(t, 4, "bob", "who gets this")
	waitFor(t, "replacement receives", func() bool { return len(second.receivedIDs()) == 1 })
	if second.receivedIDs()[0] != msg.ID {
		t.Errorf("received %v", second.receivedIDs())
	}

	stats := env.app.Registry().Snapshot()
	if stats[4] != 1 {
		t.Errorf("snapshot = %v", stats)
	}
}
