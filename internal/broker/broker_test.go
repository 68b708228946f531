package broker

import (
	"testing"

	"github.com/nas-panel/telemetry-publisher/internal/session"
)

func TestRegisterTakesOverPriorSession(t *testing.T) {
	b := New()

	first := &session.Session{}
	if prior := b.register("client-a", first); prior != nil {
		t.Fatalf("first register returned a prior session: %v", prior)
	}

	second := &session.Session{}
	prior := b.register("client-a", second)
	if prior != first {
		t.Fatalf("register did not return the superseded session")
	}
	if b.sessionFor("client-a") != second {
		t.Fatalf("sessionFor did not return the newly registered session")
	}
}

func TestUnregisterOnlyRemovesMatchingSession(t *testing.T) {
	b := New()
	first := &session.Session{}
	second := &session.Session{}

	b.register("client-a", first)
	b.register("client-a", second)
	// second already subscribed to something by the time first's stale
	// teardown runs.
	b.router.Subscribe("nas/panel/data", "client-a", 1)

	// first is stale; unregistering it must not evict second, nor wipe
	// the router state second has already installed under this clientID.
	b.unregister("client-a", first)
	if b.sessionFor("client-a") != second {
		t.Fatal("unregister removed a session it wasn't asked to remove")
	}
	if subs := b.router.Match("nas/panel/data"); len(subs) != 1 {
		t.Fatalf("stale unregister removed the current session's subscriptions: %v", subs)
	}

	b.unregister("client-a", second)
	if b.sessionFor("client-a") != nil {
		t.Fatal("unregister did not remove the current session")
	}
	if subs := b.router.Match("nas/panel/data"); len(subs) != 0 {
		t.Fatalf("unregister of the current session did not remove its subscriptions: %v", subs)
	}
}

func TestPublishSkipsSubscriberWithoutSession(t *testing.T) {
	b := New()
	b.router.Subscribe("nas/panel/data", "client-a", 0)

	// No session registered for client-a: Publish must not panic, just skip.
	b.Publish("nas/panel/data", []byte(`{"ok":true}`), 0, false)
}

func TestPublishStoresRetainedMessage(t *testing.T) {
	b := New()
	b.Publish("nas/panel/data", []byte(`{"ok":true}`), 0, true)

	retained := b.router.MatchRetained("nas/panel/data")
	if len(retained) != 1 {
		t.Fatalf("expected 1 retained message, got %d", len(retained))
	}
	if string(retained[0].Payload) != `{"ok":true}` {
		t.Errorf("unexpected retained payload %q", retained[0].Payload)
	}
}
