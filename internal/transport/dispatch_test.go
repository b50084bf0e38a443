package transport

import (
	"log/slog"
	"testing"

	"chatsync/internal/domain"
)

func testDispatcher() *dispatcher {
	return newDispatcher(slog.Default())
}

func TestDispatcher_TypedDelivery(t *testing.T) {
	d := testDispatcher()

	var got domain.Message
	d.register(domain.ChatHandlers{
		OnNewMessage: func(m domain.Message) { got = m },
	})

	d.dispatch([]byte(`{"type":"new-message","data":{"id":"m1","conversationId":"c1","content":"hi","direction":"inbound"}}`))

	if got.ID != "m1" || got.ConversationID != "c1" || got.Direction != domain.DirectionInbound {
		t.Fatalf("decoded = %+v", got)
	}
}

func TestDispatcher_MalformedPayloadDiscarded(t *testing.T) {
	d := testDispatcher()

	calls := 0
	d.register(domain.ChatHandlers{
		OnNewMessage: func(domain.Message) { calls++ },
	})

	d.dispatch([]byte(`{"type":"new-message","data":"not an object"}`))
	d.dispatch([]byte(`this is not json`))
	// Processing must continue after bad frames.
	d.dispatch([]byte(`{"type":"new-message","data":{"id":"m1","conversationId":"c1"}}`))

	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (only the valid frame)", calls)
	}
}

func TestDispatcher_HandlerPanicContained(t *testing.T) {
	d := testDispatcher()

	delivered := 0
	d.register(domain.ChatHandlers{
		OnNewMessage: func(m domain.Message) {
			delivered++
			if m.ID == "bad" {
				panic("malformed event")
			}
		},
	})

	d.dispatch([]byte(`{"type":"new-message","data":{"id":"bad","conversationId":"c1"}}`))
	d.dispatch([]byte(`{"type":"new-message","data":{"id":"ok","conversationId":"c1"}}`))

	if delivered != 2 {
		t.Fatalf("delivered = %d, want 2 (panic must not stop dispatch)", delivered)
	}
}

func TestDispatcher_ReRegistrationReplaces(t *testing.T) {
	d := testDispatcher()

	first, second := 0, 0
	d.register(domain.ChatHandlers{OnConnected: func() { first++ }})
	d.register(domain.ChatHandlers{OnConnected: func() { second++ }})

	d.connected()

	if first != 0 || second != 1 {
		t.Fatalf("first=%d second=%d, want 0/1 (no duplicate delivery)", first, second)
	}
}

func TestDispatcher_UnsubscribeOnlyClearsOwnSet(t *testing.T) {
	d := testDispatcher()

	calls := 0
	unsubOld := d.register(domain.ChatHandlers{OnConnected: func() { t.Fatal("stale handler ran") }})
	d.register(domain.ChatHandlers{OnConnected: func() { calls++ }})

	// Unsubscribing the replaced registration must not clear the new one.
	unsubOld()
	d.connected()
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDispatcher_WireConnectedFrameDropped(t *testing.T) {
	d := testDispatcher()

	calls := 0
	d.register(domain.ChatHandlers{OnConnected: func() { calls++ }})

	// The client reports dial success itself; a server-echoed connected
	// frame must not fire the handler a second time.
	d.dispatch([]byte(`{"type":"connected"}`))
	if calls != 0 {
		t.Fatalf("calls = %d, want 0 for the wire frame", calls)
	}
	d.connected()
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 from the client-side notification", calls)
	}
}

func TestDispatcher_NoticeWithoutPayload(t *testing.T) {
	d := testDispatcher()

	synced := false
	d.register(domain.ChatHandlers{
		OnSyncRequired: func(domain.NoticeEvent) { synced = true },
	})

	d.dispatch([]byte(`{"type":"sync-required"}`))
	if !synced {
		t.Fatal("notice event without payload should still be delivered")
	}
}
