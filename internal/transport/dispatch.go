package transport

import (
	"encoding/json"
	"log/slog"
	"sync"

	"chatsync/internal/domain"
)

// frame is the wire envelope for both directions: a kind tag plus a payload
// object. Inbound payloads are decoded into the closed set of typed events in
// the domain package; anything that does not decode is logged and dropped.
type frame struct {
	Type domain.EventKind `json:"type"`
	Data json.RawMessage  `json:"data,omitempty"`
}

func command(kind domain.EventKind, payload any) frame {
	data, err := json.Marshal(payload)
	if err != nil {
		// Command payloads are plain structs; this cannot fail in practice.
		return frame{Type: kind}
	}
	return frame{Type: kind, Data: data}
}

// dispatcher holds the single active handler set. Re-registration replaces
// the previous set so no event is ever delivered twice.
type dispatcher struct {
	mu       sync.RWMutex
	handlers domain.ChatHandlers
	gen      int
	logger   *slog.Logger
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	return &dispatcher{logger: logger}
}

func (d *dispatcher) register(h domain.ChatHandlers) func() {
	d.mu.Lock()
	d.gen++
	gen := d.gen
	d.handlers = h
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		// Only clear if a newer set has not replaced this one already.
		if d.gen == gen {
			d.handlers = domain.ChatHandlers{}
		}
	}
}

func (d *dispatcher) snapshot() domain.ChatHandlers {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers
}

// safeCall contains a panicking handler so one bad event cannot take down
// the read loop.
func (d *dispatcher) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panic", "event", name, "panic", r)
		}
	}()
	fn()
}

// decodePayload fills v from the frame payload. An absent payload is valid
// for notice-style events and leaves v at its zero value.
func (d *dispatcher) decodePayload(f frame, v any) bool {
	if len(f.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		d.logger.Warn("malformed event payload", "type", f.Type, "error", err)
		return false
	}
	return true
}

// dispatch routes one raw inbound frame to the registered handler, if any.
func (d *dispatcher) dispatch(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		d.logger.Warn("malformed frame", "error", err)
		return
	}

	h := d.snapshot()
	switch f.Type {
	case domain.KindConnected:
		// The client fires OnConnected itself on dial success; delivering
		// the server's echo as well would run the handler twice per connect.
		d.logger.Debug("dropping wire connected frame")
	case domain.KindDisconnected:
		var ev domain.DisconnectedEvent
		if d.decodePayload(f, &ev) && h.OnDisconnected != nil {
			d.safeCall("disconnected", func() { h.OnDisconnected(ev.Reason) })
		}
	case domain.KindError:
		var ev domain.ErrorEvent
		if d.decodePayload(f, &ev) && h.OnError != nil {
			d.safeCall("error", func() { h.OnError(ev) })
		}
	case domain.KindStateSynced:
		var ev domain.StateSyncedEvent
		if d.decodePayload(f, &ev) && h.OnStateSynced != nil {
			d.safeCall("state-synced", func() { h.OnStateSynced(ev) })
		}
	case domain.KindNewMessage:
		var msg domain.Message
		if d.decodePayload(f, &msg) && h.OnNewMessage != nil {
			d.safeCall("new-message", func() { h.OnNewMessage(msg) })
		}
	case domain.KindMessageSentAck:
		var msg domain.Message
		if d.decodePayload(f, &msg) && h.OnMessageSentAck != nil {
			d.safeCall("message-sent-ack", func() { h.OnMessageSentAck(msg) })
		}
	case domain.KindMessageRead:
		var ev domain.MessageReadEvent
		if d.decodePayload(f, &ev) && h.OnMessageRead != nil {
			d.safeCall("message-read", func() { h.OnMessageRead(ev) })
		}
	case domain.KindTyping:
		var ev domain.TypingEvent
		if d.decodePayload(f, &ev) && h.OnTyping != nil {
			d.safeCall("typing", func() { h.OnTyping(ev) })
		}
	case domain.KindConversationEvent:
		var patch domain.ConversationPatch
		if d.decodePayload(f, &patch) && h.OnConversationEvent != nil {
			d.safeCall("conversation-event", func() { h.OnConversationEvent(patch) })
		}
	case domain.KindServerShutdown:
		var ev domain.NoticeEvent
		if d.decodePayload(f, &ev) && h.OnServerShutdown != nil {
			d.safeCall("server-shutdown", func() { h.OnServerShutdown(ev) })
		}
	case domain.KindSyncRequired:
		var ev domain.NoticeEvent
		if d.decodePayload(f, &ev) && h.OnSyncRequired != nil {
			d.safeCall("sync-required", func() { h.OnSyncRequired(ev) })
		}
	default:
		d.logger.Debug("unknown event kind", "type", f.Type)
	}
}

// Local event helpers used by the client for connection lifecycle changes it
// observes itself (dial success, read errors).
func (d *dispatcher) connected() {
	if h := d.snapshot(); h.OnConnected != nil {
		d.safeCall("connected", h.OnConnected)
	}
}

func (d *dispatcher) disconnected(reason string) {
	if h := d.snapshot(); h.OnDisconnected != nil {
		d.safeCall("disconnected", func() { h.OnDisconnected(reason) })
	}
}

func (d *dispatcher) errorEvent(ev domain.ErrorEvent) {
	if h := d.snapshot(); h.OnError != nil {
		d.safeCall("error", func() { h.OnError(ev) })
	}
}
