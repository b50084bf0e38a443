package domain

import "context"

// TokenSource supplies the bearer credential at the moment it is needed,
// so a token refreshed between reconnects takes effect. An empty string
// means "connect unauthenticated and let the server reject".
type TokenSource func() string

// ChatHandlers is the single set of inbound event callbacks the transport
// delivers to. Nil fields are simply skipped.
type ChatHandlers struct {
	OnConnected         func()
	OnDisconnected      func(reason string)
	OnError             func(ErrorEvent)
	OnStateSynced       func(StateSyncedEvent)
	OnNewMessage        func(Message)
	OnMessageSentAck    func(Message)
	OnMessageRead       func(MessageReadEvent)
	OnTyping            func(TypingEvent)
	OnConversationEvent func(ConversationPatch)
	OnServerShutdown    func(NoticeEvent)
	OnSyncRequired      func(NoticeEvent)
}

// Transport owns the single live connection to the real-time backend.
// Commands are fire-and-forget: while disconnected they are queued (bounded)
// and flushed after reconnect; they never block and never return errors.
// Failures surface through the error/disconnected handlers instead.
type Transport interface {
	// Connect is idempotent; calling while connected or connecting is a
	// no-op. Dial errors are reported via OnError, not returned.
	Connect(ctx context.Context)
	IsConnected() bool

	JoinConversation(id string)
	LeaveConversation(id string)
	SendMessage(cmd SendCommand)
	Typing(conversationID string, typing bool)
	MarkRead(cmd MarkReadCommand)
	RequestSync()

	// RegisterChatListeners installs handlers, replacing any previous set so
	// events are never delivered twice. The returned func unsubscribes.
	RegisterChatListeners(h ChatHandlers) func()

	// Wake forces an immediate reconnect attempt if the transport is down,
	// resetting the bounded-attempt counter. Wired to activity/visibility
	// signals.
	Wake()

	Close()
}

// RoomCommander is the slice of Transport the room manager is allowed to
// touch: it issues commands but never registers listeners.
type RoomCommander interface {
	JoinConversation(id string)
	LeaveConversation(id string)
}

// ConversationStore is the mutation surface the sync layer drives. All
// operations are synchronous and atomic from the caller's view.
type ConversationStore interface {
	SetConversations(convs []Conversation)
	UpdateConversation(patch ConversationPatch)
	AddMessage(msg Message) bool
	HasMessage(id string) bool
	SetMessagesForConversation(id string, msgs []Message)
	MarkAsRead(id string)
	UpdateMessageStatus(conversationID string, messageIDs []string, status DeliveryStatus)
}
