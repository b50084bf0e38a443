package domain

import "time"

// EventKind discriminates the closed set of wire events. Inbound payloads are
// decoded into one of the typed structs below at the transport boundary;
// frames with an unknown kind or a malformed payload are logged and dropped.
type EventKind string

// Outbound command kinds.
const (
	KindJoinRoom    EventKind = "join-room"
	KindLeaveRoom   EventKind = "leave-room"
	KindSyncRequest EventKind = "sync-request"
	KindSendMessage EventKind = "send-message"
	KindTypingStart EventKind = "typing-start"
	KindTypingStop  EventKind = "typing-stop"
	KindMarkRead    EventKind = "mark-read"
)

// Inbound event kinds.
const (
	KindConnected         EventKind = "connected"
	KindDisconnected      EventKind = "disconnected"
	KindError             EventKind = "error"
	KindStateSynced       EventKind = "state-synced"
	KindNewMessage        EventKind = "new-message"
	KindMessageSentAck    EventKind = "message-sent-ack"
	KindMessageRead       EventKind = "message-read"
	KindTyping            EventKind = "typing"
	KindConversationEvent EventKind = "conversation-event"
	KindServerShutdown    EventKind = "server-shutdown"
	KindSyncRequired      EventKind = "sync-required"
)

// RoomCommand addresses a single conversation room.
type RoomCommand struct {
	ConversationID string `json:"conversationId"`
}

// SyncRequest asks the server to reconcile state the client may have missed.
// The correlation ID is fresh on every (re)connect.
type SyncRequest struct {
	CorrelationID string    `json:"correlationId"`
	Since         time.Time `json:"since"`
}

// SendCommand carries an outgoing message.
type SendCommand struct {
	ConversationID string            `json:"conversationId"`
	MessageID      string            `json:"messageId"`
	Content        string            `json:"content"`
	Type           string            `json:"type,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// MarkReadCommand reports messages the viewer has read.
type MarkReadCommand struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds,omitempty"`
}

// DisconnectedEvent reports why the server or transport dropped the link.
type DisconnectedEvent struct {
	Reason string `json:"reason"`
}

// ErrorEvent surfaces a transport or server-side failure. Connectivity
// errors are delivered through this event, never returned from commands.
type ErrorEvent struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// StateSyncedEvent answers a SyncRequest with the server's current view.
type StateSyncedEvent struct {
	CorrelationID string         `json:"correlationId"`
	Conversations []Conversation `json:"conversations,omitempty"`
}

// MessageReadEvent marks messages as read by the remote party.
type MessageReadEvent struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// TypingEvent is an ephemeral indicator, never persisted.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

// NoticeEvent carries server-shutdown and sync-required notices.
type NoticeEvent struct {
	Message string `json:"message,omitempty"`
}
