package domain

import "time"

// Direction says which side of the conversation produced a message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DeliveryStatus tracks a message through its lifecycle. A message is
// immutable once stored except for status transitions.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// Message belongs to exactly one conversation. The ID is globally unique,
// assigned by the sender or the server.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversationId"`
	Direction      Direction         `json:"direction"`
	Content        string            `json:"content"`
	Type           string            `json:"type,omitempty"` // text | image | file
	Metadata       map[string]string `json:"metadata,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         DeliveryStatus    `json:"status"`
}

// ConversationStatus is the workflow state of a conversation.
type ConversationStatus string

const (
	ConversationOpen    ConversationStatus = "open"
	ConversationClosed  ConversationStatus = "closed"
	ConversationPending ConversationStatus = "pending"
)

// Conversation holds the denormalized preview state the inbox renders from.
// The ID is always kept in decoded form; encoding happens only when a URL is
// built at a transport boundary.
type Conversation struct {
	ID            string             `json:"id"`
	Participants  []string           `json:"participants,omitempty"`
	Status        ConversationStatus `json:"status"`
	UnreadCount   int                `json:"unreadCount"`
	LastMessage   string             `json:"lastMessage,omitempty"`
	LastMessageID string             `json:"lastMessageId,omitempty"`
	LastActivity  time.Time          `json:"lastActivity"`
}

// ConversationPatch is a partial update merged into a stored conversation.
// Nil fields are left untouched.
type ConversationPatch struct {
	ID           string              `json:"id"`
	Participants []string            `json:"participants,omitempty"`
	Status       *ConversationStatus `json:"status,omitempty"`
	UnreadCount  *int                `json:"unreadCount,omitempty"`
	LastMessage  *string             `json:"lastMessage,omitempty"`
	LastActivity *time.Time          `json:"lastActivity,omitempty"`
}
