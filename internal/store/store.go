// Package store is the client-side source of truth for conversations and
// their messages. The UI layer reads snapshots; the sync layer mutates it
// through the operations below. Every operation is synchronous and leaves the
// store in a fully consistent state before returning.
package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"chatsync/internal/domain"
)

const defaultMaxMessages = 500

// Store keeps everything in memory. Conversations are never evicted;
// per-conversation message lists are capped and drop their oldest entries on
// overflow, so the memory bound is maxMessages * conversations.
type Store struct {
	mu     sync.RWMutex
	logger *slog.Logger

	maxMessages   int
	conversations map[string]*domain.Conversation
	messages      map[string][]domain.Message
	seen          map[string]string // message ID -> conversation ID
}

// New builds an empty store. maxMessagesPerConversation <= 0 selects the
// default cap.
func New(maxMessagesPerConversation int, logger *slog.Logger) *Store {
	if maxMessagesPerConversation <= 0 {
		maxMessagesPerConversation = defaultMaxMessages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:        logger,
		maxMessages:   maxMessagesPerConversation,
		conversations: map[string]*domain.Conversation{},
		messages:      map[string][]domain.Message{},
		seen:          map[string]string{},
	}
}

// SetConversations replaces the conversation list, typically from the
// initial REST fetch. Message lists for surviving conversations are kept.
func (s *Store) SetConversations(convs []domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string]*domain.Conversation, len(convs))
	for _, c := range convs {
		c.ID = domain.NormalizeConvID(c.ID)
		cp := c
		s.conversations[c.ID] = &cp
	}
}

// UpdateConversation merges a partial update into the matching conversation.
// Unknown IDs create the conversation: live events can outrun the initial
// fetch and must not be lost.
func (s *Store) UpdateConversation(patch domain.ConversationPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := domain.NormalizeConvID(patch.ID)
	if id == "" {
		return
	}
	conv, ok := s.conversations[id]
	if !ok {
		conv = &domain.Conversation{ID: id, Status: domain.ConversationOpen}
		s.conversations[id] = conv
	}
	if patch.Participants != nil {
		conv.Participants = patch.Participants
	}
	if patch.Status != nil {
		conv.Status = *patch.Status
	}
	if patch.UnreadCount != nil {
		conv.UnreadCount = *patch.UnreadCount
	}
	if patch.LastMessage != nil {
		conv.LastMessage = *patch.LastMessage
	}
	if patch.LastActivity != nil {
		conv.LastActivity = *patch.LastActivity
	}
}

// AddMessage appends a message to its conversation. Inserting an ID that is
// already present is a no-op, which makes duplicate wire delivery harmless.
// Reports whether the message was inserted.
func (s *Store) AddMessage(msg domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		return false
	}
	if _, dup := s.seen[msg.ID]; dup {
		return false
	}
	convID := domain.NormalizeConvID(msg.ConversationID)
	if convID == "" {
		return false
	}
	msg.ConversationID = convID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	list := append(s.messages[convID], msg)
	if len(list) > s.maxMessages {
		evicted := list[:len(list)-s.maxMessages]
		for _, old := range evicted {
			delete(s.seen, old.ID)
		}
		list = list[len(list)-s.maxMessages:]
		s.logger.Debug("evicted oldest messages", "conversation", convID, "count", len(evicted))
	}
	s.messages[convID] = list
	s.seen[msg.ID] = convID

	conv, ok := s.conversations[convID]
	if !ok {
		conv = &domain.Conversation{ID: convID, Status: domain.ConversationOpen}
		s.conversations[convID] = conv
	}
	conv.LastMessage = msg.Content
	conv.LastMessageID = msg.ID
	conv.LastActivity = msg.Timestamp
	if msg.Direction == domain.DirectionInbound {
		conv.UnreadCount++
	}
	return true
}

// HasMessage reports whether a message ID has been stored already. The sync
// layer uses it to dedup before spending throttle budget.
func (s *Store) HasMessage(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[id]
	return ok
}

// SetMessagesForConversation replaces a conversation's message list wholesale
// after a historical fetch.
func (s *Store) SetMessagesForConversation(id string, msgs []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	convID := domain.NormalizeConvID(id)
	if convID == "" {
		return
	}
	for _, old := range s.messages[convID] {
		delete(s.seen, old.ID)
	}
	if len(msgs) > s.maxMessages {
		msgs = msgs[len(msgs)-s.maxMessages:]
	}
	list := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if _, dup := s.seen[m.ID]; dup {
			continue
		}
		m.ConversationID = convID
		list = append(list, m)
		s.seen[m.ID] = convID
	}
	s.messages[convID] = list

	if len(list) > 0 {
		last := list[len(list)-1]
		conv, ok := s.conversations[convID]
		if !ok {
			conv = &domain.Conversation{ID: convID, Status: domain.ConversationOpen}
			s.conversations[convID] = conv
		}
		conv.LastMessage = last.Content
		conv.LastMessageID = last.ID
		if last.Timestamp.After(conv.LastActivity) {
			conv.LastActivity = last.Timestamp
		}
	}
}

// MarkAsRead zeroes the unread counter. Message-level read status is driven
// separately by message-read events.
func (s *Store) MarkAsRead(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[domain.NormalizeConvID(id)]; ok {
		conv.UnreadCount = 0
	}
}

// UpdateMessageStatus applies a delivery-status transition to the given
// messages. Unknown IDs are skipped.
func (s *Store) UpdateMessageStatus(conversationID string, messageIDs []string, status domain.DeliveryStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	convID := domain.NormalizeConvID(conversationID)
	list := s.messages[convID]
	if len(list) == 0 {
		return
	}
	want := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
	}
	for i := range list {
		if want[list[i].ID] {
			list[i].Status = status
		}
	}
}

// Conversations returns a snapshot sorted by most recent activity first.
func (s *Store) Conversations() []domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Conversation returns a copy of one conversation by decoded or encoded ID.
func (s *Store) Conversation(id string) (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[domain.NormalizeConvID(id)]
	if !ok {
		return domain.Conversation{}, false
	}
	return *c, true
}

// Messages returns a copy of a conversation's message list in insertion
// order.
func (s *Store) Messages(id string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[domain.NormalizeConvID(id)]
	out := make([]domain.Message, len(list))
	copy(out, list)
	return out
}

// Size reports conversation and total message counts, for metrics gauges.
func (s *Store) Size() (conversations, messages int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations), len(s.seen)
}
