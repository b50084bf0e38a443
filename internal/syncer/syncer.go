// Package syncer wires transport, throttler, room manager, and store
// together and encodes the cross-cutting policies: deduplicate inbound
// messages, throttle event bursts, and drive room membership from the
// caller's focus changes.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/domain"
	"chatsync/internal/metrics"
	"chatsync/internal/room"
	"chatsync/internal/throttle"
)

const defaultActivityInterval = 30 * time.Second

// Throttle keys; each gets its own budget.
const (
	keyNewMessage        = "new-message"
	keyConversationEvent = "conversation-event"
	keyTyping            = "typing"
)

// Config assembles a Syncer. Transport and Store are required; the rest is
// optional.
type Config struct {
	Transport domain.Transport
	Store     domain.ConversationStore

	// RoomChanges feeds desired-room updates from the routing layer. An
	// empty string clears focus. May be nil if the caller drives focus via
	// SetDesiredRoom instead.
	RoomChanges <-chan string

	// OnTyping receives typing indicators for the active room. Ephemeral:
	// never persisted.
	OnTyping func(domain.TypingEvent)

	Throttle throttle.Config

	// ActivityInterval paces the connectivity watchdog; a detected clock
	// jump (host slept) or a tick with the transport down triggers Wake.
	ActivityInterval time.Duration

	Logger *slog.Logger
}

// Syncer keeps the local store consistent with the remote event stream.
type Syncer struct {
	transport domain.Transport
	store     domain.ConversationStore
	rooms     *room.Manager
	throttler *throttle.Throttler
	onTyping  func(domain.TypingEvent)
	logger    *slog.Logger

	roomChanges      <-chan string
	activityInterval time.Duration

	mu      sync.Mutex
	unsub   func()
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// New builds a Syncer; call Start to connect and begin processing.
func New(cfg Config) *Syncer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ActivityInterval <= 0 {
		cfg.ActivityInterval = defaultActivityInterval
	}
	cfg.Throttle.Logger = cfg.Logger
	return &Syncer{
		transport:        cfg.Transport,
		store:            cfg.Store,
		rooms:            room.New(cfg.Transport, cfg.Store, cfg.Logger),
		throttler:        throttle.New(cfg.Throttle),
		onTyping:         cfg.OnTyping,
		logger:           cfg.Logger,
		roomChanges:      cfg.RoomChanges,
		activityInterval: cfg.ActivityInterval,
	}
}

// Start registers the single listener set, connects the transport, and
// launches the room-feed and activity watchers. Safe to call once.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.unsub = s.transport.RegisterChatListeners(s.handlers())
	s.mu.Unlock()

	s.transport.Connect(ctx)

	if s.roomChanges != nil {
		s.wg.Add(1)
		go s.watchRooms(ctx)
	}
	s.wg.Add(1)
	go s.watchActivity(ctx)
}

func (s *Syncer) handlers() domain.ChatHandlers {
	return domain.ChatHandlers{
		OnConnected: func() {
			// A resynced stream starts with a clean throttle budget.
			s.throttler.Reset()
			s.logger.Info("transport connected, throttle budget reset")
		},
		OnDisconnected: func(reason string) {
			s.logger.Warn("transport disconnected", "reason", reason)
		},
		OnError: func(ev domain.ErrorEvent) {
			s.logger.Error("transport error", "code", ev.Code, "message", ev.Message)
		},
		OnNewMessage:        s.handleNewMessage,
		OnMessageSentAck:    s.handleSentAck,
		OnMessageRead:       s.handleMessageRead,
		OnTyping:            s.handleTyping,
		OnConversationEvent: s.handleConversationEvent,
		OnStateSynced:       s.handleStateSynced,
		OnSyncRequired: func(domain.NoticeEvent) {
			s.logger.Info("server requested resync")
			s.transport.RequestSync()
		},
		OnServerShutdown: func(ev domain.NoticeEvent) {
			s.logger.Warn("server shutting down", "notice", ev.Message)
		},
	}
}

func (s *Syncer) handleNewMessage(msg domain.Message) {
	if msg.ID == "" {
		s.logger.Warn("dropping message without id", "conversation", msg.ConversationID)
		return
	}
	msg.ConversationID = domain.NormalizeConvID(msg.ConversationID)

	// Dedup before spending throttle budget: redelivery is routine after a
	// resync and must not starve genuinely new events.
	if s.store.HasMessage(msg.ID) {
		metrics.EventDeduplicated()
		return
	}

	ok := s.throttler.ProcessEvent(keyNewMessage, msg, func(v any) {
		m := v.(domain.Message)
		if m.Status == "" {
			m.Status = domain.StatusDelivered
		}
		s.store.AddMessage(m)
	})
	if ok {
		metrics.EventProcessed(keyNewMessage)
	} else {
		metrics.EventThrottled(keyNewMessage)
	}
}

func (s *Syncer) handleSentAck(msg domain.Message) {
	msg.ConversationID = domain.NormalizeConvID(msg.ConversationID)
	if msg.ID == "" {
		return
	}
	if s.store.HasMessage(msg.ID) {
		s.store.UpdateMessageStatus(msg.ConversationID, []string{msg.ID}, domain.StatusSent)
		return
	}
	// Ack for a message we never stored (sent from another tab/device of
	// the same session): insert it so the conversation stays coherent.
	msg.Direction = domain.DirectionOutbound
	msg.Status = domain.StatusSent
	s.store.AddMessage(msg)
}

func (s *Syncer) handleMessageRead(ev domain.MessageReadEvent) {
	s.store.UpdateMessageStatus(ev.ConversationID, ev.MessageIDs, domain.StatusRead)
}

func (s *Syncer) handleConversationEvent(patch domain.ConversationPatch) {
	ok := s.throttler.ProcessEvent(keyConversationEvent, patch, func(v any) {
		s.store.UpdateConversation(v.(domain.ConversationPatch))
	})
	if ok {
		metrics.EventProcessed(keyConversationEvent)
	} else {
		metrics.EventThrottled(keyConversationEvent)
	}
}

// handleTyping forwards indicators for the active room only. Messages for
// other rooms still land in the store (it is keyed by conversation id), but
// typing is active-room UI traffic and meaningless elsewhere.
func (s *Syncer) handleTyping(ev domain.TypingEvent) {
	if !s.throttler.ProcessEvent(keyTyping, ev, func(any) {}) {
		metrics.EventThrottled(keyTyping)
		return
	}
	metrics.EventProcessed(keyTyping)
	if s.onTyping == nil {
		return
	}
	ev.ConversationID = domain.NormalizeConvID(ev.ConversationID)
	if ev.ConversationID != s.rooms.Current() {
		return
	}
	s.onTyping(ev)
}

func (s *Syncer) handleStateSynced(ev domain.StateSyncedEvent) {
	s.logger.Info("state synced", "correlation", ev.CorrelationID,
		"conversations", len(ev.Conversations))
	// Merge rather than replace: events that raced the sync answer must not
	// be lost.
	for _, conv := range ev.Conversations {
		s.store.UpdateConversation(domain.ConversationPatch{
			ID:           conv.ID,
			Participants: conv.Participants,
			Status:       &conv.Status,
			UnreadCount:  &conv.UnreadCount,
			LastMessage:  &conv.LastMessage,
			LastActivity: &conv.LastActivity,
		})
	}
}

func (s *Syncer) watchRooms(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-s.roomChanges:
			if !ok {
				return
			}
			s.rooms.SetDesiredRoom(id)
		}
	}
}

// watchActivity is the headless stand-in for a browser visibilitychange
// listener: a wall-clock jump between ticks means the host was suspended,
// and any tick that finds the transport down triggers an immediate wake.
func (s *Syncer) watchActivity(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.activityInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			slept := now.Sub(last) > 2*s.activityInterval
			last = now
			if slept {
				s.logger.Info("clock jump detected, checking connection")
			}
			s.checkConnection()
		}
	}
}

// checkConnection wakes the transport when it is down. Exactly one wake per
// check; the transport's own attempt bounds still apply after that.
func (s *Syncer) checkConnection() {
	if !s.transport.IsConnected() {
		s.transport.Wake()
	}
}

// SetDesiredRoom moves conversation focus directly, for callers not using
// the RoomChanges feed.
func (s *Syncer) SetDesiredRoom(id string) {
	s.rooms.SetDesiredRoom(id)
}

// ActiveRoom returns the focused conversation ID, or "".
func (s *Syncer) ActiveRoom() string {
	return s.rooms.Current()
}

// Send queues an outgoing message and records it locally as pending so the
// UI shows it immediately; the server ack later flips it to sent. Returns
// the assigned message ID.
func (s *Syncer) Send(conversationID, content string) string {
	msg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: domain.NormalizeConvID(conversationID),
		Direction:      domain.DirectionOutbound,
		Content:        content,
		Timestamp:      time.Now(),
		Status:         domain.StatusPending,
	}
	s.store.AddMessage(msg)
	s.transport.SendMessage(domain.SendCommand{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Content:        content,
	})
	return msg.ID
}

// MarkRead reports read messages and zeroes the local unread counter.
func (s *Syncer) MarkRead(conversationID string, messageIDs []string) {
	s.transport.MarkRead(domain.MarkReadCommand{
		ConversationID: conversationID,
		MessageIDs:     messageIDs,
	})
	s.store.MarkAsRead(conversationID)
}

// Typing reports the viewer's typing state for the focused conversation.
func (s *Syncer) Typing(conversationID string, typing bool) {
	s.transport.Typing(conversationID, typing)
}

// ThrottleStats exposes the live throttle counters for debugging.
func (s *Syncer) ThrottleStats() map[string]throttle.Counts {
	return s.throttler.Stats()
}

// Close tears the sync layer down: unsubscribes the listener set, stops the
// watchers, and leaves the active room. The transport itself stays with its
// owner (the application root) and is closed there.
func (s *Syncer) Close() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	unsub := s.unsub
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	if unsub != nil {
		unsub()
	}
	s.rooms.Close()
}
