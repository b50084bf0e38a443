package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatsync/internal/domain"
	"chatsync/internal/store"
	"chatsync/internal/throttle"
)

// fakeTransport records commands and lets tests inject inbound events.
type fakeTransport struct {
	mu        sync.Mutex
	handlers  domain.ChatHandlers
	connected bool
	calls     []string
	wakes     int
	syncs     int
}

func (f *fakeTransport) Connect(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	f.calls = append(f.calls, "connect")
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) JoinConversation(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "join:"+id)
}

func (f *fakeTransport) LeaveConversation(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "leave:"+id)
}

func (f *fakeTransport) SendMessage(cmd domain.SendCommand) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "send:"+cmd.MessageID)
}

func (f *fakeTransport) Typing(id string, typing bool) {}

func (f *fakeTransport) MarkRead(cmd domain.MarkReadCommand) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "mark-read:"+cmd.ConversationID)
}

func (f *fakeTransport) RequestSync() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
}

func (f *fakeTransport) RegisterChatListeners(h domain.ChatHandlers) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handlers = domain.ChatHandlers{}
	}
}

func (f *fakeTransport) Wake() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakes++
	f.calls = append(f.calls, "wake")
}

func (f *fakeTransport) Close() {}

func (f *fakeTransport) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func newTestSyncer(t *testing.T, cfg Config) (*Syncer, *fakeTransport, *store.Store) {
	tr := &fakeTransport{}
	st := store.New(0, nil)
	cfg.Transport = tr
	cfg.Store = st
	s := New(cfg)
	s.Start(context.Background())
	t.Cleanup(s.Close)
	return s, tr, st
}

func inbound(id, conv, content string) domain.Message {
	return domain.Message{
		ID:             id,
		ConversationID: conv,
		Direction:      domain.DirectionInbound,
		Content:        content,
		Timestamp:      time.Now(),
	}
}

func TestSyncer_NewMessageLandsInStore(t *testing.T) {
	_, tr, st := newTestSyncer(t, Config{})

	tr.handlers.OnNewMessage(inbound("m1", "c1", "hi"))

	if got := len(st.Messages("c1")); got != 1 {
		t.Fatalf("messages = %d, want 1", got)
	}
	if st.Messages("c1")[0].Status != domain.StatusDelivered {
		t.Fatalf("status = %q, want delivered default", st.Messages("c1")[0].Status)
	}
}

func TestSyncer_DuplicateMessageDropped(t *testing.T) {
	_, tr, st := newTestSyncer(t, Config{})

	tr.handlers.OnNewMessage(inbound("m1", "c1", "hi"))
	tr.handlers.OnNewMessage(inbound("m1", "c1", "hi"))

	if got := len(st.Messages("c1")); got != 1 {
		t.Fatalf("messages = %d, want 1 after duplicate delivery", got)
	}
}

func TestSyncer_DedupBeforeThrottle(t *testing.T) {
	s, tr, st := newTestSyncer(t, Config{
		Throttle: throttle.Config{
			PerEvent: map[string]throttle.Limits{"new-message": {PerSecond: 2, Burst: 2}},
		},
	})

	// Two distinct messages exhaust the budget; duplicates in between must
	// not have consumed any of it.
	tr.handlers.OnNewMessage(inbound("m1", "c1", "a"))
	tr.handlers.OnNewMessage(inbound("m1", "c1", "a")) // dup, free
	tr.handlers.OnNewMessage(inbound("m1", "c1", "a")) // dup, free
	tr.handlers.OnNewMessage(inbound("m2", "c1", "b"))

	if got := len(st.Messages("c1")); got != 2 {
		t.Fatalf("messages = %d, want 2", got)
	}
	if stats := s.ThrottleStats()["new-message"]; stats.Dropped != 0 {
		t.Fatalf("dropped = %d, want 0", stats.Dropped)
	}
}

func TestSyncer_ThrottledMessagesAreLost(t *testing.T) {
	_, tr, st := newTestSyncer(t, Config{
		Throttle: throttle.Config{
			PerEvent: map[string]throttle.Limits{"new-message": {PerSecond: 2, Burst: 2}},
		},
	})

	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		tr.handlers.OnNewMessage(inbound(id, "c1", "x"))
	}

	if got := len(st.Messages("c1")); got != 2 {
		t.Fatalf("messages = %d, want 2 (rest throttled, not buffered)", got)
	}
}

func TestSyncer_ConversationEventMerges(t *testing.T) {
	_, tr, st := newTestSyncer(t, Config{})

	st.SetConversations([]domain.Conversation{{ID: "c1", UnreadCount: 4, LastMessage: "x"}})
	zero := 0
	tr.handlers.OnConversationEvent(domain.ConversationPatch{ID: "c1", UnreadCount: &zero})

	conv, _ := st.Conversation("c1")
	if conv.UnreadCount != 0 || conv.LastMessage != "x" {
		t.Fatalf("conv = %+v, want merged patch", conv)
	}
}

func TestSyncer_RoomTransitionOrder(t *testing.T) {
	s, tr, _ := newTestSyncer(t, Config{})

	s.SetDesiredRoom("a")
	s.SetDesiredRoom("b")

	want := []string{"connect", "join:a", "leave:a", "join:b"}
	got := tr.snapshot()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestSyncer_JoinMarksConversationRead(t *testing.T) {
	s, tr, st := newTestSyncer(t, Config{})

	tr.handlers.OnNewMessage(inbound("m1", "c1", "hi"))
	s.SetDesiredRoom("c1")

	conv, _ := st.Conversation("c1")
	if conv.UnreadCount != 0 {
		t.Fatalf("unread = %d, want 0 after joining the room", conv.UnreadCount)
	}
}

func TestSyncer_OffRoomMessagesStillStored(t *testing.T) {
	s, tr, st := newTestSyncer(t, Config{})

	s.SetDesiredRoom("focused")
	tr.handlers.OnNewMessage(inbound("m1", "elsewhere", "bg"))

	if got := len(st.Messages("elsewhere")); got != 1 {
		t.Fatalf("messages = %d; events for left/unfocused rooms keep the store warm", got)
	}
}

func TestSyncer_TypingOnlyForActiveRoom(t *testing.T) {
	var got []domain.TypingEvent
	s, tr, _ := newTestSyncer(t, Config{
		OnTyping: func(ev domain.TypingEvent) { got = append(got, ev) },
	})

	s.SetDesiredRoom("c1")
	tr.handlers.OnTyping(domain.TypingEvent{ConversationID: "c1", IsTyping: true})
	tr.handlers.OnTyping(domain.TypingEvent{ConversationID: "c2", IsTyping: true})

	if len(got) != 1 || got[0].ConversationID != "c1" {
		t.Fatalf("typing events = %v, want only the active room", got)
	}
}

func TestSyncer_WakeWhenDisconnected(t *testing.T) {
	s, tr, _ := newTestSyncer(t, Config{})

	tr.mu.Lock()
	tr.connected = false
	tr.mu.Unlock()

	s.checkConnection()

	if tr.wakes != 1 {
		t.Fatalf("wakes = %d, want exactly 1", tr.wakes)
	}
}

func TestSyncer_NoWakeWhileConnected(t *testing.T) {
	s, tr, _ := newTestSyncer(t, Config{})

	s.checkConnection()

	if tr.wakes != 0 {
		t.Fatalf("wakes = %d, want 0 while connected", tr.wakes)
	}
}

func TestSyncer_SyncRequiredTriggersResync(t *testing.T) {
	_, tr, _ := newTestSyncer(t, Config{})

	tr.handlers.OnSyncRequired(domain.NoticeEvent{})

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.syncs != 1 {
		t.Fatalf("sync requests = %d, want 1", tr.syncs)
	}
}

func TestSyncer_StateSyncedMergesConversations(t *testing.T) {
	_, tr, st := newTestSyncer(t, Config{})

	tr.handlers.OnNewMessage(inbound("m1", "c1", "live"))
	tr.handlers.OnStateSynced(domain.StateSyncedEvent{
		CorrelationID: "x",
		Conversations: []domain.Conversation{
			{ID: "c1", Status: domain.ConversationPending, UnreadCount: 2},
			{ID: "c2", Status: domain.ConversationOpen},
		},
	})

	c1, _ := st.Conversation("c1")
	if c1.Status != domain.ConversationPending {
		t.Fatalf("c1 status = %q", c1.Status)
	}
	if len(st.Messages("c1")) != 1 {
		t.Fatal("merge must not drop messages that raced the sync")
	}
	if _, ok := st.Conversation("c2"); !ok {
		t.Fatal("synced conversation c2 should be created")
	}
}

func TestSyncer_SentAckFlipsPendingToSent(t *testing.T) {
	s, tr, st := newTestSyncer(t, Config{})

	id := s.Send("c1", "hello")
	if st.Messages("c1")[0].Status != domain.StatusPending {
		t.Fatal("optimistic insert should be pending")
	}

	tr.handlers.OnMessageSentAck(domain.Message{ID: id, ConversationID: "c1", Content: "hello"})

	if got := st.Messages("c1")[0].Status; got != domain.StatusSent {
		t.Fatalf("status = %q, want sent", got)
	}
	if len(st.Messages("c1")) != 1 {
		t.Fatal("ack must not duplicate the message")
	}
}

func TestSyncer_MessageReadUpdatesStatus(t *testing.T) {
	_, tr, st := newTestSyncer(t, Config{})

	tr.handlers.OnNewMessage(inbound("m1", "c1", "a"))
	tr.handlers.OnMessageRead(domain.MessageReadEvent{
		ConversationID: "c1",
		MessageIDs:     []string{"m1"},
	})

	if got := st.Messages("c1")[0].Status; got != domain.StatusRead {
		t.Fatalf("status = %q, want read", got)
	}
}

func TestSyncer_RoomFeedDrivesTransitions(t *testing.T) {
	feed := make(chan string, 2)
	s, tr, _ := newTestSyncer(t, Config{RoomChanges: feed})

	feed <- "a"
	deadline := time.Now().Add(2 * time.Second)
	for s.ActiveRoom() != "a" {
		if time.Now().After(deadline) {
			t.Fatalf("room never became a; calls %v", tr.snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSyncer_CloseLeavesActiveRoom(t *testing.T) {
	tr := &fakeTransport{}
	st := store.New(0, nil)
	s := New(Config{Transport: tr, Store: st})
	s.Start(context.Background())

	s.SetDesiredRoom("a")
	s.Close()

	calls := tr.snapshot()
	if calls[len(calls)-1] != "leave:a" {
		t.Fatalf("calls = %v, want trailing leave:a", calls)
	}
}
