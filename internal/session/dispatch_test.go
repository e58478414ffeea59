package session

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/novolei/HChat-sub000/internal/models"
)

type ackRecorder struct {
	mu   sync.Mutex
	acks []struct {
		id     string
		status models.DeliveryStatus
	}
}

func (a *ackRecorder) HandleAck(_ context.Context, id string, status models.DeliveryStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, struct {
		id     string
		status models.DeliveryStatus
	}{id, status})
}

func newDispatchSession(handlers EventHandlers) (*Session, *ackRecorder) {
	s := New(Params{Nick: "alice", Room: "lobby", Handlers: handlers, Logger: zerolog.Nop()})
	acks := &ackRecorder{}
	s.SetAckSink(acks)
	return s, acks
}

func TestDispatchChatMessage(t *testing.T) {
	var got []*models.ChatMessage
	s, _ := newDispatchSession(EventHandlers{
		OnMessage: func(m *models.ChatMessage) { got = append(got, m) },
	})

	s.dispatch([]byte(`{"type":"message","id":"m1","room":"lobby","sender":"bob","text":"hi","ts":123}`))
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].Sender != "bob" || got[0].Text != "hi" || got[0].Channel != "lobby" {
		t.Fatalf("unexpected message: %+v", got[0])
	}
}

func TestDispatchUntaggedFrameIsChat(t *testing.T) {
	var got []*models.ChatMessage
	s, _ := newDispatchSession(EventHandlers{
		OnMessage: func(m *models.ChatMessage) { got = append(got, m) },
	})

	s.dispatch([]byte(`{"id":"m2","room":"lobby","sender":"carol","text":"untagged"}`))
	if len(got) != 1 || got[0].Sender != "carol" {
		t.Fatalf("untagged frame not treated as chat: %v", got)
	}
}

func TestDispatchDropsOwnEchoEveryTime(t *testing.T) {
	var got []*models.ChatMessage
	s, _ := newDispatchSession(EventHandlers{
		OnMessage: func(m *models.ChatMessage) { got = append(got, m) },
	})

	// The session originated m1 (registered on transmit).
	s.dedup.add("m1")

	echo := []byte(`{"type":"message","id":"m1","room":"lobby","sender":"alice","text":"mine"}`)
	s.dispatch(echo)
	s.dispatch(echo)
	s.dispatch(echo)
	if len(got) != 0 {
		t.Fatalf("own echo reached the message handler %d times", len(got))
	}

	// A genuinely new inbound message still flows.
	s.dispatch([]byte(`{"type":"message","id":"m9","room":"lobby","sender":"bob","text":"new"}`))
	if len(got) != 1 {
		t.Fatalf("expected exactly the foreign message, got %d", len(got))
	}
}

func TestDispatchRoutesControlFrames(t *testing.T) {
	var presence *PresenceUpdate
	var dm *DirectMessage
	var joined, left *UserEvent
	var nick *NickChange
	var info *Info
	s, _ := newDispatchSession(EventHandlers{
		OnPresence:      func(p *PresenceUpdate) { presence = p },
		OnDirectMessage: func(d *DirectMessage) { dm = d },
		OnUserJoined:    func(e *UserEvent) { joined = e },
		OnUserLeft:      func(e *UserEvent) { left = e },
		OnNickChange:    func(n *NickChange) { nick = n },
		OnInfo:          func(i *Info) { info = i },
	})

	s.dispatch([]byte(`{"type":"presence","room":"lobby","users":["alice","bob"]}`))
	s.dispatch([]byte(`{"type":"dm","id":"d1","from":"bob","text":"psst"}`))
	s.dispatch([]byte(`{"type":"user_joined","room":"lobby","nick":"carol"}`))
	s.dispatch([]byte(`{"type":"user_left","room":"lobby","nick":"dave"}`))
	s.dispatch([]byte(`{"type":"nick_change","old":"dave","new":"eve"}`))
	s.dispatch([]byte(`{"type":"info","text":"motd"}`))

	if presence == nil || len(presence.Users) != 2 {
		t.Fatalf("presence not routed: %+v", presence)
	}
	if dm == nil || dm.From != "bob" {
		t.Fatalf("dm not routed: %+v", dm)
	}
	if joined == nil || joined.Nick != "carol" {
		t.Fatalf("user_joined not routed: %+v", joined)
	}
	if left == nil || left.Nick != "dave" {
		t.Fatalf("user_left not routed: %+v", left)
	}
	if nick == nil || nick.New != "eve" {
		t.Fatalf("nick_change not routed: %+v", nick)
	}
	if info == nil || info.Text != "motd" {
		t.Fatalf("info not routed: %+v", info)
	}
}

func TestDispatchForwardsAcks(t *testing.T) {
	s, acks := newDispatchSession(EventHandlers{})

	s.dispatch([]byte(`{"type":"message_ack","id":"m1"}`))
	s.dispatch([]byte(`{"type":"message_ack","id":"m2","status":"read"}`))
	s.dispatch([]byte(`{"type":"message_delivered","id":"m3"}`))

	acks.mu.Lock()
	defer acks.mu.Unlock()
	if len(acks.acks) != 3 {
		t.Fatalf("expected 3 acks, got %d", len(acks.acks))
	}
	if acks.acks[0].status != models.StatusDelivered {
		t.Fatalf("plain ack should map to delivered, got %s", acks.acks[0].status)
	}
	if acks.acks[1].id != "m2" || acks.acks[1].status != models.StatusRead {
		t.Fatalf("read receipt mis-mapped: %+v", acks.acks[1])
	}
	if acks.acks[2].status != models.StatusDelivered {
		t.Fatalf("message_delivered mis-mapped: %+v", acks.acks[2])
	}
}

func TestDispatchDropsGarbageSilently(t *testing.T) {
	var got int
	s, acks := newDispatchSession(EventHandlers{
		OnMessage: func(*models.ChatMessage) { got++ },
	})

	s.dispatch([]byte(`not json at all`))
	s.dispatch([]byte(`{"type":"wormhole","payload":42}`))
	s.dispatch([]byte(`{"type":"message","text":"missing id"}`))
	s.dispatch([]byte(`{"type":"message_ack"}`)) // ack without id

	if got != 0 {
		t.Fatalf("garbage reached the message handler %d times", got)
	}
	acks.mu.Lock()
	defer acks.mu.Unlock()
	if len(acks.acks) != 0 {
		t.Fatalf("garbage reached the ack sink: %+v", acks.acks)
	}
}
