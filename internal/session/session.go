// Package session owns the websocket lifecycle: dialing, the handshake
// sequence, keepalive, reconnect scheduling, and inbound-frame dispatch.
//
// Each connection attempt owns a generation token. Read loops, keepalive
// tickers, and reconnect timers all carry the generation they were started
// under and become inert once it is superseded, so a stale connection's
// callbacks can never corrupt the current session's state.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/novolei/HChat-sub000/internal/metrics"
	"github.com/novolei/HChat-sub000/internal/models"
)

// State is the connection state of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrNotConnected is returned when a frame write is requested without an
// open socket.
var ErrNotConnected = errors.New("session: not connected")

const (
	defaultReconnectDelay    = 3 * time.Second
	defaultKeepaliveInterval = 20 * time.Second

	// settleDelay lets the transport's send buffer stabilize between the
	// socket opening and the first handshake frames.
	defaultSettleDelay = 200 * time.Millisecond
)

// AckSink consumes delivery acknowledgments. Implemented by the queue.
type AckSink interface {
	HandleAck(ctx context.Context, id string, status models.DeliveryStatus)
}

// EventHandlers receives decoded inbound payloads. Nil fields are skipped.
// Handlers run on the read loop; they are the UI-facing projection and must
// never drive retries or dedup decisions.
type EventHandlers struct {
	OnMessage       func(*models.ChatMessage)
	OnPresence      func(*PresenceUpdate)
	OnNickChange    func(*NickChange)
	OnDirectMessage func(*DirectMessage)
	OnUserJoined    func(*UserEvent)
	OnUserLeft      func(*UserEvent)
	OnInfo          func(*Info)
}

// Params configures a Session. Zero durations select defaults.
type Params struct {
	Nick              string
	Room              string
	ReconnectDelay    time.Duration
	KeepaliveInterval time.Duration
	SettleDelay       time.Duration
	Handlers          EventHandlers
	Logger            zerolog.Logger
}

// Session manages one logical connection to the relay. Each reconnect
// supersedes the previous connection entirely rather than mutating it.
type Session struct {
	log               zerolog.Logger
	handlers          EventHandlers
	reconnectDelay    time.Duration
	keepaliveInterval time.Duration
	settleDelay       time.Duration
	dialer            *websocket.Dialer
	dedup             *dedupSet

	acks        AckSink
	onConnected func()

	mu     sync.Mutex
	state  State
	gen    int // current connection generation
	conn   *websocket.Conn
	cancel context.CancelFunc
	url    string
	nick   string
	room   string
	closed bool // user-initiated disconnect, terminal until next Connect

	writeMu sync.Mutex // gorilla allows one concurrent writer
}

// New creates a Session. Wire the queue afterwards with SetAckSink and
// SetOnConnected.
func New(p Params) *Session {
	if p.ReconnectDelay <= 0 {
		p.ReconnectDelay = defaultReconnectDelay
	}
	if p.KeepaliveInterval <= 0 {
		p.KeepaliveInterval = defaultKeepaliveInterval
	}
	if p.SettleDelay <= 0 {
		p.SettleDelay = defaultSettleDelay
	}
	return &Session{
		log:               p.Logger.With().Str("component", "session").Logger(),
		handlers:          p.Handlers,
		reconnectDelay:    p.ReconnectDelay,
		keepaliveInterval: p.KeepaliveInterval,
		settleDelay:       p.SettleDelay,
		dialer:            &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		dedup:             newDedupSet(),
		nick:              p.Nick,
		room:              p.Room,
	}
}

// SetAckSink routes inbound delivery acknowledgments to sink.
func (s *Session) SetAckSink(sink AckSink) { s.acks = sink }

// SetOnConnected registers a hook invoked after each successful handshake,
// used to trigger the queue's replay pass.
func (s *Session) SetOnConnected(fn func()) { s.onConnected = fn }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected implements queue.Transmitter.
func (s *Session) Connected() bool {
	return s.State() == Connected
}

// Connect dials url, runs the handshake (nick, join, who), and starts the
// read and keepalive loops. On a dial failure the next attempt is scheduled
// automatically with the configured delay.
func (s *Session) Connect(ctx context.Context, url string) error {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	s.state = Connecting
	s.url = url
	s.closed = false
	genCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.log.Debug().Str("url", url).Int("gen", gen).Msg("dialing")
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		s.connectionLost(gen, fmt.Errorf("dial: %w", err))
		return err
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		conn.Close()
		return nil // superseded while dialing
	}
	s.conn = conn
	s.mu.Unlock()

	// Let the transport's send buffer settle before the first frames.
	select {
	case <-time.After(s.settleDelay):
	case <-genCtx.Done():
		conn.Close()
		return nil
	}

	handshake := []controlFrame{
		{Type: "nick", Nick: s.currentNick()},
		{Type: "join", Room: s.currentRoom()},
		{Type: "who"},
	}
	for _, frame := range handshake {
		if err := s.writeJSON(gen, frame); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.state = Connected
	s.mu.Unlock()
	s.log.Info().Str("url", url).Msg("connected")

	go s.readLoop(genCtx, gen, conn)
	go s.keepaliveLoop(genCtx, gen)

	if s.onConnected != nil {
		s.onConnected()
	}
	return nil
}

// Disconnect closes the session on user request. Terminal: no reconnect is
// scheduled and the pending-message store is left untouched; delivery
// resumes on the next explicit Connect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.closed = true
	s.gen++ // invalidate every loop and timer of the current generation
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = Disconnected
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.log.Info().Msg("disconnected")
}

// TransmitMessage implements queue.Transmitter. The message ID enters the
// dedup set before the frame is written, so the relay's echo is recognized
// even if it races the write confirmation.
func (s *Session) TransmitMessage(_ context.Context, msg *models.ChatMessage) error {
	frame := chatFrame{
		Type:    "message",
		ID:      msg.ID,
		Room:    msg.Channel,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
	}
	if len(msg.Attachments) > 0 {
		frame.Attachment = &msg.Attachments[0]
	}

	s.dedup.add(msg.ID)
	return s.writeJSON(s.currentGen(), frame)
}

// SetNick announces a new nickname to the relay and uses it for future
// handshakes.
func (s *Session) SetNick(nick string) error {
	s.mu.Lock()
	s.nick = nick
	gen := s.gen
	s.mu.Unlock()
	return s.writeJSON(gen, controlFrame{Type: "nick", Nick: nick})
}

// Join switches rooms and uses the new room for future handshakes.
func (s *Session) Join(room string) error {
	s.mu.Lock()
	s.room = room
	gen := s.gen
	s.mu.Unlock()
	return s.writeJSON(gen, controlFrame{Type: "join", Room: room})
}

// SendDirectMessage sends a DM outside the delivery queue; DMs are
// fire-and-forget.
func (s *Session) SendDirectMessage(to, text string) error {
	return s.writeJSON(s.currentGen(), dmFrame{Type: "dm", To: to, Text: text})
}

func (s *Session) currentGen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Session) currentNick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nick
}

func (s *Session) currentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// writeJSON serializes v and writes it as one frame. Serialization is
// fallible and surfaces as a send error, never a panic. A socket write
// failure is the trigger for marking the session disconnected.
func (s *Session) writeJSON(gen int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	s.mu.Lock()
	if gen != s.gen || s.conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.Unlock()

	s.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		s.connectionLost(gen, err)
		return err
	}
	return nil
}

// connectionLost marks the session disconnected and schedules a reconnect,
// unless this generation was already superseded or the user disconnected.
func (s *Session) connectionLost(gen int, cause error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.gen++ // supersede the failed connection's loops and timers
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = Disconnected
	closed := s.closed
	url := s.url
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if closed {
		return
	}

	metrics.Reconnects.Inc()
	s.log.Warn().Err(cause).Dur("delay", s.reconnectDelay).Msg("connection lost, reconnect scheduled")

	// Fixed delay, no backoff.
	time.AfterFunc(s.reconnectDelay, func() {
		s.mu.Lock()
		stale := s.closed || s.state != Disconnected
		s.mu.Unlock()
		if stale {
			return
		}
		_ = s.Connect(context.Background(), url)
	})
}

func (s *Session) readLoop(ctx context.Context, gen int, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.connectionLost(gen, err)
			}
			return
		}
		s.mu.Lock()
		current := gen == s.gen
		s.mu.Unlock()
		if !current {
			return
		}
		s.dispatch(data)
	}
}

// keepaliveLoop issues a periodic presence poll. Best-effort: a failed
// keepalive write is logged and skipped, never a connection state change.
func (s *Session) keepaliveLoop(ctx context.Context, gen int) {
	ticker := time.NewTicker(s.keepaliveInterval)
	defer ticker.Stop()

	data, err := json.Marshal(controlFrame{Type: "who"})
	if err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			current := gen == s.gen && conn != nil
			s.mu.Unlock()
			if !current {
				return
			}

			s.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, data)
			s.writeMu.Unlock()
			if err != nil {
				s.log.Debug().Err(err).Msg("keepalive write failed")
				continue
			}
			metrics.Keepalives.Inc()
		}
	}
}
