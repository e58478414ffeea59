package session

import (
	"context"
	"encoding/json"

	"github.com/novolei/HChat-sub000/internal/metrics"
	"github.com/novolei/HChat-sub000/internal/models"
)

// dispatch classifies one inbound frame and forwards the decoded payload to
// the relevant consumer. Malformed frames and unrecognized discriminants are
// dropped silently: no user-visible error, no retry.
func (s *Session) dispatch(data []byte) {
	var probe struct {
		Type string `json:"type"`
		Cmd  string `json:"cmd"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		s.log.Debug().Err(err).Msg("dropping malformed frame")
		return
	}
	kind := probe.Type
	if kind == "" {
		kind = probe.Cmd
	}

	switch kind {
	case "", "message":
		s.handleChat(data)

	case "presence":
		var p PresenceUpdate
		if !s.decode(data, &p) {
			return
		}
		if h := s.handlers.OnPresence; h != nil {
			h(&p)
		}

	case "nick_change":
		var n NickChange
		if !s.decode(data, &n) {
			return
		}
		if h := s.handlers.OnNickChange; h != nil {
			h(&n)
		}

	case "dm":
		var d DirectMessage
		if !s.decode(data, &d) {
			return
		}
		if h := s.handlers.OnDirectMessage; h != nil {
			h(&d)
		}

	case "user_joined":
		var e UserEvent
		if !s.decode(data, &e) {
			return
		}
		if h := s.handlers.OnUserJoined; h != nil {
			h(&e)
		}

	case "user_left":
		var e UserEvent
		if !s.decode(data, &e) {
			return
		}
		if h := s.handlers.OnUserLeft; h != nil {
			h(&e)
		}

	case "info":
		var i Info
		if !s.decode(data, &i) {
			return
		}
		if h := s.handlers.OnInfo; h != nil {
			h(&i)
		}

	case "message_ack":
		var a ackFrame
		if !s.decode(data, &a) || a.ID == "" {
			return
		}
		s.forwardAck(a.ID, a.Status, models.StatusDelivered)

	case "message_delivered":
		var a ackFrame
		if !s.decode(data, &a) || a.ID == "" {
			return
		}
		s.forwardAck(a.ID, a.Status, models.StatusDelivered)

	default:
		metrics.FramesDropped.WithLabelValues("unknown_type").Inc()
	}
}

// handleChat delivers an inbound chat message, dropping the relay's echo of
// a message this session originated.
func (s *Session) handleChat(data []byte) {
	var f chatFrame
	if !s.decode(data, &f) {
		return
	}
	if f.ID == "" {
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		return
	}

	if s.dedup.takeOwn(f.ID) {
		// Our own message echoed back; the optimistic copy is already
		// displayed.
		metrics.FramesDropped.WithLabelValues("echo").Inc()
		return
	}

	msg := &models.ChatMessage{
		ID:        f.ID,
		Channel:   f.Room,
		Sender:    f.Sender,
		Text:      f.Text,
		Timestamp: f.Timestamp,
		ReplyTo:   f.ReplyTo,
	}
	if f.Attachment != nil {
		msg.Attachments = []models.Attachment{*f.Attachment}
	}
	if h := s.handlers.OnMessage; h != nil {
		h(msg)
	}
}

func (s *Session) forwardAck(id, status string, fallback models.DeliveryStatus) {
	if s.acks == nil {
		return
	}
	mapped := fallback
	switch status {
	case "delivered":
		mapped = models.StatusDelivered
	case "read":
		mapped = models.StatusRead
	}
	s.acks.HandleAck(context.Background(), id, mapped)
}

func (s *Session) decode(data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		s.log.Debug().Err(err).Msg("dropping malformed frame")
		return false
	}
	return true
}
