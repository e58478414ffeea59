package session

import "github.com/novolei/HChat-sub000/internal/models"

// Wire protocol: UTF-8 JSON, one object per websocket frame, discriminated
// by a "type" field (older relays use "cmd").

// chatFrame is the outbound chat send and the default inbound frame shape.
type chatFrame struct {
	Type       string             `json:"type"`
	ID         string             `json:"id"`
	Room       string             `json:"room"`
	Sender     string             `json:"sender,omitempty"`
	Text       string             `json:"text"`
	Timestamp  int64              `json:"ts,omitempty"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
	ReplyTo    *models.ReplyRef   `json:"replyTo,omitempty"`
}

// controlFrame covers the handshake and presence frames: nick, join, who.
type controlFrame struct {
	Type string `json:"type"`
	Nick string `json:"nick,omitempty"`
	Room string `json:"room,omitempty"`
}

// dmFrame carries a direct message in either direction.
type dmFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Text      string `json:"text"`
	Timestamp int64  `json:"ts,omitempty"`
}

// ackFrame is a delivery acknowledgment for a locally-originated message.
type ackFrame struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// PresenceUpdate lists the users currently present in a room.
type PresenceUpdate struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

// NickChange announces that a user renamed themselves.
type NickChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// DirectMessage is an inbound DM delivered to this client.
type DirectMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Text      string `json:"text"`
	Timestamp int64  `json:"ts"`
}

// UserEvent announces a user joining or leaving a room.
type UserEvent struct {
	Room string `json:"room"`
	Nick string `json:"nick"`
}

// Info is an out-of-band notice from the relay.
type Info struct {
	Text string `json:"text"`
}
