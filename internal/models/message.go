package models

// DeliveryStatus tracks a message through the delivery state machine:
// sending -> sent -> delivered -> read, with failed as the terminal state for
// messages that exhaust their retry budget.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// Resolved reports whether delivery is finished and the pending record can be
// dropped from persistence.
func (s DeliveryStatus) Resolved() bool {
	return s == StatusDelivered || s == StatusRead
}

// ReplyRef points at the message being replied to.
type ReplyRef struct {
	ID     string `json:"id"`
	Sender string `json:"sender,omitempty"`
	Text   string `json:"text,omitempty"`
}

// ChatMessage represents one chat message. Everything except Status and
// RetryCount is immutable after creation; those two fields are owned
// exclusively by the delivery queue.
type ChatMessage struct {
	ID          string       `json:"id"` // ULID, client-generated
	Channel     string       `json:"room"`
	Sender      string       `json:"sender"`
	Text        string       `json:"text"`
	Timestamp   int64        `json:"ts"` // Unix ms
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyTo     *ReplyRef    `json:"replyTo,omitempty"`

	Status     DeliveryStatus `json:"-"`
	RetryCount int            `json:"-"`
}
