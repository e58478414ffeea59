// Package queue implements the reliable message delivery queue. It decouples
// "the user asked to send X" from "X was written to the socket": every
// outbound message is persisted first, transmitted when the session allows,
// replayed after reconnects, and resolved by delivery acknowledgments.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/novolei/HChat-sub000/internal/metrics"
	"github.com/novolei/HChat-sub000/internal/models"
	"github.com/novolei/HChat-sub000/internal/store"
)

// DefaultMaxAttempts is the transmission ceiling before a message is marked
// failed.
const DefaultMaxAttempts = 5

// Transmitter writes outbound chat frames to the relay. Implemented by the
// session manager.
type Transmitter interface {
	// Connected reports whether a transmission can be attempted right now.
	Connected() bool

	// TransmitMessage writes one chat frame to the socket.
	TransmitMessage(ctx context.Context, msg *models.ChatMessage) error
}

// Queue is the reliable delivery queue. All record mutation funnels through
// one mutex so retry bookkeeping and status transitions never race.
type Queue struct {
	store       store.PendingStore
	tx          Transmitter
	log         zerolog.Logger
	maxAttempts int
	onStatus    func(id string, status models.DeliveryStatus)

	mu     sync.Mutex // serializes all record mutation (single-writer discipline)
	failed map[string]*models.ChatMessage

	replayMu  sync.Mutex // guards replaying only, so the in-flight check never blocks on mu
	replaying bool
}

// New creates a queue over the given store and transmitter.
func New(st store.PendingStore, tx Transmitter, logger zerolog.Logger, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		store:       st,
		tx:          tx,
		log:         logger.With().Str("component", "queue").Logger(),
		maxAttempts: maxAttempts,
		failed:      make(map[string]*models.ChatMessage),
	}
}

// OnStatus registers a callback for user-visible status changes. The
// callback feeds a display projection only; it must never drive a retry or a
// dedup decision.
func (q *Queue) OnStatus(fn func(id string, status models.DeliveryStatus)) {
	q.onStatus = fn
}

// Send persists msg and attempts transmission if the session is connected.
// It returns once the record is durable; delivery itself is resolved later
// by acknowledgments. The caller already holds an optimistic copy to
// display.
func (q *Queue) Send(ctx context.Context, msg *models.ChatMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	msg.Status = models.StatusSending
	msg.RetryCount = 0

	if err := q.store.Put(ctx, msg); err != nil {
		return err
	}
	delete(q.failed, msg.ID)
	metrics.MessagesSubmitted.Inc()
	q.updateGauge(ctx)

	q.attempt(ctx, msg)
	return nil
}

// Retry re-submits a message that previously failed. Explicit user action is
// the only way back from the failed state; the retry budget starts fresh.
func (q *Queue) Retry(ctx context.Context, msg *models.ChatMessage) error {
	return q.Send(ctx, msg)
}

// RetryFailed re-submits every message that exhausted its budget, returning
// how many were re-queued. Failed messages are retained in memory only;
// restarting the process drops them.
func (q *Queue) RetryFailed(ctx context.Context) int {
	q.mu.Lock()
	msgs := make([]*models.ChatMessage, 0, len(q.failed))
	for _, msg := range q.failed {
		msgs = append(msgs, msg)
	}
	q.mu.Unlock()

	for _, msg := range msgs {
		if err := q.Retry(ctx, msg); err != nil {
			q.log.Error().Err(err).Str("id", msg.ID).Msg("retrying failed message")
		}
	}
	return len(msgs)
}

// RetryAll replays every still-pending record, in persistence order. Invoked
// once per successful reconnect; idempotent under overlapping invocations:
// a call while a pass is already running is a no-op, so duplicate reconnect
// events never double-transmit.
func (q *Queue) RetryAll(ctx context.Context) {
	q.replayMu.Lock()
	if q.replaying {
		q.replayMu.Unlock()
		return
	}
	q.replaying = true
	q.replayMu.Unlock()

	defer func() {
		q.replayMu.Lock()
		q.replaying = false
		q.replayMu.Unlock()
	}()

	pending, err := q.store.ListPending(ctx)
	if err != nil {
		q.log.Error().Err(err).Msg("loading pending messages failed")
		return
	}
	q.log.Debug().Int("pending", len(pending)).Msg("replaying pending messages")
	for _, msg := range pending {
		q.mu.Lock()
		q.attempt(ctx, msg)
		q.mu.Unlock()
	}

	q.mu.Lock()
	q.updateGauge(ctx)
	q.mu.Unlock()
}

// HandleAck moves a record's status forward on a delivery acknowledgment.
// Reaching delivered or read resolves the record and deletes it from
// persistence; later or duplicate acks for the same ID are no-ops.
func (q *Queue) HandleAck(ctx context.Context, id string, status models.DeliveryStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg, err := q.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return // already resolved or never ours
	}
	if err != nil {
		q.log.Error().Err(err).Str("id", id).Msg("loading record for ack failed")
		return
	}
	if !statusAdvances(msg.Status, status) {
		return
	}

	if status.Resolved() {
		if err := q.store.Delete(ctx, id); err != nil {
			q.log.Error().Err(err).Str("id", id).Msg("deleting resolved record failed")
			return
		}
	} else {
		msg.Status = status
		if err := q.store.Update(ctx, msg); err != nil {
			q.log.Error().Err(err).Str("id", id).Msg("persisting ack failed")
			return
		}
	}
	q.updateGauge(ctx)
	q.notify(id, status)
}

// PendingCount reports how many records await resolution.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	return q.store.Count(ctx)
}

// attempt performs one transmission cycle for a pending record. Callers hold
// q.mu. Attempts made while disconnected are skipped without consuming retry
// budget; only transmitted-but-unacknowledged cycles count, so mere
// connectivity gaps never starve a message's budget.
func (q *Queue) attempt(ctx context.Context, msg *models.ChatMessage) {
	if !q.tx.Connected() {
		return
	}
	if msg.RetryCount >= q.maxAttempts {
		q.fail(ctx, msg)
		return
	}

	// Bookkeeping is persisted before the write, so a crash between attempt
	// and persist cannot under-count retries.
	msg.RetryCount++
	msg.Status = models.StatusSending
	if err := q.store.Update(ctx, msg); err != nil {
		q.log.Error().Err(err).Str("id", msg.ID).Msg("persisting attempt failed")
		return
	}
	if msg.RetryCount > 1 {
		metrics.TransmitRetries.Inc()
	}

	if err := q.tx.TransmitMessage(ctx, msg); err != nil {
		// The record stays pending and is replayed on the next reconnect.
		q.log.Warn().Err(err).Str("id", msg.ID).Int("attempt", msg.RetryCount).Msg("transmit failed")
		return
	}

	msg.Status = models.StatusSent
	if err := q.store.Update(ctx, msg); err != nil {
		q.log.Error().Err(err).Str("id", msg.ID).Msg("persisting sent status failed")
	}
	q.notify(msg.ID, models.StatusSent)
}

// fail terminates a record that exhausted its budget. Failed is terminal and
// user-visible; only an explicit Retry or RetryFailed re-enters sending. The
// message content is kept in memory so the explicit retry has something to
// resend once the persisted record is gone.
func (q *Queue) fail(ctx context.Context, msg *models.ChatMessage) {
	if err := q.store.Delete(ctx, msg.ID); err != nil {
		q.log.Error().Err(err).Str("id", msg.ID).Msg("deleting failed record failed")
		return
	}
	retained := *msg
	q.failed[msg.ID] = &retained
	metrics.MessagesFailed.Inc()
	q.updateGauge(ctx)
	q.log.Warn().Str("id", msg.ID).Int("attempts", msg.RetryCount).Msg("message failed permanently")
	q.notify(msg.ID, models.StatusFailed)
}

func (q *Queue) notify(id string, status models.DeliveryStatus) {
	if q.onStatus != nil {
		q.onStatus(id, status)
	}
}

func (q *Queue) updateGauge(ctx context.Context) {
	if n, err := q.store.Count(ctx); err == nil {
		metrics.PendingMessages.Set(float64(n))
	}
}

// statusAdvances reports whether a transition moves strictly forward through
// sending -> sent -> delivered -> read.
func statusAdvances(from, to models.DeliveryStatus) bool {
	return statusRank(to) > statusRank(from)
}

func statusRank(s models.DeliveryStatus) int {
	switch s {
	case models.StatusSending:
		return 0
	case models.StatusSent:
		return 1
	case models.StatusDelivered:
		return 2
	case models.StatusRead:
		return 3
	default:
		return -1
	}
}
