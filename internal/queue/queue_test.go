package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/novolei/HChat-sub000/internal/models"
	"github.com/novolei/HChat-sub000/internal/store"
)

// fakeTransmitter records transmissions and can simulate disconnection,
// write errors, and slow writes.
type fakeTransmitter struct {
	mu        sync.Mutex
	connected bool
	err       error
	sent      []string

	block   chan struct{} // when non-nil, transmits wait until closed
	started chan struct{} // signaled at the start of each transmit
}

func (f *fakeTransmitter) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransmitter) TransmitMessage(_ context.Context, msg *models.ChatMessage) error {
	f.mu.Lock()
	started := f.started
	block := f.block
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg.ID)
	return nil
}

func (f *fakeTransmitter) setConnected(c bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = c
}

func (f *fakeTransmitter) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type statusRecorder struct {
	mu      sync.Mutex
	changes []models.DeliveryStatus
}

func (r *statusRecorder) record(_ string, status models.DeliveryStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, status)
}

func (r *statusRecorder) last() models.DeliveryStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return ""
	}
	return r.changes[len(r.changes)-1]
}

func newTestQueue(tx Transmitter, maxAttempts int) (*Queue, *store.MemoryStore, *statusRecorder) {
	st := store.NewMemoryStore()
	q := New(st, tx, zerolog.Nop(), maxAttempts)
	rec := &statusRecorder{}
	q.OnStatus(rec.record)
	return q, st, rec
}

func TestSendPersistsThenTransmits(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTransmitter{connected: true}
	q, st, rec := newTestQueue(tx, 5)

	msg := &models.ChatMessage{Channel: "lobby", Sender: "alice", Text: "hi"}
	if err := q.Send(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if msg.ID == "" {
		t.Fatal("expected an assigned message ID")
	}

	if sent := tx.sentIDs(); len(sent) != 1 || sent[0] != msg.ID {
		t.Fatalf("unexpected transmissions: %v", sent)
	}
	got, err := st.Get(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusSent || got.RetryCount != 1 {
		t.Fatalf("unexpected record: status=%s retries=%d", got.Status, got.RetryCount)
	}
	if rec.last() != models.StatusSent {
		t.Fatalf("expected sent notification, got %v", rec.changes)
	}
}

func TestSendWhileDisconnectedConsumesNoBudget(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTransmitter{connected: false}
	q, st, _ := newTestQueue(tx, 5)

	msg := &models.ChatMessage{Channel: "lobby", Text: "offline"}
	if err := q.Send(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if len(tx.sentIDs()) != 0 {
		t.Fatal("expected no transmissions while disconnected")
	}

	got, err := st.Get(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RetryCount != 0 || got.Status != models.StatusSending {
		t.Fatalf("skipped attempt must not consume budget: %+v", got)
	}

	// Next reconnect replays it.
	tx.setConnected(true)
	q.RetryAll(ctx)
	if sent := tx.sentIDs(); len(sent) != 1 {
		t.Fatalf("expected 1 transmission after reconnect, got %d", len(sent))
	}
}

func TestRetryCeiling(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTransmitter{connected: true}
	q, st, rec := newTestQueue(tx, 5)

	msg := &models.ChatMessage{Channel: "lobby", Text: "doomed"}
	if err := q.Send(ctx, msg); err != nil { // attempt 1
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ { // attempts 2..5, no acks arrive
		q.RetryAll(ctx)
	}
	if got := len(tx.sentIDs()); got != 5 {
		t.Fatalf("expected 5 transmissions, got %d", got)
	}

	// The budget is exhausted: the next pass marks the message failed
	// without transmitting it.
	q.RetryAll(ctx)
	if got := len(tx.sentIDs()); got != 5 {
		t.Fatalf("message past the ceiling was transmitted: %d", got)
	}
	if rec.last() != models.StatusFailed {
		t.Fatalf("expected failed notification, got %v", rec.changes)
	}
	if _, err := st.Get(ctx, msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("failed record should be removed from persistence, got %v", err)
	}

	// Failed is terminal: further passes ignore it.
	q.RetryAll(ctx)
	if got := len(tx.sentIDs()); got != 5 {
		t.Fatalf("terminal message was replayed: %d", got)
	}
}

func TestTransmitErrorKeepsRecordPending(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTransmitter{connected: true, err: errors.New("socket closed")}
	q, st, _ := newTestQueue(tx, 5)

	msg := &models.ChatMessage{Channel: "lobby", Text: "retry me"}
	if err := q.Send(ctx, msg); err != nil {
		t.Fatal(err)
	}

	got, err := st.Get(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusSending || got.RetryCount != 1 {
		t.Fatalf("unexpected record after failed write: %+v", got)
	}

	tx.mu.Lock()
	tx.err = nil
	tx.mu.Unlock()
	q.RetryAll(ctx)

	got, err = st.Get(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusSent || got.RetryCount != 2 {
		t.Fatalf("unexpected record after replay: %+v", got)
	}
}

func TestReconnectReplayExactlyNUnderConcurrentInvocation(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTransmitter{connected: false}
	q, _, _ := newTestQueue(tx, 5)

	const n = 3
	for i := 0; i < n; i++ {
		if err := q.Send(ctx, &models.ChatMessage{Channel: "lobby", Text: "queued"}); err != nil {
			t.Fatal(err)
		}
	}
	if len(tx.sentIDs()) != 0 {
		t.Fatal("nothing should transmit while disconnected")
	}

	tx.setConnected(true)
	tx.mu.Lock()
	tx.block = make(chan struct{})
	tx.started = make(chan struct{}, n)
	tx.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.RetryAll(ctx)
		close(done)
	}()

	// Wait until the first pass is demonstrably mid-flight, then trigger the
	// overlapping reconnect event.
	<-tx.started
	q.RetryAll(ctx) // must be inert: a pass is already running

	close(tx.block)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("replay pass did not finish")
	}
	for i := 0; i < n-1; i++ {
		<-tx.started
	}

	if got := len(tx.sentIDs()); got != n {
		t.Fatalf("expected exactly %d transmissions, got %d", n, got)
	}
}

func TestHandleAckResolvesRecord(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTransmitter{connected: true}
	q, st, rec := newTestQueue(tx, 5)

	msg := &models.ChatMessage{Channel: "lobby", Text: "acked"}
	if err := q.Send(ctx, msg); err != nil {
		t.Fatal(err)
	}

	q.HandleAck(ctx, msg.ID, models.StatusDelivered)
	if _, err := st.Get(ctx, msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("delivered record should be deleted, got %v", err)
	}
	if rec.last() != models.StatusDelivered {
		t.Fatalf("expected delivered notification, got %v", rec.changes)
	}

	// Duplicate and late acks are no-ops.
	q.HandleAck(ctx, msg.ID, models.StatusDelivered)
	q.HandleAck(ctx, msg.ID, models.StatusRead)

	// Resolved messages are never replayed.
	q.RetryAll(ctx)
	if got := len(tx.sentIDs()); got != 1 {
		t.Fatalf("resolved message was replayed: %d transmissions", got)
	}
}

func TestHandleAckOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTransmitter{connected: true}
	q, st, _ := newTestQueue(tx, 5)

	msg := &models.ChatMessage{Channel: "lobby", Text: "x"}
	if err := q.Send(ctx, msg); err != nil {
		t.Fatal(err)
	}

	// A stale "sending" ack must not regress the sent record.
	q.HandleAck(ctx, msg.ID, models.StatusSending)
	got, err := st.Get(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusSent {
		t.Fatalf("status regressed to %s", got.Status)
	}

	// Skipping straight to read is a forward move and resolves the record.
	q.HandleAck(ctx, msg.ID, models.StatusRead)
	if _, err := st.Get(ctx, msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("read record should be deleted, got %v", err)
	}
}

func TestHandleAckUnknownIDIgnored(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTransmitter{connected: true}
	q, _, rec := newTestQueue(tx, 5)

	q.HandleAck(ctx, "never-seen", models.StatusDelivered)
	if len(rec.changes) != 0 {
		t.Fatalf("unexpected notifications: %v", rec.changes)
	}
}

func TestExplicitRetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTransmitter{connected: true}
	q, st, rec := newTestQueue(tx, 1)

	msg := &models.ChatMessage{Channel: "lobby", Text: "second chance"}
	if err := q.Send(ctx, msg); err != nil { // attempt 1, ceiling 1
		t.Fatal(err)
	}
	q.RetryAll(ctx) // exhausts the budget
	if rec.last() != models.StatusFailed {
		t.Fatalf("expected failure, got %v", rec.changes)
	}

	// User-initiated retry starts a fresh budget.
	if err := q.Retry(ctx, msg); err != nil {
		t.Fatal(err)
	}
	got, err := st.Get(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RetryCount != 1 || got.Status != models.StatusSent {
		t.Fatalf("unexpected record after explicit retry: %+v", got)
	}
}

func TestRetryFailedResendsRetainedMessage(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTransmitter{connected: true}
	q, st, rec := newTestQueue(tx, 1)

	msg := &models.ChatMessage{Channel: "lobby", Text: "do not lose me"}
	if err := q.Send(ctx, msg); err != nil { // attempt 1, ceiling 1
		t.Fatal(err)
	}
	q.RetryAll(ctx) // exhausts the budget
	if rec.last() != models.StatusFailed {
		t.Fatalf("expected failure, got %v", rec.changes)
	}
	if _, err := st.Get(ctx, msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("failed record should be deleted, got %v", err)
	}

	// The record is gone from persistence, so the reconnect replay pass has
	// nothing to transmit for it.
	before := len(tx.sentIDs())
	q.RetryAll(ctx)
	if got := len(tx.sentIDs()); got != before {
		t.Fatalf("replay transmitted a failed message: %d -> %d", before, got)
	}

	// The explicit retry path resends the retained content under the same ID.
	if n := q.RetryFailed(ctx); n != 1 {
		t.Fatalf("expected 1 message re-queued, got %d", n)
	}
	got, err := st.Get(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "do not lose me" || got.Status != models.StatusSent || got.RetryCount != 1 {
		t.Fatalf("unexpected record after retry: %+v", got)
	}

	// Re-queueing consumed the retained copy.
	if n := q.RetryFailed(ctx); n != 0 {
		t.Fatalf("expected nothing left to retry, got %d", n)
	}
}

func TestRetryFailedEmptyIsNoOp(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTransmitter{connected: true}
	q, _, _ := newTestQueue(tx, 5)

	if n := q.RetryFailed(ctx); n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
	if len(tx.sentIDs()) != 0 {
		t.Fatalf("unexpected transmissions: %v", tx.sentIDs())
	}
}
