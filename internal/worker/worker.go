// internal/worker/worker.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/searchlab/searchtrace/internal/types"
)

const userAgent = "searchtrace-agent/1.0"

var (
	ErrAlreadyRecording = errors.New("a recording session is already active")
	ErrNotRecording     = errors.New("no recording session is active")
	ErrEmptyParticipant = errors.New("participant id must not be empty")
)

// Config holds the worker's flush and retry bounds.
type Config struct {
	FlushInterval  time.Duration
	MaxBufferBytes int64
	Retry          RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		FlushInterval:  5 * time.Minute,
		MaxBufferBytes: 10 * 1024 * 1024,
		Retry:          DefaultRetryPolicy(),
	}
}

// Status is the command-surface view of the worker.
type Status struct {
	IsRecording   bool            `json:"isRecording"`
	SessionID     types.SessionID `json:"sessionId,omitempty"`
	ParticipantID string          `json:"participantId,omitempty"`
	EventCount    int64           `json:"eventCount"`
	EventsSent    int64           `json:"eventsSent"`
}

// Worker owns the recording session and the durable event buffer. All
// mutations run through its methods and every mutation is persisted before
// the method returns, so the worker can be killed between any two events
// without losing buffered state.
//
// Delivery holds two invariants: an event leaves the live buffer only when
// its batch is acknowledged with a 2xx, and no event is ever snapshotted
// into two batches (a flush only captures events absent from every pending
// batch).
type Worker struct {
	cfg     Config
	log     types.EventLog
	batches types.BatchStore
	meta    types.SessionMetaStore
	sink    types.Sink
	now     func() time.Time

	cron        *cron.Cron
	deliverGate *semaphore.Weighted

	recoverOnce sync.Once

	mu      sync.Mutex
	session *types.SessionMeta
	cronID  cron.EntryID
	closed  bool
}

func New(cfg Config, log types.EventLog, batches types.BatchStore, meta types.SessionMetaStore, sink types.Sink) *Worker {
	w := &Worker{
		cfg:         cfg,
		log:         log,
		batches:     batches,
		meta:        meta,
		sink:        sink,
		now:         time.Now,
		cron:        cron.New(),
		deliverGate: semaphore.NewWeighted(1),
	}
	w.cron.Start()
	return w
}

// SetClock overrides the time source. Test hook.
func (w *Worker) SetClock(now func() time.Time) {
	w.now = now
}

// ensureRecovered reloads durable state exactly once per process lifetime,
// before the first command is acted on. A recovered active session re-arms
// the periodic flush timer; leftover pending batches get a delivery kick.
func (w *Worker) ensureRecovered(ctx context.Context) {
	w.recoverOnce.Do(func() {
		meta, err := w.meta.Load(ctx)
		if err != nil {
			slog.Error("session recovery failed", "error", err)
			return
		}

		w.mu.Lock()
		if meta != nil && meta.Active {
			w.session = meta
			w.armTimerLocked()
			slog.Info("recovered recording session",
				"session_id", meta.SessionID,
				"participant_id", meta.ParticipantID,
				"events_enqueued", meta.EventsEnqueued,
			)
		}
		w.mu.Unlock()

		if pending, err := w.batches.List(ctx); err == nil && len(pending) > 0 {
			slog.Info("recovered pending batches", "count", len(pending))
			go w.deliver(context.Background())
		}
	})
}

// Start begins a recording session for the given participant. Fails when a
// session is already active or the participant id is empty; both checks
// run before any state is mutated.
func (w *Worker) Start(ctx context.Context, participantID string) (types.SessionID, error) {
	w.ensureRecovered(ctx)
	if participantID == "" {
		return "", ErrEmptyParticipant
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session != nil {
		return "", ErrAlreadyRecording
	}

	meta := &types.SessionMeta{
		SessionID:     types.NewSessionID(),
		ParticipantID: participantID,
		StartedAt:     w.now(),
		Active:        true,
	}
	if err := w.meta.Save(ctx, meta); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}
	w.session = meta

	start := w.syntheticEvent(types.KindSessionStart, map[string]any{
		"userAgent": userAgent,
		"timezone":  w.now().Location().String(),
	})
	if err := w.appendLocked(ctx, start); err != nil {
		return "", err
	}

	w.armTimerLocked()
	slog.Info("recording started", "session_id", meta.SessionID, "participant_id", participantID)
	return meta.SessionID, nil
}

// Enqueue appends one enriched event to the durable buffer. It is a no-op
// when no session is recording. Crossing the serialized-size threshold
// triggers an immediate background flush.
func (w *Worker) Enqueue(ctx context.Context, event *types.EnrichedEvent) error {
	w.ensureRecovered(ctx)

	w.mu.Lock()
	if w.session == nil || w.closed {
		w.mu.Unlock()
		return nil
	}
	if err := w.appendLocked(ctx, event); err != nil {
		w.mu.Unlock()
		return err
	}
	size, err := w.log.SizeBytes(ctx, w.session.SessionID)
	w.mu.Unlock()

	if err == nil && size >= w.cfg.MaxBufferBytes {
		go func() {
			if err := w.Flush(context.Background()); err != nil {
				slog.Warn("size-triggered flush failed", "error", err)
			}
		}()
	}
	return nil
}

// appendLocked writes the event and persists the updated counter. Caller
// holds w.mu and has checked the session.
func (w *Worker) appendLocked(ctx context.Context, event *types.EnrichedEvent) error {
	if err := w.log.Append(ctx, w.session.SessionID, event); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	w.session.EventsEnqueued++
	if err := w.meta.Save(ctx, w.session); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Flush snapshots unsnapshotted buffer events into a new pending batch,
// then attempts delivery of every pending batch. Snapshotting is
// serialized by the worker lock; delivery is single-flight, so a flush
// arriving while another is still retrying snapshots its events and
// returns without waiting.
func (w *Worker) Flush(ctx context.Context) error {
	w.ensureRecovered(ctx)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	err := w.snapshotLocked(ctx)
	w.mu.Unlock()
	if err != nil {
		return err
	}
	return w.deliver(ctx)
}

// snapshotLocked moves events that are not yet covered by any pending
// batch into a new batch. The live buffer is not cleared here — that only
// happens on acknowledgment.
func (w *Worker) snapshotLocked(ctx context.Context) error {
	if w.session == nil {
		return nil
	}
	events, err := w.log.Load(ctx, w.session.SessionID)
	if err != nil {
		return fmt.Errorf("load buffer: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	pending, err := w.batches.List(ctx)
	if err != nil {
		return fmt.Errorf("list pending batches: %w", err)
	}
	snapshotted := make(map[types.EventID]bool)
	for _, batch := range pending {
		for i := range batch.Events {
			snapshotted[batch.Events[i].ID] = true
		}
	}

	fresh := make([]types.EnrichedEvent, 0, len(events))
	for _, event := range events {
		if !snapshotted[event.ID] {
			fresh = append(fresh, event)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	batch := &types.UploadBatch{
		BatchID:       types.NewBatchID(),
		SessionID:     w.session.SessionID,
		ParticipantID: w.session.ParticipantID,
		Events:        fresh,
		EnqueuedAt:    w.now(),
	}
	if err := w.batches.Put(ctx, batch); err != nil {
		return fmt.Errorf("persist batch: %w", err)
	}
	slog.Debug("snapshotted batch", "batch_id", batch.BatchID, "events", len(fresh))
	return nil
}

// deliver attempts every pending batch in enqueue order, oldest first.
// Attempts for a single batch are strictly sequential; only one deliver
// loop runs at a time. The upload id is the batch id, so a sink that
// dedupes on it converges duplicate deliveries.
func (w *Worker) deliver(ctx context.Context) error {
	if !w.deliverGate.TryAcquire(1) {
		return nil
	}
	defer w.deliverGate.Release(1)

	pending, err := w.batches.List(ctx)
	if err != nil {
		return fmt.Errorf("list pending batches: %w", err)
	}

	for _, batch := range pending {
		w.mu.Lock()
		closed := w.closed
		w.mu.Unlock()
		if closed {
			// Runtime torn down underneath us: nowhere to send, nothing to
			// throw. The batch stays persisted for the next process.
			return nil
		}

		upload := &types.UploadRequest{
			UploadID:        types.UploadID(batch.BatchID),
			SessionID:       batch.SessionID,
			ParticipantID:   batch.ParticipantID,
			Events:          batch.Events,
			UploadTimestamp: w.now().UnixMilli(),
			EventCount:      len(batch.Events),
		}
		sendErr := w.cfg.Retry.Execute(ctx, func() error {
			return w.sink.Upload(ctx, upload)
		})
		if sendErr != nil {
			batch.Attempts++
			if err := w.batches.Put(ctx, batch); err != nil {
				slog.Warn("persist batch attempts failed", "batch_id", batch.BatchID, "error", err)
			}
			slog.Warn("batch delivery failed, will retry on next flush",
				"batch_id", batch.BatchID, "events", len(batch.Events), "error", sendErr)
			continue
		}

		if err := w.acknowledge(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

// acknowledge removes a delivered batch's events from the live buffer and
// the batch from the pending set, then updates the uploaded counter.
func (w *Worker) acknowledge(ctx context.Context, batch *types.UploadBatch) error {
	ids := make([]types.EventID, len(batch.Events))
	for i := range batch.Events {
		ids[i] = batch.Events[i].ID
	}
	if err := w.log.Remove(ctx, batch.SessionID, ids); err != nil {
		return fmt.Errorf("clear acknowledged events: %w", err)
	}
	if err := w.batches.Delete(ctx, batch.BatchID); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}

	w.mu.Lock()
	if w.session != nil && w.session.SessionID == batch.SessionID {
		w.session.EventsUploaded += int64(len(batch.Events))
		if err := w.meta.Save(ctx, w.session); err != nil {
			slog.Warn("persist session counters failed", "error", err)
		}
	}
	w.mu.Unlock()

	slog.Info("batch acknowledged", "batch_id", batch.BatchID, "events", len(batch.Events))
	return nil
}

// Stop ends the active session: a synthetic session_end event is buffered
// and snapshotted, the session transitions to idle immediately, and
// delivery of the final batch proceeds in the background (best-effort; the
// pending store keeps it recoverable).
func (w *Worker) Stop(ctx context.Context) (types.SessionID, error) {
	w.ensureRecovered(ctx)

	w.mu.Lock()
	if w.session == nil {
		w.mu.Unlock()
		return "", ErrNotRecording
	}
	sessionID := w.session.SessionID

	end := w.syntheticEvent(types.KindSessionEnd, map[string]any{
		"totalEvents": w.session.EventsEnqueued + 1,
		"durationMs":  w.now().Sub(w.session.StartedAt).Milliseconds(),
	})
	if err := w.appendLocked(ctx, end); err != nil {
		w.mu.Unlock()
		return "", err
	}
	if err := w.snapshotLocked(ctx); err != nil {
		slog.Warn("final snapshot failed", "error", err)
	}

	w.disarmTimerLocked()
	if err := w.meta.Clear(ctx); err != nil {
		w.mu.Unlock()
		return "", fmt.Errorf("clear session: %w", err)
	}
	w.session = nil
	w.mu.Unlock()

	go func() {
		if err := w.deliver(context.Background()); err != nil {
			slog.Warn("final delivery failed", "error", err)
		}
	}()

	slog.Info("recording stopped", "session_id", sessionID)
	return sessionID, nil
}

// Identity reports the active session for the enricher.
func (w *Worker) Identity() (types.SessionID, string, bool) {
	w.ensureRecovered(context.Background())
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return "", "", false
	}
	return w.session.SessionID, w.session.ParticipantID, true
}

// Status reports the command-surface view of the worker.
func (w *Worker) Status(ctx context.Context) Status {
	w.ensureRecovered(ctx)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return Status{}
	}
	return Status{
		IsRecording:   true,
		SessionID:     w.session.SessionID,
		ParticipantID: w.session.ParticipantID,
		EventCount:    w.session.EventsEnqueued,
		EventsSent:    w.session.EventsUploaded,
	}
}

// Close marks the worker torn down and stops the flush timer. Batches
// pending at close stay persisted; sends after close are dropped.
func (w *Worker) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cron.Stop()
}

func (w *Worker) syntheticEvent(kind string, payload map[string]any) *types.EnrichedEvent {
	now := w.now()
	return &types.EnrichedEvent{
		ID:            types.NewEventID(),
		Type:          kind,
		Timestamp:     now.UnixMilli(),
		SessionID:     w.session.SessionID,
		ParticipantID: w.session.ParticipantID,
		PlatformClass: types.ClassGeneral,
		EnqueuedAt:    now.UnixMilli(),
		Payload:       payload,
	}
}

// armTimerLocked schedules the periodic flush. Caller holds w.mu.
func (w *Worker) armTimerLocked() {
	if w.cronID != 0 || w.cfg.FlushInterval <= 0 {
		return
	}
	id, err := w.cron.AddFunc(fmt.Sprintf("@every %s", w.cfg.FlushInterval), func() {
		if err := w.Flush(context.Background()); err != nil {
			slog.Warn("periodic flush failed", "error", err)
		}
	})
	if err != nil {
		slog.Error("arm flush timer failed", "error", err)
		return
	}
	w.cronID = id
}

// disarmTimerLocked cancels the periodic flush. Caller holds w.mu.
func (w *Worker) disarmTimerLocked() {
	if w.cronID != 0 {
		w.cron.Remove(w.cronID)
		w.cronID = 0
	}
}
