package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/vonshlovens/catalogsync/internal/model"
)

const (
	otelScope       = "github.com/vonshlovens/catalogsync/internal/syncqueue"
	spanReplay      = "syncqueue.replay"
	metricApplied   = "catalogsync.syncqueue.applied"
	metricFailed    = "catalogsync.syncqueue.failed"
	metricConflicts = "catalogsync.syncqueue.conflicts"
)

// DefaultLease is how long an operation may stay in flight before a worker
// assumes the attempt was lost and queues it again.
const DefaultLease = 10 * time.Minute

const errInterrupted = "attempt interrupted before its result was saved"

// ErrConflict is recorded on an operation whose playlist changed on both
// sides with no clear winner.
var ErrConflict = errors.New("playlist changed locally and remotely")

// Remote is a media server that can replay playlist operations.
type Remote interface {
	Snapshot(ctx context.Context, playlistID string) (Snapshot, error)
	AddSongs(ctx context.Context, playlistID string, songIDs []string) error
	RemoveSongs(ctx context.Context, playlistID string, songIDs []string) error
}

// Report summarises one replay pass.
type Report struct {
	Applied   int
	Skipped   int
	Retried   int
	Failed    int
	Conflicts int
	Requeued  int
}

// Worker replays queued operations against remote servers.
type Worker struct {
	store     Store
	remotes   map[model.ProviderType]Remote
	interval  time.Duration
	batchSize int
	lease     time.Duration
	now       func() time.Time

	tracer       trace.Tracer
	cntApplied   metric.Int64Counter
	cntFailed    metric.Int64Counter
	cntConflicts metric.Int64Counter
}

// NewWorker creates a worker polling every interval for up to batchSize
// operations.
func NewWorker(store Store, remotes map[model.ProviderType]Remote, interval time.Duration, batchSize int) *Worker {
	if batchSize <= 0 {
		batchSize = 50
	}
	meter := otel.Meter(otelScope)
	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			slog.Error("failed to create counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Worker{
		store:     store,
		remotes:   remotes,
		interval:  interval,
		batchSize: batchSize,
		lease:     DefaultLease,
		now:       time.Now,

		tracer:       otel.Tracer(otelScope),
		cntApplied:   mustCounter(metricApplied, "Number of sync operations applied"),
		cntFailed:    mustCounter(metricFailed, "Number of failed sync operation attempts"),
		cntConflicts: mustCounter(metricConflicts, "Number of playlist conflicts detected"),
	}
}

// RunOnce replays one batch of pending operations. Operations left in flight
// longer than the lease by a crashed or failed pass are queued again first.
func (w *Worker) RunOnce(ctx context.Context) (Report, error) {
	ctx, span := w.tracer.Start(ctx, spanReplay)
	defer span.End()

	var report Report
	requeued, err := w.store.RequeueStale(ctx, w.now().Add(-w.lease), errInterrupted)
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("failed to requeue stale operations: %w", err)
	}
	if requeued > 0 {
		report.Requeued = int(requeued)
		slog.Warn("requeued interrupted sync operations", "count", requeued)
	}

	ops, err := w.store.NextPending(ctx, w.batchSize)
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("failed to load pending operations: %w", err)
	}

	for i := range ops {
		op := &ops[i]
		now := w.now()
		claimed, err := w.store.ClaimOperation(ctx, op.ID, now)
		if err != nil {
			return report, fmt.Errorf("failed to claim operation %d: %w", op.ID, err)
		}
		if !claimed {
			continue
		}
		if err := op.Begin(now); err != nil {
			return report, err
		}

		w.attempt(ctx, op, &report)

		if err := w.store.SaveOperation(ctx, op); err != nil {
			return report, fmt.Errorf("failed to save operation %d: %w", op.ID, err)
		}
	}

	if report.Applied > 0 {
		w.cntApplied.Add(ctx, int64(report.Applied))
	}
	if n := report.Retried + report.Failed; n > 0 {
		w.cntFailed.Add(ctx, int64(n))
	}
	if report.Conflicts > 0 {
		w.cntConflicts.Add(ctx, int64(report.Conflicts))
	}
	span.SetAttributes(
		attribute.Int("syncqueue.applied", report.Applied),
		attribute.Int("syncqueue.skipped", report.Skipped),
		attribute.Int("syncqueue.retried", report.Retried),
		attribute.Int("syncqueue.failed", report.Failed),
		attribute.Int("syncqueue.conflicts", report.Conflicts),
		attribute.Int("syncqueue.requeued", report.Requeued),
	)
	return report, nil
}

// attempt runs one in-flight operation and leaves it in its next state.
func (w *Worker) attempt(ctx context.Context, op *Operation, report *Report) {
	log := slog.With("operation", op.ID, "playlist", op.PlaylistID, "type", op.OperationType)

	fail := func(cause error) {
		_ = op.Fail(cause)
		if op.Status == StatusFailed {
			report.Failed++
			log.Error("sync operation failed permanently", "retries", op.RetryCount, "error", cause)
		} else {
			report.Retried++
			log.Warn("sync operation attempt failed", "retries", op.RetryCount, "error", cause)
		}
	}

	remote, ok := w.remotes[op.ProviderType]
	if !ok {
		fail(fmt.Errorf("no remote configured for provider %s", op.ProviderType))
		return
	}
	if op.ExternalID == nil || *op.ExternalID == "" {
		fail(errors.New("playlist has no remote id"))
		return
	}
	payload, err := op.Payload()
	if err != nil {
		fail(err)
		return
	}

	st, err := w.store.SyncState(ctx, op.PlaylistID)
	if err != nil {
		fail(fmt.Errorf("failed to load sync state: %w", err))
		return
	}
	if st == nil {
		st = &SyncState{PlaylistID: op.PlaylistID, LocalModifiedAt: op.CreatedAt, Status: SyncPending}
	}

	snap, err := remote.Snapshot(ctx, *op.ExternalID)
	if err != nil {
		fail(fmt.Errorf("failed to read remote playlist: %w", err))
		return
	}

	res := Compare(*st, snap)
	now := w.now()
	st.Record(res, snap, now)

	switch res {
	case InSync:
		_ = op.Succeed()
		report.Skipped++
		log.Info("remote playlist already up to date")
	case TakeRemote:
		_ = op.Succeed()
		report.Skipped++
		log.Info("remote playlist is newer, local change dropped")
	case Conflict:
		report.Conflicts++
		fail(ErrConflict)
	case PushLocal:
		switch op.OperationType {
		case OpAddSongs:
			err = remote.AddSongs(ctx, *op.ExternalID, payload.SongIDs)
		case OpRemoveSongs:
			err = remote.RemoveSongs(ctx, *op.ExternalID, payload.SongIDs)
		default:
			err = fmt.Errorf("unknown operation type %q", op.OperationType)
		}
		if err != nil {
			fail(err)
			break
		}
		_ = op.Succeed()
		report.Applied++

		after, err := remote.Snapshot(ctx, *op.ExternalID)
		if err != nil {
			log.Warn("failed to re-read remote playlist after replay", "error", err)
			after = snap
		}
		st.MarkPushed(after, w.now())
		log.Info("sync operation applied", "songs", len(payload.SongIDs))
	}

	if err := w.store.SaveSyncState(ctx, st); err != nil {
		log.Error("failed to save sync state", "error", err)
	}
}

// Run replays immediately and then on every tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if _, err := w.RunOnce(ctx); err != nil {
		slog.Error("sync replay failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync worker shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				slog.Error("sync replay failed", "error", err)
			}
		}
	}
}
