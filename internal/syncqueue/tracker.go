package syncqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vonshlovens/catalogsync/internal/model"
)

// Store persists operations and sync states.
type Store interface {
	// Enqueue inserts op and sets its ID and CreatedAt.
	Enqueue(ctx context.Context, op *Operation) error
	// NextPending returns pending operations ordered by priority, then age.
	NextPending(ctx context.Context, limit int) ([]Operation, error)
	// ClaimOperation moves a pending operation to in-flight. It returns false
	// when another worker got there first.
	ClaimOperation(ctx context.Context, id int64, now time.Time) (bool, error)
	// SaveOperation writes back status, retry count, error and attempt time.
	SaveOperation(ctx context.Context, op *Operation) error
	// PendingOperations returns the pending and in-flight operations of one
	// playlist, oldest first.
	PendingOperations(ctx context.Context, playlistID int64) ([]Operation, error)
	// RequeueStale moves operations in flight since before cutoff back to
	// pending, or to failed once the lost attempt exhausts their retries.
	RequeueStale(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	// SyncState returns nil, nil when the playlist has no state yet.
	SyncState(ctx context.Context, playlistID int64) (*SyncState, error)
	SaveSyncState(ctx context.Context, st *SyncState) error
	PlaylistSongs(ctx context.Context, playlistID int64) ([]model.PlaylistSong, error)
}

// Tracker records local edits and remote observations for playlists of
// remote providers.
type Tracker struct {
	store      Store
	maxRetries int
	now        func() time.Time
}

// NewTracker creates a tracker. maxRetries <= 0 selects DefaultMaxRetries.
func NewTracker(store Store, maxRetries int) *Tracker {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Tracker{store: store, maxRetries: maxRetries, now: time.Now}
}

// RecordLocalChange notes that the user changed a playlist and queues the
// change for replay. songs are the songs added or removed. Playlists of
// local providers have nothing to replay and return nil.
func (t *Tracker) RecordLocalChange(ctx context.Context, pl model.Playlist, opType OpType, songs []model.Song) (*Operation, error) {
	if !pl.ProviderType.IsRemote() || pl.ExternalID == nil {
		return nil, nil
	}

	members, err := t.store.PlaylistSongs(ctx, pl.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load playlist members: %w", err)
	}
	local := make([]model.Song, 0, len(members))
	for _, m := range members {
		local = append(local, m.Song)
	}

	st, err := t.store.SyncState(ctx, pl.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}
	if st == nil {
		st = &SyncState{PlaylistID: pl.ID}
	}
	st.LocalModifiedAt = t.now()
	st.LocalContentHash = SongsHash(local)
	if !st.ConflictDetected {
		st.Status = SyncPending
	}
	if err := t.store.SaveSyncState(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to save sync state: %w", err)
	}

	ids := make([]string, 0, len(songs))
	for _, s := range songs {
		// songs of another provider have no id the remote would understand
		if s.ExternalID == nil || s.ProviderType != pl.ProviderType {
			continue
		}
		ids = append(ids, *s.ExternalID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	op, err := NewOperation(pl.ID, pl.ExternalID, pl.ProviderType, opType, Payload{SongIDs: ids})
	if err != nil {
		return nil, err
	}
	op.MaxRetries = t.maxRetries
	if err := t.store.Enqueue(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to enqueue sync operation: %w", err)
	}

	slog.Info("queued remote playlist change",
		"playlist", pl.Name,
		"provider", pl.ProviderType,
		"operation", opType,
		"songs", len(ids),
	)
	return op, nil
}

// ObserveRemote records the membership an import saw on the remote server.
// local is the catalog membership after the import merged it. While the
// playlist still has operations waiting for replay the local side of the
// baseline is left alone, so the worker keeps seeing those edits as unsent.
func (t *Tracker) ObserveRemote(ctx context.Context, pl model.Playlist, local, remote []model.Song, remoteModifiedAt *time.Time) error {
	st, err := t.store.SyncState(ctx, pl.ID)
	if err != nil {
		return fmt.Errorf("failed to load sync state: %w", err)
	}
	now := t.now()
	if st == nil {
		st = &SyncState{PlaylistID: pl.ID, LocalModifiedAt: now}
	}

	pending, err := t.store.PendingOperations(ctx, pl.ID)
	if err != nil {
		return fmt.Errorf("failed to load pending operations: %w", err)
	}

	remoteHash := SongsHash(remote)
	st.RemoteContentHash = &remoteHash
	if remoteModifiedAt != nil {
		st.RemoteModifiedAt = remoteModifiedAt
	}
	st.ConflictDetected = false

	if len(pending) > 0 {
		st.Status = SyncPending
		slog.Debug("remote playlist observed with unsent local changes",
			"playlist", pl.Name,
			"operations", len(pending),
		)
	} else {
		st.LocalContentHash = SongsHash(local)
		st.LastSyncedAt = &now
		if st.LocalContentHash == remoteHash {
			st.Status = SyncSynced
		} else {
			st.Status = SyncPending
		}
	}

	if err := t.store.SaveSyncState(ctx, st); err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}

// PendingRemovals returns the remote song ids the user removed from a
// playlist that have not been replayed yet. A later queued add of the same
// song cancels the removal.
func (t *Tracker) PendingRemovals(ctx context.Context, playlistID int64) (map[string]struct{}, error) {
	ops, err := t.store.PendingOperations(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending operations: %w", err)
	}

	removed := make(map[string]struct{})
	for _, op := range ops {
		payload, err := op.Payload()
		if err != nil {
			slog.Warn("skipping unreadable sync operation", "operation", op.ID, "error", err)
			continue
		}
		for _, id := range payload.SongIDs {
			switch op.OperationType {
			case OpRemoveSongs:
				removed[id] = struct{}{}
			case OpAddSongs:
				delete(removed, id)
			}
		}
	}
	return removed, nil
}
