package syncqueue

import (
	"time"
)

// SyncStatus summarises a playlist's sync state.
type SyncStatus string

const (
	SyncSynced      SyncStatus = "synced"
	SyncPending     SyncStatus = "pending"
	SyncConflict    SyncStatus = "conflict"
	SyncRemoteNewer SyncStatus = "remote_newer"
)

// SyncState is the per-playlist comparison record.
type SyncState struct {
	PlaylistID        int64
	LastSyncedAt      *time.Time
	LocalModifiedAt   time.Time
	RemoteModifiedAt  *time.Time
	Status            SyncStatus
	ConflictDetected  bool
	LocalContentHash  string
	RemoteContentHash *string
}

// Snapshot is what a remote server currently holds for a playlist.
type Snapshot struct {
	SongIDs    []string
	ModifiedAt *time.Time
}

// Hash returns the content hash of the snapshot.
func (s Snapshot) Hash() string {
	return ContentHash(s.SongIDs)
}

// Resolution is the outcome of comparing local and remote state.
type Resolution int

const (
	// InSync means the remote already matches the local content.
	InSync Resolution = iota
	// PushLocal means local changes should be replayed to the remote.
	PushLocal
	// TakeRemote means the remote is strictly newer and wins.
	TakeRemote
	// Conflict means both sides changed and neither clearly dominates.
	Conflict
)

func (r Resolution) String() string {
	switch r {
	case InSync:
		return "in_sync"
	case PushLocal:
		return "push_local"
	case TakeRemote:
		return "take_remote"
	default:
		return "conflict"
	}
}

// Compare decides how to reconcile st with the remote snapshot. A remote that
// has not moved since the last observation never conflicts with local edits.
// Otherwise the strictly later modification time wins, and ties or unknown
// remote times are a conflict.
func Compare(st SyncState, snap Snapshot) Resolution {
	remote := snap.Hash()
	if remote == st.LocalContentHash {
		return InSync
	}
	if st.RemoteContentHash != nil && *st.RemoteContentHash == remote {
		return PushLocal
	}
	if snap.ModifiedAt != nil {
		switch {
		case snap.ModifiedAt.After(st.LocalModifiedAt):
			return TakeRemote
		case st.LocalModifiedAt.After(*snap.ModifiedAt):
			return PushLocal
		}
	}
	return Conflict
}

// Record folds the result of a comparison into the state. A conflict keeps
// the previous remote baseline so retries keep reporting it until a fresh
// import observes the remote again.
func (st *SyncState) Record(res Resolution, snap Snapshot, now time.Time) {
	if res == Conflict {
		st.Status = SyncConflict
		st.ConflictDetected = true
		return
	}

	remote := snap.Hash()
	st.RemoteContentHash = &remote
	if snap.ModifiedAt != nil {
		st.RemoteModifiedAt = snap.ModifiedAt
	}

	st.ConflictDetected = false
	switch res {
	case PushLocal:
		st.Status = SyncPending
	case TakeRemote:
		st.Status = SyncRemoteNewer
		st.LastSyncedAt = &now
	case InSync:
		st.Status = SyncSynced
		st.LastSyncedAt = &now
	}
}

// MarkPushed records a remote snapshot taken after local changes were
// replayed.
func (st *SyncState) MarkPushed(after Snapshot, now time.Time) {
	remote := after.Hash()
	st.RemoteContentHash = &remote
	if after.ModifiedAt != nil {
		st.RemoteModifiedAt = after.ModifiedAt
	}
	st.ConflictDetected = false
	st.LastSyncedAt = &now
	if remote == st.LocalContentHash {
		st.Status = SyncSynced
	} else {
		st.Status = SyncPending
	}
}
