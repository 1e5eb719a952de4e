package syncqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vonshlovens/catalogsync/internal/model"
)

func remotePlaylist(id int64, extID string) model.Playlist {
	return model.Playlist{
		ID:           id,
		Name:         "Favorites",
		ProviderType: model.ProviderJellyfin,
		ExternalID:   model.StringPtr(extID),
	}
}

func TestTracker_LocalPlaylistNotQueued(t *testing.T) {
	store := newMockStore()
	tr := NewTracker(store, 0)
	op, err := tr.RecordLocalChange(context.Background(), model.Playlist{ID: 1, ProviderType: model.ProviderLocal}, OpAddSongs, []model.Song{{Path: "/a.mp3"}})
	if err != nil || op != nil {
		t.Fatalf("RecordLocalChange() = %v, %v; want nil, nil", op, err)
	}
	if len(store.ops) != 0 {
		t.Error("no operation should be queued for local playlists")
	}
}

func TestWorker_PushesLocalChange(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	remote := newFakeRemote()
	remote.playlists["42"] = []string{"s1", "s2"}

	pl := remotePlaylist(1, "42")
	s1, s2, s3 := remoteSong("s1"), remoteSong("s2"), remoteSong("s3")
	tr := NewTracker(store, 3)

	store.members[1] = []model.Song{s1, s2}
	if err := tr.ObserveRemote(ctx, pl, []model.Song{s1, s2}, []model.Song{s1, s2}, nil); err != nil {
		t.Fatalf("ObserveRemote() error = %v", err)
	}
	if st := store.state(1); st.Status != SyncSynced {
		t.Fatalf("status after observe = %s, want synced", st.Status)
	}

	store.members[1] = []model.Song{s1, s2, s3}
	op, err := tr.RecordLocalChange(ctx, pl, OpAddSongs, []model.Song{s3})
	if err != nil || op == nil {
		t.Fatalf("RecordLocalChange() = %v, %v", op, err)
	}
	if st := store.state(1); st.Status != SyncPending {
		t.Errorf("status after local change = %s, want pending", st.Status)
	}

	w := NewWorker(store, map[model.ProviderType]Remote{model.ProviderJellyfin: remote}, time.Minute, 10)
	report, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Applied != 1 {
		t.Errorf("report = %+v, want 1 applied", report)
	}
	if got := store.op(op.ID); got.Status != StatusDone {
		t.Errorf("op status = %s, want done", got.Status)
	}
	if got := remote.playlists["42"]; len(got) != 3 {
		t.Errorf("remote playlist = %v", got)
	}
	if st := store.state(1); st.Status != SyncSynced || st.ConflictDetected {
		t.Errorf("state after push = %+v", st)
	}
}

func TestWorker_ConflictIsFlaggedNotResolved(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	remote := newFakeRemote()
	remote.playlists["42"] = []string{"s1"}

	pl := remotePlaylist(1, "42")
	s1, s2 := remoteSong("s1"), remoteSong("s2")
	tr := NewTracker(store, 3)

	store.members[1] = []model.Song{s1}
	_ = tr.ObserveRemote(ctx, pl, []model.Song{s1}, []model.Song{s1}, nil)

	store.members[1] = []model.Song{s1, s2}
	op, _ := tr.RecordLocalChange(ctx, pl, OpAddSongs, []model.Song{s2})

	// Someone edits the playlist on the server without a usable timestamp.
	remote.playlists["42"] = []string{"s1", "other"}

	w := NewWorker(store, map[model.ProviderType]Remote{model.ProviderJellyfin: remote}, time.Minute, 10)
	for i := 0; i < 3; i++ {
		report, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if report.Conflicts != 1 {
			t.Errorf("pass %d: report = %+v, want 1 conflict", i, report)
		}
	}

	got := store.op(op.ID)
	if got.Status != StatusFailed || got.RetryCount != 3 {
		t.Errorf("op = %s/%d, want failed/3", got.Status, got.RetryCount)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != ErrConflict.Error() {
		t.Errorf("error message = %v", got.ErrorMessage)
	}
	if st := store.state(1); !st.ConflictDetected || st.Status != SyncConflict {
		t.Errorf("state = %+v, want conflict", st)
	}
	if remote.adds != 0 {
		t.Error("conflicting change must not be pushed")
	}
}

func TestWorker_RemoteNewerWins(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	remote := newFakeRemote()
	future := time.Now().Add(time.Hour)
	remote.playlists["42"] = []string{"s1", "other"}
	remote.modifiedAt["42"] = &future

	pl := remotePlaylist(1, "42")
	s1, s2 := remoteSong("s1"), remoteSong("s2")
	tr := NewTracker(store, 3)
	store.members[1] = []model.Song{s1}
	_ = tr.ObserveRemote(ctx, pl, []model.Song{s1}, []model.Song{s1}, nil)
	store.members[1] = []model.Song{s1, s2}
	op, _ := tr.RecordLocalChange(ctx, pl, OpAddSongs, []model.Song{s2})

	w := NewWorker(store, map[model.ProviderType]Remote{model.ProviderJellyfin: remote}, time.Minute, 10)
	report, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Skipped != 1 || remote.adds != 0 {
		t.Errorf("report = %+v adds = %d", report, remote.adds)
	}
	if got := store.op(op.ID); got.Status != StatusDone {
		t.Errorf("op status = %s, want done", got.Status)
	}
	if st := store.state(1); st.Status != SyncRemoteNewer {
		t.Errorf("state = %s, want remote_newer", st.Status)
	}
}

func TestWorker_RetriesThenFails(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	remote := newFakeRemote()
	remote.snapErr = errors.New("connection refused")

	op, _ := NewOperation(1, model.StringPtr("42"), model.ProviderJellyfin, OpRemoveSongs, Payload{SongIDs: []string{"s1"}})
	_ = store.Enqueue(ctx, op)

	w := NewWorker(store, map[model.ProviderType]Remote{model.ProviderJellyfin: remote}, time.Minute, 10)
	for i := 1; i <= 3; i++ {
		if _, err := w.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		got := store.op(op.ID)
		if got.RetryCount != i {
			t.Errorf("pass %d: retries = %d", i, got.RetryCount)
		}
	}
	if got := store.op(op.ID); got.Status != StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}

	report, _ := w.RunOnce(ctx)
	if report != (Report{}) {
		t.Errorf("failed operations must not be replayed, got %+v", report)
	}
}

func TestWorker_MissingRemote(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	op, _ := NewOperation(1, model.StringPtr("9"), model.ProviderPlex, OpAddSongs, Payload{SongIDs: []string{"x"}})
	_ = store.Enqueue(ctx, op)

	w := NewWorker(store, nil, time.Minute, 10)
	report, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Retried != 1 {
		t.Errorf("report = %+v, want 1 retried", report)
	}
}

func TestWorker_Ordering(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()

	low, _ := NewOperation(1, model.StringPtr("1"), model.ProviderJellyfin, OpAddSongs, Payload{})
	low.Priority = 5
	high, _ := NewOperation(1, model.StringPtr("1"), model.ProviderJellyfin, OpAddSongs, Payload{})
	high.Priority = 0
	_ = store.Enqueue(ctx, low)
	_ = store.Enqueue(ctx, high)

	ops, _ := store.NextPending(ctx, 10)
	if len(ops) != 2 || ops[0].ID != high.ID {
		t.Errorf("NextPending order = %+v, want high priority first", ops)
	}
}

func TestTracker_ForeignSongsNotQueued(t *testing.T) {
	store := newMockStore()
	tr := NewTracker(store, 0)
	pl := remotePlaylist(1, "42")
	foreign := model.Song{ID: 9, Path: "plex://item/7", ProviderType: model.ProviderPlex, ExternalID: model.StringPtr("7")}

	op, err := tr.RecordLocalChange(context.Background(), pl, OpAddSongs, []model.Song{foreign})
	if err != nil || op != nil {
		t.Fatalf("RecordLocalChange() = %v, %v; want nil, nil", op, err)
	}
	if st := store.state(1); st.Status != SyncPending {
		t.Errorf("local change should still mark the playlist pending, got %s", st.Status)
	}
}

func TestWorker_RemovalSurvivesImportBeforeReplay(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	remote := newFakeRemote()
	remote.playlists["42"] = []string{"s1", "s2", "s3"}

	pl := remotePlaylist(1, "42")
	s1, s2, s3 := remoteSong("s1"), remoteSong("s2"), remoteSong("s3")
	tr := NewTracker(store, 3)

	store.members[1] = []model.Song{s1, s2, s3}
	_ = tr.ObserveRemote(ctx, pl, []model.Song{s1, s2, s3}, []model.Song{s1, s2, s3}, nil)

	store.members[1] = []model.Song{s1, s2}
	op, err := tr.RecordLocalChange(ctx, pl, OpRemoveSongs, []model.Song{s3})
	if err != nil || op == nil {
		t.Fatalf("RecordLocalChange() = %v, %v", op, err)
	}

	// An import runs before the worker and still sees s3 on the server.
	if err := tr.ObserveRemote(ctx, pl, []model.Song{s1, s2, s3}, []model.Song{s1, s2, s3}, nil); err != nil {
		t.Fatalf("ObserveRemote() error = %v", err)
	}
	if st := store.state(1); st.Status != SyncPending {
		t.Errorf("status after import = %s, want pending", st.Status)
	}

	w := NewWorker(store, map[model.ProviderType]Remote{model.ProviderJellyfin: remote}, time.Minute, 10)
	report, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Applied != 1 || remote.removes != 1 {
		t.Errorf("report = %+v removes = %d, want the removal replayed", report, remote.removes)
	}
	if got := remote.playlists["42"]; len(got) != 2 {
		t.Errorf("remote playlist = %v, want [s1 s2]", got)
	}
	if got := store.op(op.ID); got.Status != StatusDone {
		t.Errorf("op status = %s, want done", got.Status)
	}
	if st := store.state(1); st.Status != SyncSynced {
		t.Errorf("state after replay = %s, want synced", st.Status)
	}
}

func TestTracker_PendingRemovals(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	tr := NewTracker(store, 3)
	pl := remotePlaylist(1, "42")
	s1, s2 := remoteSong("s1"), remoteSong("s2")

	store.members[1] = []model.Song{s1, s2}
	_ = tr.ObserveRemote(ctx, pl, []model.Song{s1, s2}, []model.Song{s1, s2}, nil)

	store.members[1] = nil
	_, _ = tr.RecordLocalChange(ctx, pl, OpRemoveSongs, []model.Song{s1, s2})
	store.members[1] = []model.Song{s2}
	_, _ = tr.RecordLocalChange(ctx, pl, OpAddSongs, []model.Song{s2})

	removed, err := tr.PendingRemovals(ctx, 1)
	if err != nil {
		t.Fatalf("PendingRemovals() error = %v", err)
	}
	if _, ok := removed["s1"]; !ok || len(removed) != 1 {
		t.Errorf("PendingRemovals() = %v, want only s1", removed)
	}

	for id := range store.ops {
		store.ops[id].Status = StatusDone
	}
	if removed, _ := tr.PendingRemovals(ctx, 1); len(removed) != 0 {
		t.Errorf("replayed removals still reported: %v", removed)
	}
}

func TestWorker_RequeuesInterruptedAttempt(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	remote := newFakeRemote()
	remote.playlists["42"] = []string{"s1"}

	pl := remotePlaylist(1, "42")
	s1, s2 := remoteSong("s1"), remoteSong("s2")
	tr := NewTracker(store, 3)
	store.members[1] = []model.Song{s1}
	_ = tr.ObserveRemote(ctx, pl, []model.Song{s1}, []model.Song{s1}, nil)
	store.members[1] = []model.Song{s1, s2}
	op, _ := tr.RecordLocalChange(ctx, pl, OpAddSongs, []model.Song{s2})

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewWorker(store, map[model.ProviderType]Remote{model.ProviderJellyfin: remote}, time.Minute, 10)
	w.now = func() time.Time { return clock }

	store.saveErr = errors.New("connection reset")
	if _, err := w.RunOnce(ctx); err == nil {
		t.Fatal("RunOnce() should report the failed save")
	}
	if got := store.op(op.ID); got.Status != StatusInFlight {
		t.Fatalf("op status = %s, want in_flight", got.Status)
	}

	clock = clock.Add(time.Minute)
	report, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Requeued != 0 || store.op(op.ID).Status != StatusInFlight {
		t.Errorf("attempt within the lease was requeued: %+v", report)
	}

	clock = clock.Add(DefaultLease)
	report, err = w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Requeued != 1 {
		t.Errorf("report = %+v, want 1 requeued", report)
	}
	got := store.op(op.ID)
	if got.Status != StatusDone || got.RetryCount != 1 {
		t.Errorf("op = %s/%d, want done/1", got.Status, got.RetryCount)
	}
}

func TestWorker_InterruptedAttemptsExhaustRetries(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	op, _ := NewOperation(1, model.StringPtr("42"), model.ProviderJellyfin, OpAddSongs, Payload{SongIDs: []string{"s1"}})
	op.MaxRetries = 1
	_ = store.Enqueue(ctx, op)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, _ = store.ClaimOperation(ctx, op.ID, started)

	w := NewWorker(store, nil, time.Minute, 10)
	w.now = func() time.Time { return started.Add(2 * DefaultLease) }
	report, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	got := store.op(op.ID)
	if report.Requeued != 1 || got.Status != StatusFailed {
		t.Errorf("report = %+v op = %s, want requeued into failed", report, got.Status)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != errInterrupted {
		t.Errorf("error message = %v", got.ErrorMessage)
	}
}
