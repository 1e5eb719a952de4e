package syncqueue

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/vonshlovens/catalogsync/internal/model"
)

type mockStore struct {
	mu      sync.Mutex
	nextID  int64
	ops     map[int64]*Operation
	states  map[int64]*SyncState
	members map[int64][]model.Song

	saveErr error // returned once by the next SaveOperation
}

func newMockStore() *mockStore {
	return &mockStore{
		nextID:  1,
		ops:     make(map[int64]*Operation),
		states:  make(map[int64]*SyncState),
		members: make(map[int64][]model.Song),
	}
}

func (m *mockStore) Enqueue(_ context.Context, op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op.ID = m.nextID
	m.nextID++
	op.CreatedAt = time.Now()
	cp := *op
	m.ops[op.ID] = &cp
	return nil
}

func (m *mockStore) NextPending(_ context.Context, limit int) ([]Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Operation
	for _, op := range m.ops {
		if op.Status == StatusPending {
			out = append(out, *op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) ClaimOperation(_ context.Context, id int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok || op.Status != StatusPending {
		return false, nil
	}
	op.Status = StatusInFlight
	op.LastAttemptAt = &now
	return true, nil
}

func (m *mockStore) SaveOperation(_ context.Context, op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ops[op.ID]; !ok {
		return errors.New("operation not found")
	}
	if err := m.saveErr; err != nil {
		m.saveErr = nil
		return err
	}
	cp := *op
	m.ops[op.ID] = &cp
	return nil
}

func (m *mockStore) PendingOperations(_ context.Context, playlistID int64) ([]Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Operation
	for _, op := range m.ops {
		if op.PlaylistID == playlistID && (op.Status == StatusPending || op.Status == StatusInFlight) {
			out = append(out, *op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) RequeueStale(_ context.Context, cutoff time.Time, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, op := range m.ops {
		if op.Status != StatusInFlight || (op.LastAttemptAt != nil && !op.LastAttemptAt.Before(cutoff)) {
			continue
		}
		op.RetryCount++
		op.ErrorMessage = &reason
		if op.RetryCount >= op.MaxRetries {
			op.Status = StatusFailed
		} else {
			op.Status = StatusPending
		}
		n++
	}
	return n, nil
}

func (m *mockStore) SyncState(_ context.Context, playlistID int64) (*SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[playlistID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (m *mockStore) SaveSyncState(_ context.Context, st *SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	m.states[st.PlaylistID] = &cp
	return nil
}

func (m *mockStore) PlaylistSongs(_ context.Context, playlistID int64) ([]model.PlaylistSong, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PlaylistSong
	for i, s := range m.members[playlistID] {
		out = append(out, model.PlaylistSong{PlaylistID: playlistID, Song: s, Position: i})
	}
	return out, nil
}

func (m *mockStore) op(id int64) Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.ops[id]
}

func (m *mockStore) state(playlistID int64) SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.states[playlistID]
}

// fakeRemote is an in-memory media server.
type fakeRemote struct {
	mu         sync.Mutex
	playlists  map[string][]string
	modifiedAt map[string]*time.Time
	applyErr   error
	snapErr    error
	adds       int
	removes    int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		playlists:  make(map[string][]string),
		modifiedAt: make(map[string]*time.Time),
	}
}

func (f *fakeRemote) Snapshot(_ context.Context, id string) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapErr != nil {
		return Snapshot{}, f.snapErr
	}
	return Snapshot{SongIDs: slices.Clone(f.playlists[id]), ModifiedAt: f.modifiedAt[id]}, nil
}

func (f *fakeRemote) AddSongs(_ context.Context, id string, songIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.adds++
	f.playlists[id] = append(f.playlists[id], songIDs...)
	return nil
}

func (f *fakeRemote) RemoveSongs(_ context.Context, id string, songIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.removes++
	f.playlists[id] = slices.DeleteFunc(f.playlists[id], func(s string) bool {
		return slices.Contains(songIDs, s)
	})
	return nil
}

func remoteSong(id string) model.Song {
	return model.Song{
		Path:         model.RemotePath(model.ProviderJellyfin, id),
		ProviderType: model.ProviderJellyfin,
		ExternalID:   model.StringPtr(id),
	}
}
