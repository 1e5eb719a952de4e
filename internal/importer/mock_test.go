package importer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vonshlovens/catalogsync/internal/diff"
	"github.com/vonshlovens/catalogsync/internal/model"
	"github.com/vonshlovens/catalogsync/internal/provider"
)

// mockStore is an in-memory CatalogStore.
type mockStore struct {
	mu           sync.Mutex
	nextID       int64
	songs        map[int64]model.Song
	playlists    map[int64]model.Playlist
	members      map[int64][]int64
	applyErr     error
	createErr    map[string]error
	applyCalls   int
	createCalls  int
	addCalls     int
	updatedNames []string
}

func newMockStore() *mockStore {
	return &mockStore{
		nextID:    1,
		songs:     make(map[int64]model.Song),
		playlists: make(map[int64]model.Playlist),
		members:   make(map[int64][]int64),
		createErr: make(map[string]error),
	}
}

func (m *mockStore) id() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *mockStore) addSong(s model.Song) model.Song {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.id()
	m.songs[s.ID] = s
	return s
}

func (m *mockStore) addPlaylist(p model.Playlist, songIDs ...int64) model.Playlist {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	m.playlists[p.ID] = p
	m.members[p.ID] = append([]int64{}, songIDs...)
	return p
}

func (m *mockStore) SongsByProvider(_ context.Context, pt model.ProviderType) ([]model.Song, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Song
	for _, s := range m.songs {
		if s.ProviderType == pt {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) ApplySongDiff(_ context.Context, pt model.ProviderType, d diff.Result[model.Song]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyCalls++
	if m.applyErr != nil {
		return m.applyErr
	}
	for _, s := range d.Inserts {
		s.ID = m.id()
		m.songs[s.ID] = s
	}
	for _, s := range d.Updates {
		m.songs[s.ID] = s
	}
	for _, s := range d.Deletes {
		if existing, ok := m.songs[s.ID]; ok && existing.ProviderType == pt {
			delete(m.songs, s.ID)
		}
	}
	return nil
}

func (m *mockStore) PlaylistsByProvider(_ context.Context, pt model.ProviderType) ([]model.Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Playlist
	for _, p := range m.playlists {
		if p.ProviderType == pt {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) PlaylistSongs(_ context.Context, playlistID int64) ([]model.PlaylistSong, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PlaylistSong
	for i, id := range m.members[playlistID] {
		out = append(out, model.PlaylistSong{PlaylistID: playlistID, Song: m.songs[id], Position: i})
	}
	return out, nil
}

func (m *mockStore) CreatePlaylist(_ context.Context, p *model.Playlist, songIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if err := m.createErr[p.Name]; err != nil {
		return err
	}
	p.ID = m.id()
	m.playlists[p.ID] = *p
	m.members[p.ID] = append([]int64{}, songIDs...)
	return nil
}

func (m *mockStore) UpdatePlaylist(_ context.Context, p *model.Playlist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.playlists[p.ID]; !ok {
		return errors.New("playlist not found")
	}
	m.playlists[p.ID] = *p
	m.updatedNames = append(m.updatedNames, p.Name)
	return nil
}

func (m *mockStore) AddToPlaylist(_ context.Context, playlistID int64, songIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addCalls++
	m.members[playlistID] = append(m.members[playlistID], songIDs...)
	return nil
}

func (m *mockStore) memberCount(playlistID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members[playlistID])
}

func (m *mockStore) playlistCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.playlists)
}

// mockProvider replays canned song and playlist results.
type mockProvider struct {
	pt           model.ProviderType
	songs        []model.Song
	songErr      string
	playlists    func(existing []model.Song) []model.PlaylistUpdateData
	playlistErr  string
	noTerminal   bool
	panicInSongs bool
	panicInLists bool
	block        chan struct{}

	mu            sync.Mutex
	playlistCalls int
}

func (p *mockProvider) Type() model.ProviderType { return p.pt }

func (p *mockProvider) FindSongs(ctx context.Context) <-chan provider.Event[[]model.Song] {
	if p.noTerminal {
		ch := make(chan provider.Event[[]model.Song], 1)
		ch <- provider.Progress[[]model.Song]("scanning", nil)
		close(ch)
		return ch
	}
	if p.panicInSongs {
		panic("provider exploded")
	}
	return provider.Run(ctx, func(ctx context.Context, emit *provider.Emitter[[]model.Song]) ([]model.Song, error) {
		if p.block != nil {
			select {
			case <-p.block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		emit.Fraction("scanning", 1, 1)
		if p.songErr != "" {
			return nil, errors.New(p.songErr)
		}
		return p.songs, nil
	})
}

func (p *mockProvider) FindPlaylists(ctx context.Context, _ []model.Playlist, existingSongs []model.Song) <-chan provider.Event[[]model.PlaylistUpdateData] {
	p.mu.Lock()
	p.playlistCalls++
	p.mu.Unlock()
	if p.panicInLists {
		panic("playlist index corrupt")
	}
	return provider.Run(ctx, func(ctx context.Context, emit *provider.Emitter[[]model.PlaylistUpdateData]) ([]model.PlaylistUpdateData, error) {
		if p.playlistErr != "" {
			return nil, errors.New(p.playlistErr)
		}
		if p.playlists == nil {
			return nil, nil
		}
		return p.playlists(existingSongs), nil
	})
}

func (p *mockProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playlistCalls
}

// recordingListener records every event it receives.
type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingListener) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingListener) OnStart(p model.ProviderType) { r.add(string(p) + ":start") }
func (r *recordingListener) OnSongImportProgress(p model.ProviderType, _ string, _ *model.Progress) {
	r.add(string(p) + ":songs:progress")
}
func (r *recordingListener) OnSongImportComplete(p model.ProviderType, _ SongImportResult) {
	r.add(string(p) + ":songs:complete")
}
func (r *recordingListener) OnSongImportFailed(p model.ProviderType, msg string) {
	r.add(string(p) + ":songs:failed:" + msg)
}
func (r *recordingListener) OnPlaylistImportProgress(p model.ProviderType, _ string, _ *model.Progress) {
	r.add(string(p) + ":playlists:progress")
}
func (r *recordingListener) OnPlaylistImportComplete(p model.ProviderType, _ PlaylistImportResult) {
	r.add(string(p) + ":playlists:complete")
}
func (r *recordingListener) OnPlaylistImportFailed(p model.ProviderType, msg string) {
	r.add(string(p) + ":playlists:failed:" + msg)
}
func (r *recordingListener) OnAllComplete() { r.add("all:complete") }

func (r *recordingListener) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.events...)
}

func (r *recordingListener) count(ev string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e == ev {
			n++
		}
	}
	return n
}

func (r *recordingListener) indexOf(ev string) int {
	for i, e := range r.snapshot() {
		if e == ev {
			return i
		}
	}
	return -1
}

// mockRecorder captures recorded runs.
type mockRecorder struct {
	mu   sync.Mutex
	runs []Run
}

func (m *mockRecorder) RecordImport(run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// mockBaseline captures remote observations.
type mockBaseline struct {
	mu      sync.Mutex
	calls   []baselineCall
	removed map[int64]map[string]struct{}
}

type baselineCall struct {
	playlist model.Playlist
	local    int
	remote   int
	modified *time.Time
}

func (m *mockBaseline) ObserveRemote(_ context.Context, p model.Playlist, local, remote []model.Song, modified *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, baselineCall{playlist: p, local: len(local), remote: len(remote), modified: modified})
	return nil
}

func (m *mockBaseline) PendingRemovals(_ context.Context, playlistID int64) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removed[playlistID], nil
}
