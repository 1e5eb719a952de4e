package importer

import (
	"context"
	"testing"

	"github.com/vonshlovens/catalogsync/internal/model"
)

func TestReconcile_AppendsMissingMembers(t *testing.T) {
	store := newMockStore()
	s1 := store.addSong(model.Song{Path: "jellyfin://item/1", ProviderType: model.ProviderJellyfin})
	s2 := store.addSong(model.Song{Path: "jellyfin://item/2", ProviderType: model.ProviderJellyfin})
	s3 := store.addSong(model.Song{Path: "jellyfin://item/3", ProviderType: model.ProviderJellyfin})
	fav := store.addPlaylist(model.Playlist{
		Name:         "Favorites",
		ProviderType: model.ProviderJellyfin,
		ExternalID:   model.StringPtr("42"),
	}, s1.ID, s2.ID)

	pass := NewReconciler(store, nil).Begin([]model.Playlist{fav})
	outcome, err := pass.Apply(context.Background(), model.PlaylistUpdateData{
		ProviderType: model.ProviderJellyfin,
		Name:         "Favorites",
		ExternalID:   model.StringPtr("42"),
		Songs:        []model.Song{s1, s2, s3},
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Errorf("outcome = %v, want updated", outcome)
	}
	if store.createCalls != 0 {
		t.Error("no playlist should be created")
	}
	if got := store.members[fav.ID]; len(got) != 3 || got[0] != s1.ID || got[1] != s2.ID || got[2] != s3.ID {
		t.Errorf("members = %v, want [%d %d %d]", got, s1.ID, s2.ID, s3.ID)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	store := newMockStore()
	s1 := store.addSong(model.Song{Path: "/a.mp3", ProviderType: model.ProviderLocal})
	s2 := store.addSong(model.Song{Path: "/b.mp3", ProviderType: model.ProviderLocal})
	data := model.PlaylistUpdateData{ProviderType: model.ProviderLocal, Name: "Road", Songs: []model.Song{s1, s2}}

	r := NewReconciler(store, nil)
	first := r.Begin(nil)
	if _, err := first.Apply(context.Background(), data); err != nil {
		t.Fatalf("first Apply() error = %v", err)
	}

	playlists, _ := store.PlaylistsByProvider(context.Background(), model.ProviderLocal)
	second := r.Begin(playlists)
	if _, err := second.Apply(context.Background(), data); err != nil {
		t.Fatalf("second Apply() error = %v", err)
	}

	if store.playlistCount() != 1 {
		t.Errorf("playlists = %d, want 1", store.playlistCount())
	}
	if n := store.memberCount(playlists[0].ID); n != 2 {
		t.Errorf("members = %d, want 2", n)
	}
	if store.addCalls != 0 {
		t.Errorf("AddToPlaylist called %d times, want 0", store.addCalls)
	}
}

func TestReconcile_NeverShrinks(t *testing.T) {
	store := newMockStore()
	s1 := store.addSong(model.Song{Path: "/a.mp3", ProviderType: model.ProviderLocal})
	s2 := store.addSong(model.Song{Path: "/b.mp3", ProviderType: model.ProviderLocal})
	pl := store.addPlaylist(model.Playlist{Name: "Mix", ProviderType: model.ProviderLocal}, s1.ID, s2.ID)

	tests := []struct {
		name  string
		songs []model.Song
	}{
		{"empty", nil},
		{"subset", []model.Song{s1}},
		{"unresolved", []model.Song{{Path: "/missing.mp3"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := store.memberCount(pl.ID)
			pass := NewReconciler(store, nil).Begin([]model.Playlist{pl})
			if _, err := pass.Apply(context.Background(), model.PlaylistUpdateData{
				ProviderType: model.ProviderLocal, Name: "Mix", Songs: tt.songs,
			}); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if after := store.memberCount(pl.ID); after < before {
				t.Errorf("members shrank from %d to %d", before, after)
			}
		})
	}
}

func TestReconcile_SkipsEmptyNewPlaylist(t *testing.T) {
	store := newMockStore()
	pass := NewReconciler(store, nil).Begin(nil)
	outcome, err := pass.Apply(context.Background(), model.PlaylistUpdateData{
		ProviderType: model.ProviderLocal, Name: "Empty",
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if outcome != OutcomeSkipped || store.createCalls != 0 {
		t.Errorf("outcome = %v, creates = %d; want skipped with no create", outcome, store.createCalls)
	}
	if pass.Result().Skipped != 1 {
		t.Errorf("skipped = %d, want 1", pass.Result().Skipped)
	}
}

func TestReconcile_RefreshesMetadataWithoutNewMembers(t *testing.T) {
	store := newMockStore()
	s1 := store.addSong(model.Song{Path: "jellyfin://item/1", ProviderType: model.ProviderJellyfin})
	pl := store.addPlaylist(model.Playlist{
		Name: "Old Name", ProviderType: model.ProviderJellyfin, ExternalID: model.StringPtr("42"),
	}, s1.ID)

	pass := NewReconciler(store, nil).Begin([]model.Playlist{pl})
	if _, err := pass.Apply(context.Background(), model.PlaylistUpdateData{
		ProviderType: model.ProviderJellyfin,
		Name:         "New Name",
		ExternalID:   model.StringPtr("42"),
		Songs:        []model.Song{s1},
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if got := store.playlists[pl.ID].Name; got != "New Name" {
		t.Errorf("name = %q, want New Name", got)
	}
	if store.addCalls != 0 {
		t.Error("no membership mutation expected")
	}
}

func TestReconcile_MatchRequiresSameProvider(t *testing.T) {
	store := newMockStore()
	s1 := store.addSong(model.Song{Path: "plex://item/1", ProviderType: model.ProviderPlex})
	local := store.addPlaylist(model.Playlist{Name: "Mix", ProviderType: model.ProviderLocal})

	pass := NewReconciler(store, nil).Begin([]model.Playlist{local})
	outcome, err := pass.Apply(context.Background(), model.PlaylistUpdateData{
		ProviderType: model.ProviderPlex, Name: "Mix", Songs: []model.Song{s1},
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if outcome != OutcomeCreated {
		t.Errorf("outcome = %v, want created", outcome)
	}
}

func TestReconcile_NilExternalIDsDoNotMatch(t *testing.T) {
	store := newMockStore()
	s1 := store.addSong(model.Song{Path: "/a.mp3", ProviderType: model.ProviderLocal})
	other := store.addPlaylist(model.Playlist{Name: "Other", ProviderType: model.ProviderLocal}, s1.ID)

	pass := NewReconciler(store, nil).Begin([]model.Playlist{other})
	outcome, _ := pass.Apply(context.Background(), model.PlaylistUpdateData{
		ProviderType: model.ProviderLocal, Name: "New", Songs: []model.Song{s1},
	})
	if outcome != OutcomeCreated {
		t.Errorf("outcome = %v, want created", outcome)
	}
}

func TestReconcile_CreatedPlaylistJoinsPass(t *testing.T) {
	store := newMockStore()
	s1 := store.addSong(model.Song{Path: "/a.mp3", ProviderType: model.ProviderLocal})
	s2 := store.addSong(model.Song{Path: "/b.mp3", ProviderType: model.ProviderLocal})

	pass := NewReconciler(store, nil).Begin(nil)
	ctx := context.Background()
	_, _ = pass.Apply(ctx, model.PlaylistUpdateData{ProviderType: model.ProviderLocal, Name: "Dup", Songs: []model.Song{s1}})
	outcome, _ := pass.Apply(ctx, model.PlaylistUpdateData{ProviderType: model.ProviderLocal, Name: "Dup", Songs: []model.Song{s1, s2, s2}})

	if outcome != OutcomeUpdated {
		t.Errorf("outcome = %v, want updated", outcome)
	}
	if store.playlistCount() != 1 {
		t.Errorf("playlists = %d, want 1", store.playlistCount())
	}
	res := pass.Result()
	if res.Created != 1 || res.Updated != 1 || res.MembersAdded != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestReconcile_RecordsRemoteBaseline(t *testing.T) {
	store := newMockStore()
	baseline := &mockBaseline{}
	s1 := store.addSong(model.Song{Path: "jellyfin://item/1", ProviderType: model.ProviderJellyfin})
	s2 := store.addSong(model.Song{Path: "/a.mp3", ProviderType: model.ProviderLocal})

	r := NewReconciler(store, baseline)
	ctx := context.Background()
	_, _ = r.Begin(nil).Apply(ctx, model.PlaylistUpdateData{
		ProviderType: model.ProviderJellyfin, Name: "Remote", ExternalID: model.StringPtr("7"), Songs: []model.Song{s1},
	})
	_, _ = r.Begin(nil).Apply(ctx, model.PlaylistUpdateData{
		ProviderType: model.ProviderLocal, Name: "Local", Songs: []model.Song{s2},
	})

	if len(baseline.calls) != 1 {
		t.Fatalf("baseline calls = %d, want 1", len(baseline.calls))
	}
	if baseline.calls[0].playlist.Name != "Remote" || baseline.calls[0].remote != 1 {
		t.Errorf("baseline call = %+v", baseline.calls[0])
	}
}

func TestReconcile_KeepsQueuedRemovalsOut(t *testing.T) {
	store := newMockStore()
	jf := func(id string) model.Song {
		return model.Song{Path: "jellyfin://item/" + id, ProviderType: model.ProviderJellyfin, ExternalID: model.StringPtr(id)}
	}
	s1 := store.addSong(jf("1"))
	s2 := store.addSong(jf("2"))
	s3 := store.addSong(jf("3"))
	fav := store.addPlaylist(model.Playlist{
		Name:         "Favorites",
		ProviderType: model.ProviderJellyfin,
		ExternalID:   model.StringPtr("42"),
	}, s1.ID, s2.ID)

	// s3 was removed locally and the removal has not been replayed yet.
	baseline := &mockBaseline{removed: map[int64]map[string]struct{}{fav.ID: {"3": {}}}}
	pass := NewReconciler(store, baseline).Begin([]model.Playlist{fav})
	if _, err := pass.Apply(context.Background(), model.PlaylistUpdateData{
		ProviderType: model.ProviderJellyfin,
		Name:         "Favorites",
		ExternalID:   model.StringPtr("42"),
		Songs:        []model.Song{s1, s2, s3},
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if n := store.memberCount(fav.ID); n != 2 {
		t.Errorf("members = %d, want 2", n)
	}
	if store.addCalls != 0 {
		t.Error("a song with a queued removal must not be added back")
	}
	if len(baseline.calls) != 1 || baseline.calls[0].local != 2 || baseline.calls[0].remote != 3 {
		t.Errorf("baseline calls = %+v", baseline.calls)
	}
}

func TestReconcile_ExternalIDFollowsDiscovery(t *testing.T) {
	store := newMockStore()
	s1 := store.addSong(model.Song{Path: "plex://item/1", ProviderType: model.ProviderPlex})
	pl := store.addPlaylist(model.Playlist{
		Name: "Mix", ProviderType: model.ProviderPlex, ExternalID: model.StringPtr("old"),
	}, s1.ID)

	pass := NewReconciler(store, nil).Begin([]model.Playlist{pl})
	if _, err := pass.Apply(context.Background(), model.PlaylistUpdateData{
		ProviderType: model.ProviderPlex, Name: "Mix", Songs: []model.Song{s1},
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := store.playlists[pl.ID].ExternalID; got != nil {
		t.Errorf("external id = %q, want it cleared", *got)
	}
}
