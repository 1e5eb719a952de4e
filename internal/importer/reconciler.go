package importer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vonshlovens/catalogsync/internal/model"
)

// PlaylistStore is the slice of the catalog the reconciler writes to.
type PlaylistStore interface {
	PlaylistSongs(ctx context.Context, playlistID int64) ([]model.PlaylistSong, error)
	// CreatePlaylist persists p with songIDs as its members and sets p.ID.
	CreatePlaylist(ctx context.Context, p *model.Playlist, songIDs []int64) error
	UpdatePlaylist(ctx context.Context, p *model.Playlist) error
	AddToPlaylist(ctx context.Context, playlistID int64, songIDs []int64) error
}

// Baseline records what a remote provider reported for a playlist so later
// local edits can be compared against it.
type Baseline interface {
	ObserveRemote(ctx context.Context, playlist model.Playlist, local, remote []model.Song, remoteModifiedAt *time.Time) error
	// PendingRemovals returns the external ids of songs removed locally whose
	// removal has not reached the remote server yet.
	PendingRemovals(ctx context.Context, playlistID int64) (map[string]struct{}, error)
}

// Outcome is what reconciling one playlist definition did.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeCreated
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "skipped"
	}
}

// Reconciler merges discovered playlist definitions into the catalog.
// Membership is only ever appended to.
type Reconciler struct {
	store    PlaylistStore
	baseline Baseline
}

// NewReconciler creates a reconciler. baseline may be nil.
func NewReconciler(store PlaylistStore, baseline Baseline) *Reconciler {
	return &Reconciler{store: store, baseline: baseline}
}

// Pass reconciles the definitions of one provider's playlist phase. Playlists
// created during the pass are matched by later definitions of the same pass.
type Pass struct {
	r         *Reconciler
	playlists []model.Playlist
	result    PlaylistImportResult
}

// Begin starts a pass over the given existing playlists.
func (r *Reconciler) Begin(existing []model.Playlist) *Pass {
	working := make([]model.Playlist, len(existing))
	copy(working, existing)
	return &Pass{r: r, playlists: working}
}

// Result returns the totals accumulated so far.
func (p *Pass) Result() PlaylistImportResult {
	return p.result
}

// Apply reconciles one discovered playlist.
func (p *Pass) Apply(ctx context.Context, data model.PlaylistUpdateData) (Outcome, error) {
	members := uniqueSongIDs(data.Songs, nil)

	idx := p.match(data)
	if idx < 0 {
		if len(members) == 0 {
			p.result.Skipped++
			slog.Debug("skipping empty playlist", "provider", data.ProviderType, "name", data.Name)
			return OutcomeSkipped, nil
		}

		pl := model.Playlist{
			Name:         data.Name,
			ProviderType: data.ProviderType,
			ExternalID:   data.ExternalID,
			SortOrder:    model.SortPosition,
		}
		if err := p.r.store.CreatePlaylist(ctx, &pl, members); err != nil {
			return OutcomeSkipped, fmt.Errorf("failed to create playlist %q: %w", data.Name, err)
		}
		p.playlists = append(p.playlists, pl)
		p.result.Created++
		p.result.MembersAdded += len(members)
		p.observe(ctx, pl, data, data.Songs)
		return OutcomeCreated, nil
	}

	pl := p.playlists[idx]
	pl.Name = data.Name
	pl.ProviderType = data.ProviderType
	pl.ExternalID = data.ExternalID
	if err := p.r.store.UpdatePlaylist(ctx, &pl); err != nil {
		return OutcomeSkipped, fmt.Errorf("failed to update playlist %q: %w", data.Name, err)
	}
	p.playlists[idx] = pl

	stored, err := p.r.store.PlaylistSongs(ctx, pl.ID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("failed to load members of playlist %q: %w", data.Name, err)
	}
	have := make(map[int64]struct{}, len(stored))
	for _, ps := range stored {
		have[ps.Song.ID] = struct{}{}
	}

	discovered := p.withoutPendingRemovals(ctx, pl, data.Songs)
	added := uniqueSongIDs(discovered, have)
	if len(added) > 0 {
		if err := p.r.store.AddToPlaylist(ctx, pl.ID, added); err != nil {
			return OutcomeSkipped, fmt.Errorf("failed to add songs to playlist %q: %w", data.Name, err)
		}
	}
	p.result.Updated++
	p.result.MembersAdded += len(added)

	if p.r.baseline != nil && pl.ProviderType.IsRemote() {
		local := make([]model.Song, 0, len(stored)+len(added))
		for _, ps := range stored {
			local = append(local, ps.Song)
		}
		addedSet := make(map[int64]struct{}, len(added))
		for _, id := range added {
			addedSet[id] = struct{}{}
		}
		for _, s := range discovered {
			if _, ok := addedSet[s.ID]; ok {
				local = append(local, s)
				delete(addedSet, s.ID)
			}
		}
		p.observe(ctx, pl, data, local)
	}
	return OutcomeUpdated, nil
}

func (p *Pass) observe(ctx context.Context, pl model.Playlist, data model.PlaylistUpdateData, local []model.Song) {
	if p.r.baseline == nil || !pl.ProviderType.IsRemote() {
		return
	}
	if err := p.r.baseline.ObserveRemote(ctx, pl, local, data.Songs, data.ModifiedAt); err != nil {
		slog.Warn("failed to record remote playlist state", "playlist", pl.Name, "error", err)
	}
}

// withoutPendingRemovals drops the songs the user removed from pl while the
// removal is still queued for the remote server, so the import does not put
// them back.
func (p *Pass) withoutPendingRemovals(ctx context.Context, pl model.Playlist, songs []model.Song) []model.Song {
	if p.r.baseline == nil || !pl.ProviderType.IsRemote() {
		return songs
	}
	removed, err := p.r.baseline.PendingRemovals(ctx, pl.ID)
	if err != nil {
		slog.Warn("failed to load queued removals", "playlist", pl.Name, "error", err)
		return songs
	}
	if len(removed) == 0 {
		return songs
	}

	kept := make([]model.Song, 0, len(songs))
	for _, s := range songs {
		if s.ExternalID != nil && s.ProviderType == pl.ProviderType {
			if _, ok := removed[*s.ExternalID]; ok {
				continue
			}
		}
		kept = append(kept, s)
	}
	return kept
}

// match finds the working playlist a definition refers to. An external id
// match wins over a name match.
func (p *Pass) match(data model.PlaylistUpdateData) int {
	byName := -1
	for i, pl := range p.playlists {
		if pl.ProviderType != data.ProviderType {
			continue
		}
		if data.ExternalID != nil && *data.ExternalID != "" && model.EqualStringPtr(pl.ExternalID, data.ExternalID) {
			return i
		}
		if byName < 0 && pl.Name == data.Name {
			byName = i
		}
	}
	return byName
}

// uniqueSongIDs returns the ids of persisted songs in order, skipping
// duplicates and ids already in exclude.
func uniqueSongIDs(songs []model.Song, exclude map[int64]struct{}) []int64 {
	seen := make(map[int64]struct{}, len(songs))
	ids := make([]int64, 0, len(songs))
	for _, s := range songs {
		if s.ID == 0 {
			continue
		}
		if _, ok := exclude[s.ID]; ok {
			continue
		}
		if _, ok := seen[s.ID]; ok {
			continue
		}
		seen[s.ID] = struct{}{}
		ids = append(ids, s.ID)
	}
	return ids
}
