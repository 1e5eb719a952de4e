package mediaserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vonshlovens/catalogsync/internal/config"
	"github.com/vonshlovens/catalogsync/internal/model"
	"github.com/vonshlovens/catalogsync/internal/provider"
	"github.com/vonshlovens/catalogsync/internal/syncqueue"
)

const (
	queryingMessage = "Querying API"

	// RunTimeTicks count in units of 100ns
	tick = 100 * time.Nanosecond
)

// Provider imports songs and playlists from a Jellyfin or Emby server and
// replays queued playlist edits to it
type Provider struct {
	pt     model.ProviderType
	client *Client
}

// New creates a provider of type pt (jellyfin or emby) from config
func New(pt model.ProviderType, cfg config.MediaServerConfig) *Provider {
	return &Provider{
		pt: pt,
		client: NewClient(ClientOptions{
			BaseURL:  cfg.BaseURL,
			Token:    cfg.Token,
			UserID:   cfg.UserID,
			PageSize: cfg.PageSize,
			Timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		}),
	}
}

func (p *Provider) Type() model.ProviderType {
	return p.pt
}

// FindSongs pages through the server's audio items
func (p *Provider) FindSongs(ctx context.Context) <-chan provider.Event[[]model.Song] {
	return provider.Run(ctx, func(ctx context.Context, emit *provider.Emitter[[]model.Song]) ([]model.Song, error) {
		if !emit.Progress(queryingMessage, nil) {
			return nil, ctx.Err()
		}

		items, err := p.client.AudioItems(ctx, func(fetched, total int) bool {
			return emit.Fraction(queryingMessage, fetched, total)
		})
		if err != nil {
			return nil, err
		}

		songs := make([]model.Song, 0, len(items))
		for _, item := range items {
			songs = append(songs, p.toSong(item))
		}
		return songs, nil
	})
}

// FindPlaylists lists the server's playlists and resolves their entries to
// existing songs by external id
func (p *Provider) FindPlaylists(ctx context.Context, existingPlaylists []model.Playlist, existingSongs []model.Song) <-chan provider.Event[[]model.PlaylistUpdateData] {
	return provider.Run(ctx, func(ctx context.Context, emit *provider.Emitter[[]model.PlaylistUpdateData]) ([]model.PlaylistUpdateData, error) {
		if !emit.Progress(queryingMessage, nil) {
			return nil, ctx.Err()
		}

		playlists, err := p.client.Playlists(ctx)
		if err != nil {
			return nil, err
		}

		byExternalID := make(map[string]model.Song, len(existingSongs))
		for _, s := range existingSongs {
			if s.ExternalID != nil {
				byExternalID[*s.ExternalID] = s
			}
		}

		updates := make([]model.PlaylistUpdateData, 0, len(playlists))
		for i, pl := range playlists {
			entries, err := p.client.PlaylistItems(ctx, pl.ID)
			if err != nil {
				slog.Warn("failed to query playlist items",
					"provider", p.pt,
					"playlist", pl.Name,
					"error", err)
				continue
			}

			name := pl.Name
			if name == "" {
				name = "Unknown"
			}
			data := model.PlaylistUpdateData{
				ProviderType: p.pt,
				Name:         name,
				ExternalID:   model.StringPtr(pl.ID),
				ModifiedAt:   pl.DateLastSaved.ptr(),
			}
			for _, entry := range entries {
				if s, ok := byExternalID[entry.ID]; ok {
					data.Songs = append(data.Songs, s)
				}
			}
			updates = append(updates, data)

			if !emit.Fraction(queryingMessage, i+1, len(playlists)) {
				return nil, ctx.Err()
			}
		}
		return updates, nil
	})
}

func (p *Provider) toSong(item Item) model.Song {
	var artists []string
	for _, a := range item.Artists {
		if a != "" {
			artists = append(artists, a)
		}
	}
	lastModified := item.DateCreated.Time
	if lastModified.IsZero() {
		lastModified = time.Now()
	}
	return model.Song{
		Path:         model.RemotePath(p.pt, item.ID),
		ProviderType: p.pt,
		ExternalID:   model.StringPtr(item.ID),
		Title:        item.Name,
		AlbumArtist:  item.AlbumArtist,
		Artists:      artists,
		Album:        item.Album,
		Track:        item.IndexNumber,
		Disc:         item.ParentIndexNumber,
		Duration:     time.Duration(item.RunTimeTicks) * tick,
		Year:         item.ProductionYear,
		Genres:       item.Genres,
		MimeType:     "audio/*",
		LastModified: lastModified,
	}
}

// Snapshot returns the remote membership of a playlist
func (p *Provider) Snapshot(ctx context.Context, playlistID string) (syncqueue.Snapshot, error) {
	entries, err := p.client.PlaylistItems(ctx, playlistID)
	if err != nil {
		return syncqueue.Snapshot{}, err
	}
	snap := syncqueue.Snapshot{SongIDs: make([]string, 0, len(entries))}
	for _, e := range entries {
		snap.SongIDs = append(snap.SongIDs, e.ID)
	}

	item, err := p.client.Item(ctx, playlistID)
	if err != nil {
		slog.Debug("playlist metadata unavailable", "provider", p.pt, "playlist", playlistID, "error", err)
		return snap, nil
	}
	snap.ModifiedAt = item.DateLastSaved.ptr()
	return snap, nil
}

// AddSongs appends songs to a remote playlist
func (p *Provider) AddSongs(ctx context.Context, playlistID string, songIDs []string) error {
	if len(songIDs) == 0 {
		return nil
	}
	return p.client.AddToPlaylist(ctx, playlistID, songIDs)
}

// RemoveSongs removes every entry of the given songs from a remote
// playlist. The API deletes by entry id, so entries are looked up first.
func (p *Provider) RemoveSongs(ctx context.Context, playlistID string, songIDs []string) error {
	if len(songIDs) == 0 {
		return nil
	}
	entries, err := p.client.PlaylistItems(ctx, playlistID)
	if err != nil {
		return fmt.Errorf("failed to look up playlist entries: %w", err)
	}

	remove := make(map[string]bool, len(songIDs))
	for _, id := range songIDs {
		remove[id] = true
	}
	var entryIDs []string
	for _, e := range entries {
		if remove[e.ID] && e.PlaylistItemID != "" {
			entryIDs = append(entryIDs, e.PlaylistItemID)
		}
	}
	if len(entryIDs) == 0 {
		return nil
	}
	return p.client.RemoveFromPlaylist(ctx, playlistID, entryIDs)
}
