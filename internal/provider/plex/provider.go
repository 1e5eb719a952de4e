package plex

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

// Provider imports from the configured Plex library sections
type Provider struct {
	client   *Client
	sections []string
}

// New creates a Plex provider from config
func New(cfg config.PlexConfig) *Provider {
	return &Provider{
		client:   NewClient(cfg.BaseURL, cfg.Token, time.Duration(cfg.TimeoutSeconds)*time.Second),
		sections: cfg.SectionIDs,
	}
}

func (p *Provider) Type() model.ProviderType {
	return model.ProviderPlex
}

// FindSongs lists the tracks of every configured section
func (p *Provider) FindSongs(ctx context.Context) <-chan provider.Event[[]model.Song] {
	return provider.Run(ctx, func(ctx context.Context, emit *provider.Emitter[[]model.Song]) ([]model.Song, error) {
		var songs []model.Song
		for _, section := range p.sections {
			msg := "Querying library section " + section
			if !emit.Progress(msg, nil) {
				return nil, ctx.Err()
			}
			tracks, err := p.client.Tracks(ctx, section, func(fetched, total int) bool {
				return emit.Fraction(msg, fetched, total)
			})
			if err != nil {
				return nil, fmt.Errorf("section %s: %w", section, err)
			}
			for _, t := range tracks {
				songs = append(songs, toSong(t))
			}
		}
		return songs, nil
	})
}

// FindPlaylists lists regular audio playlists. Smart playlists are rule
// based and are skipped.
func (p *Provider) FindPlaylists(ctx context.Context, existingPlaylists []model.Playlist, existingSongs []model.Song) <-chan provider.Event[[]model.PlaylistUpdateData] {
	return provider.Run(ctx, func(ctx context.Context, emit *provider.Emitter[[]model.PlaylistUpdateData]) ([]model.PlaylistUpdateData, error) {
		if !emit.Progress("Querying playlists", nil) {
			return nil, ctx.Err()
		}
		playlists, err := p.client.Playlists(ctx)
		if err != nil {
			return nil, err
		}

		byKey := make(map[string]model.Song, len(existingSongs))
		for _, s := range existingSongs {
			if s.ExternalID != nil {
				byKey[*s.ExternalID] = s
			}
		}

		var updates []model.PlaylistUpdateData
		for i, pl := range playlists {
			if pl.Smart {
				continue
			}
			entries, err := p.client.PlaylistItems(ctx, pl.RatingKey)
			if err != nil {
				slog.Warn("failed to query playlist items", "provider", model.ProviderPlex, "playlist", pl.Title, "error", err)
				continue
			}

			data := model.PlaylistUpdateData{
				ProviderType: model.ProviderPlex,
				Name:         pl.Title,
				ExternalID:   model.StringPtr(pl.RatingKey),
				ModifiedAt:   unixPtr(pl.UpdatedAt),
			}
			for _, e := range entries {
				if s, ok := byKey[e.RatingKey]; ok {
					data.Songs = append(data.Songs, s)
				}
			}
			updates = append(updates, data)

			if !emit.Fraction("Querying playlists", i+1, len(playlists)) {
				return nil, ctx.Err()
			}
		}
		return updates, nil
	})
}

func toSong(m Metadata) model.Song {
	s := model.Song{
		Path:         model.RemotePath(model.ProviderPlex, m.RatingKey),
		ProviderType: model.ProviderPlex,
		ExternalID:   model.StringPtr(m.RatingKey),
		Title:        m.Title,
		AlbumArtist:  m.GrandparentTitle,
		Album:        m.ParentTitle,
		Track:        m.Index,
		Disc:         m.ParentIndex,
		Duration:     time.Duration(m.Duration) * time.Millisecond,
		Year:         m.Year,
		MimeType:     "audio/*",
	}

	artist := m.OriginalTitle
	if artist == "" {
		artist = m.GrandparentTitle
	}
	if artist != "" {
		s.Artists = []string{artist}
	}
	for _, g := range m.Genre {
		s.Genres = append(s.Genres, g.Tag)
	}
	if len(m.Media) > 0 {
		if m.Media[0].Container != "" {
			s.MimeType = "audio/" + m.Media[0].Container
		}
		if len(m.Media[0].Part) > 0 {
			s.Size = m.Media[0].Part[0].Size
		}
	}
	switch {
	case m.UpdatedAt > 0:
		s.LastModified = time.Unix(m.UpdatedAt, 0)
	case m.AddedAt > 0:
		s.LastModified = time.Unix(m.AddedAt, 0)
	}
	return s
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0)
	return &t
}

// Snapshot returns the remote membership of a playlist
func (p *Provider) Snapshot(ctx context.Context, playlistID string) (syncqueue.Snapshot, error) {
	entries, err := p.client.PlaylistItems(ctx, playlistID)
	if err != nil {
		return syncqueue.Snapshot{}, err
	}
	snap := syncqueue.Snapshot{SongIDs: make([]string, 0, len(entries))}
	for _, e := range entries {
		snap.SongIDs = append(snap.SongIDs, e.RatingKey)
	}
	if header, err := p.client.Playlist(ctx, playlistID); err == nil {
		snap.ModifiedAt = unixPtr(header.UpdatedAt)
	}
	return snap, nil
}

// AddSongs appends tracks to a remote playlist
func (p *Provider) AddSongs(ctx context.Context, playlistID string, songIDs []string) error {
	if len(songIDs) == 0 {
		return nil
	}
	return p.client.AddToPlaylist(ctx, playlistID, songIDs)
}

// RemoveSongs deletes every entry of the given tracks from a remote playlist
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
	for _, e := range entries {
		if !remove[e.RatingKey] {
			continue
		}
		if err := p.client.RemoveFromPlaylist(ctx, playlistID, e.PlaylistItemID); err != nil {
			return err
		}
	}
	return nil
}
