// Package mediastore reads songs and playlists from an exported Android
// MediaStore database.
package mediastore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vonshlovens/catalogsync/internal/config"
	"github.com/vonshlovens/catalogsync/internal/model"
	"github.com/vonshlovens/catalogsync/internal/provider"
)

// Provider reads a MediaStore export. The database is opened read-only for
// the duration of each phase.
type Provider struct {
	path string
}

// New creates a media index provider from config
func New(cfg config.MediaStoreConfig) *Provider {
	return &Provider{path: cfg.DatabasePath}
}

func (p *Provider) Type() model.ProviderType {
	return model.ProviderMediaStore
}

func (p *Provider) open() (*sql.DB, error) {
	dsn := "file:" + p.path + "?mode=ro"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open media index: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

const songsQuery = `
	SELECT _id, _data, COALESCE(title, ''), COALESCE(artist, ''), COALESCE(album_artist, ''),
		COALESCE(album, ''), COALESCE(duration, 0), COALESCE(_size, 0), COALESCE(year, 0),
		COALESCE(track, 0), COALESCE(date_modified, 0), COALESCE(mime_type, '')
	FROM audio
	WHERE is_music = 1 OR is_podcast = 1
	ORDER BY _id`

// FindSongs reads every music and podcast row of the index
func (p *Provider) FindSongs(ctx context.Context) <-chan provider.Event[[]model.Song] {
	return provider.Run(ctx, func(ctx context.Context, emit *provider.Emitter[[]model.Song]) ([]model.Song, error) {
		if !emit.Progress("Reading media index", nil) {
			return nil, ctx.Err()
		}

		db, err := p.open()
		if err != nil {
			return nil, err
		}
		defer db.Close()

		var total int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audio WHERE is_music = 1 OR is_podcast = 1").Scan(&total); err != nil {
			return nil, fmt.Errorf("failed to count media index rows: %w", err)
		}

		rows, err := db.QueryContext(ctx, songsQuery)
		if err != nil {
			return nil, fmt.Errorf("failed to query media index: %w", err)
		}
		defer rows.Close()

		songs := make([]model.Song, 0, total)
		for rows.Next() {
			var (
				id           int64
				s            model.Song
				artist       string
				durationMs   int64
				track        int
				dateModified int64
			)
			if err := rows.Scan(&id, &s.Path, &s.Title, &artist, &s.AlbumArtist, &s.Album,
				&durationMs, &s.Size, &s.Year, &track, &dateModified, &s.MimeType); err != nil {
				return nil, fmt.Errorf("failed to read media index row: %w", err)
			}

			s.ProviderType = model.ProviderMediaStore
			s.Duration = time.Duration(durationMs) * time.Millisecond
			s.Disc, s.Track = splitTrack(track)
			if artist != "" {
				s.Artists = []string{artist}
			}
			if s.AlbumArtist == "" {
				s.AlbumArtist = artist
			}
			if dateModified > 0 {
				s.LastModified = time.Unix(dateModified, 0)
			}
			songs = append(songs, s)

			if len(songs)%100 == 0 && !emit.Fraction("Reading media index", len(songs), total) {
				return nil, ctx.Err()
			}
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return songs, nil
	})
}

// FindPlaylists reads the index's playlists and matches members to existing
// songs by path
func (p *Provider) FindPlaylists(ctx context.Context, existingPlaylists []model.Playlist, existingSongs []model.Song) <-chan provider.Event[[]model.PlaylistUpdateData] {
	return provider.Run(ctx, func(ctx context.Context, emit *provider.Emitter[[]model.PlaylistUpdateData]) ([]model.PlaylistUpdateData, error) {
		if !emit.Progress("Reading media index playlists", nil) {
			return nil, ctx.Err()
		}

		db, err := p.open()
		if err != nil {
			return nil, err
		}
		defer db.Close()

		type indexPlaylist struct {
			id       int64
			name     string
			modified int64
		}

		rows, err := db.QueryContext(ctx, "SELECT _id, COALESCE(name, ''), COALESCE(date_modified, 0) FROM audio_playlists ORDER BY _id")
		if err != nil {
			return nil, fmt.Errorf("failed to query playlists: %w", err)
		}
		var playlists []indexPlaylist
		for rows.Next() {
			var ip indexPlaylist
			if err := rows.Scan(&ip.id, &ip.name, &ip.modified); err != nil {
				rows.Close()
				return nil, err
			}
			playlists = append(playlists, ip)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		byPath := make(map[string]model.Song, len(existingSongs))
		for _, s := range existingSongs {
			byPath[s.Path] = s
		}

		updates := make([]model.PlaylistUpdateData, 0, len(playlists))
		for i, ip := range playlists {
			paths, err := memberPaths(ctx, db, ip.id)
			if err != nil {
				return nil, err
			}

			data := model.PlaylistUpdateData{
				ProviderType: model.ProviderMediaStore,
				Name:         ip.name,
				ExternalID:   model.StringPtr(strconv.FormatInt(ip.id, 10)),
			}
			for _, path := range paths {
				if s, ok := byPath[path]; ok {
					data.Songs = append(data.Songs, s)
				}
			}
			if len(data.Songs) < len(paths) {
				slog.Debug("media index playlist has unmatched members",
					"playlist", ip.name,
					"members", len(paths),
					"matched", len(data.Songs))
			}
			if ip.modified > 0 {
				mod := time.Unix(ip.modified, 0)
				data.ModifiedAt = &mod
			}
			updates = append(updates, data)

			if !emit.Fraction(ip.name, i+1, len(playlists)) {
				return nil, ctx.Err()
			}
		}
		return updates, nil
	})
}

func memberPaths(ctx context.Context, db *sql.DB, playlistID int64) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT a._data
		FROM audio_playlists_map m
		JOIN audio a ON a._id = m.audio_id
		WHERE m.playlist_id = ?
		ORDER BY m.play_order, m._id
	`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist members: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// splitTrack decodes the index's combined disc*1000+track encoding
func splitTrack(v int) (disc, track int) {
	if v >= 1000 {
		return v / 1000, v % 1000
	}
	return 0, v
}
