package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vonshlovens/catalogsync/internal/diff"
	"github.com/vonshlovens/catalogsync/internal/model"
)

const songColumns = `
	s.id, s.path, s.provider_type, s.external_id, s.title, s.album_artist,
	s.artists, s.album, s.track, s.disc, s.duration_ms, s.year, s.genres,
	s.size_bytes, s.mime_type, s.last_modified, s.play_count,
	s.playback_position_ms, s.last_played, s.last_completed, s.excluded`

func scanSong(row pgx.Row, s *model.Song) error {
	var (
		pt           string
		durationMs   int64
		positionMs   int64
		lastModified *time.Time
	)
	err := row.Scan(
		&s.ID, &s.Path, &pt, &s.ExternalID, &s.Title, &s.AlbumArtist,
		&s.Artists, &s.Album, &s.Track, &s.Disc, &durationMs, &s.Year, &s.Genres,
		&s.Size, &s.MimeType, &lastModified, &s.PlayCount,
		&positionMs, &s.LastPlayed, &s.LastCompleted, &s.Excluded,
	)
	if err != nil {
		return err
	}
	s.ProviderType = model.ProviderType(pt)
	s.Duration = time.Duration(durationMs) * time.Millisecond
	s.PlaybackPosition = time.Duration(positionMs) * time.Millisecond
	s.LastModified = derefTime(lastModified)
	return nil
}

func collectSongs(rows pgx.Rows) ([]model.Song, error) {
	defer rows.Close()
	var songs []model.Song
	for rows.Next() {
		var s model.Song
		if err := scanSong(rows, &s); err != nil {
			return nil, err
		}
		songs = append(songs, s)
	}
	return songs, rows.Err()
}

// SongsByProvider returns every song of a provider, excluded ones included
func (db *DB) SongsByProvider(ctx context.Context, pt model.ProviderType) ([]model.Song, error) {
	rows, err := db.Pool.Query(ctx, "SELECT "+songColumns+" FROM songs s WHERE s.provider_type = $1 ORDER BY s.id", string(pt))
	if err != nil {
		return nil, fmt.Errorf("failed to query songs: %w", err)
	}
	return collectSongs(rows)
}

// SongByPath retrieves a song by its path
func (db *DB) SongByPath(ctx context.Context, path string) (*model.Song, error) {
	var s model.Song
	err := scanSong(db.Pool.QueryRow(ctx, "SELECT "+songColumns+" FROM songs s WHERE s.path = $1", path), &s)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ApplySongDiff writes a song diff in one transaction. Every write is
// restricted to songs of pt: an insert whose path already belongs to another
// provider leaves that row alone. Play statistics and exclusion are never
// overwritten by an import.
func (db *DB) ApplySongDiff(ctx context.Context, pt model.ProviderType, d diff.Result[model.Song]) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, s := range d.Inserts {
		batch.Queue(`
			INSERT INTO songs (
				path, provider_type, external_id, title, album_artist, artists,
				album, track, disc, duration_ms, year, genres, size_bytes,
				mime_type, last_modified
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
			)
			ON CONFLICT (path) DO UPDATE SET
				provider_type = EXCLUDED.provider_type,
				external_id = EXCLUDED.external_id,
				title = EXCLUDED.title,
				album_artist = EXCLUDED.album_artist,
				artists = EXCLUDED.artists,
				album = EXCLUDED.album,
				track = EXCLUDED.track,
				disc = EXCLUDED.disc,
				duration_ms = EXCLUDED.duration_ms,
				year = EXCLUDED.year,
				genres = EXCLUDED.genres,
				size_bytes = EXCLUDED.size_bytes,
				mime_type = EXCLUDED.mime_type,
				last_modified = EXCLUDED.last_modified,
				updated_at = NOW()
			WHERE songs.provider_type = EXCLUDED.provider_type
		`,
			s.Path, string(pt), s.ExternalID, s.Title, s.AlbumArtist, nonNil(s.Artists),
			s.Album, s.Track, s.Disc, s.Duration.Milliseconds(), s.Year, nonNil(s.Genres), s.Size,
			s.MimeType, nullTime(s.LastModified),
		)
	}
	for _, s := range d.Updates {
		batch.Queue(`
			UPDATE songs SET
				path = $3, external_id = $4, title = $5, album_artist = $6,
				artists = $7, album = $8, track = $9, disc = $10,
				duration_ms = $11, year = $12, genres = $13, size_bytes = $14,
				mime_type = $15, last_modified = $16, updated_at = NOW()
			WHERE id = $1 AND provider_type = $2
		`,
			s.ID, string(pt), s.Path, s.ExternalID, s.Title, s.AlbumArtist,
			nonNil(s.Artists), s.Album, s.Track, s.Disc,
			s.Duration.Milliseconds(), s.Year, nonNil(s.Genres), s.Size,
			s.MimeType, nullTime(s.LastModified),
		)
	}
	if len(d.Deletes) > 0 {
		ids := make([]int64, 0, len(d.Deletes))
		for _, s := range d.Deletes {
			ids = append(ids, s.ID)
		}
		batch.Queue("DELETE FROM songs WHERE provider_type = $1 AND id = ANY($2)", string(pt), ids)
	}

	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to apply song changes: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit song changes: %w", err)
	}
	return nil
}

// SetExcluded flags or unflags songs by path and returns how many changed
func (db *DB) SetExcluded(ctx context.Context, paths []string, excluded bool) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE songs SET excluded = $2, updated_at = NOW()
		WHERE path = ANY($1) AND excluded <> $2
	`, paths, excluded)
	if err != nil {
		return 0, fmt.Errorf("failed to update exclusion: %w", err)
	}
	return tag.RowsAffected(), nil
}
