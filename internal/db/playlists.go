package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vonshlovens/catalogsync/internal/model"
)

const playlistColumns = `id, name, provider_type, external_id, sort_order, media_store_id, created_at, updated_at`

func scanPlaylist(row pgx.Row, p *model.Playlist) error {
	var pt, sortOrder string
	err := row.Scan(&p.ID, &p.Name, &pt, &p.ExternalID, &sortOrder, &p.MediaStoreID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return err
	}
	p.ProviderType = model.ProviderType(pt)
	p.SortOrder = model.SortOrder(sortOrder)
	return nil
}

func (db *DB) queryPlaylists(ctx context.Context, query string, args ...any) ([]model.Playlist, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var playlists []model.Playlist
	for rows.Next() {
		var p model.Playlist
		if err := scanPlaylist(rows, &p); err != nil {
			return nil, err
		}
		playlists = append(playlists, p)
	}
	return playlists, rows.Err()
}

// Playlists returns every playlist
func (db *DB) Playlists(ctx context.Context) ([]model.Playlist, error) {
	return db.queryPlaylists(ctx, "SELECT "+playlistColumns+" FROM playlists ORDER BY provider_type, name")
}

// PlaylistsByProvider returns the playlists of one provider
func (db *DB) PlaylistsByProvider(ctx context.Context, pt model.ProviderType) ([]model.Playlist, error) {
	return db.queryPlaylists(ctx, "SELECT "+playlistColumns+" FROM playlists WHERE provider_type = $1 ORDER BY id", string(pt))
}

// Playlist retrieves a playlist by id
func (db *DB) Playlist(ctx context.Context, id int64) (*model.Playlist, error) {
	var p model.Playlist
	err := scanPlaylist(db.Pool.QueryRow(ctx, "SELECT "+playlistColumns+" FROM playlists WHERE id = $1", id), &p)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePlaylist inserts p with its initial members and sets p.ID
func (db *DB) CreatePlaylist(ctx context.Context, p *model.Playlist, songIDs []int64) error {
	if p.SortOrder == "" {
		p.SortOrder = model.SortPosition
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO playlists (name, provider_type, external_id, sort_order, media_store_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, p.Name, string(p.ProviderType), p.ExternalID, string(p.SortOrder), p.MediaStoreID).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert playlist: %w", err)
	}

	if len(songIDs) > 0 {
		if _, err := tx.Exec(ctx, appendMembersSQL, p.ID, songIDs); err != nil {
			return fmt.Errorf("failed to insert playlist songs: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// UpdatePlaylist writes back name, provider type, external id and sort order
func (db *DB) UpdatePlaylist(ctx context.Context, p *model.Playlist) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE playlists SET
			name = $2, provider_type = $3, external_id = $4, sort_order = $5,
			updated_at = NOW()
		WHERE id = $1
	`, p.ID, p.Name, string(p.ProviderType), p.ExternalID, string(p.SortOrder))
	if err != nil {
		return fmt.Errorf("failed to update playlist: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("playlist %d not found", p.ID)
	}
	return nil
}

// DeletePlaylist removes a playlist; members, queued operations and sync
// state go with it
func (db *DB) DeletePlaylist(ctx context.Context, id int64) error {
	_, err := db.Pool.Exec(ctx, "DELETE FROM playlists WHERE id = $1", id)
	return err
}

// PlaylistSongs returns the members of a playlist ordered by position
func (db *DB) PlaylistSongs(ctx context.Context, playlistID int64) ([]model.PlaylistSong, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT ps.id, ps.playlist_id, ps.position, `+songColumns+`
		FROM playlist_songs ps
		JOIN songs s ON s.id = ps.song_id
		WHERE ps.playlist_id = $1
		ORDER BY ps.position, ps.id
	`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist songs: %w", err)
	}
	defer rows.Close()

	var members []model.PlaylistSong
	for rows.Next() {
		var ps model.PlaylistSong
		if err := scanSong(prefixedRow{rows, []any{&ps.ID, &ps.PlaylistID, &ps.Position}}, &ps.Song); err != nil {
			return nil, err
		}
		members = append(members, ps)
	}
	return members, rows.Err()
}

// appendMembersSQL appends songs after the current last position. Songs that
// are already members are left where they are.
const appendMembersSQL = `
	INSERT INTO playlist_songs (playlist_id, song_id, position)
	SELECT $1, m.song_id, base.next + m.ord - 1
	FROM unnest($2::bigint[]) WITH ORDINALITY AS m(song_id, ord),
		(SELECT COALESCE(MAX(position) + 1, 0) AS next FROM playlist_songs WHERE playlist_id = $1) base
	ON CONFLICT (playlist_id, song_id) DO NOTHING
`

// AddToPlaylist appends songs to a playlist
func (db *DB) AddToPlaylist(ctx context.Context, playlistID int64, songIDs []int64) error {
	if len(songIDs) == 0 {
		return nil
	}
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, appendMembersSQL, playlistID, songIDs); err != nil {
		return fmt.Errorf("failed to add playlist songs: %w", err)
	}
	if _, err := tx.Exec(ctx, "UPDATE playlists SET updated_at = NOW() WHERE id = $1", playlistID); err != nil {
		return fmt.Errorf("failed to touch playlist: %w", err)
	}
	return tx.Commit(ctx)
}

// RemoveFromPlaylist deletes membership rows and returns how many went
func (db *DB) RemoveFromPlaylist(ctx context.Context, playlistID int64, songIDs []int64) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		"DELETE FROM playlist_songs WHERE playlist_id = $1 AND song_id = ANY($2)",
		playlistID, songIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to remove playlist songs: %w", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := db.Pool.Exec(ctx, "UPDATE playlists SET updated_at = NOW() WHERE id = $1", playlistID); err != nil {
			return 0, fmt.Errorf("failed to touch playlist: %w", err)
		}
	}
	return tag.RowsAffected(), nil
}

// prefixedRow scans leading columns into head before handing the rest to
// the wrapped destination list.
type prefixedRow struct {
	row  pgx.Row
	head []any
}

func (p prefixedRow) Scan(dest ...any) error {
	return p.row.Scan(append(p.head, dest...)...)
}
