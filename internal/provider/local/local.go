// Package local discovers songs and M3U playlists on the local filesystem.
package local

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dhowden/tag"
	"github.com/gabriel-vasile/mimetype"

	"github.com/vonshlovens/catalogsync/internal/config"
	"github.com/vonshlovens/catalogsync/internal/model"
	"github.com/vonshlovens/catalogsync/internal/playlistfile"
	"github.com/vonshlovens/catalogsync/internal/provider"
)

var defaultExtensions = []string{".mp3", ".flac", ".m4a", ".ogg", ".opus", ".wav", ".aac", ".wma", ".aiff"}

// Provider scans configured root directories
type Provider struct {
	roots           []string
	extensions      map[string]bool
	includePatterns []string
	ignorePatterns  []string
}

// New creates a filesystem provider from config
func New(cfg config.LocalConfig) *Provider {
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = defaultExtensions
	}
	p := &Provider{
		roots:           cfg.Roots,
		extensions:      make(map[string]bool, len(exts)),
		includePatterns: cfg.IncludePatterns,
		ignorePatterns:  cfg.IgnorePatterns,
	}
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		p.extensions[ext] = true
	}
	return p
}

// Roots returns the directories the provider scans
func (p *Provider) Roots() []string {
	return p.roots
}

func (p *Provider) Type() model.ProviderType {
	return model.ProviderLocal
}

// FindSongs walks every root and reads the tags of each audio file
func (p *Provider) FindSongs(ctx context.Context) <-chan provider.Event[[]model.Song] {
	return provider.Run(ctx, func(ctx context.Context, emit *provider.Emitter[[]model.Song]) ([]model.Song, error) {
		if !emit.Progress("Scanning directories", nil) {
			return nil, ctx.Err()
		}

		files, err := p.collect(ctx, p.isAudio)
		if err != nil {
			return nil, err
		}

		songs := make([]model.Song, 0, len(files))
		for i, path := range files {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			song, err := readSong(path)
			if err != nil {
				slog.Warn("skipping unreadable file", "path", path, "error", err)
			} else {
				songs = append(songs, song)
			}
			if !emit.Fraction(filepath.Base(path), i+1, len(files)) {
				return nil, ctx.Err()
			}
		}
		return songs, nil
	})
}

// FindPlaylists parses M3U files under the roots and resolves their entries
// against existing songs
func (p *Provider) FindPlaylists(ctx context.Context, existingPlaylists []model.Playlist, existingSongs []model.Song) <-chan provider.Event[[]model.PlaylistUpdateData] {
	return provider.Run(ctx, func(ctx context.Context, emit *provider.Emitter[[]model.PlaylistUpdateData]) ([]model.PlaylistUpdateData, error) {
		if !emit.Progress("Scanning for playlists", nil) {
			return nil, ctx.Err()
		}

		files, err := p.collect(ctx, playlistfile.IsPlaylist)
		if err != nil {
			return nil, err
		}

		matcher := newSongMatcher(existingSongs)
		var updates []model.PlaylistUpdateData
		for i, path := range files {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			pl, err := playlistfile.ParseFile(path)
			if err != nil {
				slog.Warn("skipping unreadable playlist", "path", path, "error", err)
				continue
			}

			data := model.PlaylistUpdateData{
				ProviderType: model.ProviderLocal,
				Name:         pl.Name,
			}
			for _, entry := range pl.Entries {
				if song, ok := matcher.match(entry.Path); ok {
					data.Songs = append(data.Songs, song)
				} else {
					slog.Debug("playlist entry not in catalog", "playlist", pl.Name, "entry", entry.Path)
				}
			}
			if info, err := os.Stat(path); err == nil {
				mod := info.ModTime()
				data.ModifiedAt = &mod
			}
			updates = append(updates, data)

			if !emit.Fraction(pl.Name, i+1, len(files)) {
				return nil, ctx.Err()
			}
		}
		return updates, nil
	})
}

// collect walks every root and returns files accepted by keep and by the
// include and ignore patterns. Unreadable directories are skipped.
func (p *Provider) collect(ctx context.Context, keep func(string) bool) ([]string, error) {
	var files []string
	for _, root := range p.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				slog.Debug("skipping path", "path", path, "error", err)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			relPath, _ := filepath.Rel(root, path)
			relPath = filepath.ToSlash(relPath)

			if d.IsDir() {
				if relPath != "." && p.isIgnored(relPath) {
					return filepath.SkipDir
				}
				return nil
			}
			if !keep(path) || p.isIgnored(relPath) || !p.isIncluded(relPath) {
				return nil
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}
	return files, nil
}

// Relevant reports whether a change to path can affect what the provider finds
func (p *Provider) Relevant(path string) bool {
	return p.isAudio(path) || playlistfile.IsPlaylist(path)
}

func (p *Provider) isAudio(path string) bool {
	return p.extensions[strings.ToLower(filepath.Ext(path))]
}

func (p *Provider) isIgnored(relPath string) bool {
	for _, pattern := range p.ignorePatterns {
		matched, err := doublestar.Match(pattern, relPath)
		if err != nil {
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

func (p *Provider) isIncluded(relPath string) bool {
	if len(p.includePatterns) == 0 {
		return true
	}
	for _, pattern := range p.includePatterns {
		if matched, err := doublestar.Match(pattern, relPath); err == nil && matched {
			return true
		}
	}
	return false
}

// readSong builds a song from file info and tags. Missing or unreadable tags
// fall back to the file name for the title.
func readSong(path string) (model.Song, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.Song{}, fmt.Errorf("failed to stat file: %w", err)
	}

	base := filepath.Base(path)
	song := model.Song{
		Path:         path,
		ProviderType: model.ProviderLocal,
		Title:        strings.TrimSuffix(base, filepath.Ext(base)),
		Size:         info.Size(),
		LastModified: info.ModTime(),
		MimeType:     detectMime(path),
	}

	f, err := os.Open(path)
	if err != nil {
		return model.Song{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	md, err := tag.ReadFrom(f)
	if err != nil {
		slog.Debug("no readable tags", "path", path, "error", err)
		return song, nil
	}

	if title := strings.TrimSpace(md.Title()); title != "" {
		song.Title = title
	}
	song.Album = strings.TrimSpace(md.Album())
	song.Artists = splitMulti(md.Artist())
	song.AlbumArtist = strings.TrimSpace(md.AlbumArtist())
	if song.AlbumArtist == "" && len(song.Artists) > 0 {
		song.AlbumArtist = song.Artists[0]
	}
	song.Genres = splitMulti(md.Genre())
	song.Year = md.Year()
	song.Track, _ = md.Track()
	song.Disc, _ = md.Disc()
	return song, nil
}

func detectMime(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "audio/*"
	}
	return mt.String()
}

// splitMulti splits tag values that pack several names into one field
func splitMulti(v string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ';' || r == '\x00' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
