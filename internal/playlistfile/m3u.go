// Package playlistfile parses M3U and extended M3U playlist files.
package playlistfile

import (
	"bufio"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// extinfRegex matches #EXTINF:<seconds>[ attrs],<title>
	extinfRegex = regexp.MustCompile(`^#EXTINF:\s*(-?\d+(?:\.\d+)?)[^,]*,(.*)$`)

	// Extensions lists the file extensions recognised as playlists
	Extensions = []string{".m3u", ".m3u8"}
)

// Entry is one track reference in a playlist file
type Entry struct {
	// Path is absolute once resolved against the playlist's directory
	Path     string
	Title    string
	Duration time.Duration
}

// Playlist is a parsed playlist file
type Playlist struct {
	Name    string
	Path    string
	Entries []Entry
}

// IsPlaylist reports whether path has a playlist extension
func IsPlaylist(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ParseFile reads and parses a playlist file. Relative entries are
// resolved against the directory holding the file.
func ParseFile(path string) (*Playlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pl, err := Parse(f, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	pl.Path = path
	if pl.Name == "" {
		base := filepath.Base(path)
		pl.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return pl, nil
}

// Parse reads playlist content from r. baseDir is used for relative entries
// and may be empty.
func Parse(r io.Reader, baseDir string) (*Playlist, error) {
	pl := &Playlist{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var pending *Entry
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			switch {
			case strings.HasPrefix(line, "#EXTINF:"):
				pending = parseExtinf(line)
			case strings.HasPrefix(line, "#PLAYLIST:"):
				pl.Name = strings.TrimSpace(strings.TrimPrefix(line, "#PLAYLIST:"))
			}
			continue
		}

		entry := Entry{}
		if pending != nil {
			entry = *pending
			pending = nil
		}
		entry.Path = resolve(line, baseDir)
		pl.Entries = append(pl.Entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pl, nil
}

func parseExtinf(line string) *Entry {
	m := extinfRegex.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	e := &Entry{Title: strings.TrimSpace(m[2])}
	if secs, err := strconv.ParseFloat(m[1], 64); err == nil && secs > 0 {
		e.Duration = time.Duration(secs * float64(time.Second))
	}
	return e
}

// resolve turns a playlist line into a clean path. file:// URLs are decoded,
// Windows separators are normalised, and relative paths are joined to baseDir.
func resolve(line, baseDir string) string {
	if strings.HasPrefix(line, "file://") {
		if u, err := url.Parse(line); err == nil {
			return filepath.Clean(u.Path)
		}
	}
	p := strings.ReplaceAll(line, `\`, "/")
	if filepath.IsAbs(p) || baseDir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(baseDir, p)
}
