package local

import (
	"path/filepath"
	"strings"

	"github.com/vonshlovens/catalogsync/internal/model"
)

// songMatcher resolves playlist entries to catalog songs. An exact path
// match wins; otherwise the entry's file name and parent directory are
// compared case-insensitively against the tail of each song path.
type songMatcher struct {
	byPath map[string]model.Song
	byTail map[string]model.Song
}

func newSongMatcher(songs []model.Song) *songMatcher {
	m := &songMatcher{
		byPath: make(map[string]model.Song, len(songs)),
		byTail: make(map[string]model.Song, len(songs)),
	}
	for _, s := range songs {
		m.byPath[s.Path] = s
		key := tailKey(s.Path)
		if _, dup := m.byTail[key]; !dup {
			m.byTail[key] = s
		}
	}
	return m
}

func (m *songMatcher) match(path string) (model.Song, bool) {
	if s, ok := m.byPath[filepath.Clean(path)]; ok {
		return s, true
	}
	s, ok := m.byTail[tailKey(path)]
	return s, ok
}

func tailKey(path string) string {
	p := strings.ToLower(filepath.ToSlash(filepath.Clean(path)))
	parts := strings.Split(p, "/")
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	return strings.Join(parts, "/")
}
