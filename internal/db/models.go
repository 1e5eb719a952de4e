package db

import (
	"time"
)

// Status summarises the catalog and the sync queue
type Status struct {
	Connected         bool
	Host              string
	TotalSongs        int
	ExcludedSongs     int
	SongsByType       map[string]int
	TotalPlaylists    int
	PlaylistByType    map[string]int
	OpsByStatus       map[string]int
	Conflicts         int
	LastCatalogUpdate *time.Time
}

// nullTime maps the zero time to NULL
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
