// Package model defines the catalog entities shared by the importer, the
// source providers, the sync queue and the store.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ProviderType identifies the origin of a song or playlist.
type ProviderType string

const (
	ProviderLocal      ProviderType = "local"
	ProviderMediaStore ProviderType = "mediastore"
	ProviderJellyfin   ProviderType = "jellyfin"
	ProviderEmby       ProviderType = "emby"
	ProviderPlex       ProviderType = "plex"
)

// ProviderTypes lists every known provider type.
var ProviderTypes = []ProviderType{
	ProviderLocal,
	ProviderMediaStore,
	ProviderJellyfin,
	ProviderEmby,
	ProviderPlex,
}

// ParseProviderType converts a config or database string into a ProviderType.
func ParseProviderType(s string) (ProviderType, error) {
	pt := ProviderType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ProviderTypes {
		if pt == known {
			return pt, nil
		}
	}
	return "", fmt.Errorf("unknown provider type %q", s)
}

// IsRemote reports whether the provider is a remote media server.
func (p ProviderType) IsRemote() bool {
	switch p {
	case ProviderJellyfin, ProviderEmby, ProviderPlex:
		return true
	default:
		return false
	}
}

func (p ProviderType) String() string {
	return string(p)
}

// RemotePath builds the catalog path for a remote item. Remote songs have no
// filesystem path, so the path is derived from the provider and external id
// to keep path the single identity key.
func RemotePath(p ProviderType, externalID string) string {
	return fmt.Sprintf("%s://item/%s", p, externalID)
}

// Song is a single audio item in the catalog.
type Song struct {
	// ID is assigned by the store; zero until persisted.
	ID int64

	// Path is the identity key and is unique within the catalog.
	Path string

	ProviderType ProviderType
	ExternalID   *string

	Title       string
	AlbumArtist string
	Artists     []string
	Album       string
	Track       int
	Disc        int
	Duration    time.Duration
	Year        int
	Genres      []string
	Size        int64
	MimeType    string

	LastModified time.Time

	// Store-only fields. Providers never populate these.
	PlayCount        int
	PlaybackPosition time.Duration
	LastPlayed       *time.Time
	LastCompleted    *time.Time
	Excluded         bool
}

// ExternalIDOrEmpty returns the external id, or "" if unset.
func (s *Song) ExternalIDOrEmpty() string {
	if s.ExternalID == nil {
		return ""
	}
	return *s.ExternalID
}

// SortOrder controls how a playlist's members are presented.
type SortOrder string

const (
	SortPosition SortOrder = "position"
	SortTitle    SortOrder = "title"
	SortArtist   SortOrder = "artist"
	SortAlbum    SortOrder = "album"
)

// Playlist is a named, ordered collection of songs.
type Playlist struct {
	ID           int64
	Name         string
	ProviderType ProviderType
	ExternalID   *string
	SortOrder    SortOrder

	// MediaStoreID links a playlist to the device media index it was first
	// imported from. Kept for catalogs created by older importers.
	MediaStoreID *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlaylistSong is a membership row.
type PlaylistSong struct {
	ID         int64
	PlaylistID int64
	Song       Song
	Position   int
}

// PlaylistUpdateData is a playlist definition reported by a provider.
type PlaylistUpdateData struct {
	ProviderType ProviderType
	Name         string
	Songs        []Song
	ExternalID   *string

	// ModifiedAt is the provider-reported modification time, when known.
	ModifiedAt *time.Time
}

// Progress describes how far a long-running step has got. A nil *Progress
// means the step is indeterminate.
type Progress struct {
	Current int
	Total   int
}

// Fraction returns progress in [0, 1].
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Current) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// EqualStringPtr reports whether two optional strings hold the same value.
func EqualStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
