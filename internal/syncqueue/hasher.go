package syncqueue

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/vonshlovens/catalogsync/internal/model"
)

// HashContent computes SHA256 hash of content bytes
func HashContent(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// HashString computes SHA256 hash of a string
func HashString(content string) string {
	return HashContent([]byte(content))
}

// ContentHash hashes a playlist membership. Order and duplicates do not
// affect the result.
func ContentHash(ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	return HashString(strings.Join(sorted, "\n"))
}

// SongsHash hashes the membership formed by songs.
func SongsHash(songs []model.Song) string {
	ids := make([]string, 0, len(songs))
	for _, s := range songs {
		ids = append(ids, MemberKey(s))
	}
	return ContentHash(ids)
}

// MemberKey is the identity of a song when comparing memberships across the
// catalog and a remote server.
func MemberKey(s model.Song) string {
	if s.ExternalID != nil && *s.ExternalID != "" {
		return *s.ExternalID
	}
	return s.Path
}
