// Package diff classifies a freshly discovered set of entities against the
// stored set into inserts, updates and deletes.
package diff

import (
	"github.com/vonshlovens/catalogsync/internal/model"
)

// Result holds the classification of one diff.
type Result[T any] struct {
	Inserts []T
	Updates []T
	Deletes []T
}

// Empty reports whether the diff would change nothing.
func (r Result[T]) Empty() bool {
	return len(r.Inserts) == 0 && len(r.Updates) == 0 && len(r.Deletes) == 0
}

// Compute diffs existing against discovered using an identity predicate.
// Every matched pair produces update(old, new), even when nothing changed.
// When several discovered entries share an identity, the last one wins.
func Compute[T any](existing, discovered []T, isEqual func(a, b T) bool, update func(old, new T) T) Result[T] {
	deduped := make([]T, 0, len(discovered))
	for i, d := range discovered {
		dup := false
		for _, later := range discovered[i+1:] {
			if isEqual(d, later) {
				dup = true
				break
			}
		}
		if !dup {
			deduped = append(deduped, d)
		}
	}

	var res Result[T]
	matched := make([]bool, len(existing))
	for _, d := range deduped {
		found := -1
		for i, e := range existing {
			if !matched[i] && isEqual(e, d) {
				found = i
				break
			}
		}
		if found < 0 {
			res.Inserts = append(res.Inserts, d)
			continue
		}
		matched[found] = true
		res.Updates = append(res.Updates, update(existing[found], d))
	}

	for i, e := range existing {
		if !matched[i] {
			res.Deletes = append(res.Deletes, e)
		}
	}
	return res
}

// ComputeByKey is Compute with identity given by a comparable key, which
// keeps large catalogs linear.
func ComputeByKey[T any, K comparable](existing, discovered []T, key func(T) K, update func(old, new T) T) Result[T] {
	lastIdx := make(map[K]int, len(discovered))
	for i, d := range discovered {
		lastIdx[key(d)] = i
	}

	existingIdx := make(map[K]int, len(existing))
	for i, e := range existing {
		if _, ok := existingIdx[key(e)]; !ok {
			existingIdx[key(e)] = i
		}
	}

	var res Result[T]
	matched := make([]bool, len(existing))
	for i, d := range discovered {
		k := key(d)
		if lastIdx[k] != i {
			continue
		}
		ei, ok := existingIdx[k]
		if !ok {
			res.Inserts = append(res.Inserts, d)
			continue
		}
		matched[ei] = true
		res.Updates = append(res.Updates, update(existing[ei], d))
	}

	for i, e := range existing {
		if !matched[i] {
			res.Deletes = append(res.Deletes, e)
		}
	}
	return res
}

// Songs diffs songs by path.
func Songs(existing, discovered []model.Song) Result[model.Song] {
	return ComputeByKey(existing, discovered, songPath, MergeSong)
}

func songPath(s model.Song) string {
	return s.Path
}

// MergeSong takes every provider-observable field from the discovered song
// and keeps the store-owned fields of the stored one.
func MergeSong(old, discovered model.Song) model.Song {
	merged := discovered
	merged.ID = old.ID
	merged.PlayCount = old.PlayCount
	merged.PlaybackPosition = old.PlaybackPosition
	merged.LastPlayed = old.LastPlayed
	merged.LastCompleted = old.LastCompleted
	merged.Excluded = old.Excluded
	return merged
}
