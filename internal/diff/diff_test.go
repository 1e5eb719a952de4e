package diff

import (
	"testing"
	"time"

	"github.com/vonshlovens/catalogsync/internal/model"
)

type item struct {
	key   int
	value string
}

func itemEqual(a, b item) bool { return a.key == b.key }

func itemUpdate(old, new item) item {
	return item{key: old.key, value: old.value + "->" + new.value}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name        string
		existing    []item
		discovered  []item
		wantInserts int
		wantUpdates int
		wantDeletes int
	}{
		{"both empty", nil, nil, 0, 0, 0},
		{"all new", nil, []item{{1, "a"}, {2, "b"}}, 2, 0, 0},
		{"all gone", []item{{1, "a"}, {2, "b"}}, nil, 0, 0, 2},
		{"same identity is one update", []item{{1, "a"}}, []item{{1, "b"}}, 0, 1, 0},
		{"disjoint", []item{{1, "a"}}, []item{{2, "b"}}, 1, 0, 1},
		{"mixed", []item{{1, "a"}, {2, "b"}}, []item{{2, "x"}, {3, "y"}}, 1, 1, 1},
		{"duplicate discovered collapses", []item{{1, "a"}}, []item{{1, "b"}, {1, "c"}}, 0, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Compute(tt.existing, tt.discovered, itemEqual, itemUpdate)
			if len(res.Inserts) != tt.wantInserts {
				t.Errorf("inserts = %d, want %d", len(res.Inserts), tt.wantInserts)
			}
			if len(res.Updates) != tt.wantUpdates {
				t.Errorf("updates = %d, want %d", len(res.Updates), tt.wantUpdates)
			}
			if len(res.Deletes) != tt.wantDeletes {
				t.Errorf("deletes = %d, want %d", len(res.Deletes), tt.wantDeletes)
			}

			byKey := ComputeByKey(tt.existing, tt.discovered, func(i item) int { return i.key }, itemUpdate)
			if len(byKey.Inserts) != tt.wantInserts || len(byKey.Updates) != tt.wantUpdates || len(byKey.Deletes) != tt.wantDeletes {
				t.Errorf("ComputeByKey = %d/%d/%d, want %d/%d/%d",
					len(byKey.Inserts), len(byKey.Updates), len(byKey.Deletes),
					tt.wantInserts, tt.wantUpdates, tt.wantDeletes)
			}
		})
	}
}

func TestCompute_LastDuplicateWins(t *testing.T) {
	res := Compute([]item{{1, "a"}}, []item{{1, "b"}, {1, "c"}}, itemEqual, itemUpdate)
	if res.Updates[0].value != "a->c" {
		t.Errorf("update = %q, want a->c", res.Updates[0].value)
	}
	res = ComputeByKey([]item{{1, "a"}}, []item{{1, "b"}, {1, "c"}}, func(i item) int { return i.key }, itemUpdate)
	if res.Updates[0].value != "a->c" {
		t.Errorf("keyed update = %q, want a->c", res.Updates[0].value)
	}
}

func TestSongs_SamePathIsUpdate(t *testing.T) {
	played := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	existing := []model.Song{{
		ID:         7,
		Path:       "/music/a.mp3",
		Title:      "Old Title",
		PlayCount:  12,
		LastPlayed: &played,
		Excluded:   true,
	}}
	discovered := []model.Song{{Path: "/music/a.mp3", Title: "New Title", Year: 1999}}

	res := Songs(existing, discovered)
	if len(res.Inserts) != 0 || len(res.Deletes) != 0 || len(res.Updates) != 1 {
		t.Fatalf("got %d/%d/%d, want 0/1/0", len(res.Inserts), len(res.Updates), len(res.Deletes))
	}

	got := res.Updates[0]
	if got.ID != 7 {
		t.Errorf("ID = %d, want 7", got.ID)
	}
	if got.Title != "New Title" || got.Year != 1999 {
		t.Errorf("provider fields not taken from discovered song: %+v", got)
	}
	if got.PlayCount != 12 || got.LastPlayed == nil || !got.Excluded {
		t.Errorf("store fields not preserved: %+v", got)
	}
}

func TestSongs_Idempotent(t *testing.T) {
	existing := []model.Song{{ID: 1, Path: "/a"}, {ID: 2, Path: "/b"}}
	discovered := []model.Song{{Path: "/b", Title: "B"}, {Path: "/c", Title: "C"}}

	first := Songs(existing, discovered)
	if len(first.Inserts) != 1 || len(first.Updates) != 1 || len(first.Deletes) != 1 {
		t.Fatalf("first diff = %d/%d/%d", len(first.Inserts), len(first.Updates), len(first.Deletes))
	}

	// Simulate applying the diff.
	applied := append([]model.Song{}, first.Updates...)
	for i, s := range first.Inserts {
		s.ID = int64(100 + i)
		applied = append(applied, s)
	}

	second := Songs(applied, discovered)
	if len(second.Inserts) != 0 || len(second.Deletes) != 0 {
		t.Errorf("second diff inserts=%d deletes=%d, want 0/0", len(second.Inserts), len(second.Deletes))
	}
	if len(second.Updates) != len(discovered) {
		t.Errorf("second diff updates = %d, want %d", len(second.Updates), len(discovered))
	}
}

func TestResult_Empty(t *testing.T) {
	if !(Result[int]{}).Empty() {
		t.Error("zero result should be empty")
	}
	if (Result[int]{Deletes: []int{1}}).Empty() {
		t.Error("result with deletes should not be empty")
	}
}
