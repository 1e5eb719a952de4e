package watcher

import (
	"sort"
	"sync"
	"time"
)

// ChangeKind is what happened to a file
type ChangeKind int

const (
	ChangeCreate ChangeKind = iota
	ChangeModify
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreate:
		return "CREATE"
	case ChangeModify:
		return "MODIFY"
	case ChangeDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Change is one coalesced file change
type Change struct {
	Path string
	Kind ChangeKind
}

// Batch is every change seen during one burst of activity
type Batch struct {
	Changes []Change
	At      time.Time
}

// Paths returns the changed paths in sorted order
func (b Batch) Paths() []string {
	paths := make([]string, 0, len(b.Changes))
	for _, c := range b.Changes {
		paths = append(paths, c.Path)
	}
	return paths
}

// Debouncer collects file changes and releases them as one batch once no
// new change has arrived for the quiet period. A library copy touching
// hundreds of files therefore triggers a single re-import.
type Debouncer struct {
	quiet   time.Duration
	pending map[string]ChangeKind
	timer   *time.Timer
	mu      sync.Mutex
	output  chan Batch
	stopped bool
}

// NewDebouncer creates a debouncer with a quiet period of quietMs
func NewDebouncer(quietMs int) *Debouncer {
	return &Debouncer{
		quiet:   time.Duration(quietMs) * time.Millisecond,
		pending: make(map[string]ChangeKind),
		output:  make(chan Batch, 1),
	}
}

// Batches returns the channel of released batches
func (d *Debouncer) Batches() <-chan Batch {
	return d.output
}

// Add records a change and restarts the quiet period
func (d *Debouncer) Add(path string, kind ChangeKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	// DELETE always wins, and CREATE followed by MODIFY stays CREATE
	if prev, exists := d.pending[path]; exists {
		switch {
		case kind == ChangeDelete:
			d.pending[path] = ChangeDelete
		case prev == ChangeCreate && kind == ChangeModify:
		case prev != ChangeDelete:
			d.pending[path] = kind
		default:
			// delete then create means the file was replaced
			d.pending[path] = ChangeModify
		}
	} else {
		d.pending[path] = kind
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, d.release)
}

// release hands the pending batch to the output. If the consumer has not
// picked up the previous batch yet, the new changes are merged into the
// next release instead of blocking.
func (d *Debouncer) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := Batch{At: time.Now(), Changes: make([]Change, 0, len(d.pending))}
	for path, kind := range d.pending {
		batch.Changes = append(batch.Changes, Change{Path: path, Kind: kind})
	}
	sort.Slice(batch.Changes, func(i, j int) bool { return batch.Changes[i].Path < batch.Changes[j].Path })

	select {
	case d.output <- batch:
		d.pending = make(map[string]ChangeKind)
	default:
		d.timer = time.AfterFunc(d.quiet, d.release)
	}
}

// Flush releases pending changes immediately
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	d.release()
}

// Stop discards pending changes and closes the output channel
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = make(map[string]ChangeKind)
	close(d.output)
}

// PendingCount returns the number of paths waiting for release
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
