package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/vonshlovens/catalogsync/internal/importer"
	"github.com/vonshlovens/catalogsync/internal/model"
)

// progressListener draws one bar per provider phase and prints a summary
// line when the phase ends
type progressListener struct {
	importer.BaseListener

	mu     sync.Mutex
	bars   map[string]*progressbar.ProgressBar
	failed int
}

func newProgressListener() *progressListener {
	return &progressListener{bars: make(map[string]*progressbar.ProgressBar)}
}

func (l *progressListener) update(key, message string, p *model.Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bar, ok := l.bars[key]
	if !ok {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(key),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionClearOnFinish(),
		)
		l.bars[key] = bar
	}
	bar.Describe(fmt.Sprintf("%s: %s", key, message))
	if p != nil && p.Total > 0 {
		bar.ChangeMax(p.Total)
		bar.Set(p.Current)
	} else {
		bar.Add(1)
	}
}

func (l *progressListener) finish(key, line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bar, ok := l.bars[key]; ok {
		bar.Finish()
		delete(l.bars, key)
	}
	fmt.Fprintln(os.Stderr, line)
}

func (l *progressListener) OnSongImportProgress(p model.ProviderType, message string, progress *model.Progress) {
	l.update(p.String()+" songs", message, progress)
}

func (l *progressListener) OnSongImportComplete(p model.ProviderType, r importer.SongImportResult) {
	l.finish(p.String()+" songs", fmt.Sprintf("%s songs: %d inserted, %d updated, %d deleted", p, r.Inserts, r.Updates, r.Deletes))
}

func (l *progressListener) OnSongImportFailed(p model.ProviderType, message string) {
	l.mu.Lock()
	l.failed++
	l.mu.Unlock()
	l.finish(p.String()+" songs", fmt.Sprintf("%s songs failed: %s", p, message))
}

func (l *progressListener) OnPlaylistImportProgress(p model.ProviderType, message string, progress *model.Progress) {
	l.update(p.String()+" playlists", message, progress)
}

func (l *progressListener) OnPlaylistImportComplete(p model.ProviderType, r importer.PlaylistImportResult) {
	l.finish(p.String()+" playlists", fmt.Sprintf("%s playlists: %d created, %d updated, %d skipped, %d songs added",
		p, r.Created, r.Updated, r.Skipped, r.MembersAdded))
}

func (l *progressListener) OnPlaylistImportFailed(p model.ProviderType, message string) {
	l.mu.Lock()
	l.failed++
	l.mu.Unlock()
	l.finish(p.String()+" playlists", fmt.Sprintf("%s playlists failed: %s", p, message))
}

// Failures returns how many phases failed
func (l *progressListener) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}
