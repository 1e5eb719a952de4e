package importer

import "github.com/vonshlovens/catalogsync/internal/model"

// SongImportResult counts what one provider's song phase wrote.
type SongImportResult struct {
	Inserts int
	Updates int
	Deletes int
}

// PlaylistImportResult summarises one provider's playlist phase.
type PlaylistImportResult struct {
	Created      int
	Updated      int
	Skipped      int
	MembersAdded int
}

// Listener receives import events. Events for different providers are
// delivered from different goroutines, so implementations must be safe for
// concurrent use.
type Listener interface {
	OnStart(p model.ProviderType)
	OnSongImportProgress(p model.ProviderType, message string, progress *model.Progress)
	OnSongImportComplete(p model.ProviderType, result SongImportResult)
	OnSongImportFailed(p model.ProviderType, message string)
	OnPlaylistImportProgress(p model.ProviderType, message string, progress *model.Progress)
	OnPlaylistImportComplete(p model.ProviderType, result PlaylistImportResult)
	OnPlaylistImportFailed(p model.ProviderType, message string)
	OnAllComplete()
}

// BaseListener implements Listener with no-ops. Embed it to override only
// the events you care about.
type BaseListener struct{}

func (BaseListener) OnStart(model.ProviderType)                                           {}
func (BaseListener) OnSongImportProgress(model.ProviderType, string, *model.Progress)     {}
func (BaseListener) OnSongImportComplete(model.ProviderType, SongImportResult)            {}
func (BaseListener) OnSongImportFailed(model.ProviderType, string)                        {}
func (BaseListener) OnPlaylistImportProgress(model.ProviderType, string, *model.Progress) {}
func (BaseListener) OnPlaylistImportComplete(model.ProviderType, PlaylistImportResult)    {}
func (BaseListener) OnPlaylistImportFailed(model.ProviderType, string)                    {}
func (BaseListener) OnAllComplete()                                                       {}
