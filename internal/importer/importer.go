// Package importer runs catalog-wide imports across every configured source
// provider and reconciles what they report with the catalog store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vonshlovens/catalogsync/internal/diff"
	"github.com/vonshlovens/catalogsync/internal/model"
	"github.com/vonshlovens/catalogsync/internal/provider"
)

// DefaultPlaylistDelay is the pause between a provider's song and playlist
// phases, giving song writes time to become visible to playlist matching.
const DefaultPlaylistDelay = 500 * time.Millisecond

var (
	// ErrNoProviders is returned by Import when no provider is configured.
	ErrNoProviders = errors.New("no providers configured")
	// ErrImportInProgress is returned by Import when another import is
	// running. The call is dropped, not queued.
	ErrImportInProgress = errors.New("import already in progress")
)

// CatalogStore is the catalog the importer reads from and writes to.
type CatalogStore interface {
	PlaylistStore
	// SongsByProvider returns every song of the provider, excluded ones included.
	SongsByProvider(ctx context.Context, pt model.ProviderType) ([]model.Song, error)
	// ApplySongDiff writes a song diff atomically. Deletes never touch songs
	// of another provider type.
	ApplySongDiff(ctx context.Context, pt model.ProviderType, d diff.Result[model.Song]) error
	PlaylistsByProvider(ctx context.Context, pt model.ProviderType) ([]model.Playlist, error)
}

// Options tunes an Importer.
type Options struct {
	PlaylistDelay time.Duration
	Recorder      Recorder
	Baseline      Baseline
}

// Importer orchestrates imports. At most one import runs at a time.
type Importer struct {
	store         CatalogStore
	providers     []provider.Provider
	reconciler    *Reconciler
	recorder      Recorder
	playlistDelay time.Duration
	tracer        trace.Tracer

	importing   atomic.Bool
	importCount atomic.Int64

	mu        sync.RWMutex
	listeners []Listener
}

// New creates an importer over the given providers.
func New(store CatalogStore, providers []provider.Provider, opts Options) *Importer {
	delay := opts.PlaylistDelay
	if delay == 0 {
		delay = DefaultPlaylistDelay
	}
	return &Importer{
		store:         store,
		providers:     providers,
		reconciler:    NewReconciler(store, opts.Baseline),
		recorder:      opts.Recorder,
		playlistDelay: delay,
		tracer:        otel.Tracer("github.com/vonshlovens/catalogsync/internal/importer"),
	}
}

// AddListener registers l. Registering the same listener twice is a no-op.
func (im *Importer) AddListener(l Listener) {
	im.mu.Lock()
	defer im.mu.Unlock()
	for _, existing := range im.listeners {
		if existing == l {
			return
		}
	}
	im.listeners = append(im.listeners, l)
}

// RemoveListener unregisters l.
func (im *Importer) RemoveListener(l Listener) {
	im.mu.Lock()
	defer im.mu.Unlock()
	for i, existing := range im.listeners {
		if existing == l {
			im.listeners = append(im.listeners[:i:i], im.listeners[i+1:]...)
			return
		}
	}
}

// IsImporting reports whether an import is running.
func (im *Importer) IsImporting() bool {
	return im.importing.Load()
}

// ImportCount returns how many imports this importer has finished.
func (im *Importer) ImportCount() int64 {
	return im.importCount.Load()
}

func (im *Importer) emit(fn func(Listener)) {
	im.mu.RLock()
	snapshot := make([]Listener, len(im.listeners))
	copy(snapshot, im.listeners)
	im.mu.RUnlock()

	for _, l := range snapshot {
		fn(l)
	}
}

// Import runs every provider concurrently and returns once all of them have
// finished both phases. Provider failures are reported to listeners, not
// returned.
func (im *Importer) Import(ctx context.Context) error {
	if len(im.providers) == 0 {
		slog.Warn("import skipped", "reason", ErrNoProviders)
		return ErrNoProviders
	}
	if !im.importing.CompareAndSwap(false, true) {
		slog.Info("import skipped", "reason", ErrImportInProgress)
		return ErrImportInProgress
	}

	run := &runState{
		Run: Run{
			ID:        uuid.NewString(),
			StartedAt: time.Now(),
			Providers: make(map[model.ProviderType]ProviderStatus, len(im.providers)),
		},
	}
	log := slog.With("run", run.ID)

	ctx, span := im.tracer.Start(ctx, "import", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("providers", len(im.providers)),
	))
	defer span.End()

	defer func() {
		im.emit(func(l Listener) { l.OnAllComplete() })
		im.importCount.Add(1)
		run.FinishedAt = time.Now()
		if im.recorder != nil {
			if err := im.recorder.RecordImport(run.snapshot()); err != nil {
				log.Warn("failed to record import", "error", err)
			}
		}
		im.importing.Store(false)
	}()

	log.Info("import started", "providers", len(im.providers))

	var wg conc.WaitGroup
	for _, p := range im.providers {
		wg.Go(func() {
			var pc panics.Catcher
			ph := phaseSongs
			pc.Try(func() { im.importProvider(ctx, run, p, &ph) })
			if r := pc.Recovered(); r != nil {
				msg := fmt.Sprintf("provider panicked: %v", r.Value)
				log.Error("provider panicked", "provider", p.Type(), "phase", ph, "panic", r.Value, "stack", string(r.Stack))
				if ph == phasePlaylists {
					run.set(p.Type(), ProviderStatus{Songs: "complete", Playlists: "failed", Error: msg})
					im.emit(func(l Listener) { l.OnPlaylistImportFailed(p.Type(), msg) })
					return
				}
				run.set(p.Type(), ProviderStatus{Songs: "failed", Playlists: "skipped", Error: msg})
				im.emit(func(l Listener) { l.OnSongImportFailed(p.Type(), msg) })
			}
		})
	}
	wg.Wait()

	log.Info("import finished", "duration", time.Since(run.StartedAt).Round(time.Millisecond))
	return nil
}

// phase is the part of a provider's import that is running.
type phase string

const (
	phaseSongs     phase = "songs"
	phasePlaylists phase = "playlists"
)

// importProvider runs both phases for p. ph is advanced as the playlist
// phase starts so a recovered panic can be attributed to the right phase.
func (im *Importer) importProvider(ctx context.Context, run *runState, p provider.Provider, ph *phase) {
	pt := p.Type()
	ctx, span := im.tracer.Start(ctx, "import.provider", trace.WithAttributes(
		attribute.String("provider", pt.String()),
	))
	defer span.End()

	log := slog.With("run", run.ID, "provider", pt)
	im.emit(func(l Listener) { l.OnStart(pt) })

	if err := im.importSongs(ctx, log, p); err != nil {
		span.SetStatus(codes.Error, err.Error())
		run.set(pt, ProviderStatus{Songs: "failed", Playlists: "skipped", Error: err.Error()})
		return
	}

	select {
	case <-time.After(im.playlistDelay):
	case <-ctx.Done():
		msg := ctx.Err().Error()
		im.emit(func(l Listener) { l.OnPlaylistImportFailed(pt, msg) })
		run.set(pt, ProviderStatus{Songs: "complete", Playlists: "failed", Error: msg})
		return
	}

	*ph = phasePlaylists
	if err := im.importPlaylists(ctx, log, p); err != nil {
		span.SetStatus(codes.Error, err.Error())
		run.set(pt, ProviderStatus{Songs: "complete", Playlists: "failed", Error: err.Error()})
		return
	}
	run.set(pt, ProviderStatus{Songs: "complete", Playlists: "complete"})
}

// importSongs runs the song phase. The returned error has already been
// reported to listeners.
func (im *Importer) importSongs(ctx context.Context, log *slog.Logger, p provider.Provider) error {
	pt := p.Type()
	fail := func(msg string) error {
		im.emit(func(l Listener) { l.OnSongImportFailed(pt, msg) })
		return errors.New(msg)
	}

	existing, err := im.store.SongsByProvider(ctx, pt)
	if err != nil {
		log.Error("failed to load existing songs", "error", err)
		return fail("failed to load catalog")
	}

	terminal, ok := provider.Collect(ctx, p.FindSongs(ctx), func(ev provider.Event[[]model.Song]) {
		im.emit(func(l Listener) { l.OnSongImportProgress(pt, ev.Message, ev.Progress) })
	})
	if !ok {
		log.Error("song discovery ended without a result")
		return fail("song discovery ended unexpectedly")
	}
	if terminal.Kind == provider.KindFailure {
		log.Error("song discovery failed", "message", terminal.Message)
		return fail(terminal.Message)
	}

	d := diff.Songs(existing, terminal.Result)
	if err := im.store.ApplySongDiff(ctx, pt, d); err != nil {
		log.Error("failed to update catalog", "error", err)
		return fail("failed to update catalog")
	}

	result := SongImportResult{
		Inserts: len(d.Inserts),
		Updates: len(d.Updates),
		Deletes: len(d.Deletes),
	}
	log.Info("songs imported", "inserted", result.Inserts, "updated", result.Updates, "deleted", result.Deletes)
	im.emit(func(l Listener) { l.OnSongImportComplete(pt, result) })
	return nil
}

// importPlaylists runs the playlist phase. Definitions are reconciled one at
// a time; a failing definition does not stop the rest.
func (im *Importer) importPlaylists(ctx context.Context, log *slog.Logger, p provider.Provider) error {
	pt := p.Type()
	fail := func(msg string) error {
		im.emit(func(l Listener) { l.OnPlaylistImportFailed(pt, msg) })
		return errors.New(msg)
	}

	playlists, err := im.store.PlaylistsByProvider(ctx, pt)
	if err != nil {
		log.Error("failed to load existing playlists", "error", err)
		return fail("failed to load catalog")
	}
	songs, err := im.store.SongsByProvider(ctx, pt)
	if err != nil {
		log.Error("failed to load existing songs", "error", err)
		return fail("failed to load catalog")
	}

	terminal, ok := provider.Collect(ctx, p.FindPlaylists(ctx, playlists, songs), func(ev provider.Event[[]model.PlaylistUpdateData]) {
		im.emit(func(l Listener) { l.OnPlaylistImportProgress(pt, ev.Message, ev.Progress) })
	})
	if !ok {
		log.Error("playlist discovery ended without a result")
		return fail("playlist discovery ended unexpectedly")
	}
	if terminal.Kind == provider.KindFailure {
		log.Error("playlist discovery failed", "message", terminal.Message)
		return fail(terminal.Message)
	}

	defs := terminal.Result
	pass := im.reconciler.Begin(playlists)
	failed := 0
	for i, def := range defs {
		if def.ProviderType == "" {
			def.ProviderType = pt
		}
		progress := &model.Progress{Current: i + 1, Total: len(defs)}
		im.emit(func(l Listener) { l.OnPlaylistImportProgress(pt, def.Name, progress) })

		outcome, err := pass.Apply(ctx, def)
		if err != nil {
			failed++
			log.Error("failed to import playlist", "playlist", def.Name, "error", err)
			continue
		}
		log.Debug("playlist reconciled", "playlist", def.Name, "outcome", outcome)
	}

	if failed > 0 {
		return fail(fmt.Sprintf("failed to import %d of %d playlists", failed, len(defs)))
	}

	result := pass.Result()
	log.Info("playlists imported",
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"members_added", result.MembersAdded,
	)
	im.emit(func(l Listener) { l.OnPlaylistImportComplete(pt, result) })
	return nil
}

type runState struct {
	mu sync.Mutex
	Run
}

func (r *runState) set(pt model.ProviderType, st ProviderStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Providers[pt] = st
}

func (r *runState) snapshot() Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.Run
	out.Providers = make(map[model.ProviderType]ProviderStatus, len(r.Providers))
	for k, v := range r.Providers {
		out.Providers[k] = v
	}
	return out
}
