package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/vonshlovens/catalogsync/internal/importer"
	"github.com/vonshlovens/catalogsync/internal/model"
)

const (
	otelScope = "github.com/vonshlovens/catalogsync/internal/telemetry"

	metricSongsInserted    = "catalogsync.import.songs.inserted"
	metricSongsUpdated     = "catalogsync.import.songs.updated"
	metricSongsDeleted     = "catalogsync.import.songs.deleted"
	metricPlaylistsCreated = "catalogsync.import.playlists.created"
	metricPlaylistsUpdated = "catalogsync.import.playlists.updated"
	metricProviderFailures = "catalogsync.import.failures"
	metricImportsCompleted = "catalogsync.import.completed"
)

// ImportMetrics is an importer.Listener recording counters per provider
type ImportMetrics struct {
	importer.BaseListener

	songsInserted    metric.Int64Counter
	songsUpdated     metric.Int64Counter
	songsDeleted     metric.Int64Counter
	playlistsCreated metric.Int64Counter
	playlistsUpdated metric.Int64Counter
	failures         metric.Int64Counter
	completed        metric.Int64Counter
}

// NewImportMetrics creates counters on the global meter provider
func NewImportMetrics() *ImportMetrics {
	return newImportMetrics(otel.Meter(otelScope))
}

func newImportMetrics(meter metric.Meter) *ImportMetrics {
	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			slog.Error("failed to create counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &ImportMetrics{
		songsInserted:    mustCounter(metricSongsInserted, "Songs inserted by imports"),
		songsUpdated:     mustCounter(metricSongsUpdated, "Songs updated by imports"),
		songsDeleted:     mustCounter(metricSongsDeleted, "Songs deleted by imports"),
		playlistsCreated: mustCounter(metricPlaylistsCreated, "Playlists created by imports"),
		playlistsUpdated: mustCounter(metricPlaylistsUpdated, "Playlists updated by imports"),
		failures:         mustCounter(metricProviderFailures, "Failed provider import phases"),
		completed:        mustCounter(metricImportsCompleted, "Finished imports"),
	}
}

func providerAttr(p model.ProviderType) metric.AddOption {
	return metric.WithAttributes(attribute.String("provider", p.String()))
}

func failureAttrs(p model.ProviderType, phase string) metric.AddOption {
	return metric.WithAttributes(attribute.String("provider", p.String()), attribute.String("phase", phase))
}

func (m *ImportMetrics) OnSongImportComplete(p model.ProviderType, r importer.SongImportResult) {
	ctx, attrs := context.Background(), providerAttr(p)
	m.songsInserted.Add(ctx, int64(r.Inserts), attrs)
	m.songsUpdated.Add(ctx, int64(r.Updates), attrs)
	m.songsDeleted.Add(ctx, int64(r.Deletes), attrs)
}

func (m *ImportMetrics) OnSongImportFailed(p model.ProviderType, _ string) {
	m.failures.Add(context.Background(), 1, failureAttrs(p, "songs"))
}

func (m *ImportMetrics) OnPlaylistImportComplete(p model.ProviderType, r importer.PlaylistImportResult) {
	ctx, attrs := context.Background(), providerAttr(p)
	m.playlistsCreated.Add(ctx, int64(r.Created), attrs)
	m.playlistsUpdated.Add(ctx, int64(r.Updated), attrs)
}

func (m *ImportMetrics) OnPlaylistImportFailed(p model.ProviderType, _ string) {
	m.failures.Add(context.Background(), 1, failureAttrs(p, "playlists"))
}

func (m *ImportMetrics) OnAllComplete() {
	m.completed.Add(context.Background(), 1)
}
