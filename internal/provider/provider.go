// Package provider defines the contract every catalog source implements and
// the event stream helpers shared by the implementations.
package provider

import (
	"context"
	"fmt"

	"github.com/vonshlovens/catalogsync/internal/model"
)

// Provider is a source of songs and playlists.
type Provider interface {
	Type() model.ProviderType
	FindSongs(ctx context.Context) <-chan Event[[]model.Song]
	FindPlaylists(ctx context.Context, existingPlaylists []model.Playlist, existingSongs []model.Song) <-chan Event[[]model.PlaylistUpdateData]
}

// EventKind tags an Event.
type EventKind int

const (
	KindProgress EventKind = iota
	KindSuccess
	KindFailure
)

func (k EventKind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one element of a provider stream. Success and Failure are
// terminal; a stream carries at most one of them.
type Event[T any] struct {
	Kind     EventKind
	Message  string
	Progress *model.Progress
	Result   T
}

// Progress builds a non-terminal progress event. A nil progress means the
// step is indeterminate.
func Progress[T any](message string, p *model.Progress) Event[T] {
	return Event[T]{Kind: KindProgress, Message: message, Progress: p}
}

// Success builds a terminal success event.
func Success[T any](result T) Event[T] {
	return Event[T]{Kind: KindSuccess, Result: result}
}

// Failure builds a terminal failure event.
func Failure[T any](message string) Event[T] {
	return Event[T]{Kind: KindFailure, Message: message}
}

// Terminal reports whether the event ends its stream.
func (e Event[T]) Terminal() bool {
	return e.Kind == KindSuccess || e.Kind == KindFailure
}
