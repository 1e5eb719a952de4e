// Package syncqueue keeps the durable queue of local playlist edits that
// still have to reach a remote media server, together with each playlist's
// sync state.
package syncqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vonshlovens/catalogsync/internal/model"
)

// DefaultMaxRetries bounds the attempts of a new operation.
const DefaultMaxRetries = 3

// ErrInvalidTransition is returned when an operation is moved out of a state
// that does not allow it.
var ErrInvalidTransition = errors.New("invalid operation state transition")

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusFailed   Status = "failed"
	StatusDone     Status = "done"
)

// OpType tags what an operation does to the remote playlist.
type OpType string

const (
	OpAddSongs    OpType = "add_songs"
	OpRemoveSongs OpType = "remove_songs"
)

// Payload is the serialized body of an operation.
type Payload struct {
	// SongIDs are the remote ids of the affected songs.
	SongIDs []string `json:"song_ids"`
}

// Operation is one queued remote mutation.
type Operation struct {
	ID            int64
	PlaylistID    int64
	ExternalID    *string
	ProviderType  model.ProviderType
	OperationType OpType
	OperationData string
	Status        Status
	Priority      int
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	RetryCount    int
	MaxRetries    int
	ErrorMessage  *string
}

// NewOperation builds a pending operation with an encoded payload.
func NewOperation(playlistID int64, externalID *string, pt model.ProviderType, opType OpType, payload Payload) (*Operation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation payload: %w", err)
	}
	return &Operation{
		PlaylistID:    playlistID,
		ExternalID:    externalID,
		ProviderType:  pt,
		OperationType: opType,
		OperationData: string(data),
		Status:        StatusPending,
		MaxRetries:    DefaultMaxRetries,
	}, nil
}

// Payload decodes the operation body.
func (op *Operation) Payload() (Payload, error) {
	var p Payload
	if op.OperationData == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(op.OperationData), &p); err != nil {
		return p, fmt.Errorf("failed to decode operation %d payload: %w", op.ID, err)
	}
	return p, nil
}

// Begin marks the start of an attempt.
func (op *Operation) Begin(now time.Time) error {
	if op.Status != StatusPending {
		return fmt.Errorf("%w: begin from %s", ErrInvalidTransition, op.Status)
	}
	op.Status = StatusInFlight
	op.LastAttemptAt = &now
	return nil
}

// Succeed finishes an attempt successfully.
func (op *Operation) Succeed() error {
	if op.Status != StatusInFlight {
		return fmt.Errorf("%w: succeed from %s", ErrInvalidTransition, op.Status)
	}
	op.Status = StatusDone
	op.ErrorMessage = nil
	return nil
}

// Fail finishes an attempt with cause. The operation goes back to pending
// while under its retry budget and to failed once the budget is used up.
func (op *Operation) Fail(cause error) error {
	if op.Status != StatusInFlight {
		return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, op.Status)
	}
	op.RetryCount++
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	op.ErrorMessage = &msg

	if op.RetryCount >= op.MaxRetries {
		op.Status = StatusFailed
	} else {
		op.Status = StatusPending
	}
	return nil
}

// Reset re-queues a failed operation with a fresh retry budget.
func (op *Operation) Reset() error {
	if op.Status != StatusFailed {
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, op.Status)
	}
	op.Status = StatusPending
	op.RetryCount = 0
	op.ErrorMessage = nil
	return nil
}
