// internal/types/interfaces.go
package types

import "context"

// EventLog is the durable live buffer of enriched events for a session.
type EventLog interface {
	Append(ctx context.Context, sessionID SessionID, event *EnrichedEvent) error
	Load(ctx context.Context, sessionID SessionID) ([]EnrichedEvent, error)
	Remove(ctx context.Context, sessionID SessionID, ids []EventID) error
	Count(ctx context.Context, sessionID SessionID) (int64, error)
	SizeBytes(ctx context.Context, sessionID SessionID) (int64, error)
	Clear(ctx context.Context, sessionID SessionID) error
}

// BatchStore holds upload batches that have been snapshotted but not yet
// acknowledged by the sink.
type BatchStore interface {
	Put(ctx context.Context, batch *UploadBatch) error
	List(ctx context.Context) ([]*UploadBatch, error)
	Delete(ctx context.Context, id BatchID) error
}

// SessionMetaStore persists the active recording session so a restarted
// worker can resume it.
type SessionMetaStore interface {
	Load(ctx context.Context) (*SessionMeta, error)
	Save(ctx context.Context, meta *SessionMeta) error
	Clear(ctx context.Context) error
}

// Sink delivers one upload batch to the remote collector. Any non-nil
// error means the batch was not acknowledged.
type Sink interface {
	Upload(ctx context.Context, req *UploadRequest) error
}
