// internal/types/ids.go
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SessionID string
type EventID string
type BatchID string
type UploadID string

// NewSessionID builds a session identifier from the current wall clock plus
// a random suffix, so identifiers sort roughly by start time while staying
// unique across restarts.
func NewSessionID() SessionID {
	suffix := strings.SplitN(uuid.New().String(), "-", 2)[0]
	return SessionID(fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), suffix))
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

func NewBatchID() BatchID {
	return BatchID(uuid.New().String())
}

func NewUploadID() UploadID {
	return UploadID(uuid.New().String())
}
