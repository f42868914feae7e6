// internal/types/models.go
package types

import "time"

// PlatformClass is the coarse category a recognized platform belongs to.
// Pages that match no platform definition are treated as ClassGeneral.
type PlatformClass string

const (
	ClassGeneral   PlatformClass = "general"
	ClassAI        PlatformClass = "ai"
	ClassEcommerce PlatformClass = "ecommerce"
)

// Event kinds emitted by the capture layer. Wire names match what the
// collector stores, so they are stable.
const (
	KindPageLoad           = "page_load"
	KindNavigation         = "navigation"
	KindClick              = "click"
	KindInput              = "input"
	KindSubmit             = "submit"
	KindVisibilityChange   = "visibility_change"
	KindPageUnload         = "page_unload"
	KindScrollMilestone    = "scroll_milestone"
	KindAIQuerySubmitted   = "ai_query_submitted"
	KindAIResultClick      = "ai_result_click"
	KindAIResponseCaptured = "ai_response_captured"
	KindProductClick       = "product_click"
	KindConversionAction   = "conversion_action"
	KindSessionStart       = "session_start"
	KindSessionEnd         = "session_end"
)

// CapturedEvent is a raw observation from a page context. It is handed to
// the filter/enricher immediately and never persisted in this form.
type CapturedEvent struct {
	Kind       string         `json:"kind"`
	OccurredAt time.Time      `json:"occurred_at"`
	TabID      int            `json:"tab_id"`
	URL        string         `json:"url"`
	PageTitle  string         `json:"page_title"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// EnrichedEvent is a CapturedEvent that survived filtering, annotated with
// session identity, platform identity, and engagement signals. Timestamps
// are milliseconds since the Unix epoch, matching the upload wire format.
// An EnrichedEvent is immutable once enqueued.
type EnrichedEvent struct {
	ID                 EventID        `json:"id"`
	Type               string         `json:"type"`
	Timestamp          int64          `json:"timestamp"`
	SessionID          SessionID      `json:"sessionId"`
	ParticipantID      string         `json:"participantId"`
	TabID              int            `json:"tabId"`
	URL                string         `json:"url"`
	Title              string         `json:"title,omitempty"`
	PlatformClass      PlatformClass  `json:"platformClass"`
	PlatformID         string         `json:"platformId,omitempty"`
	ReferrerPlatformID string         `json:"referrerPlatformId,omitempty"`
	AIToCommerce       bool           `json:"isAIToCommerceTransition"`
	ScrollDepthPercent int            `json:"scrollDepthPercent"`
	DwellTimeMs        int64          `json:"dwellTimeMs"`
	EnqueuedAt         int64          `json:"uploadTimestamp"`
	Payload            map[string]any `json:"data,omitempty"`
}

// SessionMeta is the durable record of the active recording session. The
// counters are persisted so they survive a worker restart.
type SessionMeta struct {
	SessionID      SessionID `json:"session_id"`
	ParticipantID  string    `json:"participant_id"`
	StartedAt      time.Time `json:"started_at"`
	Active         bool      `json:"active"`
	EventsEnqueued int64     `json:"events_enqueued"`
	EventsUploaded int64     `json:"events_uploaded"`
}

// UploadBatch is a snapshot of buffered events awaiting acknowledgment.
// It stays in the pending set until the sink returns 2xx.
type UploadBatch struct {
	BatchID       BatchID         `json:"batch_id"`
	SessionID     SessionID       `json:"session_id"`
	ParticipantID string          `json:"participant_id"`
	Events        []EnrichedEvent `json:"events"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	Attempts      int             `json:"attempts"`
}

// UploadRequest is the JSON body posted to the sink.
type UploadRequest struct {
	UploadID        UploadID        `json:"uploadId"`
	SessionID       SessionID       `json:"sessionId"`
	ParticipantID   string          `json:"participantId"`
	Events          []EnrichedEvent `json:"events"`
	UploadTimestamp int64           `json:"uploadTimestamp"`
	EventCount      int             `json:"eventCount"`
}
