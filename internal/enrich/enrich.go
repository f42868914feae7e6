// internal/enrich/enrich.go
package enrich

import (
	"time"

	"github.com/searchlab/searchtrace/internal/capture"
	"github.com/searchlab/searchtrace/internal/classify"
	"github.com/searchlab/searchtrace/internal/dom"
	"github.com/searchlab/searchtrace/internal/types"
)

// Identity reports the active recording session's identity. ok is false
// when no session is recording, in which case every event is dropped
// before enrichment.
type Identity func() (session types.SessionID, participant string, ok bool)

// Processor filters raw events and enriches the survivors. Exclusion runs
// first, then the per-class allow-list; nothing reaches the buffer without
// passing both.
type Processor struct {
	classifier *classify.Classifier
	exclusions *Exclusions
	identity   Identity
	now        func() time.Time
}

func NewProcessor(classifier *classify.Classifier, exclusions *Exclusions, identity Identity) *Processor {
	return &Processor{
		classifier: classifier,
		exclusions: exclusions,
		identity:   identity,
		now:        time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// Process returns the enriched event and true, or nil and false when the
// event is dropped.
func (p *Processor) Process(ev types.CapturedEvent, view capture.PageView) (*types.EnrichedEvent, bool) {
	if p.exclusions != nil && p.exclusions.Excluded(dom.Hostname(ev.URL)) {
		return nil, false
	}

	class := classify.ClassOf(view.Match)
	if !Allowed(class, ev.Kind) {
		return nil, false
	}

	sessionID, participant, ok := p.identity()
	if !ok {
		return nil, false
	}

	enriched := &types.EnrichedEvent{
		ID:                 types.NewEventID(),
		Type:               ev.Kind,
		Timestamp:          ev.OccurredAt.UnixMilli(),
		SessionID:          sessionID,
		ParticipantID:      participant,
		TabID:              ev.TabID,
		URL:                ev.URL,
		Title:              ev.PageTitle,
		PlatformClass:      class,
		ScrollDepthPercent: view.ScrollDepthPercent,
		DwellTimeMs:        view.DwellTime.Milliseconds(),
		EnqueuedAt:         p.now().UnixMilli(),
		Payload:            ev.Payload,
	}
	if view.Match != nil {
		enriched.PlatformID = view.Match.PlatformID
	}
	if ref := p.classifier.FromReferrer(view.Referrer); ref != nil {
		enriched.ReferrerPlatformID = ref.PlatformID
	}
	enriched.AIToCommerce = p.classifier.IsAIToCommerce(view.Referrer, view.Match)

	return enriched, true
}
