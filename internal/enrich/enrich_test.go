// internal/enrich/enrich_test.go
package enrich

import (
	"testing"
	"time"

	"github.com/searchlab/searchtrace/internal/capture"
	"github.com/searchlab/searchtrace/internal/catalog"
	"github.com/searchlab/searchtrace/internal/classify"
	"github.com/searchlab/searchtrace/internal/types"
)

func newProcessor(t *testing.T) (*Processor, *Exclusions, types.SessionID) {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	exclusions := NewExclusions(nil)
	sessionID := types.NewSessionID()
	identity := func() (types.SessionID, string, bool) {
		return sessionID, "P001", true
	}
	p := NewProcessor(classify.New(cat), exclusions, identity)
	p.SetClock(func() time.Time { return time.UnixMilli(1700000001000) })
	return p, exclusions, sessionID
}

func capturedEvent(kind, url string) types.CapturedEvent {
	return types.CapturedEvent{
		Kind:       kind,
		OccurredAt: time.UnixMilli(1700000000000),
		TabID:      7,
		URL:        url,
		PageTitle:  "Some Page",
		Payload:    map[string]any{"referrer": ""},
	}
}

func TestProcessEnrichesEvent(t *testing.T) {
	p, _, sessionID := newProcessor(t)

	match := &classify.Match{PlatformID: "amazon", Class: types.ClassEcommerce}
	view := capture.PageView{
		Match:              match,
		Referrer:           "https://chat.openai.com/c/abc",
		ScrollDepthPercent: 50,
		DwellTime:          3 * time.Second,
	}

	enriched, ok := p.Process(capturedEvent(types.KindConversionAction, "https://www.amazon.com/dp/B000123"), view)
	if !ok {
		t.Fatal("expected event to survive")
	}
	if enriched.ID == "" {
		t.Error("expected an assigned event id")
	}
	if enriched.Type != types.KindConversionAction {
		t.Errorf("unexpected type %s", enriched.Type)
	}
	if enriched.Timestamp != 1700000000000 {
		t.Errorf("expected millisecond timestamp, got %d", enriched.Timestamp)
	}
	if enriched.SessionID != sessionID || enriched.ParticipantID != "P001" {
		t.Error("session identity not stamped")
	}
	if enriched.PlatformClass != types.ClassEcommerce || enriched.PlatformID != "amazon" {
		t.Errorf("platform identity lost: %s/%s", enriched.PlatformClass, enriched.PlatformID)
	}
	if enriched.ReferrerPlatformID != "chatgpt" {
		t.Errorf("expected chatgpt referrer attribution, got %q", enriched.ReferrerPlatformID)
	}
	if !enriched.AIToCommerce {
		t.Error("expected AI-to-commerce transition flag")
	}
	if enriched.ScrollDepthPercent != 50 || enriched.DwellTimeMs != 3000 {
		t.Errorf("engagement fields lost: %d%% / %dms", enriched.ScrollDepthPercent, enriched.DwellTimeMs)
	}
	if enriched.EnqueuedAt != 1700000001000 {
		t.Errorf("expected enqueue timestamp from clock, got %d", enriched.EnqueuedAt)
	}
}

func TestProcessNoTransitionWithoutAIReferrer(t *testing.T) {
	p, _, _ := newProcessor(t)
	match := &classify.Match{PlatformID: "amazon", Class: types.ClassEcommerce}
	view := capture.PageView{Match: match, Referrer: "https://news.example.com/"}

	enriched, ok := p.Process(capturedEvent(types.KindProductClick, "https://www.amazon.com/dp/B000123"), view)
	if !ok {
		t.Fatal("expected event to survive")
	}
	if enriched.AIToCommerce {
		t.Error("general referrer must not set the transition flag")
	}
	if enriched.ReferrerPlatformID != "" {
		t.Errorf("expected no referrer platform, got %q", enriched.ReferrerPlatformID)
	}
}

func TestProcessDropsDisallowedKind(t *testing.T) {
	p, _, _ := newProcessor(t)

	// product_click on a general page never passes the allow-list
	if _, ok := p.Process(capturedEvent(types.KindProductClick, "https://news.example.com/"), capture.PageView{}); ok {
		t.Error("expected class-specific kind to drop on general page")
	}

	// ai_query_submitted on an e-commerce page likewise
	view := capture.PageView{Match: &classify.Match{PlatformID: "amazon", Class: types.ClassEcommerce}}
	if _, ok := p.Process(capturedEvent(types.KindAIQuerySubmitted, "https://www.amazon.com/"), view); ok {
		t.Error("expected AI kind to drop on e-commerce page")
	}
}

func TestProcessExclusionBeatsEverything(t *testing.T) {
	p, exclusions, _ := newProcessor(t)
	exclusions.Set([]string{"bank.com"})

	// Even always-allowed kinds drop on excluded domains
	if _, ok := p.Process(capturedEvent(types.KindPageLoad, "https://secure.bank.com/login"), capture.PageView{}); ok {
		t.Error("expected page_load on excluded domain to drop")
	}
	if _, ok := p.Process(capturedEvent(types.KindClick, "https://bank.com/"), capture.PageView{}); ok {
		t.Error("expected click on excluded domain to drop")
	}

	// Other domains are unaffected
	if _, ok := p.Process(capturedEvent(types.KindPageLoad, "https://news.example.com/"), capture.PageView{}); !ok {
		t.Error("expected page_load on other domain to pass")
	}
}

func TestProcessDropsWithoutSession(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	idle := func() (types.SessionID, string, bool) { return "", "", false }
	p := NewProcessor(classify.New(cat), NewExclusions(nil), idle)

	if _, ok := p.Process(capturedEvent(types.KindPageLoad, "https://news.example.com/"), capture.PageView{}); ok {
		t.Error("expected events to drop with no active session")
	}
}
