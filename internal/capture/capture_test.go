// internal/capture/capture_test.go
package capture

import (
	"sync"
	"testing"
	"time"

	"github.com/searchlab/searchtrace/internal/catalog"
	"github.com/searchlab/searchtrace/internal/classify"
	"github.com/searchlab/searchtrace/internal/types"
)

const chatHTML = `<html><head><title>ChatGPT</title></head><body>
<textarea id="prompt-textarea"></textarea>
<button data-testid="send-button">Send</button>
<div data-testid="conversation-turn-2">
  <p>Here are some options for running shoes.</p>
  <a href="https://runnersworld.example.com/best-shoes">Runner's World review</a>
  <a href="/c/other-chat">earlier chat</a>
  <a href="https://shoereviews.example.org/top-10">Top 10 list</a>
</div>
</body></html>`

const amazonHTML = `<html><head><title>Amazon.com: running shoes</title></head><body>
<div class="s-result-item">
  <a id="prod-1" href="/Nike-Pegasus/dp/B000123" aria-label="Nike Pegasus 41"><img alt="Nike Pegasus"></a>
</div>
<button id="add-to-cart-button">Add to Cart</button>
<button id="buy-now-button">Buy Now</button>
</body></html>`

type recorder struct {
	mu     sync.Mutex
	events []types.CapturedEvent
	views  []PageView
}

func (r *recorder) emit(ev types.CapturedEvent, view PageView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.views = append(r.views, view)
}

func (r *recorder) byKind(kind string) []types.CapturedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.CapturedEvent
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) viewFor(kind string) (PageView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, ev := range r.events {
		if ev.Kind == kind {
			return r.views[i], true
		}
	}
	return PageView{}, false
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// newCapture builds a started Capture with all delays zeroed so every code
// path runs synchronously.
func newCapture(t *testing.T) (*Capture, *recorder) {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	cfg := Config{
		ScrollThrottle:  time.Second,
		QueryRetries:    2,
		QueryRetryDelay: 0,
		SettleDelay:     0,
	}
	c := New(cfg, classify.New(cat), rec.emit)
	c.Start()
	return c, rec
}

func loadPage(c *Capture, tabID int, url, referrer, doc string, at time.Time) {
	c.HandleSignal(Signal{
		Kind:       SignalPageLoad,
		TabID:      tabID,
		URL:        url,
		Referrer:   referrer,
		HTML:       doc,
		OccurredAt: at,
	})
}

func TestPageLoadEmitsEvent(t *testing.T) {
	c, rec := newCapture(t)
	base := time.Now()

	loadPage(c, 1, "https://chat.openai.com/", "https://news.example.com/", chatHTML, base)

	loads := rec.byKind(types.KindPageLoad)
	if len(loads) != 1 {
		t.Fatalf("expected 1 page_load, got %d", len(loads))
	}
	if loads[0].URL != "https://chat.openai.com/" || loads[0].PageTitle != "ChatGPT" {
		t.Errorf("page identity wrong: %s / %s", loads[0].URL, loads[0].PageTitle)
	}

	view, ok := rec.viewFor(types.KindPageLoad)
	if !ok {
		t.Fatal("no view recorded")
	}
	if view.Match == nil || view.Match.PlatformID != "chatgpt" {
		t.Errorf("expected chatgpt match on the page view, got %v", view.Match)
	}
	if view.Referrer != "https://news.example.com/" {
		t.Errorf("referrer lost: %q", view.Referrer)
	}
}

func TestGenericInteractions(t *testing.T) {
	c, rec := newCapture(t)
	base := time.Now()
	url := "https://news.example.com/article"
	loadPage(c, 1, url, "", `<html><head><title>News</title></head><body><button id="share">Share</button></body></html>`, base)

	c.HandleSignal(Signal{Kind: SignalClick, TabID: 1, URL: url, Target: "#share", X: 10, Y: 20, OccurredAt: base.Add(time.Second)})
	c.HandleSignal(Signal{Kind: SignalVisibility, TabID: 1, URL: url, Visible: false, OccurredAt: base.Add(2 * time.Second)})
	c.HandleSignal(Signal{Kind: SignalUnload, TabID: 1, URL: url, OccurredAt: base.Add(5 * time.Second)})

	clicks := rec.byKind(types.KindClick)
	if len(clicks) != 1 {
		t.Fatalf("expected 1 click, got %d", len(clicks))
	}
	if clicks[0].Payload["element"] != "button#share" {
		t.Errorf("expected descriptor button#share, got %v", clicks[0].Payload["element"])
	}

	vis := rec.byKind(types.KindVisibilityChange)
	if len(vis) != 1 || vis[0].Payload["visible"] != false {
		t.Errorf("visibility event wrong: %v", vis)
	}

	unloads := rec.byKind(types.KindPageUnload)
	if len(unloads) != 1 {
		t.Fatalf("expected 1 page_unload, got %d", len(unloads))
	}
	if unloads[0].Payload["dwell_time_ms"] != int64(5000) {
		t.Errorf("expected 5000ms dwell, got %v", unloads[0].Payload["dwell_time_ms"])
	}
}

func TestScrollMilestoneEvents(t *testing.T) {
	c, rec := newCapture(t)
	base := time.Now()
	url := "https://news.example.com/long-read"
	loadPage(c, 1, url, "", `<html><body><article>text</article></body></html>`, base)

	// 2000px doc, 1000px viewport: top 300 is 30%
	c.HandleSignal(Signal{Kind: SignalScroll, TabID: 1, URL: url, ScrollTop: 300, ScrollHeight: 2000, ViewportHeight: 1000, OccurredAt: base.Add(time.Second)})
	// Bottom of the page after the throttle window
	c.HandleSignal(Signal{Kind: SignalScroll, TabID: 1, URL: url, ScrollTop: 1000, ScrollHeight: 2000, ViewportHeight: 1000, OccurredAt: base.Add(3 * time.Second)})
	// Scrolling back up and down again must not repeat milestones
	c.HandleSignal(Signal{Kind: SignalScroll, TabID: 1, URL: url, ScrollTop: 1000, ScrollHeight: 2000, ViewportHeight: 1000, OccurredAt: base.Add(5 * time.Second)})

	milestones := rec.byKind(types.KindScrollMilestone)
	var depths []int
	for _, ev := range milestones {
		depths = append(depths, ev.Payload["depth_percent"].(int))
	}
	want := []int{25, 50, 75, 100}
	if len(depths) != len(want) {
		t.Fatalf("expected milestones %v, got %v", want, depths)
	}
	for i := range want {
		if depths[i] != want[i] {
			t.Fatalf("expected milestones %v, got %v", want, depths)
		}
	}
}

func TestStopDetachesListeners(t *testing.T) {
	c, rec := newCapture(t)
	base := time.Now()
	url := "https://news.example.com/"
	loadPage(c, 1, url, "", `<html><body><p>x</p></body></html>`, base)

	before := rec.count()
	c.Stop()

	c.HandleSignal(Signal{Kind: SignalClick, TabID: 1, URL: url, Target: "p", OccurredAt: base.Add(time.Second)})
	loadPage(c, 2, url, "", `<html><body></body></html>`, base.Add(time.Second))

	if rec.count() != before {
		t.Errorf("expected no events after Stop, got %d new", rec.count()-before)
	}

	// Start arms a fresh session
	c.Start()
	loadPage(c, 1, url, "", `<html><body></body></html>`, base.Add(2*time.Second))
	if len(rec.byKind(types.KindPageLoad)) != 2 {
		t.Error("expected capture to resume after restart")
	}
}

func TestPlatformSwitchOnNavigation(t *testing.T) {
	c, rec := newCapture(t)
	base := time.Now()

	loadPage(c, 1, "https://chat.openai.com/", "", chatHTML, base)

	// SPA-style navigation onto Amazon in the same tab
	c.HandleSignal(Signal{
		Kind:       SignalNavigation,
		TabID:      1,
		URL:        "https://www.amazon.com/s?k=running+shoes",
		Referrer:   "https://chat.openai.com/",
		HTML:       amazonHTML,
		OccurredAt: base.Add(time.Second),
	})

	navs := rec.byKind(types.KindNavigation)
	if len(navs) != 1 {
		t.Fatalf("expected 1 navigation event, got %d", len(navs))
	}
	view, _ := rec.viewFor(types.KindNavigation)
	if view.Match == nil || view.Match.PlatformID != "amazon" {
		t.Errorf("expected amazon match after navigation, got %v", view.Match)
	}

	// The AI listeners were swapped out: Enter in the old input does nothing
	c.HandleSignal(Signal{Kind: SignalKeydown, TabID: 1, URL: "https://www.amazon.com/s?k=running+shoes", Target: "#prompt-textarea", Key: "Enter", Value: "x", OccurredAt: base.Add(2 * time.Second)})
	if len(rec.byKind(types.KindAIQuerySubmitted)) != 0 {
		t.Error("AI listeners must be detached after switching platform")
	}

	// The e-commerce listeners are live
	c.HandleSignal(Signal{Kind: SignalClick, TabID: 1, URL: "https://www.amazon.com/s?k=running+shoes", Target: "#add-to-cart-button", OccurredAt: base.Add(3 * time.Second)})
	if len(rec.byKind(types.KindConversionAction)) != 1 {
		t.Error("expected conversion_action after platform switch")
	}
}

func TestViaAIPlatformMarker(t *testing.T) {
	c, rec := newCapture(t)
	base := time.Now()

	if c.ViaAIPlatform() {
		t.Error("marker must start false")
	}

	// Arriving at Amazon from ChatGPT sets the session marker
	c.HandleSignal(Signal{
		Kind:       SignalPageLoad,
		TabID:      1,
		URL:        "https://www.amazon.com/s?k=shoes",
		Referrer:   "https://chat.openai.com/c/abc",
		HTML:       amazonHTML,
		OccurredAt: base,
	})
	if !c.ViaAIPlatform() {
		t.Fatal("expected marker set by AI referrer")
	}

	view, _ := rec.viewFor(types.KindPageLoad)
	if !view.ViaAIPlatform {
		t.Error("expected via-AI flag on the page view")
	}

	// Start resets the marker for the next session
	c.Stop()
	c.Start()
	if c.ViaAIPlatform() {
		t.Error("marker must reset on a new session")
	}
}

func TestSignalsIgnoredBeforeStart(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	c := New(DefaultConfig(), classify.New(cat), rec.emit)

	loadPage(c, 1, "https://news.example.com/", "", "<html></html>", time.Now())
	if rec.count() != 0 {
		t.Errorf("expected no events before Start, got %d", rec.count())
	}
}
