// internal/capture/capture.go
package capture

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/searchlab/searchtrace/internal/classify"
	"github.com/searchlab/searchtrace/internal/dom"
	"github.com/searchlab/searchtrace/internal/types"
)

const (
	maxLinkTextChars     = 200
	maxProductNameChars  = 120
	maxResponseTextChars = 4096
)

// Config holds the capture layer's tunable bounds. All of them are plain
// values so tests can shrink retries and delays to zero.
type Config struct {
	ScrollThrottle  time.Duration
	QueryRetries    int
	QueryRetryDelay time.Duration
	SettleDelay     time.Duration
}

func DefaultConfig() Config {
	return Config{
		ScrollThrottle:  time.Second,
		QueryRetries:    10,
		QueryRetryDelay: 500 * time.Millisecond,
		SettleDelay:     50 * time.Millisecond,
	}
}

// PageView is the page-context snapshot attached to each emitted event,
// carrying what the enricher needs: the platform match, the referrer, and
// the engagement trackers at emit time.
type PageView struct {
	Match              *classify.Match
	Referrer           string
	ScrollDepthPercent int
	DwellTime          time.Duration
	ViaAIPlatform      bool
}

// EmitFunc receives each raw captured event together with its page view.
type EmitFunc func(ev types.CapturedEvent, view PageView)

// Capture turns page signals into raw events. One pageState exists per
// tab, mirroring one content script per page; each holds its own listener
// registry so Stop can deterministically detach everything.
type Capture struct {
	cfg        Config
	classifier *classify.Classifier
	emit       EmitFunc
	now        func() time.Time

	mu           sync.Mutex
	started      bool
	sessionViaAI bool
	pages        map[int]*pageState
}

func New(cfg Config, classifier *classify.Classifier, emit EmitFunc) *Capture {
	return &Capture{
		cfg:        cfg,
		classifier: classifier,
		emit:       emit,
		now:        time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (c *Capture) SetClock(now func() time.Time) {
	c.now = now
}

// Start arms the capture layer. Page contexts are created lazily as
// lifecycle signals arrive.
func (c *Capture) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	c.sessionViaAI = false
	c.pages = make(map[int]*pageState)
}

// Stop detaches every listener on every page context and drops the page
// state. Signals arriving after Stop are ignored.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, page := range c.pages {
		page.registry.detachAll()
	}
	c.started = false
	c.pages = nil
}

// ViaAIPlatform reports the single-session marker: whether any page in
// this capture session was reached from an AI platform.
func (c *Capture) ViaAIPlatform() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionViaAI
}

// HandleSignal routes one signal into the pipeline. Lifecycle signals
// rebuild the page context and re-run platform detection; interaction
// signals dispatch to whatever listeners are attached.
func (c *Capture) HandleSignal(sig Signal) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	page, ok := c.pages[sig.TabID]
	if !ok {
		page = newPageState(sig.TabID)
		c.attachGeneric(page)
		c.pages[sig.TabID] = page
	}
	c.mu.Unlock()

	if sig.OccurredAt.IsZero() {
		sig.OccurredAt = c.now()
	}

	switch sig.Kind {
	case SignalPageLoad, SignalDOMReady, SignalNavigation:
		c.handleLifecycle(page, sig)
	default:
		page.registry.dispatch(page, sig)
	}
}

// handleLifecycle parses the snapshot, re-runs classification, and swaps
// platform listeners when the resolved platform changed. page_load arrives
// before the DOM is ready, so marker-dependent definitions wait for
// dom_ready; navigation covers SPA transitions over a live document.
func (c *Capture) handleLifecycle(page *pageState, sig Signal) {
	ready := sig.Kind != SignalPageLoad
	snap, err := dom.ParseSnapshot(sig.URL, sig.Referrer, ready, strings.NewReader(sig.HTML))
	if err != nil {
		slog.Warn("snapshot parse failed", "tab_id", sig.TabID, "error", err)
		return
	}

	if sig.Kind != SignalDOMReady {
		page.beginPage(snap, sig.OccurredAt)
	} else {
		page.mu.Lock()
		page.snap = snap
		page.mu.Unlock()
	}

	if ref := c.classifier.FromReferrer(sig.Referrer); ref != nil && ref.Class == types.ClassAI {
		c.mu.Lock()
		c.sessionViaAI = true
		c.mu.Unlock()
	}

	prev := page.currentMatch()
	match := c.classifier.Classify(snap.URL, snap.Hostname, snap)
	if platformID(prev) != platformID(match) || sig.Kind != SignalDOMReady {
		page.registry.detachPlatform()
		page.setMatch(match)
		if match != nil {
			c.attachPlatform(page, match)
			slog.Debug("platform detected", "tab_id", page.tabID, "platform", match.PlatformID, "class", match.Class)
		}
	}

	switch sig.Kind {
	case SignalPageLoad:
		c.emitEvent(page, sig, types.KindPageLoad, map[string]any{
			"referrer": sig.Referrer,
		})
	case SignalNavigation:
		c.emitEvent(page, sig, types.KindNavigation, map[string]any{
			"referrer": sig.Referrer,
		})
	}
}

func platformID(m *classify.Match) string {
	if m == nil {
		return ""
	}
	return m.PlatformID
}

// emitEvent builds the raw event plus page view and hands both to the
// pipeline.
func (c *Capture) emitEvent(page *pageState, sig Signal, kind string, payload map[string]any) {
	if c.emit == nil {
		return
	}
	snap := page.snapshot()
	title := ""
	referrer := ""
	if snap != nil {
		title = snap.Title
		referrer = snap.Referrer
	}
	ev := types.CapturedEvent{
		Kind:       kind,
		OccurredAt: sig.OccurredAt,
		TabID:      page.tabID,
		URL:        sig.URL,
		PageTitle:  title,
		Payload:    payload,
	}
	view := PageView{
		Match:              page.currentMatch(),
		Referrer:           referrer,
		ScrollDepthPercent: page.scrollDepth(),
		DwellTime:          page.dwell(sig.OccurredAt),
		ViaAIPlatform:      c.ViaAIPlatform(),
	}
	c.emit(ev, view)
}

// attachGeneric wires the listeners every page gets regardless of
// platform.
func (c *Capture) attachGeneric(page *pageState) {
	reg := page.registry

	reg.attach(SignalClick, false, func(p *pageState, sig Signal) {
		c.emitEvent(p, sig, types.KindClick, map[string]any{
			"element": c.describeTarget(p, sig),
			"x":       sig.X,
			"y":       sig.Y,
		})
	})
	reg.attach(SignalInput, false, func(p *pageState, sig Signal) {
		c.emitEvent(p, sig, types.KindInput, map[string]any{
			"element": c.describeTarget(p, sig),
		})
	})
	reg.attach(SignalSubmit, false, func(p *pageState, sig Signal) {
		c.emitEvent(p, sig, types.KindSubmit, map[string]any{
			"element": c.describeTarget(p, sig),
		})
	})
	reg.attach(SignalScroll, false, func(p *pageState, sig Signal) {
		pct := scrollPercentOf(sig.ScrollTop, sig.ScrollHeight, sig.ViewportHeight)
		for _, milestone := range p.recordScroll(pct, sig.OccurredAt, c.cfg.ScrollThrottle) {
			c.emitEvent(p, sig, types.KindScrollMilestone, map[string]any{
				"depth_percent": milestone,
			})
		}
	})
	reg.attach(SignalVisibility, false, func(p *pageState, sig Signal) {
		c.emitEvent(p, sig, types.KindVisibilityChange, map[string]any{
			"visible": sig.Visible,
		})
	})
	reg.attach(SignalUnload, false, func(p *pageState, sig Signal) {
		c.emitEvent(p, sig, types.KindPageUnload, map[string]any{
			"dwell_time_ms": p.dwell(sig.OccurredAt).Milliseconds(),
		})
	})
}

// describeTarget resolves the signal's target path against the snapshot
// and renders a short descriptor. An unresolvable target degrades to the
// raw path string.
func (c *Capture) describeTarget(page *pageState, sig Signal) string {
	snap := page.snapshot()
	if snap == nil || sig.Target == "" {
		return sig.Target
	}
	if n := dom.Query(snap.Root, sig.Target); n != nil {
		return dom.Describe(n)
	}
	return sig.Target
}
