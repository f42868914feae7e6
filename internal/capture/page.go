// internal/capture/page.go
package capture

import (
	"sync"
	"time"

	"github.com/searchlab/searchtrace/internal/classify"
	"github.com/searchlab/searchtrace/internal/dom"
)

// scrollMilestones are the fixed depth thresholds that coarsen continuous
// scroll tracking into discrete events.
var scrollMilestones = []int{25, 50, 75, 100}

// pageState is the per-tab page context: the current snapshot, the active
// platform match and its selector lists, and engagement trackers. It is
// replaced piecemeal on navigation and superseded wholesale when the tab
// loads a new page.
type pageState struct {
	registry *registry

	mu sync.Mutex

	tabID    int
	snap     *dom.Snapshot
	match    *classify.Match
	loadedAt time.Time

	// generation increments on every page load/navigation so stale async
	// work (the query-input retry loop) can notice and bail.
	generation int

	queryInput        *dom.SelectorList
	submitButton      *dom.SelectorList
	responseContainer *dom.SelectorList

	queryInputFound bool

	// Scroll tracking.
	scrollPercent int
	lastScrollAt  time.Time
	milestonesHit map[int]bool
}

func newPageState(tabID int) *pageState {
	return &pageState{
		registry:      newRegistry(),
		tabID:         tabID,
		milestonesHit: make(map[int]bool),
	}
}

// beginPage resets per-page state for a fresh document.
func (p *pageState) beginPage(snap *dom.Snapshot, loadedAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = snap
	p.loadedAt = loadedAt
	p.generation++
	p.scrollPercent = 0
	p.lastScrollAt = time.Time{}
	p.milestonesHit = make(map[int]bool)
	p.queryInputFound = false
}

// setMatch installs a platform match and fresh selector lists. Selector
// memoization is per page, so the lists are rebuilt rather than reused.
func (p *pageState) setMatch(match *classify.Match) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.match = match
	if match != nil {
		p.queryInput = dom.NewSelectorList(match.Selectors.QueryInput)
		p.submitButton = dom.NewSelectorList(match.Selectors.SubmitButton)
		p.responseContainer = dom.NewSelectorList(match.Selectors.ResponseContainer)
	} else {
		p.queryInput = nil
		p.submitButton = nil
		p.responseContainer = nil
	}
}

func (p *pageState) currentMatch() *classify.Match {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.match
}

func (p *pageState) snapshot() *dom.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *pageState) gen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// scrollDepth returns the last computed scroll percentage for enrichment.
func (p *pageState) scrollDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrollPercent
}

// dwell returns elapsed time since this page loaded.
func (p *pageState) dwell(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadedAt.IsZero() {
		return 0
	}
	return now.Sub(p.loadedAt)
}

// recordScroll updates the page's scroll percentage and, when the throttle
// window has elapsed, returns milestones newly reached. Each milestone is
// returned at most once per page load.
func (p *pageState) recordScroll(percent int, now time.Time, throttle time.Duration) []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if percent > p.scrollPercent {
		p.scrollPercent = percent
	}

	if !p.lastScrollAt.IsZero() && now.Sub(p.lastScrollAt) < throttle {
		return nil
	}
	p.lastScrollAt = now

	var crossed []int
	for _, m := range scrollMilestones {
		if p.scrollPercent >= m && !p.milestonesHit[m] {
			p.milestonesHit[m] = true
			crossed = append(crossed, m)
		}
	}
	return crossed
}

// scrollPercentOf computes the page scroll percentage from raw geometry,
// clamped to [0,100]. Content that fits the viewport counts as fully
// scrolled.
func scrollPercentOf(scrollTop, scrollHeight, viewportHeight int) int {
	scrollable := scrollHeight - viewportHeight
	if scrollable <= 0 {
		return 100
	}
	pct := scrollTop * 100 / scrollable
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
