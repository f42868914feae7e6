// internal/dom/selector.go
package dom

import (
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// compileCache holds compiled selectors process-wide. Selectors come from
// the static catalog and from signal target paths, so the set is small and
// stable. A selector that fails to compile is cached as nil and treated as
// "matches nothing" — malformed CSS is never fatal.
var compileCache sync.Map // string -> cascadia.Selector (nil when invalid)

func compile(selector string) cascadia.Selector {
	if cached, ok := compileCache.Load(selector); ok {
		if cached == nil {
			return nil
		}
		return cached.(cascadia.Selector)
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		compileCache.Store(selector, nil)
		return nil
	}
	compileCache.Store(selector, sel)
	return sel
}

// Query returns the first element matching selector under root, or nil.
func Query(root *html.Node, selector string) *html.Node {
	if root == nil {
		return nil
	}
	sel := compile(selector)
	if sel == nil {
		return nil
	}
	return sel.MatchFirst(root)
}

// QueryAll returns all elements matching selector under root in document
// order.
func QueryAll(root *html.Node, selector string) []*html.Node {
	if root == nil {
		return nil
	}
	sel := compile(selector)
	if sel == nil {
		return nil
	}
	return sel.MatchAll(root)
}

// Matches reports whether the node itself matches selector.
func Matches(n *html.Node, selector string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	sel := compile(selector)
	if sel == nil {
		return false
	}
	return sel.Match(n)
}

// Closest walks from n up through its ancestors and returns the first node
// matching selector, mirroring Element.closest.
func Closest(n *html.Node, selector string) *html.Node {
	sel := compile(selector)
	if sel == nil {
		return nil
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && sel.Match(cur) {
			return cur
		}
	}
	return nil
}

// SelectorList is an ordered fallback list of CSS selectors for one role.
// Resolve remembers the first selector that succeeded so repeated lookups
// on the same page short-circuit; Reset clears the memo when the page
// changes underneath it.
type SelectorList struct {
	selectors []string

	mu  sync.Mutex
	hit int // index of last successful selector, -1 when unknown
}

func NewSelectorList(selectors []string) *SelectorList {
	return &SelectorList{selectors: selectors, hit: -1}
}

// Empty reports whether the list has no selectors at all.
func (l *SelectorList) Empty() bool {
	return l == nil || len(l.selectors) == 0
}

// Resolve returns the first element any selector in the list finds, trying
// the memoized selector first. Invalid selectors are skipped.
func (l *SelectorList) Resolve(root *html.Node) *html.Node {
	if l.Empty() || root == nil {
		return nil
	}
	l.mu.Lock()
	hit := l.hit
	l.mu.Unlock()

	if hit >= 0 && hit < len(l.selectors) {
		if n := Query(root, l.selectors[hit]); n != nil {
			return n
		}
		// Memoized selector stopped matching; fall through to a full scan.
	}

	for i, selector := range l.selectors {
		if n := Query(root, selector); n != nil {
			l.mu.Lock()
			l.hit = i
			l.mu.Unlock()
			return n
		}
	}
	return nil
}

// ClosestAny returns the first ancestor-or-self of n matching any selector
// in the list, together with the selector string that matched.
func (l *SelectorList) ClosestAny(n *html.Node) (*html.Node, string) {
	if l.Empty() || n == nil {
		return nil, ""
	}
	for _, selector := range l.selectors {
		if match := Closest(n, selector); match != nil {
			return match, selector
		}
	}
	return nil, ""
}

// Reset clears the memoized selector index.
func (l *SelectorList) Reset() {
	l.mu.Lock()
	l.hit = -1
	l.mu.Unlock()
}
