// internal/classify/classify.go
package classify

import (
	"strings"

	"github.com/searchlab/searchtrace/internal/catalog"
	"github.com/searchlab/searchtrace/internal/dom"
	"github.com/searchlab/searchtrace/internal/types"
)

// Match is the result of classifying one page. It is produced fresh on
// every (re)detection and never mutated in place.
type Match struct {
	PlatformID string
	Class      types.PlatformClass
	Selectors  catalog.Selectors
}

// ClassOf maps a possibly-nil match to its platform class. No match means
// general browsing.
func ClassOf(m *Match) types.PlatformClass {
	if m == nil {
		return types.ClassGeneral
	}
	return m.Class
}

// Classifier decides platform identity for pages and referrers. It is a
// pure function over the catalog and the DOM snapshot it is handed; a nil
// catalog degrades to "nothing ever matches" so a broken catalog file
// never takes recording down.
type Classifier struct {
	catalog *catalog.Catalog
}

func New(cat *catalog.Catalog) *Classifier {
	return &Classifier{catalog: cat}
}

// Classify returns the platform match for the given page, or nil for
// general browsing. AI definitions are evaluated before e-commerce ones.
// Definitions that require a live marker element (the Google AI overlay)
// are skipped when the snapshot is absent or not yet ready; the caller is
// expected to re-run classification once the DOM is ready and on
// client-side navigation.
func (c *Classifier) Classify(pageURL, hostname string, snap *dom.Snapshot) *Match {
	if c.catalog == nil {
		return nil
	}
	for _, def := range c.catalog.Definitions() {
		if !matcherHit(def, pageURL, hostname) {
			continue
		}
		if def.RequiresLiveMarker() {
			if snap == nil || !snap.Ready {
				continue
			}
			marker := dom.NewSelectorList(def.Selectors.AIOverviewMarker)
			if marker.Resolve(snap.Root) == nil {
				continue
			}
		}
		return &Match{PlatformID: def.ID, Class: def.Class, Selectors: def.Selectors}
	}
	return nil
}

// FromReferrer classifies a referrer URL. The referrer's DOM state is
// unknowable, so marker-dependent definitions never match here.
func (c *Classifier) FromReferrer(referrerURL string) *Match {
	if referrerURL == "" {
		return nil
	}
	return c.Classify(referrerURL, dom.Hostname(referrerURL), nil)
}

// IsAIToCommerce reports the AI-to-commerce transition: the referrer
// classifies as an AI platform and the current page as e-commerce.
func (c *Classifier) IsAIToCommerce(referrerURL string, current *Match) bool {
	if current == nil || current.Class != types.ClassEcommerce {
		return false
	}
	ref := c.FromReferrer(referrerURL)
	return ref != nil && ref.Class == types.ClassAI
}

func matcherHit(def *catalog.Definition, pageURL, hostname string) bool {
	for _, domain := range def.Domains {
		if domain != "" && strings.Contains(hostname, domain) {
			return true
		}
	}
	for _, pattern := range def.URLPatterns {
		if pattern != "" && strings.Contains(pageURL, pattern) {
			return true
		}
	}
	return false
}
