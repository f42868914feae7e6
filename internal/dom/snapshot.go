// internal/dom/snapshot.go
package dom

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Snapshot is a parsed view of one page at one moment: the document tree
// plus the page identity the classifier and capture layer need. Ready is
// false for snapshots taken before the document finished loading, which
// makes DOM-dependent platform definitions skip themselves.
type Snapshot struct {
	URL      string
	Hostname string
	Referrer string
	Title    string
	Ready    bool
	Root     *html.Node
}

// ParseSnapshot parses an HTML document into a Snapshot. The hostname is
// derived from pageURL; a missing or unparseable URL leaves it empty, which
// simply means no domain matcher will hit.
func ParseSnapshot(pageURL, referrer string, ready bool, r io.Reader) (*Snapshot, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	snap := &Snapshot{
		URL:      pageURL,
		Hostname: hostnameOf(pageURL),
		Referrer: referrer,
		Ready:    ready,
		Root:     root,
	}
	if title := Query(root, "title"); title != nil {
		snap.Title = strings.TrimSpace(TextContent(title))
	}
	return snap, nil
}

func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Hostname exposes URL-to-hostname derivation for referrer classification,
// where no snapshot exists.
func Hostname(rawURL string) string {
	return hostnameOf(rawURL)
}
