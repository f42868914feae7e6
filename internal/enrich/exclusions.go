// internal/enrich/exclusions.go
package enrich

import (
	"strings"
	"sync"
)

// Exclusions is the operator-configured excluded-domain list. It is
// consulted on every event and updatable at any time, so updates take
// effect on the next event without a restart.
type Exclusions struct {
	mu      sync.RWMutex
	domains []string
}

func NewExclusions(domains []string) *Exclusions {
	e := &Exclusions{}
	e.Set(domains)
	return e
}

// Set replaces the list. Entries are normalized to lowercase without a
// leading dot.
func (e *Exclusions) Set(domains []string) {
	normalized := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			normalized = append(normalized, d)
		}
	}
	e.mu.Lock()
	e.domains = normalized
	e.mu.Unlock()
}

// List returns a copy of the current list.
func (e *Exclusions) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.domains...)
}

// Excluded reports whether hostname matches an excluded domain exactly or
// as a subdomain of one.
func (e *Exclusions) Excluded(hostname string) bool {
	hostname = strings.ToLower(hostname)
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, d := range e.domains {
		if hostname == d || strings.HasSuffix(hostname, "."+d) {
			return true
		}
	}
	return false
}
