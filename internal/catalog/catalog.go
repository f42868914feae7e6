// internal/catalog/catalog.go
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/searchlab/searchtrace/internal/types"
)

//go:embed catalog.json
var defaultCatalog []byte

// Selectors is a platform definition's selector bundle: for each role, an
// ordered list of CSS selectors tried front to back.
type Selectors struct {
	QueryInput        []string `json:"query_input,omitempty"`
	SubmitButton      []string `json:"submit_button,omitempty"`
	ResponseContainer []string `json:"response_container,omitempty"`
	ProductLinks      []string `json:"product_links,omitempty"`
	AddToCart         []string `json:"add_to_cart,omitempty"`
	BuyNow            []string `json:"buy_now,omitempty"`
	Checkout          []string `json:"checkout,omitempty"`
	AIOverviewMarker  []string `json:"ai_overview_marker,omitempty"`
}

// Definition describes one recognized platform. A page matches when any
// domain matcher is a substring of its hostname or any URL pattern is a
// substring of its URL.
type Definition struct {
	ID          string              `json:"-"`
	Class       types.PlatformClass `json:"-"`
	Domains     []string            `json:"domains"`
	URLPatterns []string            `json:"url_patterns,omitempty"`
	Selectors   Selectors           `json:"selectors"`
}

// RequiresLiveMarker reports whether this definition only applies when its
// AI-overview marker resolves to a live element. This is the rule that
// keeps plain Google searches out of the AI class: google-ai-overview
// carries a marker selector list, so it matches only when the overlay is
// actually present in the DOM.
func (d *Definition) RequiresLiveMarker() bool {
	return len(d.Selectors.AIOverviewMarker) > 0
}

// Catalog holds platform definitions in evaluation order: AI definitions
// first, then e-commerce, each class in file order.
type Catalog struct {
	AI        []*Definition
	Ecommerce []*Definition
}

type rawCatalog struct {
	AIPlatforms        json.RawMessage `json:"ai_platforms"`
	EcommercePlatforms json.RawMessage `json:"ecommerce_platforms"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return parse(defaultCatalog)
}

// Load reads a catalog from disk, falling back to the embedded default
// when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Catalog, error) {
	var raw rawCatalog
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	cat := &Catalog{}
	var err error
	if cat.AI, err = decodeClass(raw.AIPlatforms, types.ClassAI); err != nil {
		return nil, err
	}
	if cat.Ecommerce, err = decodeClass(raw.EcommercePlatforms, types.ClassEcommerce); err != nil {
		return nil, err
	}

	for _, def := range cat.Definitions() {
		if len(def.Domains) == 0 && len(def.URLPatterns) == 0 {
			return nil, fmt.Errorf("platform %q has no domain or URL matchers", def.ID)
		}
	}
	return cat, nil
}

// decodeClass walks the object token by token so definitions keep the
// order they appear in the file. encoding/json maps would lose it.
func decodeClass(raw json.RawMessage, class types.PlatformClass) ([]*Definition, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse %s platforms: %w", class, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%s platforms must be an object", class)
	}

	var defs []*Definition
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse %s platforms: %w", class, err)
		}
		id := keyTok.(string)

		def := &Definition{ID: id, Class: class}
		if err := dec.Decode(def); err != nil {
			return nil, fmt.Errorf("parse platform %q: %w", id, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Definitions returns all definitions in evaluation order.
func (c *Catalog) Definitions() []*Definition {
	out := make([]*Definition, 0, len(c.AI)+len(c.Ecommerce))
	out = append(out, c.AI...)
	out = append(out, c.Ecommerce...)
	return out
}

// Get finds a definition by platform id.
func (c *Catalog) Get(id string) *Definition {
	for _, def := range c.Definitions() {
		if def.ID == id {
			return def
		}
	}
	return nil
}
