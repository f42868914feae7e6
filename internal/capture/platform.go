// internal/capture/platform.go
package capture

import (
	"bytes"
	"log/slog"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"

	"github.com/searchlab/searchtrace/internal/classify"
	"github.com/searchlab/searchtrace/internal/dom"
	"github.com/searchlab/searchtrace/internal/types"
)

// attachPlatform wires the listeners specific to the matched platform's
// class onto the page's registry.
func (c *Capture) attachPlatform(page *pageState, match *classify.Match) {
	switch match.Class {
	case types.ClassAI:
		c.attachAI(page, match)
	case types.ClassEcommerce:
		c.attachEcommerce(page, match)
	}
}

// --- AI platforms ---

func (c *Capture) attachAI(page *pageState, match *classify.Match) {
	reg := page.registry

	// Enter without Shift inside the query input submits.
	reg.attach(SignalKeydown, true, func(p *pageState, sig Signal) {
		if sig.Key != "Enter" || sig.Shift {
			return
		}
		if !c.targetInQueryInput(p, sig) {
			return
		}
		c.submitQuery(p, sig)
	})

	// A click on the submit button also submits; a click inside the
	// response container may be a result link click.
	reg.attach(SignalClick, true, func(p *pageState, sig Signal) {
		snap := p.snapshot()
		if snap == nil {
			return
		}
		target := dom.Query(snap.Root, sig.Target)
		if target == nil {
			return
		}
		p.mu.Lock()
		submitList := p.submitButton
		p.mu.Unlock()
		if submitList != nil {
			if btn, _ := submitList.ClosestAny(target); btn != nil {
				c.submitQuery(p, sig)
				return
			}
		}
		c.handleResultClick(p, sig, target)
	})

	// Some platforms mount the query input asynchronously; probe for it
	// with a bounded retry loop so the selector memo is warm by the time
	// the first submission arrives.
	gen := page.gen()
	if c.cfg.QueryRetryDelay == 0 {
		c.locateQueryInput(page, gen, match.PlatformID)
	} else {
		go c.locateQueryInput(page, gen, match.PlatformID)
	}
}

// locateQueryInput retries the query-input lookup a fixed number of times
// with a fixed delay. It gives up silently when the page moved on.
func (c *Capture) locateQueryInput(page *pageState, gen int, platformID string) {
	for attempt := 0; attempt < c.cfg.QueryRetries; attempt++ {
		if page.gen() != gen {
			return
		}
		snap := page.snapshot()
		page.mu.Lock()
		list := page.queryInput
		page.mu.Unlock()
		if snap == nil || list == nil {
			return
		}
		if list.Resolve(snap.Root) != nil {
			page.mu.Lock()
			page.queryInputFound = true
			page.mu.Unlock()
			return
		}
		if attempt < c.cfg.QueryRetries-1 {
			time.Sleep(c.cfg.QueryRetryDelay)
		}
	}
	slog.Debug("query input never resolved", "platform", platformID, "attempts", c.cfg.QueryRetries)
}

func (c *Capture) targetInQueryInput(page *pageState, sig Signal) bool {
	snap := page.snapshot()
	if snap == nil {
		return false
	}
	page.mu.Lock()
	list := page.queryInput
	page.mu.Unlock()
	if list == nil {
		return false
	}
	input := list.Resolve(snap.Root)
	if input == nil {
		return false
	}
	target := dom.Query(snap.Root, sig.Target)
	if target == nil {
		// The signal may name the input itself with a selector the
		// snapshot can't resolve; fall back to accepting the resolved
		// input as the target.
		return sig.Target != ""
	}
	return dom.Contains(input, target) || dom.Contains(target, input)
}

// submitQuery reads the query text after a short settle delay (IME and
// composition can lag the keydown) and emits ai_query_submitted. Empty
// text is ignored. A zero settle delay runs synchronously, which is what
// tests use.
func (c *Capture) submitQuery(page *pageState, sig Signal) {
	emit := func() {
		query := strings.TrimSpace(c.readQueryText(page, sig))
		if query == "" {
			return
		}
		c.emitEvent(page, sig, types.KindAIQuerySubmitted, map[string]any{
			"query":        query,
			"query_length": len([]rune(query)),
		})
		c.captureResponse(page, sig)
	}
	if c.cfg.SettleDelay == 0 {
		emit()
		return
	}
	gen := page.gen()
	go func() {
		time.Sleep(c.cfg.SettleDelay)
		if page.gen() != gen {
			return
		}
		emit()
	}()
}

// readQueryText prefers the live value carried on the signal, then the
// resolved input element: its value attribute for value-bearing inputs,
// its text content for content-editable hosts.
func (c *Capture) readQueryText(page *pageState, sig Signal) string {
	if sig.Value != "" {
		return sig.Value
	}
	snap := page.snapshot()
	if snap == nil {
		return ""
	}
	page.mu.Lock()
	list := page.queryInput
	page.mu.Unlock()
	if list == nil {
		return ""
	}
	input := list.Resolve(snap.Root)
	if input == nil {
		return ""
	}
	if value := dom.Attr(input, "value"); value != "" {
		return value
	}
	return dom.TextContent(input)
}

// captureResponse extracts the response container's content as markdown
// once per submission. Best-effort: a missing container or conversion
// failure just skips the event.
func (c *Capture) captureResponse(page *pageState, sig Signal) {
	snap := page.snapshot()
	if snap == nil {
		return
	}
	page.mu.Lock()
	list := page.responseContainer
	page.mu.Unlock()
	if list == nil {
		return
	}
	container := list.Resolve(snap.Root)
	if container == nil {
		return
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, container); err != nil {
		slog.Debug("response render failed", "error", err)
		return
	}
	text, err := htmltomarkdown.ConvertString(buf.String())
	if err != nil {
		slog.Debug("response markdown conversion failed", "error", err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	truncated := false
	if len(text) > maxResponseTextChars {
		text = text[:maxResponseTextChars]
		truncated = true
	}
	c.emitEvent(page, sig, types.KindAIResponseCaptured, map[string]any{
		"text":      text,
		"truncated": truncated,
	})
}

// handleResultClick emits ai_result_click when a click inside the response
// container lands on a cross-origin anchor. Position is the anchor's
// 1-indexed place among all cross-origin anchors in the container, in
// document order.
func (c *Capture) handleResultClick(page *pageState, sig Signal, target *html.Node) {
	snap := page.snapshot()
	if snap == nil {
		return
	}
	page.mu.Lock()
	list := page.responseContainer
	page.mu.Unlock()
	if list == nil {
		return
	}
	container := list.Resolve(snap.Root)
	if container == nil || !dom.Contains(container, target) {
		return
	}
	anchor := dom.ClosestAnchor(target)
	if anchor == nil {
		return
	}
	href := dom.Attr(anchor, "href")
	if !dom.IsCrossOrigin(snap.URL, href) {
		return
	}

	position := 0
	index := 0
	for _, a := range dom.QueryAll(container, "a[href]") {
		if !dom.IsCrossOrigin(snap.URL, dom.Attr(a, "href")) {
			continue
		}
		index++
		if a == anchor {
			position = index
			break
		}
	}

	linkText := dom.TextContent(anchor)
	if len(linkText) > maxLinkTextChars {
		linkText = linkText[:maxLinkTextChars]
	}
	c.emitEvent(page, sig, types.KindAIResultClick, map[string]any{
		"url":       dom.ResolveHref(snap.URL, href),
		"link_text": linkText,
		"position":  position,
	})
}

// --- E-commerce platforms ---

func (c *Capture) attachEcommerce(page *pageState, match *classify.Match) {
	productLinks := dom.NewSelectorList(match.Selectors.ProductLinks)
	conversions := append(append(append([]string{},
		match.Selectors.AddToCart...),
		match.Selectors.BuyNow...),
		match.Selectors.Checkout...)
	conversionList := dom.NewSelectorList(conversions)

	page.registry.attach(SignalClick, true, func(p *pageState, sig Signal) {
		snap := p.snapshot()
		if snap == nil {
			return
		}
		target := dom.Query(snap.Root, sig.Target)
		if target == nil {
			return
		}
		// Conversion controls win over product links when both match.
		if node, selector := conversionList.ClosestAny(target); node != nil {
			c.emitEvent(p, sig, types.KindConversionAction, map[string]any{
				"action":          conversionAction(selector),
				"element":         dom.Describe(node),
				"via_ai_platform": c.ViaAIPlatform(),
			})
			return
		}
		if node, _ := productLinks.ClosestAny(target); node != nil {
			c.handleProductClick(p, sig, node, target)
		}
	})
}

func (c *Capture) handleProductClick(page *pageState, sig Signal, matched, target *html.Node) {
	snap := page.snapshot()
	if snap == nil {
		return
	}
	href := dom.Attr(matched, "href")
	if href == "" {
		if inner := dom.Query(matched, "a[href]"); inner != nil {
			href = dom.Attr(inner, "href")
		} else if anchor := dom.ClosestAnchor(target); anchor != nil {
			href = dom.Attr(anchor, "href")
		}
	}
	if href == "" {
		return
	}
	productURL := dom.ResolveHref(snap.URL, href)
	c.emitEvent(page, sig, types.KindProductClick, map[string]any{
		"product_url":     productURL,
		"product_name":    productName(matched, productURL),
		"via_ai_platform": c.ViaAIPlatform(),
	})
}

// productName picks a human-readable name with a priority fallback:
// aria-label, image alt, element text, then the de-slugged last URL
// segment.
func productName(node *html.Node, productURL string) string {
	if label := dom.Attr(node, "aria-label"); label != "" {
		return label
	}
	if img := dom.Query(node, "img"); img != nil {
		if alt := dom.Attr(img, "alt"); alt != "" {
			return alt
		}
	}
	if text := dom.TextContent(node); text != "" {
		if len(text) > maxProductNameChars {
			text = text[:maxProductNameChars]
		}
		return text
	}
	return dom.DeslugLastSegment(productURL)
}

// conversionAction classifies a conversion control by keyword-matching the
// selector string that matched it.
func conversionAction(selector string) string {
	s := strings.ToLower(selector)
	switch {
	case strings.Contains(s, "checkout"):
		return "checkout"
	case strings.Contains(s, "buy") && strings.Contains(s, "now"):
		return "buy_now"
	case strings.Contains(s, "add") && strings.Contains(s, "cart"):
		return "add_to_cart"
	default:
		return "unknown"
	}
}
