// internal/capture/platform_test.go
package capture

import (
	"testing"
	"time"

	"github.com/searchlab/searchtrace/internal/types"
)

const chatURL = "https://chat.openai.com/"

func TestAIQuerySubmitOnEnter(t *testing.T) {
	c, rec := newCapture(t)
	base := time.Now()
	loadPage(c, 1, chatURL, "", chatHTML, base)

	c.HandleSignal(Signal{
		Kind:       SignalKeydown,
		TabID:      1,
		URL:        chatURL,
		Target:     "#prompt-textarea",
		Key:        "Enter",
		Value:      "  best running shoes  ",
		OccurredAt: base.Add(time.Second),
	})

	queries := rec.byKind(types.KindAIQuerySubmitted)
	if len(queries) != 1 {
		t.Fatalf("expected 1 query event, got %d", len(queries))
	}
	if queries[0].Payload["query"] != "best running shoes" {
		t.Errorf("expected trimmed query, got %q", queries[0].Payload["query"])
	}
	if queries[0].Payload["query_length"] != 18 {
		t.Errorf("expected query_length 18, got %v", queries[0].Payload["query_length"])
	}
}

func TestAIQueryLengthCountsRunes(t *testing.T) {
	c, rec := newCapture(t)
	base := time.Now()
	loadPage(c, 1, chatURL, "", chatHTML, base)

	c.HandleSignal(Signal{
		Kind:       SignalKeydown,
		TabID:      1,
		URL:        chatURL,
		Target:     "#prompt-textarea",
		Key:        "Enter",
		Value:      "café прогноз", // 12 runes, more bytes
		OccurredAt: base.Add(time.Second),
	})

	queries := rec.byKind(types.KindAIQuerySubmitted)
	if len(queries) != 1 {
		t.Fatalf("expected 1 query event, got %d", len(queries))
	}
	if queries[0].Payload["query_length"] != 12 {
		t.Errorf("expected rune count 12, got %v", queries[0].Payload["query_length"])
	}
}

func TestAIQueryIgnoresShiftEnterAndOtherKeys(t *testing.T) {
	c, rec := newCapture(t)
	base := time.Now()
	loadPage(c, 1, chatURL, "", chatHTML, base)

	c.HandleSignal(Signal{Kind: SignalKeydown, TabID: 1, URL: chatURL, Target: "#prompt-textarea", Key: "Enter", Shift: true, Value: "multi\nline", OccurredAt: base})
	c.HandleSignal(Signal{Kind: SignalKeydown, TabID: 1, URL: chatURL, Target: "#prompt-textarea", Key: "a", Value: "a", OccurredAt: base})

	if n := len(rec.byKind(types.KindAIQuerySubmitted)); n != 0 {
		t.Errorf("expected no query events, got %d", n)
	}
}

func TestAIQueryIgnoresEmptyText(t *testing.T) {
	c, rec := newCapture(t)
	base := time.Now()
	loadPage(c, 1, chatURL, "", chatHTML, base)

	c.HandleSignal(Signal{Kind: SignalKeydown, TabID: 1, URL: chatURL, Target: "#prompt-textarea", Key: "Enter", Value: "   ", OccurredAt: base})

	if n := len(rec.byKind(types.KindAIQuerySubmitted)); n != 0 {
		t.Errorf("expected empty query to be dropped, got %d events", n)
	}
}

func TestAIQuerySubmitViaButton(t *testing.T) {
	c, rec := newCapture(t)
	base := time.Now()
	loadPage(c, 1, chatURL, "", chatHTML, base)

	c.HandleSignal(Signal{
		Kind:       SignalClick,
		TabID:      1,
		URL:        chatURL,
		Target:     "button[data-testid='send-button']",
		Value:      "compare trail runners",
		OccurredAt: base.Add(time.Second),
	})

	queries := rec.byKind(types.KindAIQuerySubmitted)
	if len(queries) != 1 {
		t.Fatalf("expected 1 query event from button click, got %d", len(queries))
	}
	if queries[0].Payload["query"] != "compare trail runners" {
		t.Errorf("unexpected query %q", queries[0].Payload["query"])
	}
}

func TestAIResponseCaptured(t *testing.T) {
	c, rec := newCapture(t)
	base := time.Now()
	loadPage(c, 1, chatURL, "", chatHTML, base)

	c.HandleSignal(Signal{Kind: SignalKeydown, TabID: 1, URL: chatURL, Target: "#prompt-textarea", Key: "Enter", Value: "best running shoes", OccurredAt: base})

	responses := rec.byKind(types.KindAIResponseCaptured)
	if len(responses) != 1 {
		t.Fatalf("expected 1 response event, got %d", len(responses))
	}
	text, _ := responses[0].Payload["text"].(string)
	if text == "" {
		t.Fatal("expected non-empty response text")
	}
	if responses[0].Payload["truncated"] != false {
		t.Error("short response must not be truncated")
	}
}

func TestAIResultClick(t *testing.T) {
	c, rec := newCapture(t)
	base := time.Now()
	loadPage(c, 1, chatURL, "", chatHTML, base)

	// Second cross-origin link; the same-origin link between them does not
	// count toward the position.
	c.HandleSignal(Signal{
		Kind:       SignalClick,
		TabID:      1,
		URL:        chatURL,
		Target:     "a[href='https://shoereviews.example.org/top-10']",
		OccurredAt: base.Add(time.Second),
	})

	clicks := rec.byKind(types.KindAIResultClick)
	if len(clicks) != 1 {
		t.Fatalf("expected 1 result click, got %d", len(clicks))
	}
	if clicks[0].Payload["url"] != "https://shoereviews.example.org/top-10" {
		t.Errorf("unexpected url %v", clicks[0].Payload["url"])
	}
	if clicks[0].Payload["position"] != 2 {
		t.Errorf("expected position 2 among cross-origin links, got %v", clicks[0].Payload["position"])
	}
	if clicks[0].Payload["link_text"] != "Top 10 list" {
		t.Errorf("unexpected link text %v", clicks[0].Payload["link_text"])
	}
}

func TestAIResultClickIgnoresSameOrigin(t *testing.T) {
	c, rec := newCapture(t)
	base := time.Now()
	loadPage(c, 1, chatURL, "", chatHTML, base)

	c.HandleSignal(Signal{
		Kind:       SignalClick,
		TabID:      1,
		URL:        chatURL,
		Target:     "a[href='/c/other-chat']",
		OccurredAt: base.Add(time.Second),
	})

	if n := len(rec.byKind(types.KindAIResultClick)); n != 0 {
		t.Errorf("expected same-origin click to be ignored, got %d events", n)
	}
}

func TestProductClick(t *testing.T) {
	c, rec := newCapture(t)
	base := time.Now()
	url := "https://www.amazon.com/s?k=running+shoes"
	loadPage(c, 1, url, "", amazonHTML, base)

	// Click on the image inside the product anchor
	c.HandleSignal(Signal{
		Kind:       SignalClick,
		TabID:      1,
		URL:        url,
		Target:     "#prod-1 img",
		OccurredAt: base.Add(time.Second),
	})

	clicks := rec.byKind(types.KindProductClick)
	if len(clicks) != 1 {
		t.Fatalf("expected 1 product click, got %d", len(clicks))
	}
	if clicks[0].Payload["product_url"] != "https://www.amazon.com/Nike-Pegasus/dp/B000123" {
		t.Errorf("unexpected product url %v", clicks[0].Payload["product_url"])
	}
	// aria-label wins the name fallback chain
	if clicks[0].Payload["product_name"] != "Nike Pegasus 41" {
		t.Errorf("unexpected product name %v", clicks[0].Payload["product_name"])
	}
}

func TestProductNameFallbacks(t *testing.T) {
	// No aria-label: the image alt is next
	withAlt := `<html><body><a id="p" href="/Trail-Shoes/dp/B0009"><img alt="Trail Shoes"></a></body></html>`
	c, rec := newCapture(t)
	base := time.Now()
	url := "https://www.amazon.com/s"
	loadPage(c, 1, url, "", withAlt, base)
	c.HandleSignal(Signal{Kind: SignalClick, TabID: 1, URL: url, Target: "#p img", OccurredAt: base})
	clicks := rec.byKind(types.KindProductClick)
	if len(clicks) != 1 || clicks[0].Payload["product_name"] != "Trail Shoes" {
		t.Fatalf("expected alt-text name, got %v", clicks)
	}

	// No alt either: element text
	withText := `<html><body><a id="p" href="/dp/B0010">Road Runner 3</a></body></html>`
	c, rec = newCapture(t)
	loadPage(c, 1, url, "", withText, base)
	c.HandleSignal(Signal{Kind: SignalClick, TabID: 1, URL: url, Target: "#p", OccurredAt: base})
	clicks = rec.byKind(types.KindProductClick)
	if len(clicks) != 1 || clicks[0].Payload["product_name"] != "Road Runner 3" {
		t.Fatalf("expected text name, got %v", clicks)
	}

	// Nothing usable on the element: de-slug the URL's last segment
	bare := `<html><body><a id="p" href="/gp/product/trail-running-shoes"><img src="x.png"></a></body></html>`
	c, rec = newCapture(t)
	loadPage(c, 1, url, "", bare, base)
	c.HandleSignal(Signal{Kind: SignalClick, TabID: 1, URL: url, Target: "#p", OccurredAt: base})
	clicks = rec.byKind(types.KindProductClick)
	if len(clicks) != 1 || clicks[0].Payload["product_name"] != "trail running shoes" {
		t.Fatalf("expected de-slugged name, got %v", clicks)
	}
}

func TestConversionActions(t *testing.T) {
	c, rec := newCapture(t)
	base := time.Now()
	url := "https://www.amazon.com/Nike-Pegasus/dp/B000123"
	loadPage(c, 1, url, "", amazonHTML, base)

	c.HandleSignal(Signal{Kind: SignalClick, TabID: 1, URL: url, Target: "#add-to-cart-button", OccurredAt: base.Add(time.Second)})
	c.HandleSignal(Signal{Kind: SignalClick, TabID: 1, URL: url, Target: "#buy-now-button", OccurredAt: base.Add(2 * time.Second)})

	conversions := rec.byKind(types.KindConversionAction)
	if len(conversions) != 2 {
		t.Fatalf("expected 2 conversion events, got %d", len(conversions))
	}
	if conversions[0].Payload["action"] != "add_to_cart" {
		t.Errorf("expected add_to_cart, got %v", conversions[0].Payload["action"])
	}
	if conversions[1].Payload["action"] != "buy_now" {
		t.Errorf("expected buy_now, got %v", conversions[1].Payload["action"])
	}
	if conversions[0].Payload["element"] != "button#add-to-cart-button" {
		t.Errorf("unexpected element descriptor %v", conversions[0].Payload["element"])
	}
}

func TestConversionActionKeywords(t *testing.T) {
	tests := []struct {
		selector string
		want     string
	}{
		{"#add-to-cart-button", "add_to_cart"},
		{"input[name='submit.add-to-cart']", "add_to_cart"},
		{"#buy-now-button", "buy_now"},
		{"button[data-automation-id='checkout']", "checkout"},
		{"a[href*='/cart/checkout']", "checkout"},
		{"button.mystery", "unknown"},
	}
	for _, tt := range tests {
		if got := conversionAction(tt.selector); got != tt.want {
			t.Errorf("conversionAction(%q) = %q, want %q", tt.selector, got, tt.want)
		}
	}
}
