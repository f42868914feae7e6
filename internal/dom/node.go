// internal/dom/node.go
package dom

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Attr returns the value of the named attribute on n, or "".
func Attr(n *html.Node, name string) string {
	if n == nil {
		return ""
	}
	for _, attr := range n.Attr {
		if attr.Key == name {
			return attr.Val
		}
	}
	return ""
}

// TextContent concatenates all text nodes under n with whitespace
// collapsed, mirroring Element.textContent plus a trim.
func TextContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur == nil {
			return
		}
		if cur.Type == html.TextNode {
			sb.WriteString(cur.Data)
			sb.WriteString(" ")
		}
		for child := cur.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// ClosestAnchor returns the nearest ancestor-or-self anchor carrying an
// href, or nil.
func ClosestAnchor(n *html.Node) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && cur.Data == "a" && Attr(cur, "href") != "" {
			return cur
		}
	}
	return nil
}

// ResolveHref resolves href against the page URL, returning "" when either
// side is unparseable.
func ResolveHref(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// IsCrossOrigin reports whether href points at a different host than the
// page. Relative hrefs are same-origin by construction.
func IsCrossOrigin(pageURL, href string) bool {
	resolved := ResolveHref(pageURL, href)
	if resolved == "" {
		return false
	}
	target, err := url.Parse(resolved)
	if err != nil {
		return false
	}
	page, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	return target.Hostname() != "" && target.Hostname() != page.Hostname()
}

// Contains reports whether n is ancestor or equal to target.
func Contains(ancestor, target *html.Node) bool {
	for cur := target; cur != nil; cur = cur.Parent {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// Describe renders a short element descriptor like
// "button#buy-now.a-button-input" for event payloads.
func Describe(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(n.Data)
	if id := Attr(n, "id"); id != "" {
		sb.WriteString("#")
		sb.WriteString(id)
	}
	if class := Attr(n, "class"); class != "" {
		fields := strings.Fields(class)
		if len(fields) > 3 {
			fields = fields[:3]
		}
		for _, f := range fields {
			sb.WriteString(".")
			sb.WriteString(f)
		}
	}
	return sb.String()
}

// DeslugLastSegment turns the last path segment of a URL into a readable
// name: "running-shoes_mens" becomes "running shoes mens". Used as the
// final fallback when a product element exposes no usable text.
func DeslugLastSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return ""
	}
	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]
	last = strings.NewReplacer("-", " ", "_", " ", "+", " ").Replace(last)
	return strings.Join(strings.Fields(last), " ")
}
