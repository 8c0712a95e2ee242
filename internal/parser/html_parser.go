// Package parser extracts candidate crawl links from HTML documents.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// LinkExtractor finds anchor links in HTML and resolves them to absolute
// URLs. A single extractor handles pages from any site; the base URL is
// supplied per document.
type LinkExtractor struct {
	allowedSchemes []string
}

// Link is an extracted anchor.
type Link struct {
	URL        string
	AnchorText string
	IsExternal bool // host differs from the document's host
}

// NewLinkExtractor creates an extractor that accepts http and https links.
func NewLinkExtractor() *LinkExtractor {
	return NewLinkExtractorWithSchemes([]string{"https", "http"})
}

// NewLinkExtractorWithSchemes creates an extractor with a custom scheme
// allowlist.
func NewLinkExtractorWithSchemes(allowedSchemes []string) *LinkExtractor {
	if len(allowedSchemes) == 0 {
		allowedSchemes = []string{"https", "http"}
	}
	return &LinkExtractor{allowedSchemes: allowedSchemes}
}

// ExtractLinks parses the document and returns all anchor links resolved
// against baseURL. Fragment-only, javascript: and disallowed-scheme links are
// dropped; duplicates within one document are collapsed to the first
// occurrence.
func (e *LinkExtractor) ExtractLinks(baseURL string, body []byte) ([]Link, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var links []Link
	seen := make(map[string]struct{})
	e.traverse(doc, base, seen, &links)
	return links, nil
}

func (e *LinkExtractor) traverse(n *html.Node, base *url.URL, seen map[string]struct{}, links *[]Link) {
	if n.Type == html.ElementNode && n.Data == "a" {
		e.parseAnchor(n, base, seen, links)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.traverse(c, base, seen, links)
	}
}

func (e *LinkExtractor) parseAnchor(n *html.Node, base *url.URL, seen map[string]struct{}, links *[]Link) {
	var href string
	for _, attr := range n.Attr {
		if attr.Key == "href" {
			href = strings.TrimSpace(attr.Val)
			break
		}
	}

	if href == "" || strings.HasPrefix(href, "#") {
		return
	}

	ref, err := url.Parse(href)
	if err != nil {
		return
	}
	resolved := base.ResolveReference(ref)
	if !e.isAllowedScheme(resolved.Scheme) {
		return
	}

	abs := resolved.String()
	if _, ok := seen[abs]; ok {
		return
	}
	seen[abs] = struct{}{}

	*links = append(*links, Link{
		URL:        abs,
		AnchorText: strings.TrimSpace(extractText(n)),
		IsExternal: resolved.Host != base.Host,
	})
}

func (e *LinkExtractor) isAllowedScheme(scheme string) bool {
	for _, allowed := range e.allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// extractText recursively collects the text content of a node.
func extractText(n *html.Node) string {
	if n.Type == html.TextNode {
		return strings.TrimSpace(n.Data)
	}

	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if text := extractText(c); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
