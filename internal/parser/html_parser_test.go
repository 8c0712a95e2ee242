package parser

import (
	"testing"
)

func TestLinkExtractor(t *testing.T) {
	htmlContent := `
<!DOCTYPE html>
<html>
<head>
	<title>Test Page</title>
</head>
<body>
	<h1>Test Page</h1>
	<p>Some content</p>
	<a href="/relative-link">Relative Link</a>
	<a href="https://example.com/absolute-link">Absolute Link</a>
	<a href="https://external.com/page">External Link</a>
	<a href="#anchor">Anchor Link</a>
	<a href="javascript:void(0)">JavaScript Link</a>
	<a href="mailto:someone@example.com">Mail Link</a>
	<a href="/relative-link">Duplicate Link</a>
	<a href="/page-with-text">Link with <span>nested</span> text</a>
</body>
</html>
`

	extractor := NewLinkExtractor()
	links, err := extractor.ExtractLinks("https://example.com/test-page", []byte(htmlContent))
	if err != nil {
		t.Fatalf("Failed to extract links: %v", err)
	}

	expected := []struct {
		url        string
		anchorText string
		isExternal bool
	}{
		{"https://example.com/relative-link", "Relative Link", false},
		{"https://example.com/absolute-link", "Absolute Link", false},
		{"https://external.com/page", "External Link", true},
		{"https://example.com/page-with-text", "Link with nested text", false},
	}

	if len(links) != len(expected) {
		t.Fatalf("Expected %d links, got %d: %v", len(expected), len(links), links)
	}

	for i, want := range expected {
		link := links[i]
		if link.URL != want.url {
			t.Errorf("Link %d: expected URL '%s', got '%s'", i, want.url, link.URL)
		}
		if link.AnchorText != want.anchorText {
			t.Errorf("Link %d: expected anchor text '%s', got '%s'", i, want.anchorText, link.AnchorText)
		}
		if link.IsExternal != want.isExternal {
			t.Errorf("Link %d: expected IsExternal %v, got %v", i, want.isExternal, link.IsExternal)
		}
	}
}

func TestLinkExtractorCustomSchemes(t *testing.T) {
	htmlContent := `<a href="ftp://files.example.com/data">FTP</a><a href="https://example.com/a">HTTPS</a>`

	extractor := NewLinkExtractorWithSchemes([]string{"ftp"})
	links, err := extractor.ExtractLinks("https://example.com/", []byte(htmlContent))
	if err != nil {
		t.Fatalf("Failed to extract links: %v", err)
	}

	if len(links) != 1 {
		t.Fatalf("Expected 1 link, got %d", len(links))
	}
	if links[0].URL != "ftp://files.example.com/data" {
		t.Errorf("Expected FTP link, got '%s'", links[0].URL)
	}
}

func TestLinkExtractorEmptyContent(t *testing.T) {
	extractor := NewLinkExtractor()

	links, err := extractor.ExtractLinks("https://example.com/", []byte(""))
	if err != nil {
		t.Fatalf("Failed to parse empty HTML: %v", err)
	}

	if len(links) != 0 {
		t.Errorf("Expected no links for empty HTML, got %d", len(links))
	}
}

func TestLinkExtractorInvalidBaseURL(t *testing.T) {
	extractor := NewLinkExtractor()

	if _, err := extractor.ExtractLinks("://bad", []byte("<a href=\"/x\">x</a>")); err == nil {
		t.Error("Expected error for invalid base URL")
	}
}
