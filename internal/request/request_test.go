package request

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	req, err := New("https://example.com/page", Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if req.URL != "https://example.com/page" {
		t.Errorf("URL = %q, want %q", req.URL, "https://example.com/page")
	}
	if req.Method != "GET" {
		t.Errorf("Method = %q, want GET", req.Method)
	}
	if req.UniqueKey != "https://example.com/page" {
		t.Errorf("UniqueKey = %q, want normalized URL", req.UniqueKey)
	}
	if req.ID != "" {
		t.Errorf("ID = %q, want empty before enqueue", req.ID)
	}
	if req.HandledAt != nil {
		t.Error("HandledAt should be nil for a new request")
	}
}

func TestNewInvalidURL(t *testing.T) {
	tests := []struct {
		name   string
		rawURL string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"relative", "/just/a/path"},
		{"no scheme", "example.com/page"},
		{"unparseable", "http://exa mple.com/%zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.rawURL, Options{})
			if err == nil {
				t.Fatalf("New(%q) succeeded, want error", tt.rawURL)
			}
			var invalidErr *InvalidRequestError
			if !errors.As(err, &invalidErr) {
				t.Errorf("error type = %T, want *InvalidRequestError", err)
			}
		})
	}
}

func TestNewExplicitUniqueKey(t *testing.T) {
	req, err := New("https://example.com/a", Options{UniqueKey: "custom-key"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if req.UniqueKey != "custom-key" {
		t.Errorf("UniqueKey = %q, want custom-key", req.UniqueKey)
	}
}

func TestNewWithKey(t *testing.T) {
	req, err := NewWithKey("https://example.com/a", "k1", Options{})
	if err != nil {
		t.Fatalf("NewWithKey failed: %v", err)
	}
	if req.UniqueKey != "k1" {
		t.Errorf("UniqueKey = %q, want k1", req.UniqueKey)
	}

	_, err = NewWithKey("https://example.com/a", "", Options{})
	var invalidErr *InvalidRequestError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("NewWithKey with empty key: error = %v, want *InvalidRequestError", err)
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		keepFragment bool
		want         string
	}{
		{"lowercases scheme and host", "HTTPS://EXAMPLE.com/Path", false, "https://example.com/Path"},
		{"trims whitespace", "  https://example.com/a  ", false, "https://example.com/a"},
		{"strips default http port", "http://example.com:80/a", false, "http://example.com/a"},
		{"strips default https port", "https://example.com:443/a", false, "https://example.com/a"},
		{"keeps custom port", "https://example.com:8080/a", false, "https://example.com:8080/a"},
		{"drops fragment", "https://example.com/a#section", false, "https://example.com/a"},
		{"keeps fragment when asked", "https://example.com/a#section", true, "https://example.com/a#section"},
		{"trims trailing slash", "https://example.com/a/", false, "https://example.com/a"},
		{"keeps root slash", "https://example.com/", false, "https://example.com/"},
		{"preserves query order", "https://example.com/a?b=2&a=1", false, "https://example.com/a?b=2&a=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.input, tt.keepFragment)
			if err != nil {
				t.Fatalf("NormalizeURL(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeURLEquivalentForms(t *testing.T) {
	// All of these must collapse to the same key so that the queue treats
	// them as the same page.
	variants := []string{
		"https://example.com/path",
		"HTTPS://example.com/path",
		"https://EXAMPLE.COM/path",
		"https://example.com:443/path",
		"https://example.com/path/",
		"https://example.com/path#fragment",
		"  https://example.com/path  ",
	}

	want, err := NormalizeURL(variants[0], false)
	if err != nil {
		t.Fatalf("NormalizeURL failed: %v", err)
	}
	for _, v := range variants[1:] {
		got, err := NormalizeURL(v, false)
		if err != nil {
			t.Fatalf("NormalizeURL(%q) failed: %v", v, err)
		}
		if got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestComputeUniqueKeyExtended(t *testing.T) {
	key, err := ComputeUniqueKey("https://example.com/form", "post", []byte("a=1"), KeyOptions{Extended: true})
	if err != nil {
		t.Fatalf("ComputeUniqueKey failed: %v", err)
	}

	if !strings.HasPrefix(key, "POST(") {
		t.Errorf("extended key %q should start with the uppercased method", key)
	}
	if !strings.HasSuffix(key, "):https://example.com/form") {
		t.Errorf("extended key %q should end with the normalized URL", key)
	}

	// Different payloads must yield different keys for the same URL.
	other, err := ComputeUniqueKey("https://example.com/form", "post", []byte("a=2"), KeyOptions{Extended: true})
	if err != nil {
		t.Fatalf("ComputeUniqueKey failed: %v", err)
	}
	if other == key {
		t.Error("extended keys for different payloads should differ")
	}

	// Same inputs must be deterministic.
	again, err := ComputeUniqueKey("https://example.com/form", "POST", []byte("a=1"), KeyOptions{Extended: true})
	if err != nil {
		t.Fatalf("ComputeUniqueKey failed: %v", err)
	}
	if again != key {
		t.Errorf("extended key not deterministic: %q vs %q", again, key)
	}
}

func TestPushErrorMessage(t *testing.T) {
	req := &Request{}

	req.PushErrorMessage(fmt.Errorf("first failure"))
	req.PushErrorMessage(nil)
	req.PushErrorMessage(errors.New(strings.Repeat("x", 5000)))

	if len(req.ErrorMessages) != 3 {
		t.Fatalf("ErrorMessages length = %d, want 3", len(req.ErrorMessages))
	}
	if req.ErrorMessages[0] != "first failure" {
		t.Errorf("first message = %q", req.ErrorMessages[0])
	}
	if req.ErrorMessages[1] != "unknown error" {
		t.Errorf("nil error recorded as %q, want placeholder", req.ErrorMessages[1])
	}
	if len(req.ErrorMessages[2]) != 2048 {
		t.Errorf("long message length = %d, want truncated to 2048", len(req.ErrorMessages[2]))
	}
}
