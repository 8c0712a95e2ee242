package request

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"strings"
)

// KeyOptions controls unique-key derivation.
type KeyOptions struct {
	Extended     bool // include method and payload hash in the key
	KeepFragment bool // keep the #fragment instead of stripping it
}

// NormalizeURL canonicalizes a URL for deduplication:
// surrounding whitespace is trimmed, scheme and host are lowercased, default
// ports are stripped (:80 for http, :443 for https), the fragment is dropped
// unless keepFragment is set, and a trailing slash is removed from non-root
// paths. Query strings are preserved as-is because their order can be
// significant to servers.
func NormalizeURL(rawURL string, keepFragment bool) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", &InvalidRequestError{Reason: "url must not be empty"}
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", &InvalidRequestError{Reason: fmt.Sprintf("cannot parse url %q: %v", trimmed, err)}
	}
	if u.Scheme == "" || u.Host == "" {
		return "", &InvalidRequestError{Reason: fmt.Sprintf("url %q must be absolute", trimmed)}
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if !keepFragment {
		u.Fragment = ""
	}

	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// ComputeUniqueKey derives the deduplication key for a URL. In the default
// mode the key is the normalized URL. In extended mode the key is
// "METHOD(payloadHash):normalizedURL", which keeps POST-driven navigations
// to the same URL apart.
func ComputeUniqueKey(rawURL, method string, payload []byte, opts KeyOptions) (string, error) {
	normalized, err := NormalizeURL(rawURL, opts.KeepFragment)
	if err != nil {
		return "", err
	}

	if !opts.Extended {
		return normalized, nil
	}

	return fmt.Sprintf("%s(%s):%s", strings.ToUpper(method), hashPayload(payload), normalized), nil
}

// hashPayload returns a short fingerprint of the payload. The first 8 bytes
// of the sha256 hex digest are plenty for key disambiguation.
func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%x", sum)[:16]
}
