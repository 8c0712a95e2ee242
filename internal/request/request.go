// Package request defines the unit of work handled by the request queue.
// A request is identified by its unique key, which is either supplied by the
// caller or derived from a normalized form of the URL. Two requests with the
// same unique key are the same logical unit of work.
package request

import (
	"fmt"
	"time"
)

// Maximum length of a single stored error message. Longer messages are
// truncated so that repeatedly failing requests cannot grow without bound.
const maxErrorMessageLen = 2048

// Request represents one unit of crawl work: a URL plus everything needed to
// fetch it and track its processing state. The unique key is immutable after
// creation; RetryCount, ErrorMessages and HandledAt are updated only by the
// queue during reclaim/mark-handled.
type Request struct {
	ID            string            `json:"id,omitempty"`
	URL           string            `json:"url"`
	UniqueKey     string            `json:"uniqueKey"`
	Method        string            `json:"method"`
	Payload       []byte            `json:"payload,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	UserData      map[string]any    `json:"userData,omitempty"`
	RetryCount    int               `json:"retryCount"`
	ErrorMessages []string          `json:"errorMessages,omitempty"`
	HandledAt     *time.Time        `json:"handledAt,omitempty"`
	NoRetry       bool              `json:"noRetry,omitempty"`
}

// Options holds the optional fields for constructing a request.
type Options struct {
	Method   string            // HTTP method, defaults to GET
	Payload  []byte            // Request body, if any
	Headers  map[string]string // HTTP headers sent with the request
	UserData map[string]any    // Arbitrary caller data, opaque to the queue

	// UniqueKey overrides the derived deduplication key. Must be non-empty
	// when set.
	UniqueKey string

	// UseExtendedUniqueKey includes method and payload in the derived key,
	// so POST navigations to the same URL are distinct work items.
	UseExtendedUniqueKey bool

	// KeepURLFragment preserves the #fragment in the derived key. Off by
	// default because fragments rarely change server-side content.
	KeepURLFragment bool
}

// New creates a request for the given URL. The URL is required; everything
// else defaults (method GET, derived unique key). Returns an
// *InvalidRequestError for a missing/unparseable URL or an empty explicit
// unique key.
func New(rawURL string, opts Options) (*Request, error) {
	method := opts.Method
	if method == "" {
		method = "GET"
	}

	uniqueKey := opts.UniqueKey
	if uniqueKey == "" {
		// An explicitly supplied empty key is a caller bug, but the zero
		// value of Options must mean "derive it". Distinguish via pointer
		// semantics is not worth it; derive unless the caller set a value.
		derived, err := ComputeUniqueKey(rawURL, method, opts.Payload, KeyOptions{
			Extended:     opts.UseExtendedUniqueKey,
			KeepFragment: opts.KeepURLFragment,
		})
		if err != nil {
			return nil, err
		}
		uniqueKey = derived
	}

	return &Request{
		URL:       rawURL,
		UniqueKey: uniqueKey,
		Method:    method,
		Payload:   opts.Payload,
		Headers:   opts.Headers,
		UserData:  opts.UserData,
	}, nil
}

// NewWithKey creates a request with a caller-supplied unique key. Unlike
// New, an empty key is rejected rather than derived.
func NewWithKey(rawURL, uniqueKey string, opts Options) (*Request, error) {
	if uniqueKey == "" {
		return nil, &InvalidRequestError{Reason: "uniqueKey must not be empty"}
	}
	opts.UniqueKey = uniqueKey
	return New(rawURL, opts)
}

// PushErrorMessage appends a stringified error to ErrorMessages. It never
// fails: nil errors are recorded as a placeholder and long messages are
// truncated. Used for best-effort diagnostic accumulation during retries.
func (r *Request) PushErrorMessage(err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	r.ErrorMessages = append(r.ErrorMessages, msg)
}

// InvalidRequestError reports malformed input to request construction.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Reason)
}
