package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/masahif/quetadoru/internal/request"
)

// RemoteBackend talks to a networked request-queue service over a JSON HTTP
// API. Unlike the local backends its reads are eventually consistent: a head
// listing may not yet reflect a write made moments ago, which is exactly what
// the queue's reconciliation loop papers over.
//
// Endpoints, relative to {base}/queues/{queueID}:
//
//	POST   /requests?forefront=  insert-if-absent, returns id + prior state
//	GET    /requests/{rid}       fetch one request (404 -> not found)
//	PUT    /requests/{rid}       update handled state / reclaim mutations
//	GET    /head?limit=          ordered head listing + queueModifiedAt
//	GET    /                     queue metadata
//	DELETE /                     drop the queue
type RemoteBackend struct {
	baseURL string
	queueID string
	token   string
	client  *http.Client
	limiter *rate.Limiter

	maxRetries int
	retryDelay time.Duration
}

// RemoteOptions tunes the HTTP client behaviour.
type RemoteOptions struct {
	Timeout    time.Duration // per-attempt timeout, default 30s
	MaxRetries int           // transient-error retries, default 5
	RetryDelay time.Duration // initial backoff, doubles per attempt, default 500ms
	MaxRPS     float64       // client-side pacing, default 30 requests/second
}

// NewRemoteBackend creates a client for the queue with the given id.
func NewRemoteBackend(baseURL, queueID, token string, opts RemoteOptions) (*RemoteBackend, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("api base url must not be empty")
	}
	if queueID == "" {
		return nil, fmt.Errorf("queue id must not be empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.MaxRPS <= 0 {
		opts.MaxRPS = 30
	}

	return &RemoteBackend{
		baseURL:    baseURL,
		queueID:    queueID,
		token:      token,
		client:     &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.MaxRPS), 1),
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
	}, nil
}

// wire mirrors the request JSON exchanged with the service.
type wireOperationInfo struct {
	RequestID         string `json:"requestId"`
	WasAlreadyPresent bool   `json:"wasAlreadyPresent"`
	WasAlreadyHandled bool   `json:"wasAlreadyHandled"`
}

type wireHead struct {
	Items []struct {
		ID        string `json:"id"`
		UniqueKey string `json:"uniqueKey"`
	} `json:"items"`
	QueueModifiedAt time.Time `json:"queueModifiedAt"`
}

type wireMetadata struct {
	TotalRequestCount   int       `json:"totalRequestCount"`
	HandledRequestCount int       `json:"handledRequestCount"`
	PendingRequestCount int       `json:"pendingRequestCount"`
	ModifiedAt          time.Time `json:"modifiedAt"`
}

func (r *RemoteBackend) endpoint(parts ...string) string {
	u := r.baseURL + "/queues/" + url.PathEscape(r.queueID)
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

// doJSON performs one HTTP exchange with pacing, bounded retries and backoff.
// Status 5xx and transport errors are retried; anything else is final. The
// decoded body is written into out when out is non-nil and the status is 2xx.
func (r *RemoteBackend) doJSON(ctx context.Context, op, method, rawURL string, body, out any) (int, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode %s body: %w", op, err)
		}
	}

	var lastErr error
	delay := r.retryDelay
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return 0, err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return 0, fmt.Errorf("failed to create %s request: %w", op, err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if r.token != "" {
			req.Header.Set("Authorization", "Bearer "+r.token)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("server returned %s", resp.Status)
			continue
		}
		if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
			return resp.StatusCode, fmt.Errorf("%s failed: %s: %s", op, resp.Status, bytes.TrimSpace(data))
		}
		if out != nil && resp.StatusCode < 300 {
			if err := json.Unmarshal(data, out); err != nil {
				return resp.StatusCode, fmt.Errorf("failed to decode %s response: %w", op, err)
			}
		}
		return resp.StatusCode, nil
	}

	return 0, &BackendUnavailableError{Op: op, Err: lastErr}
}

// InsertIfAbsent implements Backend. The service's insert is idempotent on
// uniqueKey, so a "already existed" response is equivalent to a cache hit.
func (r *RemoteBackend) InsertIfAbsent(ctx context.Context, req *request.Request, forefront bool) (*OperationInfo, error) {
	target := r.endpoint("requests") + "?forefront=" + strconv.FormatBool(forefront)
	var info wireOperationInfo
	if _, err := r.doJSON(ctx, "insert", http.MethodPost, target, req, &info); err != nil {
		return nil, err
	}
	return &OperationInfo{
		RequestID:         info.RequestID,
		WasAlreadyPresent: info.WasAlreadyPresent,
		WasAlreadyHandled: info.WasAlreadyHandled,
	}, nil
}

// GetByID implements Backend.
func (r *RemoteBackend) GetByID(ctx context.Context, id string) (*request.Request, error) {
	var req request.Request
	status, err := r.doJSON(ctx, "getRequest", http.MethodGet, r.endpoint("requests", id), nil, &req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	return &req, nil
}

// ListHead implements Backend.
func (r *RemoteBackend) ListHead(ctx context.Context, limit int) (*Head, error) {
	target := r.endpoint("head") + "?limit=" + strconv.Itoa(limit)
	var wire wireHead
	if _, err := r.doJSON(ctx, "listHead", http.MethodGet, target, nil, &wire); err != nil {
		return nil, err
	}
	head := &Head{QueueModifiedAt: wire.QueueModifiedAt}
	for _, item := range wire.Items {
		head.Items = append(head.Items, HeadItem{ID: item.ID, UniqueKey: item.UniqueKey})
	}
	return head, nil
}

// MarkHandled implements Backend.
func (r *RemoteBackend) MarkHandled(ctx context.Context, req *request.Request) error {
	_, err := r.doJSON(ctx, "markHandled", http.MethodPut, r.endpoint("requests", req.ID), req, nil)
	return err
}

// PersistReclaim implements Backend.
func (r *RemoteBackend) PersistReclaim(ctx context.Context, req *request.Request, forefront bool) error {
	target := r.endpoint("requests", req.ID) + "?forefront=" + strconv.FormatBool(forefront)
	_, err := r.doJSON(ctx, "persistReclaim", http.MethodPut, target, req, nil)
	return err
}

// GetMetadata implements Backend.
func (r *RemoteBackend) GetMetadata(ctx context.Context) (*Metadata, error) {
	var wire wireMetadata
	if _, err := r.doJSON(ctx, "getMetadata", http.MethodGet, r.endpoint(), nil, &wire); err != nil {
		return nil, err
	}
	return &Metadata{
		TotalRequestCount:   wire.TotalRequestCount,
		HandledRequestCount: wire.HandledRequestCount,
		PendingRequestCount: wire.PendingRequestCount,
		ModifiedAt:          wire.ModifiedAt,
	}, nil
}

// Drop implements Backend.
func (r *RemoteBackend) Drop(ctx context.Context) error {
	_, err := r.doJSON(ctx, "drop", http.MethodDelete, r.endpoint(), nil, nil)
	return err
}

// Close implements Backend.
func (r *RemoteBackend) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

var _ Backend = (*RemoteBackend)(nil)
