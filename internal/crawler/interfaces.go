package crawler

import (
	"context"

	"github.com/masahif/quetadoru/internal/queue"
	"github.com/masahif/quetadoru/internal/request"
	"github.com/masahif/quetadoru/internal/storage"
)

// Queue is the consumer-side view of the request queue. Satisfied by
// *queue.RequestQueue; mocked in tests.
type Queue interface {
	AddRequest(ctx context.Context, req *request.Request, opts queue.AddOptions) (*storage.OperationInfo, error)
	AddRequests(ctx context.Context, reqs []*request.Request, opts queue.AddOptions) ([]*storage.OperationInfo, error)
	FetchNextRequest(ctx context.Context) (*request.Request, error)
	MarkRequestHandled(ctx context.Context, req *request.Request) (*storage.OperationInfo, error)
	ReclaimRequest(ctx context.Context, req *request.Request, opts queue.ReclaimOptions) (*storage.OperationInfo, error)
	IsFinished(ctx context.Context) (bool, error)
	GetMetadata(ctx context.Context) (*storage.Metadata, error)
}

// Fetcher performs the actual HTTP fetch for a queued request. Satisfied by
// *HTTPClient; mocked in tests.
type Fetcher interface {
	Do(ctx context.Context, req *request.Request) (*FetchResult, error)
	Close()
}
