package ports

import (
	"context"

	"rcsync/internal/types"
)

// Transport performs one request against the control plane. Implementations
// own the wire protocol; the fetcher owns diffing and storage.
// One call per polling cycle, no internal retries: the poll loop's floored
// sleep is the retry mechanism.
// Implementations MUST honor ctx cancellation promptly; an aborted call must
// leave no side effects behind.
type Transport interface {
	Fetch(ctx context.Context, req *types.FetchRequest) (*types.FetchResponse, error)
}
