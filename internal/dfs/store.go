package dfs

import "context"

// ContentStore pins bytes to a content-addressed network and reads them back.
// Implementations return *Error values of KindStoreUnavailable (transport,
// timeouts, 5xx, missing content) or KindStoreRejected (size, auth, malformed
// reply). A client never retries on its own, and a failed Pin may still have
// pinned the content.
type ContentStore interface {
	// Pin stores data and returns its content id.
	Pin(ctx context.Context, fileName string, data []byte) (string, error)

	// Resolve returns the gateway URL for a content id. It performs no I/O.
	Resolve(contentID string) string

	// Fetch returns the bytes behind a content id.
	Fetch(ctx context.Context, contentID string) ([]byte, error)
}
