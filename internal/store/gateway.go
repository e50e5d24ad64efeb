package store

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"dfs-go/internal/dfs"
)

// Gateway reads content from an HTTP IPFS gateway: GET <base>/<cid>.
type Gateway struct {
	base   string
	client *http.Client
}

// NewGateway creates a Gateway. A nil client uses http.DefaultClient.
func NewGateway(base string, client *http.Client) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	return &Gateway{base: strings.TrimRight(base, "/"), client: client}
}

// Resolve returns the gateway URL for contentID.
func (g *Gateway) Resolve(contentID string) string {
	return g.base + "/" + contentID
}

// Fetch downloads contentID. Timeouts, transport errors, missing content
// and server errors are all KindStoreUnavailable; bytes that contradict a
// raw CID are rejected the same way.
func (g *Gateway) Fetch(ctx context.Context, contentID string) ([]byte, error) {
	if _, err := dfs.ParseContentID(contentID); err != nil {
		return nil, dfs.NewError(dfs.KindInvalidInput, dfs.OpFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.Resolve(contentID), nil)
	if err != nil {
		return nil, dfs.NewError(dfs.KindInvalidInput, dfs.OpFetch, fmt.Errorf("building request: %w", err))
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, dfs.NewError(dfs.KindStoreUnavailable, dfs.OpFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, dfs.Errorf(dfs.KindStoreUnavailable, dfs.OpFetch, "gateway returned %s for %s", resp.Status, contentID)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dfs.NewError(dfs.KindStoreUnavailable, dfs.OpFetch, fmt.Errorf("reading gateway response: %w", err))
	}
	if err := Verify(contentID, data); err != nil {
		return nil, dfs.NewError(dfs.KindStoreUnavailable, dfs.OpFetch, err)
	}
	return data, nil
}
