package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	files "github.com/ipfs/boxo/files"
	shell "github.com/ipfs/go-ipfs-api"

	"dfs-go/internal/dfs"
)

// kuboClientErrorCode is the code the node puts in error replies caused by
// the request itself (bad arguments, size limits).
const kuboClientErrorCode = 1

// KuboStore pins to a local IPFS node through its HTTP RPC API and resolves
// through a public gateway.
type KuboStore struct {
	sh      *shell.Shell
	gateway *Gateway
}

// NewKuboStore connects to the node API at apiURL (e.g. "localhost:5001").
func NewKuboStore(apiURL string, timeout time.Duration, gateway *Gateway) *KuboStore {
	sh := shell.NewShell(apiURL)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}
	return &KuboStore{sh: sh, gateway: gateway}
}

type addResponse struct {
	Name string
	Hash string
	Size string
}

// Pin adds data to the node with CIDv1 and raw leaves, pinning it.
func (k *KuboStore) Pin(ctx context.Context, _ string, data []byte) (string, error) {
	rb := k.sh.Request("add")
	for _, opt := range []shell.AddOpts{shell.CidVersion(1), shell.RawLeaves(true), shell.Pin(true)} {
		if err := opt(rb); err != nil {
			return "", dfs.NewError(dfs.KindStoreUnavailable, dfs.OpPin, fmt.Errorf("building add request: %w", err))
		}
	}

	body := files.NewMultiFileReader(files.NewSliceDirectory([]files.DirEntry{files.FileEntry("", files.NewBytesFile(data))}), true, false)

	var out addResponse
	if err := rb.Body(body).Exec(ctx, &out); err != nil {
		return "", kuboError(dfs.OpPin, "adding to node", err)
	}
	if out.Hash == "" {
		return "", dfs.Errorf(dfs.KindStoreRejected, dfs.OpPin, "node reply carries no hash")
	}
	return out.Hash, nil
}

func (k *KuboStore) Resolve(contentID string) string {
	return k.gateway.Resolve(contentID)
}

// Fetch reads content from the node itself rather than the gateway.
func (k *KuboStore) Fetch(ctx context.Context, contentID string) ([]byte, error) {
	if _, err := dfs.ParseContentID(contentID); err != nil {
		return nil, dfs.NewError(dfs.KindInvalidInput, dfs.OpFetch, err)
	}

	resp, err := k.sh.Request("cat", contentID).Send(ctx)
	if err != nil {
		return nil, kuboError(dfs.OpFetch, "reading from node", err)
	}
	defer resp.Close()
	if resp.Error != nil {
		return nil, kuboError(dfs.OpFetch, "reading from node", resp.Error)
	}

	data, err := io.ReadAll(resp.Output)
	if err != nil {
		return nil, kuboError(dfs.OpFetch, "reading from node", err)
	}
	if err := Verify(contentID, data); err != nil {
		return nil, dfs.NewError(dfs.KindStoreUnavailable, dfs.OpFetch, err)
	}
	return data, nil
}

// kuboError maps node replies flagged as client errors to StoreRejected;
// everything else, transport failures included, is StoreUnavailable.
func kuboError(op dfs.Op, doing string, err error) error {
	kind := dfs.KindStoreUnavailable
	var se *shell.Error
	if errors.As(err, &se) && se.Code == kuboClientErrorCode {
		kind = dfs.KindStoreRejected
	}
	return dfs.NewError(kind, op, fmt.Errorf("%s: %w", doing, err))
}

var _ dfs.ContentStore = (*KuboStore)(nil)
