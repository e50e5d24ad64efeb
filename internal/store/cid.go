package store

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"dfs-go/internal/dfs"
)

// ComputeCID returns the CIDv1 (raw codec, sha2-256) of data, the id a node
// assigns to a single-block raw leaf.
func ComputeCID(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// Verify checks fetched bytes against contentID when the id commits to the
// bytes directly (raw codec). Ids of chunked DAGs cannot be checked without
// the DAG and are accepted.
func Verify(contentID string, data []byte) error {
	c, err := dfs.ParseContentID(contentID)
	if err != nil {
		return err
	}
	prefix := c.Prefix()
	if prefix.Codec != cid.Raw {
		return nil
	}
	sum, err := prefix.Sum(data)
	if err != nil {
		return fmt.Errorf("hashing fetched content: %w", err)
	}
	if !sum.Equals(c) {
		return fmt.Errorf("content does not match %s", contentID)
	}
	return nil
}
