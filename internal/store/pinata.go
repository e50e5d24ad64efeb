package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"dfs-go/internal/dfs"
)

// PinataStore pins through the Pinata pinning API and reads through an IPFS
// gateway.
type PinataStore struct {
	*Gateway
	apiURL    string
	apiKey    string
	secretKey string
	client    *http.Client
}

// pinResponse is the body of a successful pinFileToIPFS call.
type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// NewPinataStore creates a PinataStore. A nil client uses http.DefaultClient.
func NewPinataStore(apiURL, apiKey, secretKey string, gateway *Gateway, client *http.Client) *PinataStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &PinataStore{
		Gateway:   gateway,
		apiURL:    strings.TrimRight(apiURL, "/"),
		apiKey:    apiKey,
		secretKey: secretKey,
		client:    client,
	}
}

// Pin uploads data as a multipart "file" field to /pinning/pinFileToIPFS.
func (p *PinataStore) Pin(ctx context.Context, fileName string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", dfs.NewError(dfs.KindStoreRejected, dfs.OpPin, fmt.Errorf("building upload: %w", err))
	}
	if _, err := part.Write(data); err != nil {
		return "", dfs.NewError(dfs.KindStoreRejected, dfs.OpPin, fmt.Errorf("building upload: %w", err))
	}
	if err := mw.Close(); err != nil {
		return "", dfs.NewError(dfs.KindStoreRejected, dfs.OpPin, fmt.Errorf("building upload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/pinning/pinFileToIPFS", &body)
	if err != nil {
		return "", dfs.NewError(dfs.KindStoreRejected, dfs.OpPin, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("pinata_api_key", p.apiKey)
	req.Header.Set("pinata_secret_api_key", p.secretKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", dfs.NewError(dfs.KindStoreUnavailable, dfs.OpPin, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", dfs.NewError(dfs.KindStoreUnavailable, dfs.OpPin, fmt.Errorf("reading pin response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		kind := dfs.KindStoreRejected
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = dfs.KindStoreUnavailable
		}
		return "", dfs.Errorf(kind, dfs.OpPin, "pinning service returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	var pr pinResponse
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return "", dfs.NewError(dfs.KindStoreRejected, dfs.OpPin, fmt.Errorf("decoding pin response: %w", err))
	}
	if pr.IpfsHash == "" {
		return "", dfs.Errorf(dfs.KindStoreRejected, dfs.OpPin, "pin response carries no IpfsHash")
	}
	return pr.IpfsHash, nil
}

var _ dfs.ContentStore = (*PinataStore)(nil)
