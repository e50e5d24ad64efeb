package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"dfs-go/internal/dfs"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Kind      dfs.Kind    `json:"kind"`
	Op        dfs.Op      `json:"op,omitempty"`
	Message   string      `json:"message"`
	Cause     dfs.Kind    `json:"cause,omitempty"`
	State     dfs.TxState `json:"state,omitempty"`
	ContentID string      `json:"content_id,omitempty"`
	TxHash    string      `json:"tx_hash,omitempty"`
	Retryable bool        `json:"retryable"`
}

type recordJSON struct {
	FileName    string   `json:"file_name"`
	ContentID   string   `json:"content_id"`
	Description string   `json:"description"`
	Version     uint64   `json:"version"`
	Owner       string   `json:"owner"`
	IsDeleted   bool     `json:"is_deleted"`
	SharedWith  []string `json:"shared_with"`
	Provisional bool     `json:"provisional"`
	URL         string   `json:"url"`
}

type listingJSON struct {
	Account      string       `json:"account"`
	Owned        []recordJSON `json:"owned"`
	SharedWithMe []recordJSON `json:"shared_with_me"`
	Stale        bool         `json:"stale"`
}

type sessionJSON struct {
	Account   string `json:"account,omitempty"`
	Connected bool   `json:"connected"`
}

type previewJSON struct {
	Kind        dfs.PreviewKind `json:"kind"`
	ContentID   string          `json:"content_id"`
	FileName    string          `json:"file_name"`
	URL         string          `json:"url,omitempty"`
	Text        string          `json:"text,omitempty"`
	SniffedType string          `json:"sniffed_type,omitempty"`
}

// statusFor maps a failure kind to an HTTP status.
func statusFor(kind dfs.Kind) int {
	switch kind {
	case dfs.KindInvalidInput, dfs.KindInvalidRecipient:
		return http.StatusBadRequest
	case dfs.KindNotConnected:
		return http.StatusUnauthorized
	case dfs.KindUserRejected:
		return http.StatusForbidden
	case dfs.KindOperationInProgress:
		return http.StatusConflict
	case dfs.KindEstimationFailed, dfs.KindExecutionReverted, dfs.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case dfs.KindStoreUnavailable, dfs.KindStoreRejected, dfs.KindNetworkFailed:
		return http.StatusBadGateway
	case dfs.KindWalletUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := errorBody{
		Kind:      dfs.KindOf(err),
		Message:   err.Error(),
		Retryable: dfs.Retryable(err),
	}
	var e *dfs.Error
	if errors.As(err, &e) {
		body.Op = e.Op
		body.Cause = e.Cause
		body.State = e.State
		body.ContentID = e.ContentID
		if e.TxHash != (common.Hash{}) {
			body.TxHash = e.TxHash.Hex()
		}
	}
	status := statusFor(body.Kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "kind", body.Kind, "error", err)
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) toJSON(rec *dfs.FileRecord) recordJSON {
	shared := make([]string, 0, len(rec.SharedWith))
	for _, a := range rec.SharedWith {
		shared = append(shared, a.Hex())
	}
	return recordJSON{
		FileName:    rec.FileName,
		ContentID:   rec.ContentID,
		Description: rec.Description,
		Version:     rec.Version,
		Owner:       rec.Owner.Hex(),
		IsDeleted:   rec.IsDeleted,
		SharedWith:  shared,
		Provisional: rec.Provisional,
		URL:         s.registry.Resolve(rec.ContentID),
	}
}

func (s *Server) recordsJSON(records []*dfs.FileRecord) []recordJSON {
	out := make([]recordJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, s.toJSON(rec))
	}
	return out
}
