package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"dfs-go/internal/dfs"
)

func (s *Server) getSession(w http.ResponseWriter, _ *http.Request) {
	account, ok := s.session.CurrentAccount()
	resp := sessionJSON{Connected: ok}
	if ok {
		resp.Account = account.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	account, err := s.session.Connect(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON{Account: account.Hex(), Connected: true})
}

func (s *Server) disconnect(w http.ResponseWriter, _ *http.Request) {
	s.session.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	listing, err := s.registry.Refresh(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listingJSON{
		Account:      listing.Account.Hex(),
		Owned:        s.recordsJSON(listing.Owned),
		SharedWithMe: s.recordsJSON(listing.SharedWithMe),
		Stale:        listing.Stale,
	})
}

func (s *Server) listOwned(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.recordsJSON(s.registry.Owned()))
}

func (s *Server) listShared(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.recordsJSON(s.registry.SharedWithMe()))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.recordsJSON(s.registry.History(chi.URLParam(r, "name"))))
}

// upload takes a multipart form with a "file" part and optional "name" and
// "description" fields.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, dfs.NewError(dfs.KindInvalidInput, dfs.OpUpload, fmt.Errorf("parsing upload form: %w", err)))
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, dfs.NewError(dfs.KindInvalidInput, dfs.OpUpload, fmt.Errorf("reading file part: %w", err)))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		s.writeError(w, dfs.NewError(dfs.KindInvalidInput, dfs.OpUpload, fmt.Errorf("reading file part: %w", err)))
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	rec, err := s.registry.Upload(r.Context(), data, name, r.FormValue("description"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.toJSON(rec))
}

type registerRequest struct {
	ContentID   string `json:"content_id"`
	FileName    string `json:"file_name"`
	Description string `json:"description"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, dfs.NewError(dfs.KindInvalidInput, dfs.OpRegister, fmt.Errorf("decoding request: %w", err)))
		return
	}
	rec, err := s.registry.RegisterPinned(r.Context(), req.ContentID, req.FileName, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.toJSON(rec))
}

type shareRequest struct {
	Recipient string `json:"recipient"`
}

func (s *Server) share(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, dfs.NewError(dfs.KindInvalidInput, dfs.OpShare, fmt.Errorf("decoding request: %w", err)))
		return
	}
	if err := s.registry.Share(r.Context(), chi.URLParam(r, "cid"), req.Recipient); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseUint(chi.URLParam(r, "version"), 10, 64)
	if err != nil {
		s.writeError(w, dfs.Errorf(dfs.KindInvalidInput, dfs.OpDelete, "invalid version %q", chi.URLParam(r, "version")))
		return
	}
	if err := s.registry.DeleteFile(r.Context(), chi.URLParam(r, "name"), version); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// download streams the content as an attachment named by the "name" query
// parameter.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	name := r.URL.Query().Get("name")
	data, err := s.registry.Download(r.Context(), cid, name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if name == "" {
		name = cid
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry.Preview(r.Context(), chi.URLParam(r, "cid"), r.URL.Query().Get("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, previewJSON{
		Kind:        p.Kind,
		ContentID:   p.ContentID,
		FileName:    p.FileName,
		URL:         p.URL,
		Text:        string(p.Text),
		SniffedType: p.SniffedType,
	})
}
