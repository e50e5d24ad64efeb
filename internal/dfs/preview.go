package dfs

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
)

// PreviewKind is the rendering category of a file, chosen by extension.
type PreviewKind string

const (
	PreviewImage       PreviewKind = "image"
	PreviewPDF         PreviewKind = "pdf"
	PreviewText        PreviewKind = "text"
	PreviewVideo       PreviewKind = "video"
	PreviewAudio       PreviewKind = "audio"
	PreviewUnsupported PreviewKind = "unsupported"
)

var previewKinds = map[string]PreviewKind{
	"jpg":  PreviewImage,
	"jpeg": PreviewImage,
	"png":  PreviewImage,
	"gif":  PreviewImage,
	"pdf":  PreviewPDF,
	"txt":  PreviewText,
	"md":   PreviewText,
	"mp4":  PreviewVideo,
	"webm": PreviewVideo,
	"mp3":  PreviewAudio,
	"wav":  PreviewAudio,
}

// ClassifyPreview returns the preview category for fileName. Matching is on
// the lowercased final extension.
func ClassifyPreview(fileName string) PreviewKind {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	if kind, ok := previewKinds[ext]; ok {
		return kind
	}
	return PreviewUnsupported
}

// Preview is what a presentation layer needs to render a file.
type Preview struct {
	Kind      PreviewKind
	ContentID string
	FileName  string

	// URL is the gateway address for media the renderer streams itself.
	URL string

	// Text holds the file body for text previews.
	Text []byte

	// SniffedType is the MIME type detected from Text, a hint only.
	SniffedType string
}

func buildPreview(ctx context.Context, store ContentStore, contentID, fileName string) (*Preview, error) {
	p := &Preview{
		Kind:      ClassifyPreview(fileName),
		ContentID: contentID,
		FileName:  fileName,
	}
	switch p.Kind {
	case PreviewUnsupported:
		return p, nil
	case PreviewText:
		data, err := store.Fetch(ctx, contentID)
		if err != nil {
			return nil, withOp(err, OpPreview, KindStoreUnavailable)
		}
		p.Text = data
		p.SniffedType = http.DetectContentType(data)
		return p, nil
	default:
		p.URL = store.Resolve(contentID)
		return p, nil
	}
}
