package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"dfs-go/internal/dfs"
)

// LogFileName is the log file inside the configured log directory.
const LogFileName = "dfs.log"

// lineHandler writes each record as one tab-separated line:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
//
// Values with whitespace, quotes or '=' are quoted so a record never spans
// lines. A *dfs.Error value also logs its kind and transaction hash.
type lineHandler struct {
	out    *lineWriter
	opID   string
	level  slog.Leveler
	prefix string
	attrs  []byte
}

// lineWriter serializes writes from handlers derived from the same root.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newLineHandler(w io.Writer, opID string, level slog.Leveler) *lineHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &lineHandler{out: &lineWriter{w: w}, opID: opID, level: level}
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

var messageEscaper = strings.NewReplacer("\n", `\n`, "\t", `\t`)

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = r.Time.UTC().AppendFormat(buf, "2006-01-02T15:04:05Z")
	buf = append(buf, '\t')
	buf = append(buf, r.Level.String()...)
	buf = append(buf, '\t')
	buf = append(buf, h.opID...)
	buf = append(buf, '\t')
	buf = append(buf, messageEscaper.Replace(r.Message)...)
	buf = append(buf, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		buf = appendAttr(buf, h.prefix, a)
		return true
	})
	buf = append(buf, '\n')

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := h.out.w.Write(buf)
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append([]byte{}, h.attrs...)
	for _, a := range attrs {
		h2.attrs = appendAttr(h2.attrs, h.prefix, a)
	}
	return &h2
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}

	key := prefix + a.Key
	switch a.Value.Kind() {
	case slog.KindGroup:
		group := prefix
		if a.Key != "" {
			group = key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = appendAttr(buf, group, ga)
		}
		return buf
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			var de *dfs.Error
			if errors.As(err, &de) {
				buf = appendPair(buf, key, err.Error())
				buf = appendPair(buf, key+"_kind", string(de.Kind))
				if de.TxHash != (common.Hash{}) {
					buf = appendPair(buf, key+"_tx", de.TxHash.Hex())
				}
				return buf
			}
		}
	}
	return appendPair(buf, key, a.Value.String())
}

func appendPair(buf []byte, key, value string) []byte {
	buf = append(buf, '\t')
	buf = append(buf, key...)
	buf = append(buf, '=')
	if value == "" || strings.ContainsAny(value, " \t\n\r\"=") {
		return strconv.AppendQuote(buf, value)
	}
	return append(buf, value...)
}

// newLogger creates a structured logger that writes to logDir/dfs.log and
// to stderr. It returns the slog.Logger and the open log file for cleanup.
func newLogger(logDir, opID string, level slog.Leveler) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(logDir, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	return slog.New(newLineHandler(io.MultiWriter(f, os.Stderr), opID, level)), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the dfs.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
