package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dfs-go/internal/dfs"
)

func TestLineHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)
	txHash := common.HexToHash("0xabc")

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "op-123",
			level:   slog.LevelInfo,
			message: "content pinned",
			want:    "2024-06-15T14:30:45Z\tINFO\top-123\tcontent pinned\n",
		},
		{
			name:    "warn level",
			opID:    "op-456",
			level:   slog.LevelWarn,
			message: "refresh after delete failed",
			want:    "2024-06-15T14:30:45Z\tWARN\top-456\trefresh after delete failed\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelInfo,
			message: "transaction confirmed",
			attrs:   []slog.Attr{slog.String("op", "register"), slog.Int("gas", 108000)},
			want:    "2024-06-15T14:30:45Z\tINFO\top-789\ttransaction confirmed\top=register\tgas=108000\n",
		},
		{
			name:    "values with spaces are quoted",
			opID:    "op-1",
			level:   slog.LevelInfo,
			message: "operation finished",
			attrs:   []slog.Attr{slog.String("params", "report.pdf Q1 report"), slog.String("empty", "")},
			want:    "2024-06-15T14:30:45Z\tINFO\top-1\toperation finished\tparams=\"report.pdf Q1 report\"\tempty=\"\"\n",
		},
		{
			name:    "multi-line message stays on one line",
			opID:    "op-2",
			level:   slog.LevelError,
			message: "node said:\nrepo locked",
			want:    "2024-06-15T14:30:45Z\tERROR\top-2\tnode said:\\nrepo locked\n",
		},
		{
			name:    "groups prefix keys",
			opID:    "op-3",
			level:   slog.LevelDebug,
			message: "gas estimated",
			attrs:   []slog.Attr{slog.Group("tx", slog.Uint64("estimate", 90000), slog.Uint64("limit", 108000))},
			want:    "2024-06-15T14:30:45Z\tDEBUG\top-3\tgas estimated\ttx.estimate=90000\ttx.limit=108000\n",
		},
		{
			name:    "dfs errors log their kind and tx hash",
			opID:    "op-4",
			level:   slog.LevelWarn,
			message: "share failed",
			attrs: []slog.Attr{slog.Any("error", &dfs.Error{
				Kind:   dfs.KindExecutionReverted,
				Op:     dfs.OpShare,
				TxHash: txHash,
				Err:    errors.New("Not the file owner"),
			})},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newLineHandler(&buf, tt.opID, slog.LevelDebug)

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			got := buf.String()
			if tt.want != "" {
				if got != tt.want {
					t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
				}
				return
			}
			for _, part := range []string{"\terror=\"", "\terror_kind=execution_reverted", "\terror_tx=" + txHash.Hex()} {
				if !strings.Contains(got, part) {
					t.Errorf("Handle() output = %q, want it to contain %q", got, part)
				}
			}
			if strings.Count(got, "\n") != 1 {
				t.Errorf("Handle() output spans lines: %q", got)
			}
		})
	}
}

func TestLineHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	h := newLineHandler(&buf, "op-1", slog.LevelInfo)

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "ledger")}).WithGroup("tx")

	r := slog.NewRecord(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), slog.LevelInfo, "mined", 0)
	r.AddAttrs(slog.String("hash", "0xabc"))
	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "\tcomponent=ledger\ttx.hash=0xabc\n") {
		t.Errorf("output = %q, want pre-set attr before grouped record attr", got)
	}
	if len(h.attrs) != 0 || h.prefix != "" {
		t.Errorf("original handler modified: attrs=%q prefix=%q", h.attrs, h.prefix)
	}
}

func TestLineHandler_Enabled(t *testing.T) {
	h := newLineHandler(nil, "", slog.LevelInfo)

	tests := []struct {
		level slog.Level
		want  bool
	}{
		{slog.LevelDebug, false},
		{slog.LevelInfo, true},
		{slog.LevelWarn, true},
		{slog.LevelError, true},
	}
	for _, tt := range tests {
		if got := h.Enabled(context.Background(), tt.level); got != tt.want {
			t.Errorf("Enabled(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}

	var lv slog.LevelVar
	lv.Set(slog.LevelWarn)
	dyn := newLineHandler(nil, "", &lv)
	if dyn.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Enabled(INFO) = true at WARN")
	}
	lv.Set(slog.LevelDebug)
	if !dyn.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled(DEBUG) = false after lowering the level")
	}
}

func TestLineHandler_ConcurrentWritesKeepLinesWhole(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newLineHandler(&buf, "op", slog.LevelInfo))
	child := logger.With("component", "server")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				logger.Info("request", "n", i)
			} else {
				child.Info("request", "n", i)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 20 {
		t.Fatalf("got %d lines, want 20", len(lines))
	}
	for _, line := range lines {
		if !strings.Contains(line, "\top\trequest\t") {
			t.Errorf("interleaved line %q", line)
		}
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "test-op", slog.LevelInfo)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	adapter := &slogAdapter{l: logger}
	adapter.Info("hello", "k", "v")
	adapter.Debug("hidden")

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "test-op\thello\tk=v") {
		t.Errorf("log file = %q, want the info line", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Errorf("log file contains a record below the level: %q", data)
	}
}
