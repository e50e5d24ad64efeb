package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"dfs-go/internal/wallet"
)

// TerminalPrompter asks for passphrases and approvals on a terminal.
// Passphrases are read without echo when in is a terminal, and as plain
// lines otherwise.
type TerminalPrompter struct {
	in     io.Reader
	out    io.Writer
	reader *bufio.Reader
}

var _ wallet.Prompter = (*TerminalPrompter)(nil)

// NewTerminalPrompter creates a prompter reading from in and writing prompts to out.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: in, out: out, reader: bufio.NewReader(in)}
}

func (p *TerminalPrompter) Passphrase(ctx context.Context, prompt string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", prompt)
	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		line, err := readAsync(ctx, func() (string, error) {
			b, err := term.ReadPassword(int(f.Fd()))
			return string(b), err
		})
		fmt.Fprintln(p.out)
		return line, err
	}
	return readAsync(ctx, p.readLine)
}

func (p *TerminalPrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", prompt)
	line, err := readAsync(ctx, p.readLine)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *TerminalPrompter) readLine() (string, error) {
	line, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("reading answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// readAsync runs read until it returns or ctx ends. An abandoned read keeps
// its goroutine until input arrives.
func readAsync(ctx context.Context, read func() (string, error)) (string, error) {
	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := read()
		ch <- answer{line, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-ch:
		return a.line, a.err
	}
}
