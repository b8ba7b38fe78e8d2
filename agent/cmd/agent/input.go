package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/obsidianstack/beacon/pkg/types"
)

const maxLineBytes = 1 << 20

// submitter is the part of client.Client the input loop needs.
type submitter interface {
	Submit(types.Item) bool
}

// feed reads JSON-lines items from r and submits them until EOF or ctx is
// done. Lines that fail to decode are logged and skipped. It returns the
// number of items accepted.
//
// Reads happen on a separate goroutine so a cancelled ctx returns even while
// r is blocked (an idle stdin). That goroutine exits on its next line or at EOF.
func feed(ctx context.Context, r io.Reader, s submitter) (int, error) {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go scanLines(r, lines, errc, stop)

	accepted, lineNo := 0, 0
	for {
		if ctx.Err() != nil {
			return accepted, nil
		}
		var (
			line []byte
			ok   bool
		)
		select {
		case <-ctx.Done():
			return accepted, nil
		case line, ok = <-lines:
		}
		if !ok {
			return accepted, <-errc
		}
		lineNo++
		if len(line) == 0 {
			continue
		}
		it, err := types.DecodeItem(line)
		if err != nil {
			slog.Warn("input: skipping invalid line", "line", lineNo, "err", err)
			continue
		}
		if s.Submit(it) {
			accepted++
		}
	}
}

// scanLines sends a copy of every line of r on lines. At EOF it reports the
// scanner error (or nil) on errc and closes lines.
func scanLines(r io.Reader, lines chan<- []byte, errc chan<- error, stop <-chan struct{}) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		select {
		case lines <- line:
		case <-stop:
			return
		}
	}
	if err := sc.Err(); err != nil {
		errc <- fmt.Errorf("input: read: %w", err)
	} else {
		errc <- nil
	}
	close(lines)
}
