// Package ingest feeds log lines from a file or stdin into a relay.
//
// Each line is parsed with relay.ParseLogLine: JSON lines (zerolog, logrus,
// slog style) keep their level, message, time and fields; anything else is
// taken as a plain message at the default level.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"slackrelay/internal/relay"
	logx "slackrelay/pkg/logx"
)

// Stdin is the Path value that selects standard input.
const Stdin = "-"

const (
	maxLine      = 1 << 20
	followPoll   = 250 * time.Millisecond
	defaultLevel = relay.LevelInfo
)

type Target interface {
	Handle(ev relay.Event)
}

type Config struct {
	Path string
	// Follow keeps reading a file after EOF, like tail -f. Ignored for stdin.
	Follow bool
	// Level is used for lines without a recognizable level (default INFO).
	Level relay.Level
}

type Reader struct {
	cfg    Config
	target Target
	log    logx.Logger
	stdin  io.Reader

	lines   atomic.Uint64
	skipped atomic.Uint64
}

func New(cfg Config, target Target, log logx.Logger) *Reader {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Level == 0 {
		cfg.Level = defaultLevel
	}
	return &Reader{cfg: cfg, target: target, log: log.With(logx.String("comp", "ingest")), stdin: os.Stdin}
}

// Lines is the number of lines handed to the target.
func (r *Reader) Lines() uint64 { return r.lines.Load() }

// Skipped counts blank lines and lines cut at the size limit.
func (r *Reader) Skipped() uint64 { return r.skipped.Load() }

// Run reads until EOF (or, when following a file, until ctx is done).
func (r *Reader) Run(ctx context.Context) error {
	path := strings.TrimSpace(r.cfg.Path)
	if path == "" {
		return errors.New("ingest: path is empty")
	}
	if path == Stdin {
		r.log.Info("reading stdin")
		return r.consume(ctx, r.stdin, false)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if r.cfg.Follow {
		// Only new lines; the backlog was presumably handled before.
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return err
		}
	}
	r.log.Info("reading file", logx.String("path", path), logx.Bool("follow", r.cfg.Follow))
	return r.consume(ctx, f, r.cfg.Follow)
}

// ReadFrom consumes src until EOF. Used for one-shot input and tests.
func (r *Reader) ReadFrom(ctx context.Context, src io.Reader) error {
	return r.consume(ctx, src, false)
}

func (r *Reader) consume(ctx context.Context, src io.Reader, follow bool) error {
	br := bufio.NewReaderSize(src, 64<<10)
	var partial []byte
	for {
		if ctx.Err() != nil {
			return nil
		}
		chunk, err := br.ReadSlice('\n')
		partial = append(partial, chunk...)
		switch {
		case err == nil:
			r.emit(partial)
			partial = partial[:0]
			continue
		case errors.Is(err, bufio.ErrBufferFull):
			if len(partial) > maxLine {
				r.skipped.Add(1)
				r.log.Warn("line too long; truncated", logx.Int("bytes", len(partial)))
				r.emit(partial[:maxLine])
				partial = partial[:0]
				// drop the rest of the oversized line
				if err := discardLine(br); err != nil && !errors.Is(err, io.EOF) {
					return err
				}
			}
			continue
		case errors.Is(err, io.EOF):
			if !follow {
				if len(partial) > 0 {
					r.emit(partial)
				}
				return nil
			}
			// Keep the partial line; the writer may still be mid-line.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(followPoll):
			}
		default:
			return err
		}
	}
}

func (r *Reader) emit(line []byte) {
	ev, ok := relay.ParseLogLine(line, r.cfg.Level)
	if !ok {
		r.skipped.Add(1)
		return
	}
	r.lines.Add(1)
	r.target.Handle(ev)
}

func discardLine(br *bufio.Reader) error {
	for {
		_, err := br.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}
