package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultLogFile = "./slackrelay.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Relay   RelayConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// RelayConfig routes the process's own log lines to a Sink. MinLevel
// (default warn) is checked before the sink sees a line; the relay applies
// its own threshold afterwards.
type RelayConfig struct {
	Enabled  bool
	MinLevel string
}

// Sink receives raw JSON log lines. *relay.Relay satisfies it. WriteLevel
// must not retain p.
type Sink interface {
	WriteLevel(level zerolog.Level, p []byte) (int, error)
}

// Service owns the process log outputs and swaps them on Apply. Loggers
// taken from it see the swap without being recreated.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu       sync.Mutex
	file     *os.File
	filePath string
	sink     Sink
	sinkMin  zerolog.Level
}

// New builds the service from cfg and returns it with a live root Logger.
func New(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetSink installs the relay sink; nil detaches it. Apply decides whether
// lines are routed to it.
func (s *Service) SetSink(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = nil
	s.root.Store(nil)
	return s.closeFileLocked()
}

// Apply rebuilds the outputs for cfg. The log file is only reopened when its
// path changes. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sinkMin = ParseLevel(cfg.Relay.MinLevel, zerolog.WarnLevel)

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, newConsoleWriter(Stdout()))
	}
	if cfg.File.Enabled {
		if f := s.openFileLocked(cfg.File.Path); f != nil {
			outs = append(outs, zerolog.SyncWriter(f))
		}
	} else {
		_ = s.closeFileLocked()
	}
	if cfg.Relay.Enabled {
		if s.sink == nil {
			fmt.Fprintln(os.Stderr, "logx: relay logging enabled but no relay is attached")
		}
		outs = append(outs, sinkWriter{s})
	}
	if len(outs) == 0 {
		outs = append(outs, newConsoleWriter(Stdout()))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

func (s *Service) openFileLocked(path string) *os.File {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	if s.file != nil && s.filePath == path {
		return s.file
	}
	_ = s.closeFileLocked()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		return nil
	}
	s.file, s.filePath = f, path
	return f
}

func (s *Service) closeFileLocked() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.filePath = nil, ""
	return err
}

// sinkWriter is the zerolog output that feeds the relay sink.
type sinkWriter struct{ s *Service }

func (w sinkWriter) Write(p []byte) (int, error) { return w.WriteLevel(zerolog.NoLevel, p) }

func (w sinkWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.s
	s.mu.Lock()
	sink, min := s.sink, s.sinkMin
	s.mu.Unlock()

	if sink == nil || level < min || level == zerolog.NoLevel {
		return len(p), nil
	}
	// A failing sink never fails the other outputs.
	_, _ = sink.WriteLevel(level, p)
	return len(p), nil
}
