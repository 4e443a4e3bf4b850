// Package journal implements the action journal: an append-only, line-oriented record of
// what the bot did, written as plain sentences for a human reader.
package journal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/cadence-cli/internal/config"
)

// Sink receives journal lines. Append never fails from the caller's point of view; a sink
// that cannot write drops the line.
type Sink interface {
	Append(line string)
}

// File appends lines to a journal file, rotating it by size through lumberjack.
type File struct {
	mu         sync.Mutex
	w          io.WriteCloser
	timestamps bool
	now        func() time.Time
	logger     *zap.Logger
}

// Open creates a File sink from configuration. The parent directory is created if needed.
func Open(cfg config.JournalConfig, logger *zap.Logger) (*File, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	w := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	}
	return NewFile(w, cfg.Timestamps, logger), nil
}

// NewFile wraps an arbitrary writer.
func NewFile(w io.WriteCloser, timestamps bool, logger *zap.Logger) *File {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{w: w, timestamps: timestamps, now: time.Now, logger: logger.Named("journal")}
}

// Append writes one line. Embedded newlines are flattened so one event stays one line.
func (f *File) Append(line string) {
	line = flatten(line)
	f.logger.Debug(line)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w == nil {
		return
	}
	if f.timestamps {
		line = f.now().Format("2006-01-02 15:04:05") + " " + line
	}
	if _, err := io.WriteString(f.w, line+"\n"); err != nil {
		f.logger.Warn("Failed to write journal line.", zap.Error(err))
	}
}

// Close releases the underlying writer. Later appends are dropped.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w == nil {
		return nil
	}
	err := f.w.Close()
	f.w = nil
	return err
}

// Recorder keeps the most recent lines in memory.
type Recorder struct {
	mu    sync.Mutex
	keep  int
	lines []string
}

// NewRecorder keeps at most keep lines. A non-positive keep retains everything.
func NewRecorder(keep int) *Recorder {
	return &Recorder{keep: keep}
}

func (r *Recorder) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, flatten(line))
	if r.keep > 0 && len(r.lines) > r.keep {
		r.lines = append(r.lines[:0:0], r.lines[len(r.lines)-r.keep:]...)
	}
}

// Lines returns a copy of the retained lines, oldest first.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Tee fans every line out to several sinks.
type Tee []Sink

func (t Tee) Append(line string) {
	for _, s := range t {
		if s != nil {
			s.Append(line)
		}
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Append(string) {}

func flatten(line string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(line, "\n", " ")), " ")
}
