// Package session holds the process-wide state of the inspection
// service: the cache of opened readers, the idle-shutdown watchdog, and
// the best-effort memory release hook.
package session

import (
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/yueduduo/pth-viewer/internal/checkpoint"
	"github.com/yueduduo/pth-viewer/internal/logger"
)

// Options configures a Session. Zero-value hooks fall back to production
// defaults; tests inject their own.
type Options struct {
	// IdleTimeout is how long the process may sit without a request
	// before it terminates. Zero or negative disables the watchdog.
	IdleTimeout time.Duration

	// Open constructs a reader for a path. Defaults to checkpoint.Open.
	Open func(path string) checkpoint.Reader

	// Exit terminates the process when the idle deadline elapses.
	// Defaults to os.Exit(0). The shutdown is unconditional: no drain,
	// no in-flight check.
	Exit func()

	// Trim asks the runtime/OS to reclaim memory after a release. This
	// is advisory cleanup, not a correctness requirement. Defaults to
	// debug.FreeOSMemory.
	Trim func()

	Log *logger.Logger
}

// Session owns the path→reader cache and the idle-shutdown timer. One
// mutex guards both; it is held for the duration of each operation, so
// two concurrent requests for the same uncached path cannot double-load
// the file, and a timer reset cannot race a cache mutation.
type Session struct {
	mu      sync.Mutex
	readers map[string]checkpoint.Reader
	timer   *time.Timer

	idle time.Duration
	open func(path string) checkpoint.Reader
	exit func()
	trim func()
	log  *logger.Logger

	loadCount int
}

// New creates a Session and arms the idle watchdog.
func New(opts Options) *Session {
	s := &Session{
		readers: make(map[string]checkpoint.Reader),
		idle:    opts.IdleTimeout,
		open:    opts.Open,
		exit:    opts.Exit,
		trim:    opts.Trim,
		log:     opts.Log,
	}
	if s.open == nil {
		s.open = checkpoint.Open
	}
	if s.exit == nil {
		s.exit = func() { os.Exit(0) }
	}
	if s.trim == nil {
		s.trim = debug.FreeOSMemory
	}
	if s.log == nil {
		s.log = logger.NewDefault()
	}
	s.mu.Lock()
	s.resetDeadlineLocked()
	s.mu.Unlock()
	return s
}

// Touch resets the idle-shutdown deadline. Every API call goes through
// here.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetDeadlineLocked()
}

func (s *Session) resetDeadlineLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.idle <= 0 {
		return
	}
	s.timer = time.AfterFunc(s.idle, func() {
		s.log.Warnf("idle for %s, shutting down", s.idle)
		s.exit()
	})
}

// GetOrOpen returns the cached reader for path, constructing and caching
// one when absent. Opening forces the structure to be computed once,
// which triggers the reader's load; a reader is therefore never cached
// in a half-loaded state. An existing cache entry is never replaced.
func (s *Session) GetOrOpen(path string) (checkpoint.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrOpenLocked(path)
}

func (s *Session) getOrOpenLocked(path string) (checkpoint.Reader, error) {
	if r, ok := s.readers[path]; ok {
		return r, nil
	}
	r := s.open(path)
	if _, err := r.Structure(); err != nil {
		_ = r.Close()
		return nil, err
	}
	s.loadCount++
	s.readers[path] = r
	return r, nil
}

// Structure returns the hierarchical view for path, opening the reader
// if needed.
func (s *Session) Structure(path string) (*checkpoint.TreeNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.getOrOpenLocked(path)
	if err != nil {
		return nil, err
	}
	return r.Structure()
}

// Inspect resolves a key path to tensor statistics. A cache miss gets
// exactly one auto-reload attempt before the failure surfaces.
func (s *Session) Inspect(path string, key checkpoint.KeyPath) (*checkpoint.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.readers[path]
	if !ok {
		s.log.WithFile(path).Infof("reader not in cache, auto-reloading")
		reloaded, err := s.getOrOpenLocked(path)
		if err != nil {
			return nil, err
		}
		r = reloaded
	}
	return r.Resolve(key)
}

// Release removes the cache entry for path, if present, and requests a
// best-effort memory trim. Reports whether an entry was released.
func (s *Session) Release(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.readers[path]
	if !ok {
		return false
	}
	delete(s.readers, path)
	if err := r.Close(); err != nil {
		s.log.WithFile(path).Warnf("close: %v", err)
	}
	s.trim()
	return true
}

// LoadCount reports how many times a checkpoint was opened and loaded.
// Instrumentation for cache idempotence checks.
func (s *Session) LoadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadCount
}

// Cached reports whether a reader for path is currently live.
func (s *Session) Cached(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.readers[path]
	return ok
}

// Close stops the watchdog and closes all cached readers.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	for path, r := range s.readers {
		if err := r.Close(); err != nil {
			s.log.WithFile(path).Warnf("close: %v", err)
		}
		delete(s.readers, path)
	}
}
