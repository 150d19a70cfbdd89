// Package ui provides the HTTP server exposing models, sources, queries and
// notebook runs.
package ui

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leapstack-labs/malloynb/internal/cache"
	"github.com/leapstack-labs/malloynb/internal/state"
	"github.com/leapstack-labs/malloynb/internal/ui/notifier"
	"github.com/leapstack-labs/malloynb/internal/ui/router"
	"github.com/leapstack-labs/malloynb/pkg/malloy"
	"github.com/leapstack-labs/malloynb/pkg/notebook"
	"golang.org/x/sync/errgroup"
)

// debounceInterval coalesces bursts of file events from editors that write
// a file in several steps.
const debounceInterval = 100 * time.Millisecond

// Server is the main UI server.
type Server struct {
	cache        *cache.Cache
	runtime      *malloy.Runtime
	store        state.Store
	port         int
	watch        bool
	modelsDir    string
	notebooksDir string
	concurrency  int
	logger       *slog.Logger
	notifier     *notifier.Notifier
}

// Config holds configuration for the UI server.
type Config struct {
	Cache        *cache.Cache
	Runtime      *malloy.Runtime
	Store        state.Store // optional; disables run history when nil
	Port         int
	Watch        bool
	ModelsDir    string
	NotebooksDir string
	Concurrency  int
	Logger       *slog.Logger
}

// NewServer creates a new UI server instance.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	notebooksDir := cfg.NotebooksDir
	if notebooksDir == "" {
		notebooksDir = cfg.ModelsDir
	}
	return &Server{
		cache:        cfg.Cache,
		runtime:      cfg.Runtime,
		store:        cfg.Store,
		port:         cfg.Port,
		watch:        cfg.Watch,
		modelsDir:    cfg.ModelsDir,
		notebooksDir: notebooksDir,
		concurrency:  cfg.Concurrency,
		logger:       logger,
		notifier:     notifier.New(),
	}
}

// Handler returns the server's routes wrapped in its middleware.
func (s *Server) Handler() (http.Handler, error) {
	r := chi.NewMux()
	r.Use(
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)

	var notify *notifier.Notifier
	if s.watch {
		notify = s.notifier
	}
	if err := router.SetupRoutes(r, router.Deps{
		Cache:        s.cache,
		Runtime:      s.runtime,
		Store:        s.store,
		Notifier:     notify,
		ModelsDir:    s.modelsDir,
		NotebooksDir: s.notebooksDir,
		Concurrency:  s.concurrency,
		Logger:       s.logger,
	}); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}
	return r, nil
}

// Serve starts the UI server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("starting UI server", "addr", fmt.Sprintf("http://localhost:%d", s.port))

	eg, egctx := errgroup.WithContext(ctx)

	handler, err := s.Handler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.watch {
		eg.Go(func() error {
			return s.watchFiles(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down UI server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// Notifier returns the notifier fed by the file watcher.
func (s *Server) Notifier() *notifier.Notifier {
	return s.notifier
}

// watchFiles broadcasts changes to model and notebook files until ctx is
// done. Compiled models stay cached; notebooks are re-read on every run.
func (s *Server) watchFiles(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range uniqueDirs(s.modelsDir, s.notebooksDir) {
		if err := watchDirRecursive(watcher, dir); err != nil {
			// keep serving without watching
			s.logger.Error("failed to watch directory", "dir", dir, "error", err)
		}
	}

	pending := map[string]notifier.Event{}
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watchDirRecursive(watcher, event.Name)
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			kind := fileKind(event.Name)
			if kind == "" {
				continue
			}
			pending[event.Name] = notifier.Event{Path: s.relPath(event.Name), Kind: kind}
			fire = time.After(debounceInterval)

		case <-fire:
			for _, ev := range pending {
				s.logger.Debug("file changed", "path", ev.Path, "kind", ev.Kind)
				s.notifier.Broadcast(ev)
			}
			pending = map[string]notifier.Event{}
			fire = nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}

// fileKind classifies a path as a model or notebook, or "" for other files.
func fileKind(path string) string {
	switch filepath.Ext(path) {
	case notebook.ModelExtension:
		return "model"
	case notebook.FileExtension:
		return "notebook"
	}
	return ""
}

// relPath reports path relative to the notebooks or models directory.
func (s *Server) relPath(path string) string {
	for _, dir := range []string{s.notebooksDir, s.modelsDir} {
		if rel, err := filepath.Rel(dir, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

func uniqueDirs(dirs ...string) []string {
	var out []string
	seen := map[string]bool{}
	for _, d := range dirs {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// watchDirRecursive adds a directory and all subdirectories to the watcher,
// skipping hidden ones.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
