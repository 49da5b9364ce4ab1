package webdav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/net/webdav"

	"github.com/nzbvault/nzbvault/internal/store"
)

// Server runs the WebDAV listener, grounded on
// javi11-altmount/internal/adapters/webdav/server.go's Start/Stop
// lifecycle and Content-Type/Accept-Ranges header handling, stripped of
// its mux-sharing, pprof, and basic-auth plumbing (no auth surface here).
type Server struct {
	httpServer *http.Server
}

// NewServer builds a Server serving addr with a read-only WebDAV handler
// rooted at the store's item tree.
func NewServer(addr string, s *store.Store) *Server {
	handler := &webdav.Handler{
		FileSystem: New(s),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.DebugContext(r.Context(), "webdav error", "method", r.Method, "path", r.URL.Path, "err", err)
			}
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if ext := filepath.Ext(r.URL.Path); ext != "" {
			if mimeType := mime.TypeByExtension(ext); mimeType != "" {
				w.Header().Set("Content-Type", mimeType)
			} else {
				w.Header().Set("Content-Type", "application/octet-stream")
			}
		}
		w.Header().Set("Accept-Ranges", "bytes")
		handler.ServeHTTP(w, r)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			IdleTimeout:  5 * time.Minute,
			WriteTimeout: 30 * time.Minute,
		},
	}
}

// Start runs the server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	slog.InfoContext(ctx, "webdav server starting", "addr", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webdav: shutting down: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop shuts the server down gracefully, waiting up to 15 seconds for
// open requests, for callers not already holding a cancellable context.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("webdav server shutdown error", "err", err)
	}
}
