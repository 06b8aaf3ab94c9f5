package http

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/AxelAdjami/Projet-SIR/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Options struct {
	StaticDir       string
	HSTS            bool
	MaxMessageBytes int64
	SendQueue       int
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
}

type Handler struct {
	Relay *service.RelayService
	opts  Options
}

func NewHandler(relay *service.RelayService, opts Options) *Handler {
	return &Handler{
		Relay: relay,
		opts:  opts,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if h.opts.HSTS {
		r.Use(middleware.SetHeader("Strict-Transport-Security", "max-age=31536000; includeSubDomains"))
	}

	r.Get("/ws", h.ServeWS)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	if h.opts.StaticDir != "" {
		r.Handle("/*", staticHandler(h.opts.StaticDir))
	}

	return r
}

// staticHandler serves the client assets. Directories are never listed: a
// path ending in "/" is served only when it holds an index.html. Browsers
// probe for a favicon the client does not ship; those requests get an empty
// 204.
func staticHandler(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
		if strings.HasSuffix(r.URL.Path, "/") {
			if _, err := os.Stat(filepath.Join(name, "index.html")); err != nil {
				http.NotFound(w, r)
				return
			}
		}
		if strings.Contains(r.URL.Path, "favicon") {
			if _, err := os.Stat(name); err != nil {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		fs.ServeHTTP(w, r)
	})
}
