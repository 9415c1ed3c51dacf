// Package router mounts the CalDAV handler and its service endpoints on a
// gorilla/mux router.
package router

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cyp0633/caldora/server"
)

// New builds the HTTP routes for a CalDAV handler.
func New(h *server.CaldavHandler, logger *slog.Logger) *mux.Router {
	r := mux.NewRouter()
	// object names may contain escaped slashes and dot segments
	r.SkipClean(true)
	r.UseEncodedPath()

	r.Use(Logging(logger))
	r.Use(Recovery(logger))

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/.well-known/caldav", h.ServeWellKnown)
	r.PathPrefix(h.Prefix).Handler(h)

	// clients often probe the prefix without its trailing slash
	if trimmed := h.Prefix[:len(h.Prefix)-1]; trimmed != "" {
		r.Handle(trimmed, http.RedirectHandler(h.Prefix, http.StatusMovedPermanently))
	}
	return r
}
