package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cyp0633/caldora/server/storage"
)

// checkAuth enforces Basic Authentication. Returns the user ID and true if successful.
func (h *CaldavHandler) checkAuth(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, password, ok := r.BasicAuth()
	if !ok {
		if r.Header.Get("Authorization") == "" {
			h.Logger.Debug("authentication required - no auth header")
		} else {
			h.Logger.Warn("invalid authorization header format")
		}
		h.requireAuth(w)
		return "", false
	}
	if username == "" {
		h.Logger.Warn("empty username provided in basic auth")
		h.requireAuth(w)
		return "", false
	}

	userID, err := h.Auth.Authenticate(r.Context(), username, password)
	switch {
	case errors.Is(err, storage.ErrPermissionDenied), errors.Is(err, storage.ErrNotFound):
		h.Logger.Warn("authentication failed", "user", username)
		h.requireAuth(w)
		return "", false
	case err != nil:
		h.writeError(w, r, err)
		return "", false
	}
	return userID, true
}

// requireAuth sends a 401 Unauthorized response asking for Basic Auth.
func (h *CaldavHandler) requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s", charset="UTF-8"`, h.Realm))
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
