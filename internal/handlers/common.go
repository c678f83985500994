package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/lehigh-university-libraries/bibfixer/internal/fixer"
	"github.com/lehigh-university-libraries/bibfixer/internal/models"
	"github.com/lehigh-university-libraries/bibfixer/internal/storage"
)

const (
	// maxUploadSize caps uploaded bibliographies at 10MB
	maxUploadSize = 10 * 1024 * 1024
	// maxRequestSize leaves room for multipart framing around the file
	maxRequestSize = maxUploadSize + 1024*1024
)

type Handler struct {
	sessionStore *storage.SessionStore
	fixer        *fixer.Fixer
}

func New(f *fixer.Fixer) *Handler {
	return &Handler{
		sessionStore: storage.New(),
		fixer:        f,
	}
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	slog.Error(message)
	http.Error(w, message, code)
}

// Session helpers
func (h *Handler) getSessionOrError(w http.ResponseWriter, sessionID string) (*models.Session, bool) {
	session, exists := h.sessionStore.Get(sessionID)
	if !exists {
		h.writeError(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return session, true
}
