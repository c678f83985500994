package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sessions := h.sessionStore.List()
		for i, session := range sessions {
			sessions[i] = session.Summary()
		}
		h.writeJSON(w, sessions)
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleSessionDetail serves /api/sessions/{id} and /api/sessions/{id}/bib
func (h *Handler) HandleSessionDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	sessionID, resource, _ := strings.Cut(path, "/")

	session, ok := h.getSessionOrError(w, sessionID)
	if !ok {
		return
	}

	switch {
	case resource == "bib" && r.Method == http.MethodGet:
		name := strings.TrimSuffix(session.Filename, filepath.Ext(session.Filename)) + "_fixed.bib"
		w.Header().Set("Content-Type", "application/x-bibtex; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		if _, err := w.Write(session.Output); err != nil {
			h.writeError(w, "Unable to write bibliography: "+err.Error(), http.StatusInternalServerError)
		}
	case resource != "":
		h.writeError(w, "Not found", http.StatusNotFound)
	case r.Method == http.MethodGet:
		h.writeJSON(w, session)
	case r.Method == http.MethodDelete:
		h.sessionStore.Delete(sessionID)
		w.WriteHeader(http.StatusNoContent)
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
