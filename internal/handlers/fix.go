package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lehigh-university-libraries/bibfixer/internal/bibtex"
	"github.com/lehigh-university-libraries/bibfixer/internal/models"
)

// HandleFix accepts a bibliography as a multipart "file" field or as the raw
// request body, fixes it and stores the result as a new session.
func (h *Handler) HandleFix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)

	filename, data, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, "File too large (max 10MB)", http.StatusRequestEntityTooLarge)
			return
		}
		h.writeError(w, "Failed to read upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) > maxUploadSize {
		h.writeError(w, "File too large (max 10MB)", http.StatusRequestEntityTooLarge)
		return
	}

	db, err := bibtex.Parse(data)
	if err != nil {
		var parseErr *bibtex.ParseError
		if errors.As(err, &parseErr) {
			h.writeError(w, "Invalid BibTeX: "+parseErr.Error(), http.StatusBadRequest)
			return
		}
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sessionID := uuid.NewString()
	slog.Info("Fixing upload", "session_id", sessionID, "filename", filename, "entries", len(db.Entries))

	result := h.fixer.FixAll(r.Context(), db.Entries)
	db.Entries = result.Records
	dropped := bibtex.Validate(db)

	session := &models.Session{
		ID:        sessionID,
		Filename:  filename,
		CreatedAt: time.Now(),
		Total:     len(result.Outcomes),
		Changed:   result.Changed,
		Matched:   result.Matched,
		Outcomes:  result.Outcomes,
		Output:    bibtex.Serialize(db),
	}
	h.sessionStore.Set(session)

	h.writeJSON(w, map[string]any{
		"session_id": sessionID,
		"message":    fmt.Sprintf("Fixed %d out of %d entries", result.Changed, len(result.Outcomes)),
		"total":      session.Total,
		"changed":    session.Changed,
		"matched":    session.Matched,
		"dropped":    dropped,
	})
}

func readUpload(r *http.Request) (string, []byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, err
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
		return header.Filename, data, err
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize+1))
	if err != nil {
		return "", nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", nil, errors.New("empty request body")
	}
	return "upload.bib", data, nil
}
