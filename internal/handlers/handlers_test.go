package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/bibfixer/internal/fixer"
	"github.com/lehigh-university-libraries/bibfixer/internal/models"
)

const upload = `@article{doe2020,
  title = {A Study of Things},
  abstract = {Stale local abstract}
}

@book{roe2019,
  title = {Unknown Book}
}
`

type stubSearcher struct{}

func (stubSearcher) SearchByDOI(ctx context.Context, doi string) *models.Candidate {
	return nil
}

func (stubSearcher) SearchByTitle(ctx context.Context, title string, rows int) []models.Candidate {
	if title != "A Study of Things" {
		return nil
	}
	return []models.Candidate{{
		Kind:   "article",
		Fields: map[string]string{"title": "A Study of Things", "year": "2020", "doi": "10.1/xyz"},
	}}
}

func (stubSearcher) SearchByAuthorTitle(ctx context.Context, authors []string, title string) []models.Candidate {
	return nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	h := New(fixer.New(func() fixer.Searcher { return stubSearcher{} }, 2))
	mux := http.NewServeMux()
	mux.HandleFunc("/api/fix", h.HandleFix)
	mux.HandleFunc("/api/sessions", h.HandleSessions)
	mux.HandleFunc("/api/sessions/", h.HandleSessionDetail)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type fixResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Total     int    `json:"total"`
	Changed   int    `json:"changed"`
	Matched   int    `json:"matched"`
}

func postFix(t *testing.T, url, contentType string, body *bytes.Buffer) fixResponse {
	t.Helper()

	resp, err := http.Post(url+"/api/fix", contentType, body)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var out fixResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

func TestFixRawBody(t *testing.T) {
	server := newTestServer(t)

	out := postFix(t, server.URL, "text/plain", bytes.NewBufferString(upload))
	if out.SessionID == "" {
		t.Fatal("Expected a session id")
	}
	if out.Total != 2 || out.Changed != 1 || out.Matched != 1 {
		t.Errorf("Unexpected counts: %+v", out)
	}
	if out.Message != "Fixed 1 out of 2 entries" {
		t.Errorf("Unexpected message: %s", out.Message)
	}

	resp, err := http.Get(server.URL + "/api/sessions/" + out.SessionID + "/bib")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	bib := buf.String()

	if !strings.Contains(bib, "year  = {2020}") {
		t.Errorf("Expected year filled in output, got:\n%s", bib)
	}
	if strings.Contains(bib, "abstract") {
		t.Errorf("Expected abstract removed, got:\n%s", bib)
	}
	if strings.Index(bib, "doe2020") > strings.Index(bib, "roe2019") {
		t.Error("Expected entries to keep input order")
	}
	if got := resp.Header.Get("Content-Disposition"); !strings.Contains(got, "upload_fixed.bib") {
		t.Errorf("Unexpected Content-Disposition: %s", got)
	}
}

func TestFixMultipart(t *testing.T) {
	server := newTestServer(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "refs.bib")
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	part.Write([]byte(upload))
	writer.Close()

	out := postFix(t, server.URL, writer.FormDataContentType(), &body)

	resp, err := http.Get(server.URL + "/api/sessions/" + out.SessionID)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var session models.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("Failed to decode session: %v", err)
	}
	if session.Filename != "refs.bib" {
		t.Errorf("Expected filename refs.bib, got %s", session.Filename)
	}
	if len(session.Outcomes) != 2 || session.Outcomes[0].Strategy != "title" {
		t.Errorf("Unexpected outcomes: %+v", session.Outcomes)
	}
}

func TestListSessions(t *testing.T) {
	server := newTestServer(t)
	postFix(t, server.URL, "text/plain", bytes.NewBufferString(upload))
	postFix(t, server.URL, "text/plain", bytes.NewBufferString(upload))

	resp, err := http.Get(server.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var sessions []models.Session
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatalf("Failed to decode sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if len(sessions[0].Outcomes) != 0 {
		t.Error("Expected session list to omit outcomes")
	}
}

func TestHandlerErrors(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		expected int
	}{
		{name: "invalid bibtex", method: http.MethodPost, path: "/api/fix", body: "@article{x, title = {open", expected: http.StatusBadRequest},
		{name: "empty body", method: http.MethodPost, path: "/api/fix", body: "  ", expected: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, path: "/api/fix", expected: http.StatusMethodNotAllowed},
		{name: "unknown session", method: http.MethodGet, path: "/api/sessions/nope", expected: http.StatusNotFound},
		{name: "sessions wrong method", method: http.MethodPost, path: "/api/sessions", expected: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, server.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("Failed to build request: %v", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.expected {
				t.Errorf("Expected status %d, got %d", tt.expected, resp.StatusCode)
			}
		})
	}
}

func TestDeleteSession(t *testing.T) {
	server := newTestServer(t)
	out := postFix(t, server.URL, "text/plain", bytes.NewBufferString(upload))

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/sessions/"+out.SessionID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/api/sessions/" + out.SessionID)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
}

func TestFixRejectsOversizedUploads(t *testing.T) {
	h := New(fixer.New(func() fixer.Searcher { return stubSearcher{} }, 1))
	oversized := bytes.Repeat([]byte("x"), maxRequestSize+1)

	t.Run("raw body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/fix", bytes.NewReader(oversized))
		rec := httptest.NewRecorder()
		h.HandleFix(rec, req)

		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("Expected status 413, got %d", rec.Code)
		}
	})

	t.Run("multipart", func(t *testing.T) {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("file", "huge.bib")
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		part.Write(oversized)
		writer.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/fix", &body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		rec := httptest.NewRecorder()
		h.HandleFix(rec, req)

		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("Expected status 413, got %d", rec.Code)
		}
		if len(h.sessionStore.List()) != 0 {
			t.Error("Expected no session for a rejected upload")
		}
	})
}
