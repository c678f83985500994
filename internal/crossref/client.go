package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/bibfixer/internal/models"
	"github.com/lehigh-university-libraries/bibfixer/internal/normalize"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public Crossref REST API
	DefaultBaseURL = "https://api.crossref.org"
	// DefaultTitleRows caps title search results
	DefaultTitleRows = 5
	// AuthorTitleRows caps author+title search results
	AuthorTitleRows = 3
	// MinInterval is the minimum spacing between two calls from one Caller
	MinInterval = 100 * time.Millisecond
)

// resolver prefixes stripped from DOIs before lookup, compared case-insensitively
var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi:",
}

// Client holds the connection settings shared by every Caller
type Client struct {
	BaseURL    string
	Mailto     string
	httpClient *http.Client
}

// NewClient creates a new Crossref client. An empty baseURL uses the public API.
func NewClient(baseURL, mailto string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Mailto:  mailto,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Caller issues requests on behalf of one worker. Rate limiting is per Caller:
// a Caller never issues two requests less than MinInterval apart, while
// separate Callers do not wait on each other.
type Caller struct {
	client  *Client
	limiter *rate.Limiter
}

// NewCaller returns a Caller with its own rate limiter
func (c *Client) NewCaller() *Caller {
	return &Caller{
		client:  c,
		limiter: rate.NewLimiter(rate.Every(MinInterval), 1),
	}
}

// SearchByDOI looks up a single work by DOI. Returns nil when the lookup fails.
func (c *Caller) SearchByDOI(ctx context.Context, doi string) *models.Candidate {
	clean := CleanDOI(doi)
	if clean == "" {
		return nil
	}

	var envelope struct {
		Message *models.Work `json:"message"`
	}
	endpoint := c.client.BaseURL + "/works/" + url.PathEscape(clean)
	if err := c.get(ctx, endpoint, nil, &envelope); err != nil {
		slog.Warn("Error searching by DOI", "doi", doi, "error", err)
		return nil
	}
	if envelope.Message == nil {
		return nil
	}

	candidate := normalize.Project(*envelope.Message)
	return &candidate
}

// SearchByTitle returns up to rows works ranked by relevance to title
func (c *Caller) SearchByTitle(ctx context.Context, title string, rows int) []models.Candidate {
	if rows <= 0 {
		rows = DefaultTitleRows
	}
	params := url.Values{}
	params.Set("query.title", title)
	params.Set("rows", strconv.Itoa(rows))
	params.Set("sort", "relevance")

	candidates, err := c.search(ctx, params)
	if err != nil {
		slog.Warn("Error searching by title", "title", title, "error", err)
		return nil
	}
	return candidates
}

// SearchByAuthorTitle searches using the first two authors and the title
func (c *Caller) SearchByAuthorTitle(ctx context.Context, authors []string, title string) []models.Candidate {
	if len(authors) > 2 {
		authors = authors[:2]
	}
	params := url.Values{}
	params.Set("query.author", strings.Join(authors, " "))
	params.Set("query.title", title)
	params.Set("rows", strconv.Itoa(AuthorTitleRows))
	params.Set("sort", "relevance")

	candidates, err := c.search(ctx, params)
	if err != nil {
		slog.Warn("Error searching by author+title", "authors", authors, "error", err)
		return nil
	}
	return candidates
}

func (c *Caller) search(ctx context.Context, params url.Values) ([]models.Candidate, error) {
	var envelope struct {
		Message struct {
			Items []models.Work `json:"items"`
		} `json:"message"`
	}
	if err := c.get(ctx, c.client.BaseURL+"/works", params, &envelope); err != nil {
		return nil, err
	}

	candidates := make([]models.Candidate, 0, len(envelope.Message.Items))
	for _, item := range envelope.Message.Items {
		candidates = append(candidates, normalize.Project(item))
	}
	return candidates, nil
}

func (c *Caller) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	if c.client.Mailto != "" {
		params.Set("mailto", c.client.Mailto)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.client.userAgent())

	resp, err := c.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("crossref returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) userAgent() string {
	if c.Mailto == "" {
		return "BibFixer/1.0"
	}
	return fmt.Sprintf("BibFixer/1.0 (mailto:%s)", c.Mailto)
}

// CleanDOI strips resolver prefixes and whitespace from a DOI
func CleanDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	for _, prefix := range doiPrefixes {
		if len(doi) >= len(prefix) && strings.EqualFold(doi[:len(prefix)], prefix) {
			doi = doi[len(prefix):]
			break
		}
	}
	return strings.TrimSpace(doi)
}
