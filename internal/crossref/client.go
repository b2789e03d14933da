package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/crossref-ingest/internal/domain"
)

const (
	// DefaultBaseURL is the default CrossRef API base URL.
	DefaultBaseURL = "https://api.crossref.org"

	// DefaultRateLimit is the default rate limit for requests per second.
	// The polite pool (with mailto) tolerates far more, but a harvest loop
	// has no reason to hammer the API.
	DefaultRateLimit = 2.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 2

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRows is the default page size. CrossRef caps rows at 1000;
	// 200 keeps response bodies comfortably under the decode limit.
	DefaultRows = 200

	// FirstCursor starts a deep-paging traversal from the beginning.
	FirstCursor = "*"

	// maxBodyBytes bounds response decoding to prevent resource exhaustion.
	maxBodyBytes = 10 << 20
)

// Config holds configuration for the CrossRef client.
type Config struct {
	// BaseURL is the CrossRef API base URL.
	// Defaults to https://api.crossref.org
	BaseURL string

	// Email is the contact email for the polite pool. Providing an email
	// routes requests to servers with better latency guarantees.
	// See: https://api.crossref.org/swagger-ui/index.html#meta
	Email string

	// PlusToken is an optional Metadata Plus subscription token.
	PlusToken string

	// Rows is the page size for works requests.
	// Defaults to 200, maximum is 1000 per the CrossRef API.
	Rows int

	// Sort and Order select the traversal order of the works index
	// (e.g. sort=published, order=desc). Both optional.
	Sort  string
	Order string

	// Filter is a raw CrossRef filter expression
	// (e.g. "type:journal-article,from-pub-date:2020-01-01"). Optional.
	Filter string

	// Timeout is the request timeout. Defaults to 30 seconds.
	Timeout time.Duration

	// RateLimit is the maximum requests per second. Defaults to 2.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed. Defaults to 2.
	BurstSize int

	// MaxRetries is the maximum retry attempts per request. Defaults to 3.
	MaxRetries int

	// RetryDelay is the base delay between retries. Defaults to 1s.
	RetryDelay time.Duration
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.Rows == 0 {
		c.Rows = DefaultRows
	}
}

// Page is one fetched works page: the exact response body for raw capture,
// plus the parsed records and the cursor for the next request.
type Page struct {
	// Body is the unmodified response body.
	Body []byte

	// Records are the page's items mapped to raw records, in API order.
	Records []domain.RawRecord

	// NextCursor is the cursor for the following page. CrossRef returns a
	// cursor even on the final page; emptiness of Records, not of
	// NextCursor, signals the end of the result set.
	NextCursor string

	// TotalResults is the total matching works reported by the API.
	TotalResults int
}

// Client fetches works pages from the CrossRef REST API.
type Client struct {
	config     Config
	httpClient *HTTPClient
}

// New creates a new CrossRef client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	userAgent := "crossref-ingest/1.0"
	if cfg.Email != "" {
		userAgent += " (mailto:" + cfg.Email + ")"
	}

	httpClient := NewHTTPClient(HTTPClientConfig{
		Timeout:    cfg.Timeout,
		RateLimit:  cfg.RateLimit,
		BurstSize:  cfg.BurstSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		UserAgent:  userAgent,
		PlusToken:  cfg.PlusToken,
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// NewWithHTTPClient creates a new CrossRef client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// FetchPage fetches one works page at the given cursor. Pass FirstCursor
// (or "") to start a traversal; subsequent calls pass the previous page's
// NextCursor. The returned Body is the byte-exact response for raw capture.
func (c *Client) FetchPage(ctx context.Context, cursor string) (*Page, error) {
	worksURL, err := c.buildWorksURL(cursor)
	if err != nil {
		return nil, fmt.Errorf("building works URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, worksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(
			"CrossRef",
			resp.StatusCode,
			string(body),
			nil,
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	page, err := ParsePage(body)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// ParsePage decodes a works response body into a Page. It is used both on
// freshly fetched pages and on raw-captured bodies replayed from storage.
func ParsePage(body []byte) (*Page, error) {
	var worksResp WorksResponse
	if err := json.Unmarshal(body, &worksResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if worksResp.Status != "ok" {
		return nil, domain.NewExternalAPIError(
			"CrossRef",
			0,
			fmt.Sprintf("unexpected envelope status %q", worksResp.Status),
			nil,
		)
	}

	records := make([]domain.RawRecord, 0, len(worksResp.Message.Items))
	for i := range worksResp.Message.Items {
		records = append(records, workToRecord(&worksResp.Message.Items[i]))
	}

	return &Page{
		Body:         body,
		Records:      records,
		NextCursor:   worksResp.Message.NextCursor,
		TotalResults: worksResp.Message.TotalResults,
	}, nil
}

// buildWorksURL constructs the works endpoint URL with query parameters.
func (c *Client) buildWorksURL(cursor string) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	baseURL.Path = "/works"

	rows := c.config.Rows
	if rows > 1000 {
		rows = 1000 // CrossRef API limit
	}

	query := url.Values{}
	query.Set("rows", strconv.Itoa(rows))
	if cursor == "" {
		cursor = FirstCursor
	}
	query.Set("cursor", cursor)

	if c.config.Filter != "" {
		query.Set("filter", c.config.Filter)
	}
	if c.config.Sort != "" {
		query.Set("sort", c.config.Sort)
	}
	if c.config.Order != "" {
		query.Set("order", c.config.Order)
	}
	if c.config.Email != "" {
		query.Set("mailto", c.config.Email)
	}

	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

// workToRecord maps one CrossRef work to a raw record. No cleaning happens
// here beyond flattening CrossRef's array-valued fields; titles, DOIs and
// counts pass through exactly as received.
func workToRecord(w *Work) domain.RawRecord {
	rec := domain.RawRecord{
		DOI:            w.DOI,
		Publisher:      w.Publisher,
		CitationCount:  w.CitedByCount,
		ReferenceCount: w.ReferenceCount,
	}

	if len(w.Title) > 0 {
		rec.Title = w.Title[0]
	}
	if len(w.ContainerTitle) > 0 {
		rec.Journal = w.ContainerTitle[0]
	}

	if len(w.Author) > 0 {
		rec.Authors = make([]string, 0, len(w.Author))
		for _, a := range w.Author {
			if name := authorName(a); name != "" {
				rec.Authors = append(rec.Authors, name)
			}
		}
	}

	rec.DateParts = w.Issued.Parts()
	if len(rec.DateParts) == 0 {
		rec.DateParts = w.Published.Parts()
	}

	return rec
}

// authorName renders one contributor as a display name. Organizational
// contributors carry only Name; personal ones carry Given and Family.
func authorName(a Author) string {
	if a.Name != "" {
		return a.Name
	}
	return strings.TrimSpace(strings.TrimSpace(a.Given) + " " + strings.TrimSpace(a.Family))
}
