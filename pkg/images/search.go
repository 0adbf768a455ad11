package images

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/context/ctxhttp"
	"golang.org/x/time/rate"
)

const DefaultSearchURL = "https://api.unsplash.com/search/photos/"

// Unsplash allows 50 requests per hour for demo applications.
const (
	DefaultSearchRate  = rate.Limit(50.0 / 3600.0)
	DefaultSearchBurst = 5
)

var ErrMissingAccessKey = errors.New("images: unsplash access key is not configured")

// SearchImage is one search hit. ID is assigned locally so hosts can tell
// results apart even when the same URL is returned twice.
type SearchImage struct {
	ID   uuid.UUID
	URLs ImageURLs
}

type ImageURLs struct {
	Regular string `json:"regular"`
}

type searchResponse struct {
	Results []struct {
		URLs *ImageURLs `json:"urls"`
	} `json:"results"`
}

// SearchClient queries the Unsplash photo search API.
type SearchClient struct {
	url       string
	accessKey string
	client    *http.Client
	limiter   *rate.Limiter
	logger    zerolog.Logger
}

type SearchOption func(*SearchClient)

func WithSearchURL(u string) SearchOption {
	return func(c *SearchClient) { c.url = u }
}

func WithHTTPClient(client *http.Client) SearchOption {
	return func(c *SearchClient) { c.client = client }
}

func WithRateLimit(limit rate.Limit, burst int) SearchOption {
	return func(c *SearchClient) { c.limiter = rate.NewLimiter(limit, burst) }
}

func WithSearchLogger(logger zerolog.Logger) SearchOption {
	return func(c *SearchClient) { c.logger = logger }
}

func NewSearchClient(accessKey string, opts ...SearchOption) *SearchClient {
	c := &SearchClient{
		url:       DefaultSearchURL,
		accessKey: accessKey,
		client:    &http.Client{Timeout: 15 * time.Second},
		limiter:   rate.NewLimiter(DefaultSearchRate, DefaultSearchBurst),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search returns the regular-size URLs for one page of results for query.
func (c *SearchClient) Search(ctx context.Context, query string, page int) ([]SearchImage, error) {
	if strings.TrimSpace(c.accessKey) == "" {
		return nil, ErrMissingAccessKey
	}
	if page < 1 {
		page = 1
	}
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("images: parsing search url: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("query", query)
	u.RawQuery = q.Encode()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("images: waiting for rate limit: %w", err)
	}

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("images: building search request: %w", err)
	}
	req.Header.Set("Authorization", "Client-ID "+c.accessKey)
	req.Header.Set("Accept-Version", "v1")

	resp, err := ctxhttp.Do(ctx, c.client, req)
	if err != nil {
		return nil, fmt.Errorf("images: search request failed: %w", err)
	}
	defer resp.Body.Close() // nolint: errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("images: search returned status %d", resp.StatusCode)
	}

	var payload searchResponse
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("images: decoding search response: %w", err)
	}
	results := make([]SearchImage, 0, len(payload.Results))
	for _, r := range payload.Results {
		if r.URLs == nil || r.URLs.Regular == "" {
			continue
		}
		results = append(results, SearchImage{ID: uuid.New(), URLs: *r.URLs})
	}
	c.logger.Debug().Str("query", query).Int("page", page).Int("results", len(results)).Msg("Image search completed")
	return results, nil
}
