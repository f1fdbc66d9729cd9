// Package upstream fetches question pages from the Stack Exchange API.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultBaseURL = "https://api.stackexchange.com/2.3"
	DefaultSite    = "stackoverflow"

	// PageSize is the number of items requested per page.
	PageSize = 100
	// MaxPages caps a single FetchQuestions call, so it never returns more
	// than PageSize*MaxPages items.
	MaxPages = 24

	maxBodySize = 10 * 1024 * 1024
)

// ErrEmptyPage is returned by FetchQuestions when any page comes back with no
// items. Items gathered from earlier pages are discarded.
var ErrEmptyPage = errors.New("upstream returned a page with no items")

// Client talks to the question-search endpoint.
type Client struct {
	BaseURL string
	Site    string
	// Key is an optional app key; it only raises the request quota.
	Key  string
	HTTP *http.Client
	// Logger receives one debug line per requested URL. nil means no logging.
	Logger *log.Logger
}

// NewClient creates a Client. Empty baseURL and site fall back to the public API
// and stackoverflow.
func NewClient(baseURL, site, key string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if site == "" {
		site = DefaultSite
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Site:    site,
		Key:     key,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// PageURL builds the request URL for one page of q.
func (c *Client) PageURL(q Query, page int) string {
	v := url.Values{}
	v.Set("pagesize", strconv.Itoa(PageSize))
	v.Set("site", c.Site)
	v.Set("fromdate", strconv.FormatInt(q.From, 10))
	v.Set("todate", strconv.FormatInt(q.To, 10))
	if q.Tags != "" {
		v.Set("tagged", q.Tags)
	}
	v.Set("page", strconv.Itoa(page))
	if c.Key != "" {
		v.Set("key", c.Key)
	}
	return c.BaseURL + "/questions?" + v.Encode()
}

// FetchPage requests a single page.
func (c *Client) FetchPage(ctx context.Context, q Query, page int) (*Page, error) {
	u := c.PageURL(q, page)
	if c.Logger != nil {
		c.Logger.Debug("fetching page", "page", page, "url", u)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "shortwords")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxBodySize)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		// The body is best effort; a bare status is still an error.
		_ = json.NewDecoder(body).Decode(apiErr)
		return nil, apiErr
	}

	var p Page
	if err := json.NewDecoder(body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode page %d: %w", page, err)
	}
	if c.Logger != nil && p.Backoff > 0 {
		c.Logger.Warn("upstream requested backoff", "seconds", p.Backoff, "quota_remaining", p.QuotaRemaining)
	}
	return &p, nil
}

// FetchQuestions walks pages 1..MaxPages while the API reports more data and
// returns every item seen. Pagination is strictly sequential.
func (c *Client) FetchQuestions(ctx context.Context, q Query) ([]Item, error) {
	var items []Item
	for page := 1; ; page++ {
		p, err := c.FetchPage(ctx, q, page)
		if err != nil {
			return nil, err
		}
		if len(p.Items) == 0 {
			return nil, ErrEmptyPage
		}
		items = append(items, p.Items...)
		if !p.HasMore || page >= MaxPages {
			break
		}
	}
	if c.Logger != nil {
		c.Logger.Info("fetched questions", "count", len(items), "from", q.From, "to", q.To, "tags", q.Tags)
	}
	return items, nil
}
