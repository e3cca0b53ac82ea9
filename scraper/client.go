// Package scraper talks to the marketplace REST API: site and category
// resolution, category bounds, search pages and question activity.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/meli-harvester/config"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

// Endpoint labels used for metrics and logs.
const (
	endpointSites      = "sites"
	endpointCategories = "categories"
	endpointCategory   = "category"
	endpointSearch     = "search"
	endpointQuestions  = "questions"
)

// Client issues JSON GET requests through a shared colly collector. Every
// request runs on a clone of the collector, so clones share the transport and
// the in-flight limit while keeping their callbacks private.
type Client struct {
	cfg       *config.Config
	baseURL   *url.URL
	collector *colly.Collector
	limiter   *rate.Limiter
	Metrics   *Metrics
}

// NewClient builds an API client configured from cfg.
func NewClient(cfg *config.Config) (*Client, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	// error statuses reach OnResponse so their bodies can be logged
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.Parallelism,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	return &Client{
		cfg:       cfg,
		baseURL:   parsed,
		collector: collector,
		limiter:   newLimiter(cfg.RequestsPerSecond),
		Metrics:   NewMetrics(),
	}, nil
}

// WithTransport replaces the HTTP transport used by every request.
func (c *Client) WithTransport(rt http.RoundTripper) {
	c.collector.WithTransport(rt)
}

// newLimiter returns a token bucket of perSecond tokens; zero disables it.
func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(math.Ceil(perSecond))
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// getJSON issues a GET against path and decodes the body into v.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, v any) error {
	body, err := c.get(ctx, endpoint, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		c.Metrics.IncError("decode")
		return ErrDecode{Err: err}
	}
	return nil
}

// get issues a GET with retries. Timeouts, connection failures, 429 and 5xx
// responses are retried with capped exponential backoff; other failures are
// returned immediately.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values) ([]byte, error) {
	target := c.endpointURL(path, query)

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			c.Metrics.IncRetries()
			if err := sleepContext(ctx, c.backoff(attempt)); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.do(endpoint, target)
		if err == nil {
			return body, nil
		}

		label := errorTypeLabel(err)
		c.Metrics.IncError(label)
		lastErr = err
		if !retryable(err) || attempt >= c.cfg.MaxRetries {
			break
		}
		slog.Debug("retrying request",
			slog.String("endpoint", endpoint),
			slog.String("url", target),
			slog.Int("attempt", attempt+1),
			slog.String("category", label),
		)
	}
	return nil, lastErr
}

// do performs a single request on a fresh clone of the collector.
func (c *Client) do(endpoint, target string) ([]byte, error) {
	collector := c.collector.Clone()

	var (
		status int
		body   []byte
		reqErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		reqErr = err
	})

	c.Metrics.IncRequest(endpoint)
	start := time.Now()
	err := collector.Request(http.MethodGet, target, nil, nil, c.header())
	c.Metrics.ObserveDuration(endpoint, time.Since(start))
	if err == nil {
		err = reqErr
	}
	if err != nil {
		return nil, classifyError(err, status)
	}
	if status >= http.StatusBadRequest {
		slog.Debug("non-2xx response",
			slog.Int("status", status),
			slog.String("url", target),
			slog.String("body", truncate(string(body), 256)),
		)
		return nil, classifyError(fmt.Errorf("GET %s: %s", target, http.StatusText(status)), status)
	}
	return body, nil
}

// header builds a fresh header per request because the cookie jar mutates it.
func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("User-Agent", c.cfg.UserAgent)
	h.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	return h
}

func (c *Client) endpointURL(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(c.baseURL.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := c.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	limit := c.cfg.RetryBackoffMax
	if limit <= 0 {
		limit = time.Duration(math.MaxInt64)
	}
	delay := base
	for i := 1; i < attempt && delay < limit; i++ {
		if delay > limit/2 {
			delay = limit
			break
		}
		delay *= 2
	}
	return min(delay, limit)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
