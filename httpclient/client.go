package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arturpaehn/carlynx-sub002/utils"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Safari/605.1.15",
}

// Options configures the client.
type Options struct {
	ProxyURL    string
	MinInterval time.Duration // per host
	MaxRetries  int
	BaseBackoff time.Duration
	Timeout     time.Duration
	Logger      *utils.Logger
}

func (o Options) withDefaults() Options {
	if o.MinInterval == 0 {
		o.MinInterval = 3 * time.Second
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.BaseBackoff == 0 {
		o.BaseBackoff = 2 * time.Second
	}
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = utils.Discard()
	}
	return o
}

// Client wraps http.Client with browser-like headers, per-host pacing and
// retry on 429/503.
type Client struct {
	inner       *http.Client
	logger      *utils.Logger
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	minInterval time.Duration
	maxRetries  int
	baseBackoff time.Duration
}

// New creates a Client with the given options.
func New(opts Options) (*Client, error) {
	opts = opts.withDefaults()

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}

	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("httpclient: invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		inner:       &http.Client{Transport: transport, Timeout: opts.Timeout},
		logger:      opts.Logger,
		limiters:    make(map[string]*rate.Limiter),
		minInterval: opts.MinInterval,
		maxRetries:  opts.MaxRetries,
		baseBackoff: opts.BaseBackoff,
	}, nil
}

// Get fetches rawURL. The caller closes the response body.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: building request: %w", err)
	}
	return c.Do(req)
}

// Do executes the request with header setup, per-host pacing and retry
// with exponential backoff on 429 and 503.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.setHeaders(req)

	backoff := c.baseBackoff
	for attempt := 1; ; attempt++ {
		if err := c.limiter(req.URL.Host).Wait(req.Context()); err != nil {
			return nil, err
		}

		resp, err := c.inner.Do(req)
		if err != nil {
			return nil, fmt.Errorf("httpclient: request failed: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
			return resp, nil
		}
		if attempt >= c.maxRetries {
			return resp, nil
		}

		resp.Body.Close()
		c.logger.Warn("[httpclient] %s returned %d, waiting %v (attempt %d/%d)",
			req.URL.Host, resp.StatusCode, backoff, attempt, c.maxRetries)

		select {
		case <-time.After(backoff):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
		backoff *= 2
	}
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.minInterval), 1)
		c.limiters[host] = l
	}
	return l
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("DNT", "1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}
