package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"synthv/pkg/tracker"
	"synthv/pkg/version"
)

var (
	defaultUserAgent = fmt.Sprintf("synthv/%s", version.Version)
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: status %d", e.Code)
}

// Response is a fully read HTTP response body.
type Response struct {
	Body        []byte
	ContentType string
}

// Client handles HTTP requests with per-provider queuing and tracking.
type Client struct {
	httpClient *http.Client
	tracker    *tracker.Tracker

	// Queues per provider (domain)
	queues map[string]chan job
	mu     sync.Mutex // Protects queues map
}

// job represents a queued request.
type job struct {
	req      *http.Request
	headers  map[string]string
	respChan chan jobResult
}

type jobResult struct {
	resp *Response
	err  error
}

// New creates a new Client. timeout bounds a whole request including the body read.
func New(t *tracker.Tracker, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		tracker:    t,
		queues:     make(map[string]chan job),
	}
}

// Get performs a GET request through the provider's queue.
func (c *Client) Get(ctx context.Context, u string) (*Response, error) {
	return c.GetWithHeaders(ctx, u, nil)
}

// GetWithHeaders performs a GET request with custom headers.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string) (*Response, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("invalid url: unsupported scheme %q", parsedURL.Scheme)
	}
	provider := NormalizeProvider(parsedURL.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	j := job{req: req, headers: headers, respChan: respChan}

	c.dispatch(provider, j)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.resp, res.err
	}
}

// NormalizeProvider groups hosts into the provider names used for queues and stats.
func NormalizeProvider(host string) string {
	h := strings.ToLower(host)
	for _, suffix := range googleHosts {
		if h == suffix || strings.HasSuffix(h, "."+suffix) {
			return "gemini"
		}
	}
	return host
}

// googleHosts serve both the API and the signed download URLs for generated media.
var googleHosts = []string{"googleapis.com", "googleusercontent.com"}

// dispatch sends the job to the provider's queue, creating the queue/worker if needed.
func (c *Client) dispatch(provider string, j job) {
	c.mu.Lock()
	q, ok := c.queues[provider]
	if !ok {
		q = make(chan job, 100)
		c.queues[provider] = q
		go c.worker(provider, q)
	}
	c.mu.Unlock()

	// Blocks while the queue is full, throttling the caller
	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker processes requests for a specific provider sequentially.
func (c *Client) worker(provider string, q <-chan job) {
	for j := range q {
		if j.req.Context().Err() != nil {
			slog.Warn("Job dropped from queue (context expired)", "provider", provider, "error", j.req.Context().Err())
			j.respChan <- jobResult{err: j.req.Context().Err()}
			continue
		}

		uaMatch := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				uaMatch = true
			}
		}
		if !uaMatch {
			j.req.Header.Set("User-Agent", defaultUserAgent)
		}

		resp, err := c.execute(j.req)
		if err == nil {
			c.tracker.TrackAPISuccess(provider)
			c.tracker.TrackBytes(provider, len(resp.Body))
		} else {
			c.tracker.TrackAPIFailure(provider)
		}

		j.respChan <- jobResult{resp: resp, err: err}
	}
}

// execute performs a single attempt. Failures are reported, never retried.
func (c *Client) execute(req *http.Request) (*Response, error) {
	slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, fmt.Errorf("request failed: %w", redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, URL: redactURL(req.URL)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	return &Response{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

// redact strips the query string from url errors so credentials never reach logs.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.URL != "" {
		if u, perr := url.Parse(ue.URL); perr == nil {
			return &url.Error{Op: ue.Op, URL: redactURL(u), Err: ue.Err}
		}
	}
	return err
}

func redactURL(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	return c.String()
}
