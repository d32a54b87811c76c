// Package fetcher provides the HTTP client used against the Discourse API:
// sequential GETs with exponential backoff, a JSON-decoding variant, and a
// best-effort robots.txt preflight.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ColtonBarr/chat-langchain/internal/config"
)

// ErrBackoffExhausted marks a request that kept failing until the backoff
// ceiling was reached. The whole run stops on it: silent infinite retry
// against a broken endpoint is worse than failing loud.
var ErrBackoffExhausted = errors.New("backoff exhausted")

// DecodeError reports a response body that was not valid JSON. It is kept
// distinct from transport failures so callers can tell "the server is
// down" from "the server returned something we can't parse".
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unable to decode JSON response from %q: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Client issues GET requests against a single Discourse instance.
type Client struct {
	baseURL string
	cfg     config.FetchConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New constructs a Client for the given base URL.
func New(baseURL string, cfg config.FetchConfig, logger *zap.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        2,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		cfg:     cfg,
		client:  &http.Client{Transport: transport, Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		logger:  logger,
	}
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Get fetches baseURL+path, retrying with exponential backoff on any
// transport-level failure. The sleep starts at backoff_base and doubles
// per failure; once it would reach backoff_max the fetch is abandoned with
// an error wrapping ErrBackoffExhausted.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	url := c.baseURL + path
	c.logger.Debug("http get", zap.String("url", url))

	backoff := c.cfg.BackoffBase
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		body, err := c.do(ctx, url)
		if err == nil {
			return body, nil
		}
		c.logger.Warn("request failed, backing off",
			zap.String("url", url),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff >= c.cfg.BackoffMax {
			return nil, fmt.Errorf("%w: %s (backoff reached %s): %v",
				ErrBackoffExhausted, url, backoff, err)
		}
	}
}

// GetJSON fetches baseURL+path and unmarshals the body into v. A body
// that is not valid JSON yields a *DecodeError.
func (c *Client) GetJSON(ctx context.Context, path string, v any) error {
	body, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		c.logger.Warn("unable to decode JSON response", zap.String("path", path), zap.Error(err))
		return &DecodeError{Path: path, Err: err}
	}
	return nil
}

func (c *Client) do(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// CheckRobots reports whether robots.txt allows this client to fetch the
// given path. An unreachable or unparseable robots.txt counts as allowed.
func (c *Client) CheckRobots(ctx context.Context, path string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/robots.txt", nil)
	if err != nil {
		return true
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		if resp != nil {
			resp.Body.Close()
		}
		return true
	}
	defer resp.Body.Close()

	robots, err := robotstxt.FromResponse(resp)
	if err != nil {
		return true
	}
	return robots.TestAgent(path, c.cfg.UserAgent)
}
