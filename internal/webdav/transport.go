package webdav

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"
)

// doRetry executes method against path with the given Depth header and
// body, retrying transient failures with exponential backoff. On
// success the caller must close the returned response body.
func (c *Client) doRetry(ctx context.Context, method, path, depth string, body io.Reader) (*http.Response, error) {
	var headers http.Header
	if depth != "" {
		headers = http.Header{"Depth": []string{depth}}
	}

	return c.doRetryHeaders(ctx, method, path, body, headers)
}

func (c *Client) doRetryHeaders(ctx context.Context, method, path string, body io.Reader, extraHeaders http.Header) (*http.Response, error) {
	var attempt int

	for {
		resp, err := c.doOnce(ctx, method, path, body, extraHeaders)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &Error{Op: method, Path: path, Err: fmt.Errorf("%w: %v", ErrNetworkError, ctx.Err())}
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("webdav: retrying after network error",
					slog.String("method", method), slog.String("path", path),
					slog.Int("attempt", attempt+1), slog.Duration("backoff", backoff))

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, &Error{Op: method, Path: path, Err: fmt.Errorf("%w: %v", ErrNetworkError, sleepErr)}
				}

				attempt++

				continue
			}

			return nil, &Error{Op: method, Path: path, Err: fmt.Errorf("%w: %v", ErrNetworkError, err)}
		}

		if isSuccess(resp.StatusCode) {
			return resp, nil
		}

		if isRetryableStatus(resp.StatusCode) && attempt < maxRetries {
			resp.Body.Close()

			backoff := c.calcBackoff(attempt)
			c.logger.Warn("webdav: retrying after HTTP error",
				slog.String("method", method), slog.String("path", path),
				slog.Int("status", resp.StatusCode), slog.Int("attempt", attempt+1))

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, &Error{Op: method, Path: path, Err: fmt.Errorf("%w: %v", ErrNetworkError, sleepErr)}
			}

			attempt++

			continue
		}

		defer resp.Body.Close()

		return nil, &Error{Op: method, Path: path, Status: resp.StatusCode, Err: classifyStatus(resp.StatusCode)}
	}
}

// doRetryAllow404 behaves like doRetryHeaders but returns (nil, nil) for a
// 404 response instead of an error, for operations where 404 is success
// or a valid negative answer (DELETE, HEAD).
func (c *Client) doRetryAllow404(ctx context.Context, method, path string) (*http.Response, error) {
	resp, err := c.doRetryHeaders(ctx, method, path, nil, nil)
	if wdErr, ok := err.(*Error); ok && wdErr.Status == http.StatusNotFound {
		return nil, nil
	}

	return resp, err
}

func (c *Client) doUpload(ctx context.Context, path string, body io.Reader, size int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "PUT", c.url(path), body)
	if err != nil {
		return nil, &Error{Op: "PUT", Path: path, Err: err}
	}

	req.ContentLength = size
	c.setCommonHeaders(req)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: "PUT", Path: path, Err: fmt.Errorf("%w: %v", ErrNetworkError, err)}
	}

	if isSuccess(resp.StatusCode) {
		return resp, nil
	}

	defer resp.Body.Close()

	return nil, &Error{Op: "PUT", Path: path, Status: resp.StatusCode, Err: classifyStatus(resp.StatusCode)}
}

func (c *Client) doOnce(ctx context.Context, method, path string, body io.Reader, extraHeaders http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, err
	}

	c.setCommonHeaders(req)

	if method == "PROPFIND" {
		req.Header.Set("Content-Type", "application/xml")
	}

	for k, vals := range extraHeaders {
		for _, v := range vals {
			req.Header.Set(k, v)
		}
	}

	c.logger.Debug("webdav: request", slog.String("method", method), slog.String("path", path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("webdav: response",
		slog.String("method", method), slog.String("path", path), slog.Int("status", resp.StatusCode))

	return resp, nil
}

func (c *Client) setCommonHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1)
	backoff += jitter

	return time.Duration(backoff)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
