// Package webdav implements the WebDAV Adapter: a typed interface
// over PROPFIND/PUT/GET/MKCOL/DELETE/MOVE/COPY/HEAD so the sync engine
// never constructs or parses XML itself.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Retry tuning: exponential backoff with jitter, bounded retries.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:displayname/>
    <D:getcontentlength/>
    <D:getlastmodified/>
    <D:getetag/>
    <D:getcontenttype/>
    <D:resourcetype/>
    <D:quota-available-bytes/>
    <D:quota-used-bytes/>
  </D:prop>
</D:propfind>`

// Client is a typed WebDAV client.
type Client struct {
	baseURL    string
	username   string
	token      string
	basePath   string
	httpClient *http.Client
	logger     *slog.Logger
	sleepFunc  func(ctx context.Context, d time.Duration) error
}

// New creates a Client against serverURL, authenticating with a bearer
// token (Authorization: Bearer <token>). httpClient carries every request
// the Client makes, metadata (PROPFIND/MKCOL/DELETE/MOVE/COPY/HEAD) and
// transfers (PUT/GET) alike, and governs connection pooling and timeouts;
// the Client applies no timeout of its own beyond ctx.
func New(serverURL, username, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	base := strings.TrimSuffix(serverURL, "/")

	return &Client{
		baseURL:    base,
		username:   username,
		token:      token,
		basePath:   pathOf(base),
		httpClient: httpClient,
		logger:     logger,
		sleepFunc:  sleepCtx,
	}
}

func pathOf(rawURL string) string {
	const schemeSep = "://"

	idx := strings.Index(rawURL, schemeSep)
	if idx < 0 {
		return ""
	}

	rest := rawURL[idx+len(schemeSep):]

	slash := strings.Index(rest, "/")
	if slash < 0 {
		return ""
	}

	return rest[slash:]
}

func (c *Client) url(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return c.baseURL + path
}

// ListDirectory lists the immediate children of path via PROPFIND
// Depth:1.
func (c *Client) ListDirectory(ctx context.Context, path string) ([]RemoteItem, error) {
	resp, err := c.doRetry(ctx, "PROPFIND", path, "1", strings.NewReader(propfindBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	items, err := parseMultistatus(resp.Body, c.basePath)
	if err != nil {
		return nil, &Error{Op: "PROPFIND", Path: path, Err: err}
	}

	// The server includes the collection itself as the first <response>;
	// callers asked for children only.
	out := items[:0:0]

	for _, it := range items {
		if it.Path != normalizePath(path) {
			out = append(out, it)
		}
	}

	return out, nil
}

// GetItem fetches metadata for exactly path via PROPFIND Depth:0.
func (c *Client) GetItem(ctx context.Context, path string) (*RemoteItem, error) {
	resp, err := c.doRetry(ctx, "PROPFIND", path, "0", strings.NewReader(propfindBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	items, err := parseMultistatus(resp.Body, c.basePath)
	if err != nil {
		return nil, &Error{Op: "PROPFIND", Path: path, Err: err}
	}

	if len(items) == 0 {
		return nil, &Error{Op: "PROPFIND", Path: path, Status: http.StatusNotFound, Err: ErrNotFound}
	}

	return &items[0], nil
}

// ProgressFunc reports cumulative bytes transferred.
type ProgressFunc func(transferred int64)

// Download fetches remotePath via GET and writes it atomically (temp file
// plus rename) to localPath.
func (c *Client) Download(ctx context.Context, remotePath, localPath string, progress ProgressFunc) error {
	resp, err := c.doRetry(ctx, "GET", remotePath, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tmp := localPath + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return &Error{Op: "GET", Path: remotePath, Err: fmt.Errorf("%w: %v", ErrNetworkError, err)}
	}

	var written int64

	body := io.Reader(resp.Body)
	if progress != nil {
		body = &progressReader{r: resp.Body, onRead: func(n int64) {
			written += n
			progress(written)
		}}
	}

	_, copyErr := io.Copy(f, body)
	closeErr := f.Close()

	if copyErr != nil {
		os.Remove(tmp)
		return &Error{Op: "GET", Path: remotePath, Err: fmt.Errorf("%w: %v", ErrNetworkError, copyErr)}
	}

	if closeErr != nil {
		os.Remove(tmp)
		return &Error{Op: "GET", Path: remotePath, Err: fmt.Errorf("%w: %v", ErrNetworkError, closeErr)}
	}

	if err := os.Rename(tmp, localPath); err != nil {
		os.Remove(tmp)
		return &Error{Op: "GET", Path: remotePath, Err: fmt.Errorf("%w: %v", ErrNetworkError, err)}
	}

	return nil
}

// Upload sends localPath to remotePath via PUT, returning the resulting
// ETag.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string, progress ProgressFunc) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", &Error{Op: "PUT", Path: remotePath, Err: fmt.Errorf("%w: %v", ErrNetworkError, err)}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", &Error{Op: "PUT", Path: remotePath, Err: fmt.Errorf("%w: %v", ErrNetworkError, err)}
	}

	var body io.Reader = f
	if progress != nil {
		var written int64
		body = &progressReader{r: f, onRead: func(n int64) {
			written += n
			progress(written)
		}}
	}

	resp, err := c.doUpload(ctx, remotePath, body, info.Size())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return stripETagQuotes(resp.Header.Get("ETag")), nil
}

// CreateDirectory creates the collection at path, issuing MKCOL for every
// ancestor first, top down, so a nested create never 409s on an absent
// parent. An already-existing collection at any level (405) is not an error,
// which also makes concurrent creates of a shared parent safe.
func (c *Client) CreateDirectory(ctx context.Context, path string) error {
	built := ""

	for _, seg := range strings.Split(strings.Trim(normalizePath(path), "/"), "/") {
		if seg == "" {
			continue
		}

		built += "/" + seg

		if err := c.mkcol(ctx, built); err != nil {
			return err
		}
	}

	return nil
}

// mkcol issues one MKCOL, treating 405 (collection already exists) as
// success.
func (c *Client) mkcol(ctx context.Context, path string) error {
	resp, err := c.doRetry(ctx, "MKCOL", path, "", nil)
	if err != nil {
		var wdErr *Error
		if errors.As(err, &wdErr) && wdErr.Status == http.StatusMethodNotAllowed {
			return nil
		}

		return err
	}

	resp.Body.Close()

	return nil
}

// Delete issues DELETE. A 404 is treated as success.
func (c *Client) Delete(ctx context.Context, path string) error {
	resp, err := c.doRetryAllow404(ctx, "DELETE", path)
	if err != nil {
		return err
	}

	if resp != nil {
		resp.Body.Close()
	}

	return nil
}

// Move issues MOVE with Overwrite:F.
func (c *Client) Move(ctx context.Context, from, to string) error {
	return c.doWithDestination(ctx, "MOVE", from, to)
}

// Copy issues COPY with Overwrite:F.
func (c *Client) Copy(ctx context.Context, from, to string) error {
	return c.doWithDestination(ctx, "COPY", from, to)
}

func (c *Client) doWithDestination(ctx context.Context, method, from, to string) error {
	resp, err := c.doRetryHeaders(ctx, method, from, nil, http.Header{
		"Destination": []string{c.url(to)},
		"Overwrite":   []string{"F"},
	})
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

// Exists issues HEAD.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	resp, err := c.doRetryAllow404(ctx, "HEAD", path)
	if err != nil {
		return false, err
	}

	if resp == nil {
		return false, nil
	}

	resp.Body.Close()

	return true, nil
}

// GetQuota issues PROPFIND on the sync root and extracts the quota
// properties.
func (c *Client) GetQuota(ctx context.Context) (usedBytes, availableBytes int64, err error) {
	resp, err := c.doRetry(ctx, "PROPFIND", "/", "0", strings.NewReader(propfindBody))
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, &Error{Op: "PROPFIND", Path: "/", Err: fmt.Errorf("%w: %v", ErrParseError, err)}
	}

	used, avail := extractQuota(data)

	return used, avail, nil
}

func extractQuota(body []byte) (used, avail int64) {
	used = extractIntElement(body, "quota-used-bytes")
	avail = extractIntElement(body, "quota-available-bytes")

	return used, avail
}

func extractIntElement(body []byte, element string) int64 {
	lower := strings.ToLower(string(body))
	open := "<" + strings.ToLower(element)

	idx := strings.Index(lower, open)
	if idx < 0 {
		return 0
	}

	rest := lower[idx:]

	gt := strings.Index(rest, ">")
	if gt < 0 {
		return 0
	}

	rest = rest[gt+1:]

	end := strings.Index(rest, "<")
	if end < 0 {
		return 0
	}

	n, _ := strconv.ParseInt(strings.TrimSpace(rest[:end]), 10, 64)

	return n
}

type progressReader struct {
	r      io.Reader
	onRead func(n int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.onRead(int64(n))
	}

	return n, err
}

func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	trimmed := strings.TrimSuffix(path, "/")
	if trimmed == "" {
		return "/"
	}

	return trimmed
}
