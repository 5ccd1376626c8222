package webdav

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for WebDAV response classification. Use
// errors.Is(err, webdav.ErrNotFound) to check.
var (
	ErrAuthenticationFailed = errors.New("webdav: authentication failed")
	ErrNotFound             = errors.New("webdav: not found")
	ErrServerError          = errors.New("webdav: server error")
	ErrQuotaExceeded        = errors.New("webdav: quota exceeded")
	ErrNetworkError         = errors.New("webdav: network error")
	ErrParseError           = errors.New("webdav: parse error")
)

// Error wraps a WebDAV operation failure with the HTTP method, path,
// and status code that produced it.
type Error struct {
	Op     string
	Path   string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("webdav: %s %s: HTTP %d: %v", e.Op, e.Path, e.Status, e.Err)
	}

	return fmt.Sprintf("webdav: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error: 401 is
// AuthenticationFailed, 404 is NotFound, 507 is QuotaExceeded, and any
// other non-success maps to ServerError. Returns nil for success codes.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusOK, code == http.StatusCreated, code == http.StatusNoContent, code == http.StatusMultiStatus:
		return nil
	case code == http.StatusUnauthorized:
		return ErrAuthenticationFailed
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusInsufficientStorage:
		return ErrQuotaExceeded
	default:
		return ErrServerError
	}
}

// isSuccess reports whether status is a success code: 200, 201, 204,
// or 207.
func isSuccess(status int) bool {
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusMultiStatus:
		return true
	default:
		return false
	}
}
