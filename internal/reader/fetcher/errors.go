package fetcher

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"
)

var (
	ErrNotModified      = errors.New("reader/fetcher: not modified")
	ErrEmptyBody        = errors.New("reader/fetcher: empty response body")
	ErrResponseTooLarge = errors.New("reader/fetcher: response body too large")
	ErrInvalidURL       = errors.New("reader/fetcher: invalid URL")
)

// StatusError is a response with status code >= 400.
type StatusError struct {
	Code       int
	Status     string
	URL        string
	RetryAfter time.Duration
}

var _ error = (*StatusError)(nil)

func (self *StatusError) Error() string {
	s := fmt.Sprintf("reader/fetcher: unexpected status code from %q: %d %s",
		self.URL, self.Code, self.Status)
	if self.RetryAfter > 0 {
		s += fmt.Sprintf(", retry in %s", self.RetryAfter)
	}
	return s
}

// Temporary reports whether a later request may succeed: server errors,
// timeouts and rate limiting.
func (self *StatusError) Temporary() bool {
	switch self.Code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return self.Code >= 500
}

// NotFound reports whether the resource definitely doesn't exist.
func (self *StatusError) NotFound() bool {
	return self.Code == http.StatusNotFound || self.Code == http.StatusGone
}

// IsPermanent reports whether err won't go away by retrying the same request:
// a client error other than 408 and 429, an invalid URL, or a body over the
// size limit. Network and TLS errors are never permanent.
func IsPermanent(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return !statusErr.Temporary()
	}
	return errors.Is(err, ErrInvalidURL) || errors.Is(err, ErrResponseTooLarge)
}

// IsNotFound reports whether err is a 404 or 410 response.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.NotFound()
}

// ErrorKind names the class of a fetch error, for logs and metrics.
func ErrorKind(err error) string {
	var statusErr *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotModified):
		return "not_modified"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("%dxx", statusErr.Code/100)
	case errors.Is(err, context.Canceled):
		return "canceled"
	case sslError(err):
		return "tls"
	case os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case networkError(err):
		return "network"
	}
	return "error"
}

func networkError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func sslError(err error) bool {
	var certErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) {
		return true
	}

	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return true
	}

	var certInvalidErr x509.CertificateInvalidError
	return errors.As(err, &certInvalidErr)
}
