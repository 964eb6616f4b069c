package middleware

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"feedkeeper.app/internal/http/mux"
	"feedkeeper.app/internal/logging"
	"feedkeeper.app/internal/storage"
)

// WithAccessLog logs every request. Requests for paths starting with one of
// quietPrefixes are logged at debug level.
func WithAccessLog(quietPrefixes ...string) mux.MiddlewareFunc {
	fn := func(next http.Handler) http.Handler {
		return &AccessLog{quiet: quietPrefixes, next: next}
	}
	return fn
}

type AccessLog struct {
	quiet []string
	next  http.Handler
}

func (self *AccessLog) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, traceStat := storage.WithTraceStat(r.Context())

	sw := newStatusResponseWriter(w)
	startTime := time.Now()
	self.next.ServeHTTP(sw, r.WithContext(ctx))

	log := logging.FromContext(ctx).With(
		slog.String("client_ip", ClientIP(r)),
		slog.String("proto", r.Proto))

	if traceStat.Queries() > 0 {
		log = log.With(slog.Any("storage", traceStat))
	}

	methodURL := r.Method + " " + r.URL.RequestURI()
	log.LogAttrs(ctx, self.level(r), methodURL,
		slog.Int("status_code", sw.StatusCode()),
		slog.Int("size", sw.Size()),
		slog.Duration("request_time", time.Since(startTime)))
}

func (self *AccessLog) level(r *http.Request) slog.Level {
	for _, prefix := range self.quiet {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return slog.LevelDebug
		}
	}
	return slog.LevelInfo
}

// ClientIP returns the address of the remote peer without port and zone.
// It's empty for unix socket connections.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	ip, _, _ = strings.Cut(ip, "%")
	if ip == "@" {
		return ""
	}
	return ip
}

func newStatusResponseWriter(w http.ResponseWriter) *statusResponseWriter {
	return &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

type statusResponseWriter struct {
	http.ResponseWriter

	statusCode    int
	headerWritten bool
	size          int
}

var (
	_ io.ReaderFrom       = (*statusResponseWriter)(nil)
	_ http.ResponseWriter = (*statusResponseWriter)(nil)
)

func (self *statusResponseWriter) StatusCode() int { return self.statusCode }
func (self *statusResponseWriter) Size() int       { return self.size }

func (self *statusResponseWriter) WriteHeader(statusCode int) {
	self.ResponseWriter.WriteHeader(statusCode)
	if !self.headerWritten {
		self.statusCode = statusCode
		self.headerWritten = true
	}
}

func (self *statusResponseWriter) Write(b []byte) (n int, err error) {
	self.headerWritten = true
	n, err = self.ResponseWriter.Write(b)
	self.size += n
	return n, err //nolint:wrapcheck // return as is
}

func (self *statusResponseWriter) Unwrap() http.ResponseWriter {
	return self.ResponseWriter
}

func (self *statusResponseWriter) ReadFrom(r io.Reader) (n int64, err error) {
	self.headerWritten = true
	switch v := self.ResponseWriter.(type) {
	case io.ReaderFrom:
		n, err = v.ReadFrom(r)
	default:
		n, err = io.Copy(self.ResponseWriter, r)
	}
	self.size += int(n)
	return n, err //nolint:wrapcheck // return as is
}
