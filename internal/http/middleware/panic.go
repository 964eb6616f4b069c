package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"runtime/debug"

	"feedkeeper.app/internal/logging"
)

// WithPanic turns a panic of next into a 500 response. http.ErrAbortHandler
// is re-raised.
func WithPanic(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			//nolint:errorlint // we are checking exactly ErrAbortHandler
			if err == http.ErrAbortHandler {
				panic(err)
			}
			logPanic(r, err)
			http.Error(w, http.StatusText(http.StatusInternalServerError),
				http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func logPanic(r *http.Request, err any) {
	log := logging.FromContext(r.Context())
	log.Error("request aborted with panic", slog.Any("reason", err),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path))

	for line := range bytes.Lines(debug.Stack()) {
		line = bytes.Replace(line, []byte("\t"), []byte("  "), 1)
		line = bytes.TrimRight(line, "\n")
		log.Debug("panic: " + string(line))
	}
}
