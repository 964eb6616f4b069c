package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"feedkeeper.app/internal/logging"
)

type ctxRequestId struct{}

var requestIdKey ctxRequestId = struct{}{}

var nextRequestId atomic.Uint64

// RequestId numbers requests and adds the number to the request logger as
// "rid".
func RequestId(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		id := nextRequestId.Add(1)
		ctx := context.WithValue(r.Context(), requestIdKey, id)
		ctx = logging.With(ctx, slog.Uint64("rid", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	}
	return http.HandlerFunc(fn)
}

// RequestIdFrom returns the number given to the request by RequestId, or 0.
func RequestIdFrom(ctx context.Context) uint64 {
	id, _ := ctx.Value(requestIdKey).(uint64)
	return id
}
