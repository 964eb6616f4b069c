package storage

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

type ctxTraceStat struct{}

var traceStatKey ctxTraceStat = struct{}{}

// TraceStat accumulates the number of queries and the time spent in them by
// everything sharing one context.
type TraceStat struct {
	queries atomic.Int64
	elapsed atomic.Int64
}

func (self *TraceStat) incQuery(d time.Duration) {
	self.queries.Add(1)
	if d != 0 {
		self.elapsed.Add(d.Nanoseconds())
	}
}

func (self *TraceStat) Queries() int64 { return self.queries.Load() }

func (self *TraceStat) Elapsed() time.Duration {
	return time.Duration(self.elapsed.Load())
}

func (self *TraceStat) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("queries", self.Queries()),
		slog.Duration("elapsed", self.Elapsed()))
}

// WithTraceStat returns a context where queries are counted into the
// returned TraceStat.
func WithTraceStat(ctx context.Context) (context.Context, *TraceStat) {
	t := new(TraceStat)
	return context.WithValue(ctx, traceStatKey, t), t
}

func TraceStatFrom(ctx context.Context) *TraceStat {
	if s, ok := ctx.Value(traceStatKey).(*TraceStat); ok {
		return s
	}
	return nil
}

type ctxTraceQueryData struct{}

var traceQueryDataKey ctxTraceQueryData = struct{}{}

type traceQueryData struct {
	batch     bool
	startTime time.Time
}

type queryTracer struct{}

var (
	_ pgx.BatchTracer = (*queryTracer)(nil)
	_ pgx.QueryTracer = (*queryTracer)(nil)
)

func (self queryTracer) TraceBatchStart(ctx context.Context, conn *pgx.Conn,
	data pgx.TraceBatchStartData,
) context.Context {
	return context.WithValue(ctx, traceQueryDataKey, &traceQueryData{
		batch:     true,
		startTime: time.Now(),
	})
}

func (self queryTracer) TraceBatchQuery(ctx context.Context, conn *pgx.Conn,
	data pgx.TraceBatchQueryData) {
}

func (self queryTracer) TraceBatchEnd(ctx context.Context, conn *pgx.Conn,
	data pgx.TraceBatchEndData,
) {
	t := TraceStatFrom(ctx)
	if t == nil {
		return
	}

	if queryData, ok := ctx.Value(traceQueryDataKey).(*traceQueryData); ok {
		t.incQuery(time.Since(queryData.startTime))
	}
}

func (self queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	if queryData, ok := ctx.Value(traceQueryDataKey).(*traceQueryData); ok &&
		queryData.batch {
		return ctx
	}
	return context.WithValue(ctx, traceQueryDataKey, &traceQueryData{
		startTime: time.Now(),
	})
}

func (self queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	t := TraceStatFrom(ctx)
	if t == nil {
		return
	}

	queryData, ok := ctx.Value(traceQueryDataKey).(*traceQueryData)
	switch {
	case !ok:
		t.incQuery(0)
	case queryData.batch:
		// counted once by TraceBatchEnd
	default:
		t.incQuery(time.Since(queryData.startTime))
	}
}
