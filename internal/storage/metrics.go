package storage

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"feedkeeper.app/internal/model"
)

const metricsNamespace = "feedkeeper"

var (
	poolAcquireCountGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "pgx_acquire_count",
		Help:      "The cumulative count of successful acquires from the pool",
	})

	poolAcquiredConnsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "pgx_acquired_conns",
		Help:      "The number of currently acquired connections in the pool",
	})

	poolEmptyAcquireCountGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "pgx_empty_acquire_count",
		Help:      "The cumulative count of successful acquires from the pool that waited for a resource to be released or constructed because the pool was empty",
	})

	poolIdleConnsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "pgx_idle_conns",
		Help:      "The number of currently idle conns in the pool",
	})

	poolTotalConnsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "pgx_total_conns",
		Help:      "The total number of resources currently in the pool",
	})

	jobsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "jobs",
		Help:      "Number of queued jobs by status",
	}, []string{"status"})

	feedsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "feeds",
		Help:      "Number of feeds by favicon resolution",
	}, []string{"favicon"})

	entriesGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "entries",
		Help:      "Number of entries by status",
	}, []string{"status"})
)

// RegisterMetrics registers the storage collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		poolAcquireCountGauge,
		poolAcquiredConnsGauge,
		poolEmptyAcquireCountGauge,
		poolIdleConnsGauge,
		poolTotalConnsGauge,
		jobsGauge,
		feedsGauge,
		entriesGauge)
}

// Metrics refreshes the pool gauges, and the row counts too if fromDB.
func (s *Storage) Metrics(ctx context.Context, fromDB bool) error {
	if fromDB {
		if err := s.metricsFromDB(ctx); err != nil {
			return err
		}
	}

	stat := s.db.Stat()
	poolAcquireCountGauge.Set(float64(stat.AcquireCount()))
	poolAcquiredConnsGauge.Set(float64(stat.AcquiredConns()))
	poolEmptyAcquireCountGauge.Set(float64(stat.EmptyAcquireCount()))
	poolIdleConnsGauge.Set(float64(stat.IdleConns()))
	poolTotalConnsGauge.Set(float64(stat.TotalConns()))
	return nil
}

func (s *Storage) metricsFromDB(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.updateJobsGauge(ctx) })
	g.Go(func() error { return s.updateFeedsGauge(ctx) })

	if err := s.updateEntriesGauge(ctx); err != nil {
		_ = g.Wait()
		return err
	}
	return g.Wait() //nolint:wrapcheck // already wrapped
}

func (s *Storage) updateJobsGauge(ctx context.Context) error {
	stats, err := s.JobStats(ctx)
	if err != nil {
		return err
	}
	jobsGauge.WithLabelValues(string(model.JobStatusPending)).
		Set(float64(stats.Pending))
	jobsGauge.WithLabelValues(string(model.JobStatusFailed)).
		Set(float64(stats.Failed))
	return nil
}

func (s *Storage) updateFeedsGauge(ctx context.Context) error {
	counts, err := s.CountFeedsByFavicon(ctx)
	if err != nil {
		return err
	}
	for state, count := range counts {
		feedsGauge.WithLabelValues(state.String()).Set(float64(count))
	}
	return nil
}

func (s *Storage) updateEntriesGauge(ctx context.Context) error {
	counts, err := s.CountAllEntries(ctx)
	if err != nil {
		return err
	}
	for status, count := range counts {
		entriesGauge.WithLabelValues(status).Set(float64(count))
	}
	return nil
}
