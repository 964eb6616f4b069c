package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"feedkeeper.app/internal/config"
	"feedkeeper.app/internal/logging"
)

func newLimitHosts(connections int) *limitHosts {
	return &limitHosts{
		connections: connections,
		burst:       1,
		servers:     map[string]*weightedRefs{},
		limiters:    map[string]*rate.Limiter{},
	}
}

// limitHosts limits concurrent connections and, optionally, the request rate
// per hostname.
type limitHosts struct {
	connections int
	rateLimit   float64
	burst       int
	overrides   map[string]config.HostLimit

	mu       sync.Mutex
	servers  map[string]*weightedRefs
	limiters map[string]*rate.Limiter
}

type weightedRefs struct {
	*semaphore.Weighted
	refs int
}

func (self *limitHosts) limits(hostname string) (int, float64, int) {
	connections, perSecond, burst := self.connections, self.rateLimit,
		self.burst
	if l, ok := self.override(hostname); ok {
		if l.Connections > 0 {
			connections = l.Connections
		}
		if l.RateLimit > 0 {
			perSecond = l.RateLimit
		}
		if l.Burst > 0 {
			burst = l.Burst
		}
	}
	return connections, perSecond, burst
}

// override returns limits configured for hostname or its nearest parent
// domain.
func (self *limitHosts) override(hostname string) (config.HostLimit, bool) {
	for hostname != "" {
		if l, ok := self.overrides[hostname]; ok {
			return l, true
		}
		_, hostname, _ = strings.Cut(hostname, ".")
	}
	return config.HostLimit{}, false
}

// Acquire waits for a free connection slot of hostname and for its rate
// limiter. Every successful Acquire must be followed by Release.
func (self *limitHosts) Acquire(ctx context.Context, hostname string) error {
	connections, perSecond, burst := self.limits(hostname)

	self.mu.Lock()
	s := self.servers[hostname]
	if s == nil {
		s = &weightedRefs{Weighted: semaphore.NewWeighted(int64(connections))}
		self.servers[hostname] = s
	}
	s.refs++

	// Limiters outlive semaphores, otherwise an idle moment would reset the
	// rate.
	limiter := self.limiters[hostname]
	if limiter == nil && perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		self.limiters[hostname] = limiter
	}
	self.mu.Unlock()

	log := logging.FromContext(ctx).With(slog.String("hostname", hostname))
	if !s.TryAcquire(1) {
		log.Debug("max connections limit reached",
			slog.Int("connections", connections))
		if err := s.Acquire(ctx, 1); err != nil {
			self.unref(hostname)
			return fmt.Errorf(
				"reader/fetcher: acquire connection for host %q: %w", hostname, err)
		}
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			self.Release(hostname)
			return fmt.Errorf("reader/fetcher: rate limit of host %q: %w",
				hostname, err)
		}
	}
	return nil
}

func (self *limitHosts) Release(hostname string) {
	s := self.unref(hostname)
	s.Release(1)
}

func (self *limitHosts) unref(hostname string) *weightedRefs {
	self.mu.Lock()
	defer self.mu.Unlock()
	s := self.servers[hostname]
	s.refs--
	if s.refs == 0 {
		delete(self.servers, hostname)
	}
	return s
}

// inUse returns the number of goroutines holding or waiting for a connection
// of hostname.
func (self *limitHosts) inUse(hostname string) int {
	self.mu.Lock()
	defer self.mu.Unlock()
	if s := self.servers[hostname]; s != nil {
		return s.refs
	}
	return 0
}
