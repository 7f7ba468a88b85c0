package health

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Checker is one readiness dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// ProbeRunner fans readiness checks out with a per-check timeout and caches
// the verdict briefly so probe storms do not hammer the dependencies.
type ProbeRunner struct {
	timeout  time.Duration
	cacheTTL time.Duration
	checkers []Checker

	mu       sync.Mutex
	cachedAt time.Time
	cachedOK bool
	cached   []CheckResult
}

func NewProbeRunner(timeout, cacheTTL time.Duration, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &ProbeRunner{timeout: timeout, cacheTTL: cacheTTL, checkers: checkers}
}

func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	p.mu.Lock()
	if p.cacheTTL > 0 && time.Since(p.cachedAt) < p.cacheTTL && p.cached != nil {
		ok, results := p.cachedOK, p.cached
		p.mu.Unlock()
		return ok, results
	}
	p.mu.Unlock()

	results := make([]CheckResult, len(p.checkers))
	var wg sync.WaitGroup
	for i, c := range p.checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			res := CheckResult{Name: c.Name(), Healthy: true}
			if err := c.Check(cctx); err != nil {
				res.Healthy = false
				res.Error = err.Error()
			}
			results[i] = res
		}(i, c)
	}
	wg.Wait()

	ok := true
	for _, r := range results {
		if !r.Healthy {
			ok = false
			break
		}
	}

	p.mu.Lock()
	p.cachedAt = time.Now()
	p.cachedOK = ok
	p.cached = results
	p.mu.Unlock()
	return ok, results
}

type GormChecker struct{ db *gorm.DB }

func NewGormChecker(db *gorm.DB) *GormChecker { return &GormChecker{db: db} }

func (c *GormChecker) Name() string { return "database" }

func (c *GormChecker) Check(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type RedisChecker struct{ client redis.UniversalClient }

func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
