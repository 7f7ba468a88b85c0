package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubChecker struct {
	name string
	err  error
	hits int
}

func (c *stubChecker) Name() string { return c.name }

func (c *stubChecker) Check(context.Context) error {
	c.hits++
	return c.err
}

func TestReadyAllHealthy(t *testing.T) {
	p := NewProbeRunner(time.Second, 0, &stubChecker{name: "a"}, &stubChecker{name: "b"})
	ok, results := p.Ready(context.Background())
	if !ok {
		t.Fatal("expected ready")
	}
	if len(results) != 2 {
		t.Fatalf("results=%d want 2", len(results))
	}
	for _, r := range results {
		if !r.Healthy || r.Error != "" {
			t.Fatalf("unexpected result %+v", r)
		}
	}
}

func TestReadyReportsFailingDependency(t *testing.T) {
	p := NewProbeRunner(time.Second, 0,
		&stubChecker{name: "db"},
		&stubChecker{name: "redis", err: errors.New("connection refused")},
	)
	ok, results := p.Ready(context.Background())
	if ok {
		t.Fatal("expected not ready")
	}
	found := false
	for _, r := range results {
		if r.Name == "redis" {
			found = true
			if r.Healthy || r.Error == "" {
				t.Fatalf("unexpected redis result %+v", r)
			}
		}
	}
	if !found {
		t.Fatal("missing redis result")
	}
}

func TestReadyCachesVerdict(t *testing.T) {
	c := &stubChecker{name: "db"}
	p := NewProbeRunner(time.Second, time.Minute, c)

	p.Ready(context.Background())
	p.Ready(context.Background())
	if c.hits != 1 {
		t.Fatalf("hits=%d want 1, the second probe must be served from cache", c.hits)
	}
}
