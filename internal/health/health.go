// Package health probes the service's dependencies for the /health
// endpoint. Checks run in parallel under a shared timeout so one hung
// dependency cannot stall the probe.
package health

import (
	"context"
	"sync"
	"time"
)

const checkTimeout = 2 * time.Second

// Check reports one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

type entry struct {
	name     string
	check    Check
	critical bool
}

// Checker runs named dependency checks. Critical checks decide whether the
// service can do its job at all (the database); the rest only degrade it
// (Redis, NATS, the remote detector).
type Checker struct {
	mu      sync.Mutex
	entries []entry
}

func NewChecker() *Checker {
	return &Checker{}
}

func (c *Checker) Register(name string, check Check) {
	c.add(name, check, false)
}

func (c *Checker) RegisterCritical(name string, check Check) {
	c.add(name, check, true)
}

func (c *Checker) add(name string, check Check, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry{name: name, check: check, critical: critical})
}

// Report is the /health response body.
type Report struct {
	Status   string            `json:"status"` // ok, degraded or down
	Services map[string]string `json:"services"`
}

// Healthy reports whether every critical dependency passed.
func (r Report) Healthy() bool { return r.Status != "down" }

// Run probes everything and grades the result: ok when every check passed,
// down when a critical one failed, degraded otherwise.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.Lock()
	entries := append([]entry(nil), c.entries...)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	type outcome struct {
		name     string
		critical bool
		err      error
	}
	results := make(chan outcome, len(entries))
	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			results <- outcome{name: e.name, critical: e.critical, err: e.check(ctx)}
		}(e)
	}
	wg.Wait()
	close(results)

	rep := Report{Status: "ok", Services: make(map[string]string, len(entries))}
	for out := range results {
		if out.err == nil {
			rep.Services[out.name] = "ok"
			continue
		}
		rep.Services[out.name] = out.err.Error()
		if out.critical {
			rep.Status = "down"
		} else if rep.Status == "ok" {
			rep.Status = "degraded"
		}
	}
	return rep
}
