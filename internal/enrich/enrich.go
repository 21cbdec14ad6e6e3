// Package enrich fans out an indicator to intelligence sources and
// aggregates their results into a bundle the triage phase can consume.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultSourceTimeout bounds each source call independently. A slow
// source never delays or fails the others.
const DefaultSourceTimeout = 15 * time.Second

// Source is one intelligence lookup (ownership, geolocation, reputation).
type Source interface {
	Name() string
	Lookup(ctx context.Context, indicator string) (json.RawMessage, error)
}

// SourceResult is the outcome of a single source call. Errors are
// captured as data so triage can see which sources were unavailable.
type SourceResult struct {
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	LatencyMS int64           `json:"latency_ms"`
	OK        bool            `json:"ok"`
}

// Bundle maps source name to its result. Written once by the enrich
// phase, read-only afterward.
type Bundle map[string]SourceResult

// SucceededCount returns how many sources produced a payload.
func (b Bundle) SucceededCount() int {
	n := 0
	for _, r := range b {
		if r.OK {
			n++
		}
	}
	return n
}

// AllFailedError means every configured source failed for an indicator.
// This is the only condition under which the enrich phase itself fails.
type AllFailedError struct {
	Indicator string
}

func (e *AllFailedError) Error() string {
	return fmt.Sprintf("all enrichment sources failed for indicator %q", e.Indicator)
}

// Collector invokes a fixed set of sources concurrently per indicator.
type Collector struct {
	sources []Source
	timeout time.Duration
	logger  log.Logger
	hooks   Hooks
}

// Hooks receives per-source observations (wired to Prometheus by main).
type Hooks struct {
	ObserveSource func(source string, ok bool, dur time.Duration)
}

// NewCollector creates a collector over the given sources. A zero timeout
// falls back to DefaultSourceTimeout.
func NewCollector(sources []Source, timeout time.Duration, logger log.Logger, hooks Hooks) *Collector {
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Collector{
		sources: sources,
		timeout: timeout,
		logger:  logger,
		hooks:   hooks,
	}
}

// Collect runs every source concurrently under an independent timeout and
// joins on all of them. It returns a bundle with one entry per source;
// the error is non-nil only when every source failed.
func (c *Collector) Collect(ctx context.Context, indicator string) (Bundle, error) {
	if len(c.sources) == 0 {
		return nil, &AllFailedError{Indicator: indicator}
	}

	type entry struct {
		name   string
		result SourceResult
	}

	var wg sync.WaitGroup
	results := make(chan entry, len(c.sources))

	for _, src := range c.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()

			sctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			payload, err := src.Lookup(sctx, indicator)
			dur := time.Since(start)

			r := SourceResult{LatencyMS: dur.Milliseconds()}
			if err != nil {
				r.Error = err.Error()
				c.logger.Warn(ctx, "enrichment source failed",
					"source", src.Name(),
					"indicator", indicator,
					"error", err.Error(),
					"latency_ms", r.LatencyMS,
				)
			} else {
				r.Payload = payload
				r.OK = true
			}

			if c.hooks.ObserveSource != nil {
				c.hooks.ObserveSource(src.Name(), r.OK, dur)
			}

			results <- entry{name: src.Name(), result: r}
		}(src)
	}

	wg.Wait()
	close(results)

	bundle := make(Bundle, len(c.sources))
	for e := range results {
		bundle[e.name] = e.result
	}

	if bundle.SucceededCount() == 0 {
		return bundle, &AllFailedError{Indicator: indicator}
	}
	return bundle, nil
}
