// Package poller refreshes named device resources on a clock.
//
// Every resource has an in-flight flag: a tick that finds a request still
// running for a resource does nothing for it, so a slow or unreachable device
// never accumulates requests. Failures are never fatal; the resource is
// fetched again on the next tick.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dmxsync/internal/logger"
)

type resource struct {
	Resource

	fetch    FetchFunc
	manual   bool
	enabled  func() bool
	onUpdate func(v interface{})
	onError  func(err error)
	retries  int
	next     string
}

// Scheduler polls registered resources.
type Scheduler struct {
	cfg Config
	log logger.Logger
	now func() time.Time

	mu        sync.Mutex
	resources map[string]*resource
	order     []string
	wg        sync.WaitGroup

	// draining counts fetches of removed records that have not returned yet.
	// A key is not fetched again until they did.
	draining map[string]int
	deferred map[string]bool // deferred marks keys whose start waited on draining
}

// New creates a scheduler with immutable config.
func New(log logger.Logger, cfg Config) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	return &Scheduler{
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		resources: map[string]*resource{},
		draining:  map[string]int{},
		deferred:  map[string]bool{},
	}, nil
}

// Register adds a resource. Registering an existing key replaces it; a fetch
// still running for the old record is discarded when it completes.
func (s *Scheduler) Register(key string, fetch FetchFunc, opts ...Option) {
	r := &resource{Resource: Resource{Key: key}, fetch: fetch}
	for _, opt := range opts {
		opt(r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.resources[key]; ok {
		r.next = old.next
		if old.InFlight {
			s.draining[key]++
		}
	} else {
		s.order = append(s.order, key)
	}
	s.resources[key] = r
}

// Remove deletes a resource. Results of its in-flight fetch are dropped.
func (s *Scheduler) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[key]
	if !ok {
		return
	}
	if r.InFlight {
		s.draining[key]++
	}
	delete(s.resources, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
}

// Chain makes each key start right after the previous one succeeds.
// A failed stage stops the chain for this round.
func (s *Scheduler) Chain(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if _, ok := s.resources[k]; !ok {
			return fmt.Errorf("poller: chain: unknown resource %q", k)
		}
	}
	for i := 0; i+1 < len(keys); i++ {
		s.resources[keys[i]].next = keys[i+1]
	}
	return nil
}

// Snapshot returns a copy of the resource record.
func (s *Scheduler) Snapshot(key string) (Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[key]
	if !ok {
		return Resource{}, false
	}
	return r.Resource, true
}

// Keys lists the registered resources in registration order.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Tick starts a fetch for every due resource that has none in flight.
func (s *Scheduler) Tick(ctx context.Context) {
	type candidate struct {
		key     string
		enabled func() bool
	}

	s.mu.Lock()
	var due []candidate
	for _, k := range s.order {
		r := s.resources[k]
		if r.manual || r.InFlight {
			continue
		}
		due = append(due, candidate{key: k, enabled: r.enabled})
	}
	s.mu.Unlock()

	for _, c := range due {
		if c.enabled != nil && !c.enabled() {
			continue
		}
		s.start(ctx, c.key, 0)
	}
}

// Refresh fetches key now unless a fetch is already in flight.
// It reports whether a fetch was started.
func (s *Scheduler) Refresh(ctx context.Context, key string) bool {
	return s.start(ctx, key, 0)
}

// Run ticks once immediately and then on every interval until ctx is done.
// One goroutine per scheduler. No tick starts after Run returned, so Wait
// must be called only then.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.Tick(ctx)
		}
	}
}

// Wait blocks until no fetch is running.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) start(ctx context.Context, key string, attempt int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[key]
	if !ok || r.InFlight {
		return false
	}
	if s.draining[key] > 0 {
		s.deferred[key] = true
		return false
	}
	r.InFlight = true
	r.State = Fetching

	s.wg.Add(1)
	go s.fetch(ctx, r, attempt)
	return true
}

func (s *Scheduler) fetch(ctx context.Context, r *resource, attempt int) {
	defer s.wg.Done()
	log := s.log.With(logger.Fields{"module": "poller", "resource": r.Key})

	v, err := r.fetch(ctx)

	s.mu.Lock()
	if s.resources[r.Key] != r {
		restart := s.drained(r.Key)
		s.mu.Unlock()
		log.Debug("resource removed, result discarded")
		if restart {
			s.start(ctx, r.Key, 0)
		}
		return
	}
	// the flag is cleared for every outcome, a bad payload counts as a completed poll
	r.InFlight = false
	r.State = Idle

	if err != nil {
		r.Outcome = Failed
		r.LastErr = err
		r.Failures++
		failures := r.Failures
		onError := r.onError
		retry := attempt < r.retries && ctx.Err() == nil
		s.mu.Unlock()

		if failures == 1 {
			log.Warnf("fetch failed: %v", err)
		} else {
			log.Debugf("fetch failed (%d in a row): %v", failures, err)
		}
		if onError != nil {
			onError(err)
		}
		if retry {
			s.start(ctx, r.Key, attempt+1)
		}
		return
	}

	r.Outcome = Succeeded
	r.Value = v
	r.UpdatedAt = s.now()
	r.LastErr = nil
	r.Failures = 0
	onUpdate := r.onUpdate
	next := r.next
	s.mu.Unlock()

	log.Debug("fetched")
	if onUpdate != nil {
		onUpdate(v)
	}
	if next != "" {
		s.start(ctx, next, 0)
	}
}

// drained is called with mu held when a discarded fetch returns. It reports
// whether a start that waited for it should run now.
func (s *Scheduler) drained(key string) bool {
	if s.draining[key]--; s.draining[key] > 0 {
		return false
	}
	delete(s.draining, key)
	restart := s.deferred[key]
	delete(s.deferred, key)
	_, ok := s.resources[key]
	return restart && ok
}
