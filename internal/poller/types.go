package poller

import (
	"context"
	"time"
)

// FetchFunc performs one request for a resource and returns its decoded value.
type FetchFunc func(ctx context.Context) (interface{}, error)

// State of a resource between ticks.
type State int

const (
	Idle State = iota
	Fetching
)

func (s State) String() string {
	if s == Fetching {
		return "fetching"
	}
	return "idle"
}

// Outcome of the last completed fetch.
type Outcome int

const (
	NotFetched Outcome = iota
	Succeeded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "success"
	case Failed:
		return "failure"
	default:
		return "none"
	}
}

// Resource is a snapshot of one polled resource.
type Resource struct {
	Key       string
	State     State
	InFlight  bool
	Outcome   Outcome
	Value     interface{} // Value is the last successfully fetched value.
	UpdatedAt time.Time   // UpdatedAt is the time of the last success.
	LastErr   error
	Failures  int // Failures counts consecutive failed fetches.
}

// Config is the minimal runtime config the scheduler needs.
type Config struct {
	Interval time.Duration
}

// Option configures a registered resource.
type Option func(r *resource)

// Manual excludes the resource from ticks: it is fetched only by Refresh or
// as a chained stage.
func Manual() Option {
	return func(r *resource) { r.manual = true }
}

// EnabledWhen skips ticks while fn returns false.
func EnabledWhen(fn func() bool) Option {
	return func(r *resource) { r.enabled = fn }
}

// OnUpdate is called with every successfully fetched value, outside of any
// scheduler lock.
func OnUpdate(fn func(v interface{})) Option {
	return func(r *resource) { r.onUpdate = fn }
}

// OnError is called with every failed fetch.
func OnError(fn func(err error)) Option {
	return func(r *resource) { r.onError = fn }
}

// ImmediateRetries retries a failed fetch up to n times right away instead of
// waiting for the next tick.
func ImmediateRetries(n int) Option {
	return func(r *resource) { r.retries = n }
}
