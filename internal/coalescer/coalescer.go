// Package coalescer turns a fast stream of "set key to value" intents into at
// most one device write per key per window, always carrying the latest value.
package coalescer

import (
	"context"
	"errors"
	"sync"

	"dmxsync/internal/logger"
)

type pending struct {
	value int
	timer Timer
	due   bool // due is set when the timer fired while a write was in flight
}

// Coalescer keeps one independent timer per key, so edits to different keys
// never cancel each other.
type Coalescer struct {
	cfg       Config
	log       logger.Logger
	write     WriteFunc
	afterFunc afterFunc

	mu       sync.Mutex
	ctx      context.Context
	pending  map[Key]*pending
	inFlight map[Key]bool
	failed   map[Key]error
	refresh  map[Kind]func()
	onError  func(key Key, err error)
	stopped  bool
	wg       sync.WaitGroup
}

// New creates a coalescer. Writes use context.Background until Start is called.
func New(log logger.Logger, cfg Config, write WriteFunc) (*Coalescer, error) {
	if cfg.Window <= 0 {
		return nil, errors.New("coalescer: window must be > 0")
	}
	if write == nil {
		return nil, errors.New("coalescer: write func required")
	}
	return &Coalescer{
		cfg:       cfg,
		log:       log,
		write:     write,
		afterFunc: realAfterFunc,
		ctx:       context.Background(),
		pending:   map[Key]*pending{},
		inFlight:  map[Key]bool{},
		failed:    map[Key]error{},
		refresh:   map[Kind]func(){},
	}, nil
}

// Start sets the context every write is issued with.
func (c *Coalescer) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
}

// OnWritten registers fn to run after every write of kind, successful or not,
// so the display can be re-read from the device.
func (c *Coalescer) OnWritten(kind Kind, fn func()) {
	c.mu.Lock()
	c.refresh[kind] = fn
	c.mu.Unlock()
}

// OnError registers fn to be told about failed writes.
func (c *Coalescer) OnError(fn func(key Key, err error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Submit records value as the latest value for key. A running timer for key is
// left alone; it sends whatever value is current when it fires.
func (c *Coalescer) Submit(key Key, value int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if p, ok := c.pending[key]; ok {
		p.value = value
		return
	}
	p := &pending{value: value}
	c.pending[key] = p
	p.timer = c.afterFunc(c.cfg.Window, func() { c.fire(key) })
}

// Pending reports whether a write for key is scheduled.
func (c *Coalescer) Pending(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

// Failed returns the error of the last write for key, or nil if it succeeded.
func (c *Coalescer) Failed(key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed[key]
}

// Failures returns every key whose last write failed.
func (c *Coalescer) Failures() map[Key]error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Key]error, len(c.failed))
	for k, err := range c.failed {
		out[k] = err
	}
	return out
}

// CancelBuffer drops the scheduled channel writes of buffer. Writes already in
// flight are not affected. It returns how many writes were dropped.
func (c *Coalescer) CancelBuffer(buffer int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, p := range c.pending {
		if k.Kind != DMXChannel || k.Buffer != buffer {
			continue
		}
		p.timer.Stop()
		delete(c.pending, k)
		n++
	}
	return n
}

// Stop drops every scheduled write and waits for in-flight ones.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	c.stopped = true
	for k, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, k)
	}
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Coalescer) fire(key Key) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if !ok || c.stopped {
		c.mu.Unlock()
		return
	}
	if c.inFlight[key] {
		p.due = true
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	c.inFlight[key] = true
	ctx := c.ctx
	c.wg.Add(1)
	c.mu.Unlock()

	c.send(ctx, key, p.value)
}

func (c *Coalescer) send(ctx context.Context, key Key, value int) {
	defer c.wg.Done()
	log := c.log.With(logger.Fields{"module": "coalescer", "key": key.String()})

	err := c.write(ctx, key, value)

	c.mu.Lock()
	delete(c.inFlight, key)
	if err != nil {
		c.failed[key] = err
	} else {
		delete(c.failed, key)
	}
	refresh := c.refresh[key.Kind]
	onError := c.onError
	next, ok := c.pending[key]
	runNext := ok && next.due
	c.mu.Unlock()

	if err != nil {
		// no retry: the next submit for this key is the retry
		log.Warnf("write %d failed: %v", value, err)
		if onError != nil {
			onError(key, err)
		}
	} else {
		log.Debugf("wrote %d", value)
	}
	if refresh != nil {
		refresh()
	}
	if runNext {
		c.fire(key)
	}
}

type deviceWriter interface {
	SetChannel(ctx context.Context, buffer, channel, value int) error
	SetStatusLedBrightness(ctx context.Context, value int) error
}

// ToDevice routes writes to the device endpoint of each key kind.
func ToDevice(d deviceWriter) WriteFunc {
	return func(ctx context.Context, key Key, value int) error {
		switch key.Kind {
		case DMXChannel:
			return d.SetChannel(ctx, key.Buffer, key.Channel, value)
		case StatusLedBrightness:
			return d.SetStatusLedBrightness(ctx, value)
		default:
			return errors.New("coalescer: unknown key kind " + string(key.Kind))
		}
	}
}
