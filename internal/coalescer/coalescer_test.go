package coalescer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dmxsync/internal/logger"
)

// ---- fake timers ----

type fakeTimer struct {
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) after(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

// fireAll fires every timer that is still armed, in creation order.
func (c *fakeClock) fireAll() {
	c.mu.Lock()
	var armed []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			armed = append(armed, t)
		}
	}
	c.mu.Unlock()

	for _, t := range armed {
		t.f()
	}
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// ---- fake device ----

type writeCall struct {
	key   Key
	value int
}

type fakeWriter struct {
	mu     sync.Mutex
	writes []writeCall
	err    error
}

func (f *fakeWriter) write(ctx context.Context, key Key, value int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, writeCall{key: key, value: value})
	return f.err
}

func (f *fakeWriter) got() []writeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]writeCall, len(f.writes))
	copy(out, f.writes)
	return out
}

func newCoalescer(t *testing.T, write WriteFunc) (*Coalescer, *fakeClock) {
	t.Helper()
	c, err := New(logger.Discard(), Config{Window: 100 * time.Millisecond}, write)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	clock := &fakeClock{}
	c.afterFunc = clock.after
	return c, clock
}

// ---- tests ----

func TestNew_Validates(t *testing.T) {
	if _, err := New(logger.Discard(), Config{}, (&fakeWriter{}).write); err == nil {
		t.Fatalf("expected window error")
	}
	if _, err := New(logger.Discard(), Config{Window: time.Millisecond}, nil); err == nil {
		t.Fatalf("expected write func error")
	}
}

func TestSubmit_SameKeyOneWriteWithLatestValue(t *testing.T) {
	w := &fakeWriter{}
	c, clock := newCoalescer(t, w.write)
	key := ChannelKey(0, 17)

	for v := 1; v <= 10; v++ {
		c.Submit(key, v)
	}
	if clock.count() != 1 {
		t.Fatalf("expected 1 timer, got %d", clock.count())
	}
	if !c.Pending(key) {
		t.Fatalf("expected pending write")
	}

	clock.fireAll()

	got := w.got()
	if len(got) != 1 || got[0].key != key || got[0].value != 10 {
		t.Fatalf("unexpected writes %+v", got)
	}
	if c.Pending(key) {
		t.Fatalf("pending write survived its timer")
	}
}

func TestSubmit_TwoKeysNoStarvation(t *testing.T) {
	w := &fakeWriter{}
	c, clock := newCoalescer(t, w.write)
	a, b := ChannelKey(0, 1), ChannelKey(0, 2)

	c.Submit(a, 10)
	c.Submit(b, 20)
	c.Submit(a, 11)
	c.Submit(b, 21)

	if clock.count() != 2 {
		t.Fatalf("expected one timer per key, got %d", clock.count())
	}

	clock.fireAll()

	got := w.got()
	if len(got) != 2 {
		t.Fatalf("expected 2 writes, got %+v", got)
	}
	values := map[Key]int{}
	for _, wc := range got {
		values[wc.key] = wc.value
	}
	if values[a] != 11 || values[b] != 21 {
		t.Fatalf("unexpected values %+v", values)
	}
}

func TestSubmit_ContinuousDragWritesEveryWindow(t *testing.T) {
	w := &fakeWriter{}
	c, clock := newCoalescer(t, w.write)
	key := ChannelKey(3, 0)

	v := 0
	for window := 0; window < 3; window++ {
		for i := 0; i < 5; i++ {
			v++
			c.Submit(key, v)
		}
		clock.fireAll()
	}

	got := w.got()
	if len(got) != 3 {
		t.Fatalf("expected 3 writes, got %d", len(got))
	}
	for i, want := range []int{5, 10, 15} {
		if got[i].value != want {
			t.Fatalf("write %d: value %d want %d", i, got[i].value, want)
		}
	}
}

func TestFire_DefersWhileWriteInFlight(t *testing.T) {
	started := make(chan struct{}, 4)
	release := make(chan struct{})

	var mu sync.Mutex
	var values []int
	active, maxActive := 0, 0

	write := func(ctx context.Context, key Key, value int) error {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		values = append(values, value)
		first := len(values) == 1
		mu.Unlock()

		started <- struct{}{}
		if first {
			<-release
		}

		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}

	c, clock := newCoalescer(t, write)
	key := ChannelKey(1, 1)

	c.Submit(key, 1)
	done := make(chan struct{})
	go func() {
		clock.fireAll()
		close(done)
	}()
	<-started

	c.Submit(key, 2)
	c.Submit(key, 3)
	clock.fireAll() // write for 1 is still running: 3 must wait

	mu.Lock()
	n := len(values)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("second write started while first in flight")
	}

	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(values) != 2 || values[0] != 1 || values[1] != 3 {
		t.Fatalf("unexpected values %v", values)
	}
	if maxActive != 1 {
		t.Fatalf("max concurrent writes %d", maxActive)
	}
}

func TestSend_FailureIsReportedNotRetried(t *testing.T) {
	w := &fakeWriter{err: errors.New("device unreachable")}
	c, clock := newCoalescer(t, w.write)
	key := BrightnessKey()

	var reported Key
	c.OnError(func(k Key, err error) { reported = k })

	c.Submit(key, 50)
	clock.fireAll()
	clock.fireAll()

	if len(w.got()) != 1 {
		t.Fatalf("failed write was retried: %+v", w.got())
	}
	if c.Failed(key) == nil || reported != key {
		t.Fatalf("failure not recorded")
	}
	if len(c.Failures()) != 1 {
		t.Fatalf("failures=%v", c.Failures())
	}

	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()

	c.Submit(key, 60)
	clock.fireAll()
	if c.Failed(key) != nil {
		t.Fatalf("successful write did not clear failure")
	}
}

func TestOnWritten_RefreshesAfterWrite(t *testing.T) {
	w := &fakeWriter{}
	c, clock := newCoalescer(t, w.write)

	refreshed := 0
	c.OnWritten(StatusLedBrightness, func() { refreshed++ })

	c.Submit(ChannelKey(0, 0), 1)
	clock.fireAll()
	if refreshed != 0 {
		t.Fatalf("channel write triggered brightness refresh")
	}

	c.Submit(BrightnessKey(), 120)
	clock.fireAll()
	if refreshed != 1 {
		t.Fatalf("expected 1 refresh, got %d", refreshed)
	}
}

func TestStop_DropsPending(t *testing.T) {
	w := &fakeWriter{}
	c, clock := newCoalescer(t, w.write)

	c.Submit(ChannelKey(0, 5), 9)
	c.Stop()
	clock.fireAll()
	c.Submit(ChannelKey(0, 5), 10)

	if len(w.got()) != 0 {
		t.Fatalf("write after Stop: %+v", w.got())
	}
}

func TestRealTimer_BurstBecomesOneWrite(t *testing.T) {
	w := &fakeWriter{}
	c, err := New(logger.Discard(), Config{Window: 20 * time.Millisecond}, w.write)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	key := ChannelKey(2, 100)

	for v := 0; v <= 255; v++ {
		c.Submit(key, v)
	}
	time.Sleep(150 * time.Millisecond)
	c.Stop()

	got := w.got()
	if len(got) != 1 || got[0].value != 255 {
		t.Fatalf("unexpected writes %+v", got)
	}
}

type fakeDevice struct {
	channel    [3]int
	brightness int
}

func (d *fakeDevice) SetChannel(ctx context.Context, buffer, channel, value int) error {
	d.channel = [3]int{buffer, channel, value}
	return nil
}

func (d *fakeDevice) SetStatusLedBrightness(ctx context.Context, value int) error {
	d.brightness = value
	return nil
}

func TestToDevice_Routes(t *testing.T) {
	d := &fakeDevice{}
	write := ToDevice(d)
	ctx := context.Background()

	if err := write(ctx, ChannelKey(4, 33), 128); err != nil {
		t.Fatalf("channel err=%v", err)
	}
	if err := write(ctx, BrightnessKey(), 77); err != nil {
		t.Fatalf("brightness err=%v", err)
	}
	if err := write(ctx, Key{Kind: "bogus"}, 1); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if d.channel != [3]int{4, 33, 128} || d.brightness != 77 {
		t.Fatalf("unexpected routing %+v", d)
	}
}

func TestCancelBuffer_DropsChannelWritesOfBuffer(t *testing.T) {
	w := &fakeWriter{}
	c, clock := newCoalescer(t, w.write)

	c.Submit(ChannelKey(2, 10), 50)
	c.Submit(ChannelKey(2, 11), 60)
	c.Submit(ChannelKey(3, 10), 70)
	c.Submit(BrightnessKey(), 80)

	if n := c.CancelBuffer(2); n != 2 {
		t.Fatalf("dropped=%d want 2", n)
	}
	if c.Pending(ChannelKey(2, 10)) || c.Pending(ChannelKey(2, 11)) {
		t.Fatalf("writes of buffer 2 still pending")
	}
	clock.fireAll()
	c.Stop()

	got := w.got()
	if len(got) != 2 {
		t.Fatalf("writes=%+v", got)
	}
	for _, call := range got {
		if call.key.Kind == DMXChannel && call.key.Buffer == 2 {
			t.Fatalf("cancelled write sent: %+v", call)
		}
	}
}
