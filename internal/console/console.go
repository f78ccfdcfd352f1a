// Package console holds the state of the DMX console: the selected buffer, its
// 512 channel values and the 32 channel window being edited.
package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dmxsync/internal/codec"
	"dmxsync/internal/coalescer"
	"dmxsync/internal/device"
	"dmxsync/internal/logger"
	"dmxsync/internal/poller"
)

// Store owns the console state. Local state is updated synchronously; device
// writes go through the coalescer (single channels) or straight to the
// client (whole buffer fills).
type Store struct {
	cfg    Config
	log    logger.Logger
	client deviceClient
	sched  scheduler
	writes submitter

	// selectMu serializes buffer switches so exactly one buffer resource is registered.
	selectMu sync.Mutex

	mu        sync.Mutex
	ctx       context.Context
	selected  int
	offset    int
	values    codec.Buffer
	loaded    bool
	updatedAt time.Time
	party     PartyMode
	listeners []func(Snapshot)
}

// NewStore creates the store and registers the poll resource of buffer 0.
func NewStore(log logger.Logger, cfg Config, client deviceClient, sched scheduler, writes submitter) (*Store, error) {
	if cfg.MaxBuffer < 0 || cfg.MaxBuffer > device.MaxBufferIndex {
		return nil, fmt.Errorf("console: max buffer %d out of range [0, %d]", cfg.MaxBuffer, device.MaxBufferIndex)
	}
	s := &Store{
		cfg:    cfg,
		log:    log,
		client: client,
		sched:  sched,
		writes: writes,
		ctx:    context.Background(),
	}
	s.register(0)
	return s, nil
}

// Start sets the context used for refreshes triggered by the store.
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
}

// Stop removes the poll resource of the selected buffer.
func (s *Store) Stop() {
	s.mu.Lock()
	buffer := s.selected
	s.mu.Unlock()
	s.sched.Remove(BufferKey(buffer))
}

// OnChange registers fn to receive a snapshot after every change.
func (s *Store) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		SelectedBuffer: s.selected,
		ChannelOffset:  s.offset,
		Loaded:         s.loaded,
		UpdatedAt:      s.updatedAt,
		Values:         s.values,
		PartyMode:      s.party,
	}
}

// Values returns the 512 channel values of the selected buffer.
func (s *Store) Values() codec.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values
}

// Window returns the channels visible at the current offset.
func (s *Store) Window() Window {
	return s.Snapshot().Window()
}

func (s *Store) notify() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	listeners := make([]func(Snapshot), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func (s *Store) register(buffer int) {
	s.sched.Register(BufferKey(buffer), func(ctx context.Context) (interface{}, error) {
		values, err := s.client.DmxBuffer(ctx, buffer)
		if err != nil {
			return nil, err
		}
		return bufferUpdate{buffer: buffer, values: values}, nil
	}, poller.OnUpdate(s.apply))
}

func (s *Store) apply(v interface{}) {
	u, ok := v.(bufferUpdate)
	if !ok {
		return
	}

	s.mu.Lock()
	if u.buffer != s.selected {
		s.mu.Unlock()
		s.log.With(logger.Fields{"module": "console"}).Debugf("dropped values of buffer %d, buffer %d is selected", u.buffer, s.selected)
		return
	}
	s.values = u.values
	s.loaded = true
	s.updatedAt = time.Now()
	s.mu.Unlock()

	s.notify()
}

// ---- buffer selection ----

// SelectBuffer selects buffer n, clamped to [0, MaxBuffer], and returns the
// buffer actually selected. The new buffer is fetched right away.
func (s *Store) SelectBuffer(n int) int {
	n = clamp(n, 0, s.cfg.MaxBuffer)

	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	s.mu.Lock()
	old := s.selected
	if n == old {
		s.mu.Unlock()
		return n
	}
	s.selected = n
	s.loaded = false
	ctx := s.ctx
	s.mu.Unlock()

	s.sched.Remove(BufferKey(old))
	s.register(n)
	s.sched.Refresh(ctx, BufferKey(n))

	s.log.With(logger.Fields{"module": "console"}).Debugf("selected buffer %d", n)
	s.notify()
	return n
}

func (s *Store) selectedBuffer() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *Store) BufferFirst() int { return s.SelectBuffer(0) }

func (s *Store) BufferLast() int { return s.SelectBuffer(s.cfg.MaxBuffer) }

func (s *Store) BufferIncrease() int { return s.SelectBuffer(s.selectedBuffer() + 1) }

func (s *Store) BufferDecrease() int { return s.SelectBuffer(s.selectedBuffer() - 1) }

// ---- channel window ----

// SetOffset moves the window. The offset is clamped to [0, MaxOffset] and
// rounded down to a multiple of WindowSize.
func (s *Store) SetOffset(n int) int {
	n = clamp(n, 0, MaxOffset)
	n -= n % WindowSize

	s.mu.Lock()
	changed := s.offset != n
	s.offset = n
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return n
}

func (s *Store) offsetNow() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

func (s *Store) OffsetFirst() int { return s.SetOffset(0) }

func (s *Store) OffsetLast() int { return s.SetOffset(MaxOffset) }

func (s *Store) OffsetIncrease() int { return s.SetOffset(s.offsetNow() + WindowSize) }

func (s *Store) OffsetDecrease() int { return s.SetOffset(s.offsetNow() - WindowSize) }

// ---- writes ----

// SetChannel sets one channel of the selected buffer. The local value changes
// immediately; the device write is coalesced per channel.
func (s *Store) SetChannel(channel, value int) {
	channel = clamp(channel, 0, device.MaxChannelIndex)
	value = clamp(value, 0, 255)

	s.mu.Lock()
	s.values[channel] = uint8(value)
	buffer := s.selected
	s.mu.Unlock()

	s.writes.Submit(coalescer.ChannelKey(buffer, channel), value)
	s.notify()
}

// SetWindowChannel sets channel i (0..31) of the visible window.
func (s *Store) SetWindowChannel(i, value int) {
	i = clamp(i, 0, WindowSize-1)
	s.SetChannel(s.offsetNow()+i, value)
}

// SetAll sets every channel of the selected buffer with one whole-buffer write.
func (s *Store) SetAll(ctx context.Context, value uint8) error {
	s.mu.Lock()
	s.values = codec.Filled(value)
	buffer := s.selected
	data := s.values
	s.mu.Unlock()

	// pending single channel writes would overwrite the fill
	s.writes.CancelBuffer(buffer)
	s.notify()

	if err := s.client.SetBuffer(ctx, buffer, data); err != nil {
		return fmt.Errorf("set all channels of buffer %d to %d: %w", buffer, value, err)
	}
	return nil
}

// SetAllOff sets all channels to 0.
func (s *Store) SetAllOff(ctx context.Context) error {
	return s.SetAll(ctx, 0)
}

// SetAllOn sets all channels to 255.
func (s *Store) SetAllOn(ctx context.Context) error {
	return s.SetAll(ctx, 255)
}

// ---- party mode ----

// MarkPartyChannel picks channel of the selected buffer for party mode.
func (s *Store) MarkPartyChannel(channel int) {
	channel = clamp(channel, 0, device.MaxChannelIndex)

	s.mu.Lock()
	s.party.Marked = true
	s.party.Buffer = s.selected
	s.party.Channel = channel
	s.mu.Unlock()

	s.notify()
}

// ErrNoPartyChannel is returned when party mode is toggled before a channel was picked.
var ErrNoPartyChannel = errors.New("console: no party mode channel marked")

// TogglePartyMode enables party mode on the marked channel, or disables it.
func (s *Store) TogglePartyMode(ctx context.Context) error {
	s.mu.Lock()
	p := s.party
	s.mu.Unlock()

	if !p.Marked {
		return ErrNoPartyChannel
	}

	req := device.PartyMode{Enabled: !p.Enabled, Buffer: p.Buffer, Channel: p.Channel}
	if err := s.client.SetPartyMode(ctx, req); err != nil {
		return fmt.Errorf("party mode: %w", err)
	}

	s.mu.Lock()
	s.party.Enabled = req.Enabled
	s.mu.Unlock()

	s.notify()
	return nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
