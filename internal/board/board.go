// Package board holds the slowly changing state of the interface: running
// configuration, IO boards, radio, status LEDs, spectrum and device log.
package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dmxsync/internal/codec"
	"dmxsync/internal/coalescer"
	"dmxsync/internal/device"
	"dmxsync/internal/logger"
	"dmxsync/internal/poller"
)

// Poll resource keys.
const (
	KeyOverview   = "overview"
	KeyIoBoards   = "ioBoards"
	KeyWireless   = "wireless"
	KeyStatusLeds = "statusLeds"
	KeyLog        = "log"
	KeySpectrum   = "spectrum"
)

// Config is the runtime config of the store.
type Config struct {
	// ImmediateRetries is how often a failed stage of the overview chain is
	// retried before waiting for the next tick.
	ImmediateRetries int
}

// Snapshot is the observable state of the board.
type Snapshot struct {
	Overview         device.Overview       `json:"overview"`
	IoBoards         device.IoBoards       `json:"ioBoards"`
	Wireless         device.WirelessConfig `json:"wireless"`
	StatusLeds       device.StatusLeds     `json:"statusLeds"`
	Spectrum         *codec.Spectrum       `json:"spectrum,omitempty"`
	Updated          map[string]time.Time  `json:"updated"`
	BrightnessFailed bool                  `json:"brightnessFailed"` // BrightnessFailed is set while the last brightness write failed.
}

type deviceClient interface {
	Overview(ctx context.Context) (device.Overview, error)
	IoBoards(ctx context.Context) (device.IoBoards, error)
	Wireless(ctx context.Context) (device.WirelessConfig, error)
	StatusLeds(ctx context.Context) (device.StatusLeds, error)
	Log(ctx context.Context) ([]device.LogEntry, error)
	Spectrum(ctx context.Context) (codec.Spectrum, error)

	SetParam(ctx context.Context, name, value string) error
	SetWireless(ctx context.Context, w device.WirelessConfig) error
	LoadConfig(ctx context.Context, slot int) error
	SaveConfig(ctx context.Context, slot int) error
	EnableConfig(ctx context.Context, slot int) error
	DisableConfig(ctx context.Context, slot int) error
}

type scheduler interface {
	Register(key string, fetch poller.FetchFunc, opts ...poller.Option)
	Chain(keys ...string) error
	Refresh(ctx context.Context, key string) bool
}

type submitter interface {
	Submit(key coalescer.Key, value int)
	OnWritten(kind coalescer.Kind, fn func())
	Failed(key coalescer.Key) error
}

// Store owns the board state.
type Store struct {
	cfg    Config
	log    logger.Logger
	client deviceClient
	sched  scheduler
	writes submitter
	book   *Logbook

	mu        sync.Mutex
	ctx       context.Context
	snap      Snapshot
	listeners []func(key string, snap Snapshot)
}

// NewStore creates the store and registers its poll resources.
func NewStore(log logger.Logger, cfg Config, client deviceClient, sched scheduler, writes submitter) (*Store, error) {
	s := &Store{
		cfg:    cfg,
		log:    log,
		client: client,
		sched:  sched,
		writes: writes,
		book:   NewLogbook(),
		ctx:    context.Background(),
		snap:   Snapshot{Updated: map[string]time.Time{}},
	}

	retries := poller.ImmediateRetries(cfg.ImmediateRetries)
	sched.Register(KeyOverview, func(ctx context.Context) (interface{}, error) {
		return client.Overview(ctx)
	}, retries, poller.OnUpdate(s.update(KeyOverview)))
	sched.Register(KeyIoBoards, func(ctx context.Context) (interface{}, error) {
		return client.IoBoards(ctx)
	}, poller.Manual(), retries, poller.OnUpdate(s.update(KeyIoBoards)))
	sched.Register(KeyWireless, func(ctx context.Context) (interface{}, error) {
		return client.Wireless(ctx)
	}, poller.Manual(), retries, poller.OnUpdate(s.update(KeyWireless)))
	if err := sched.Chain(KeyOverview, KeyIoBoards, KeyWireless); err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}

	sched.Register(KeyStatusLeds, func(ctx context.Context) (interface{}, error) {
		return client.StatusLeds(ctx)
	}, poller.OnUpdate(s.update(KeyStatusLeds)))
	sched.Register(KeyLog, func(ctx context.Context) (interface{}, error) {
		return client.Log(ctx)
	}, poller.OnUpdate(s.update(KeyLog)))
	sched.Register(KeySpectrum, func(ctx context.Context) (interface{}, error) {
		return client.Spectrum(ctx)
	}, poller.EnabledWhen(s.sniffing), poller.OnUpdate(s.update(KeySpectrum)))

	writes.OnWritten(coalescer.StatusLedBrightness, func() {
		s.sched.Refresh(s.context(), KeyOverview)
	})
	return s, nil
}

// Start sets the context used for refreshes triggered by the store.
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
}

func (s *Store) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// OnChange registers fn to be called with the key of the part that changed.
func (s *Store) OnChange(fn func(key string, snap Snapshot)) {
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
	snap := s.snap
	snap.Updated = make(map[string]time.Time, len(s.snap.Updated))
	for k, v := range s.snap.Updated {
		snap.Updated[k] = v
	}
	if s.snap.Spectrum != nil {
		sp := *s.snap.Spectrum
		snap.Spectrum = &sp
	}
	snap.StatusLeds = append(device.StatusLeds(nil), s.snap.StatusLeds...)
	snap.BrightnessFailed = s.writes.Failed(coalescer.BrightnessKey()) != nil
	return snap
}

// Log returns the accumulated device log, latest first.
func (s *Store) Log() []device.LogEntry {
	return s.book.Entries()
}

func (s *Store) sniffing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, loaded := s.snap.Updated[KeyWireless]
	return loaded && s.snap.Overview.WirelessModule && s.snap.Wireless.Role == device.RoleSniffer
}

func (s *Store) update(key string) func(v interface{}) {
	return func(v interface{}) {
		s.mu.Lock()
		switch val := v.(type) {
		case device.Overview:
			s.snap.Overview = val
		case device.IoBoards:
			s.snap.IoBoards = val
		case device.WirelessConfig:
			s.snap.Wireless = val
		case device.StatusLeds:
			s.snap.StatusLeds = val
		case codec.Spectrum:
			s.snap.Spectrum = &val
		case []device.LogEntry:
			s.mu.Unlock()
			if s.book.Add(val) == 0 {
				return
			}
			s.mu.Lock()
		}
		s.snap.Updated[key] = time.Now()
		s.mu.Unlock()

		s.notify(key)
	}
}

func (s *Store) notify(key string) {
	s.mu.Lock()
	snap := s.snapshotLocked()
	listeners := make([]func(string, Snapshot), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(key, snap)
	}
}

// SetStatusLedBrightness changes the LED brightness. The write is coalesced and
// the overview is re-read once it went out.
func (s *Store) SetStatusLedBrightness(value int) int {
	if value < 0 {
		value = 0
	}
	if value > 255 {
		value = 255
	}

	s.mu.Lock()
	s.snap.Overview.StatusLedBrightness = value
	s.mu.Unlock()

	s.writes.Submit(coalescer.BrightnessKey(), value)
	s.notify(KeyOverview)
	return value
}

// SetParam sets a board parameter such as boardName or ownIp.
func (s *Store) SetParam(ctx context.Context, name, value string) error {
	err := s.client.SetParam(ctx, name, value)
	s.sched.Refresh(ctx, KeyOverview)
	if err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}

// SetWireless writes the radio configuration and re-reads it.
func (s *Store) SetWireless(ctx context.Context, w device.WirelessConfig) error {
	if err := s.client.SetWireless(ctx, w); err != nil {
		return fmt.Errorf("set wireless: %w", err)
	}
	s.sched.Refresh(ctx, KeyWireless)
	return nil
}

// LoadConfig loads the configuration stored in slot and re-reads the overview.
func (s *Store) LoadConfig(ctx context.Context, slot int) error {
	err := s.client.LoadConfig(ctx, slot)
	s.sched.Refresh(ctx, KeyOverview)
	if err != nil {
		return fmt.Errorf("load config from slot %d: %w", slot, err)
	}
	return nil
}

// SaveConfig saves the running configuration to slot.
func (s *Store) SaveConfig(ctx context.Context, slot int) error {
	if err := s.client.SaveConfig(ctx, slot); err != nil {
		return fmt.Errorf("save config to slot %d: %w", slot, err)
	}
	return nil
}

// EnableConfig enables the configuration stored in slot.
func (s *Store) EnableConfig(ctx context.Context, slot int) error {
	if err := s.client.EnableConfig(ctx, slot); err != nil {
		return fmt.Errorf("enable config in slot %d: %w", slot, err)
	}
	return nil
}

// DisableConfig disables the configuration stored in slot.
func (s *Store) DisableConfig(ctx context.Context, slot int) error {
	if err := s.client.DisableConfig(ctx, slot); err != nil {
		return fmt.Errorf("disable config in slot %d: %w", slot, err)
	}
	return nil
}
