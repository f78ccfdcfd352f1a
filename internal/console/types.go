package console

import (
	"context"
	"fmt"
	"time"

	"dmxsync/internal/codec"
	"dmxsync/internal/coalescer"
	"dmxsync/internal/device"
	"dmxsync/internal/poller"
)

const (
	// WindowSize is the number of channels shown and edited at once.
	WindowSize = 32
	// MaxOffset is the last valid window offset.
	MaxOffset = codec.BufferSize - WindowSize
)

// Config is the runtime config of the store.
type Config struct {
	MaxBuffer int // MaxBuffer is the last selectable buffer (24 in the console view).
}

// PartyMode is the party mode selection of the console.
type PartyMode struct {
	Marked  bool `json:"marked"` // Marked is set once a channel has been picked.
	Enabled bool `json:"enabled"`
	Buffer  int  `json:"buffer"`
	Channel int  `json:"channel"`
}

// Snapshot is the observable state of the console.
type Snapshot struct {
	SelectedBuffer int          `json:"selectedBuffer"`
	ChannelOffset  int          `json:"channelOffset"`
	Loaded         bool         `json:"loaded"` // Loaded is false until the selected buffer was fetched once.
	UpdatedAt      time.Time    `json:"updatedAt"`
	Values         codec.Buffer `json:"values"`
	PartyMode      PartyMode    `json:"partyMode"`
}

// Window returns the visible channels of the snapshot.
func (s Snapshot) Window() Window {
	w := Window{Offset: s.ChannelOffset}
	copy(w.Values[:], s.Values[s.ChannelOffset:s.ChannelOffset+WindowSize])
	return w
}

// Window is the 32 channel slice currently shown.
type Window struct {
	Offset int               `json:"offset"`
	Values [WindowSize]uint8 `json:"values"`
}

// BufferKey is the poll resource key of a buffer.
func BufferKey(buffer int) string {
	return fmt.Sprintf("dmxBuffer/%02d", buffer)
}

type bufferUpdate struct {
	buffer int
	values codec.Buffer
}

type deviceClient interface {
	DmxBuffer(ctx context.Context, buffer int) (codec.Buffer, error)
	SetBuffer(ctx context.Context, buffer int, data codec.Buffer) error
	SetPartyMode(ctx context.Context, p device.PartyMode) error
}

type scheduler interface {
	Register(key string, fetch poller.FetchFunc, opts ...poller.Option)
	Remove(key string)
	Refresh(ctx context.Context, key string) bool
}

type submitter interface {
	Submit(key coalescer.Key, value int)
	CancelBuffer(buffer int) int
}
