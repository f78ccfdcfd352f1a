package coalescer

import (
	"context"
	"fmt"
	"time"
)

// Kind is the kind of value a key writes.
type Kind string

const (
	DMXChannel          Kind = "dmxChannel"
	StatusLedBrightness Kind = "statusLedBrightness"
)

// Key identifies one pending write. Buffer and Channel are only meaningful
// for DMXChannel.
type Key struct {
	Kind    Kind
	Buffer  int
	Channel int
}

func (k Key) String() string {
	if k.Kind == DMXChannel {
		return fmt.Sprintf("%s/%d.%d", k.Kind, k.Buffer, k.Channel)
	}
	return string(k.Kind)
}

// ChannelKey returns the key of one DMX channel.
func ChannelKey(buffer, channel int) Key {
	return Key{Kind: DMXChannel, Buffer: buffer, Channel: channel}
}

// BrightnessKey returns the key of the status LED brightness.
func BrightnessKey() Key {
	return Key{Kind: StatusLedBrightness}
}

// WriteFunc sends one value to the device.
type WriteFunc func(ctx context.Context, key Key, value int) error

// Config is the runtime config of the coalescer.
type Config struct {
	// Window is the time between the first submit for a key and its write.
	Window time.Duration
}

// Timer is the part of *time.Timer the coalescer uses.
type Timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
