package clientmqtt

import (
	"context"

	"dmxsync/internal/device"
)

type nameTopic string

// message is an intent queued in arrival order.
type message struct {
	topic   string
	payload []byte
}

// intent обрабатывает полезную нагрузку входящего топика.
type intent func(ctx context.Context, payload []byte) error

// DMXCommand sets one channel of the selected buffer.
type DMXCommand struct {
	Channel uint16 // Channel is the channel a command can talk to (0-511).
	Value   uint8  // Value is the value a DMX channel can represent (0-255).
}

// Payload is the body of <prefix>/console/set.
type Payload []DMXCommand

type bufferMsg struct {
	Buffer *int `json:"buffer"`
}

type offsetMsg struct {
	Offset *int `json:"offset"`
}

type valueMsg struct {
	Value *int `json:"value"`
}

// Console is the part of the console store driven over MQTT.
type Console interface {
	SetChannel(channel, value int)
	SelectBuffer(n int) int
	SetOffset(n int) int
	SetAll(ctx context.Context, value uint8) error
}

// Board is the part of the board store driven over MQTT.
type Board interface {
	SetStatusLedBrightness(value int) int
	Log() []device.LogEntry
}

// Topic suffixes below the configured prefix.
const (
	TopicConsoleSet     = "console/set"
	TopicConsoleSelect  = "console/select"
	TopicConsoleOffset  = "console/offset"
	TopicConsoleAll     = "console/all"
	TopicBrightness     = "statusleds/brightness"
	TopicStateConsole   = "state/console"
	TopicStateWindow    = "state/console/window"
	TopicStateBoardRoot = "state/board/"
	TopicStateLog       = "state/log"
)
