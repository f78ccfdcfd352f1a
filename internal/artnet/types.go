package artnet

import (
	"dmxsync/internal/codec"
	"github.com/Haba1234/go-artnet"
)

// Frame is one universe worth of DMX data to send.
type Frame struct {
	Universe uint16 // Universe: 15 бит, старшие 7 - Net, младшие 8 - SubUni.
	Data     codec.Buffer
}

// sender is the part of the go-artnet controller used by the mirror.
type sender interface {
	Start() error
	Stop()
	SendDMXToAddress(dmx [512]byte, address artnet.Address)
}
