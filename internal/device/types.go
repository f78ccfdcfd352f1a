package device

import (
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"strconv"
)

const (
	// MaxBufferIndex is the highest buffer index the device accepts.
	MaxBufferIndex = 31
	// MaxChannelIndex is the highest 0-based channel index inside a buffer.
	MaxChannelIndex = 511
	// BaseBoardSlot addresses the configuration stored on the base board.
	BaseBoardSlot = 4
	// IoBoardSlots is the number of IO board slots (0..3).
	IoBoardSlots = 4
	// PortsPerBoard is the number of ports on one IO board.
	PortsPerBoard = 4
	// StatusLedCount is the number of LEDs reported by /overview/statusleds.
	StatusLedCount = 8
)

// Address is the board IP. The device sends it either as a dotted string or as
// the raw little-endian uint32 it stores internally.
type Address string

func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = Address(s)
		return nil
	}
	var n uint32
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("ownIp: expected string or number, got %s", data)
	}
	*a = Address(net.IPv4(byte(n), byte(n>>8), byte(n>>16), byte(n>>24)).String())
	return nil
}

// Overview is the response of /overview/get.json.
type Overview struct {
	BoardName           string  `json:"boardName"`
	OwnIP               Address `json:"ownIp"`
	WirelessModule      bool    `json:"wirelessModule"`
	StatusLedBrightness int     `json:"statusLedBrightness"`
}

func (o Overview) Validate() error {
	return checkRange("statusLedBrightness", o.StatusLedBrightness, 0, 255)
}

// Port describes one IO board port.
type Port struct {
	Connector string `json:"connector"` // xlr_5_female, xlr_5_male, xlr_3_female, xlr_3_male, rj45, screws
	Direction string `json:"direction"` // in, out, switchable, unknown
}

// IoBoard is one of the four IO board slots.
type IoBoard struct {
	Exist bool   `json:"exist"`
	Type  string `json:"type"`
	Ports []Port `json:"ports"`
}

// IoBoards is the response of /overview/ioBoards/get.json.
type IoBoards struct {
	Base   json.RawMessage `json:"base,omitempty"`
	Boards []IoBoard       `json:"boards"`
}

func (b IoBoards) Validate() error {
	if err := checkRange("boards", len(b.Boards), 0, IoBoardSlots); err != nil {
		return err
	}
	for i, board := range b.Boards {
		if err := checkRange(fmt.Sprintf("boards[%d].ports", i), len(board.Ports), 0, PortsPerBoard); err != nil {
			return err
		}
	}
	return nil
}

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// StatusLed is the colour of one LED: the lower half of the LED blinks.
type StatusLed struct {
	Static string `json:"static"`
	Blink  string `json:"blink"`
}

// StatusLeds is the response of /overview/statusleds/get.json, ordered as
// slot 00, slot 01, slot 10, slot 11, system, USB, wireless, universes in use.
type StatusLeds []StatusLed

func (l StatusLeds) Validate() error {
	if err := checkRange("leds", len(l), 0, StatusLedCount); err != nil {
		return err
	}
	for i, led := range l {
		for _, c := range []string{led.Static, led.Blink} {
			if !colorPattern.MatchString(c) {
				return &ValidationError{Field: "leds[" + strconv.Itoa(i) + "]", Value: c, Reason: "not a #RRGGBB colour"}
			}
		}
	}
	return nil
}

// Radio roles.
const (
	RoleSniffer   = 0
	RoleBroadcast = 1
	RoleMesh      = 2
)

// WirelessConfig is the response of /config/wireless/get.json and the
// parameter set of /config/wireless/set.json.
type WirelessConfig struct {
	Role     int  `json:"role"`
	Channel  int  `json:"channel"`
	Address  int  `json:"address"`
	Compress bool `json:"compress"`
	Sparse   bool `json:"sparse"`
	DataRate int  `json:"dataRate"`
	TxPower  int  `json:"txPower"`
}

func (w WirelessConfig) Validate() error {
	checks := []error{
		checkRange("role", w.Role, 0, 15),
		checkRange("channel", w.Channel, 0, 125),
		checkRange("address", w.Address, 0, 255),
		checkRange("dataRate", w.DataRate, 0, 2),
		checkRange("txPower", w.TxPower, 0, 3),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

// LogEntry is one line of the device log. Count is a sequence number that
// keeps increasing across calls.
type LogEntry struct {
	Count uint32 `json:"count"`
	File  string `json:"file"`
	Line  uint32 `json:"line"`
	Text  string `json:"text"`
}

// Log is the response of /log/get.json.
type Log struct {
	Log []LogEntry `json:"log"`
}

// PartyMode enables the broadcast of one buffer/channel pair.
type PartyMode struct {
	Enabled bool
	Buffer  int
	Channel int
}

type dmxBufferResponse struct {
	Value string `json:"value"`
}

type spectrumResponse struct {
	Spectrum string `json:"spectrum"`
}

type validator interface {
	Validate() error
}
