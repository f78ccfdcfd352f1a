// Package device is a typed client for the JSON endpoints of the DMX interface.
// It keeps no state and never retries: retry policy belongs to the callers.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dmxsync/internal/codec"
	"dmxsync/internal/logger"
)

const maxBodySize = 64 << 10

// Config is the connection config of the client.
type Config struct {
	// BaseURL is prepended to every path. Empty means same-origin (production);
	// during development it is the device address, e.g. http://169.254.0.1.
	BaseURL string
	Timeout time.Duration
}

// Client issues GET requests to the device.
type Client struct {
	cfg  Config
	http *http.Client
	log  logger.Logger
}

// NewClient конструктор.
func NewClient(log logger.Logger, cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// URL builds the absolute request URL for path and query.
func (c *Client) URL(path string, query url.Values) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.URL(path, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &TransportError{URL: u, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &TransportError{URL: u, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{URL: u, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	c.log.With(logger.Fields{"module": "device"}).Debugf("GET %s: %d bytes", u, len(body))

	if out == nil {
		// ack endpoints answer with a JSON object or nothing at all
		if len(strings.TrimSpace(string(body))) > 0 && !json.Valid(body) {
			return &DecodeError{URL: u, Err: errors.New("ack is not valid JSON")}
		}
		return nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeError{URL: u, Err: err}
	}
	if v, ok := out.(validator); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Overview fetches /overview/get.json.
func (c *Client) Overview(ctx context.Context) (Overview, error) {
	var o Overview
	err := c.get(ctx, "/overview/get.json", nil, &o)
	return o, err
}

// IoBoards fetches /overview/ioBoards/get.json.
func (c *Client) IoBoards(ctx context.Context) (IoBoards, error) {
	var b IoBoards
	err := c.get(ctx, "/overview/ioBoards/get.json", nil, &b)
	return b, err
}

// StatusLeds fetches /overview/statusleds/get.json.
func (c *Client) StatusLeds(ctx context.Context) (StatusLeds, error) {
	var l StatusLeds
	err := c.get(ctx, "/overview/statusleds/get.json", nil, &l)
	return l, err
}

// Wireless fetches /config/wireless/get.json.
func (c *Client) Wireless(ctx context.Context) (WirelessConfig, error) {
	var w WirelessConfig
	err := c.get(ctx, "/config/wireless/get.json", nil, &w)
	return w, err
}

// Log fetches /log/get.json.
func (c *Client) Log(ctx context.Context) ([]LogEntry, error) {
	var l Log
	if err := c.get(ctx, "/log/get.json", nil, &l); err != nil {
		return nil, err
	}
	return l.Log, nil
}

// DmxBuffer fetches and decodes the 512 channel values of one buffer.
func (c *Client) DmxBuffer(ctx context.Context, buffer int) (codec.Buffer, error) {
	if err := checkRange("buffer", buffer, 0, MaxBufferIndex); err != nil {
		return codec.Buffer{}, err
	}
	path := fmt.Sprintf("/dmxBuffer/%02d/get.json", buffer)

	var r dmxBufferResponse
	if err := c.get(ctx, path, nil, &r); err != nil {
		return codec.Buffer{}, err
	}
	b, err := codec.DecodeBuffer(r.Value)
	if err != nil {
		return codec.Buffer{}, &DecodeError{URL: c.URL(path, nil), Err: err}
	}
	return b, nil
}

// Spectrum fetches the wireless spectrum scan.
func (c *Client) Spectrum(ctx context.Context) (codec.Spectrum, error) {
	const path = "/config/wireless/spectrum/get.json"

	var r spectrumResponse
	if err := c.get(ctx, path, nil, &r); err != nil {
		return codec.Spectrum{}, err
	}
	s, err := codec.DecodeSpectrum(r.Spectrum)
	if err != nil {
		return codec.Spectrum{}, &DecodeError{URL: c.URL(path, nil), Err: err}
	}
	return s, nil
}

// SetParam sets one board parameter, e.g. boardName or ownIp.
func (c *Client) SetParam(ctx context.Context, name, value string) error {
	if name == "" {
		return &ValidationError{Field: "param", Value: name, Reason: "empty name"}
	}
	return c.get(ctx, "/config/set.json", url.Values{name: {value}}, nil)
}

// SetStatusLedBrightness sets the brightness of the status LEDs.
func (c *Client) SetStatusLedBrightness(ctx context.Context, value int) error {
	if err := checkRange("value", value, 0, 255); err != nil {
		return err
	}
	return c.get(ctx, "/config/statusLeds/brightness/set.json", url.Values{"value": {strconv.Itoa(value)}}, nil)
}

// SetWireless writes the radio configuration.
func (c *Client) SetWireless(ctx context.Context, w WirelessConfig) error {
	if err := w.Validate(); err != nil {
		return err
	}
	q := url.Values{
		"role":     {strconv.Itoa(w.Role)},
		"channel":  {strconv.Itoa(w.Channel)},
		"address":  {strconv.Itoa(w.Address)},
		"compress": {strconv.FormatBool(w.Compress)},
		"sparse":   {strconv.FormatBool(w.Sparse)},
		"rate":     {strconv.Itoa(w.DataRate)},
		"power":    {strconv.Itoa(w.TxPower)},
	}
	return c.get(ctx, "/config/wireless/set.json", q, nil)
}

// LoadConfig loads the configuration stored in slot (0-3 IO boards, 4 base board).
func (c *Client) LoadConfig(ctx context.Context, slot int) error {
	return c.slotAction(ctx, "load", slot)
}

// SaveConfig saves the running configuration to slot.
func (c *Client) SaveConfig(ctx context.Context, slot int) error {
	return c.slotAction(ctx, "save", slot)
}

// EnableConfig enables the configuration stored in slot.
func (c *Client) EnableConfig(ctx context.Context, slot int) error {
	return c.slotAction(ctx, "enable", slot)
}

// DisableConfig disables the configuration stored in slot.
func (c *Client) DisableConfig(ctx context.Context, slot int) error {
	return c.slotAction(ctx, "disable", slot)
}

func (c *Client) slotAction(ctx context.Context, action string, slot int) error {
	if err := checkRange("slot", slot, 0, BaseBoardSlot); err != nil {
		return err
	}
	return c.get(ctx, "/config/"+action+".json", url.Values{"slot": {strconv.Itoa(slot)}}, nil)
}

// SetChannel writes a single channel value.
func (c *Client) SetChannel(ctx context.Context, buffer, channel, value int) error {
	if err := checkBufferChannel(buffer, channel); err != nil {
		return err
	}
	if err := checkRange("value", value, 0, 255); err != nil {
		return err
	}
	q := url.Values{
		"buffer":  {strconv.Itoa(buffer)},
		"channel": {strconv.Itoa(channel)},
		"value":   {strconv.Itoa(value)},
	}
	return c.get(ctx, "/dmxBuffer/set.json", q, nil)
}

// SetBuffer writes all 512 channels of a buffer at once.
func (c *Client) SetBuffer(ctx context.Context, buffer int, data codec.Buffer) error {
	if err := checkRange("buffer", buffer, 0, MaxBufferIndex); err != nil {
		return err
	}
	q := url.Values{
		"buffer": {strconv.Itoa(buffer)},
		"data":   {codec.EncodeBuffer(data)},
	}
	return c.get(ctx, "/dmxBuffer/set.json", q, nil)
}

// SetPartyMode enables or disables party mode.
func (c *Client) SetPartyMode(ctx context.Context, p PartyMode) error {
	if !p.Enabled {
		return c.get(ctx, "/config/partyMode/set.json", url.Values{"enabled": {"0"}}, nil)
	}
	if err := checkBufferChannel(p.Buffer, p.Channel); err != nil {
		return err
	}
	q := url.Values{
		"enabled": {"1"},
		"buffer":  {strconv.Itoa(p.Buffer)},
		"offset":  {strconv.Itoa(p.Channel)},
	}
	return c.get(ctx, "/config/partyMode/set.json", q, nil)
}

func checkBufferChannel(buffer, channel int) error {
	if err := checkRange("buffer", buffer, 0, MaxBufferIndex); err != nil {
		return err
	}
	return checkRange("channel", channel, 0, MaxChannelIndex)
}
