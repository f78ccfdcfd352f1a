package device_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"dmxsync/internal/codec"
	"dmxsync/internal/device"
	"dmxsync/internal/device/devicetest"
	"dmxsync/internal/logger"
)

func newClient(base string) *device.Client {
	return device.NewClient(logger.Discard(), device.Config{BaseURL: base, Timeout: time.Second})
}

func TestURL_BaseAndQuery(t *testing.T) {
	c := newClient("http://169.254.0.1/")
	got := c.URL("/config/save.json", url.Values{"slot": {"4"}})
	if got != "http://169.254.0.1/config/save.json?slot=4" {
		t.Fatalf("unexpected url %s", got)
	}

	c = newClient("")
	if got := c.URL("/log/get.json", nil); got != "/log/get.json" {
		t.Fatalf("unexpected url %s", got)
	}
}

func TestDmxBuffer_TwoDigitPathAndDecode(t *testing.T) {
	dev := devicetest.New()
	defer dev.Close()

	c := newClient(dev.URL())
	b, err := c.DmxBuffer(context.Background(), 5)
	if err != nil {
		t.Fatalf("DmxBuffer err=%v", err)
	}
	if b != (codec.Buffer{}) {
		t.Fatalf("expected 512 zeros")
	}
	if n := len(dev.Requests("/dmxBuffer/05/get.json")); n != 1 {
		t.Fatalf("expected 1 request on /dmxBuffer/05/get.json, got %d", n)
	}
}

func TestDmxBuffer_CorruptPayload(t *testing.T) {
	dev := devicetest.New()
	defer dev.Close()
	dev.SetRaw("/dmxBuffer/03/get.json", `{"value":"AAAA"}`)

	_, err := newClient(dev.URL()).DmxBuffer(context.Background(), 3)
	var derr *device.DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	var cerr *codec.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected wrapped codec error, got %v", err)
	}
}

func TestGet_Non2xxIsTransportError(t *testing.T) {
	dev := devicetest.New()
	defer dev.Close()
	dev.FailNext("/overview/get.json", 1)

	_, err := newClient(dev.URL()).Overview(context.Background())
	var terr *device.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if terr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status=%d", terr.StatusCode)
	}
}

func TestGet_UnreachableIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := newClient(base).Overview(context.Background())
	var terr *device.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if terr.StatusCode != 0 {
		t.Fatalf("status=%d, want 0", terr.StatusCode)
	}
}

func TestGet_MalformedJSONIsDecodeError(t *testing.T) {
	dev := devicetest.New()
	defer dev.Close()
	dev.SetRaw("/log/get.json", `{"log": [`)

	_, err := newClient(dev.URL()).Log(context.Background())
	var derr *device.DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestOverview_SchemaValidation(t *testing.T) {
	dev := devicetest.New()
	defer dev.Close()
	dev.SetRaw("/overview/get.json", `{"boardName":"x","ownIp":16842409,"statusLedBrightness":300}`)

	_, err := newClient(dev.URL()).Overview(context.Background())
	var verr *device.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "statusLedBrightness" {
		t.Fatalf("field=%s", verr.Field)
	}
}

func TestOverview_NumericAddress(t *testing.T) {
	dev := devicetest.New()
	defer dev.Close()
	// 0x0100fea9 is stored little-endian on the board: 169.254.0.1
	dev.SetRaw("/overview/get.json", `{"boardName":"x","ownIp":16842409,"statusLedBrightness":20}`)

	o, err := newClient(dev.URL()).Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview err=%v", err)
	}
	if o.OwnIP != "169.254.0.1" {
		t.Fatalf("ownIp=%s", o.OwnIP)
	}
}

func TestStatusLeds_RejectsBadColour(t *testing.T) {
	dev := devicetest.New()
	defer dev.Close()
	dev.SetRaw("/overview/statusleds/get.json", `[{"static":"#00FF00","blink":"green"}]`)

	_, err := newClient(dev.URL()).StatusLeds(context.Background())
	var verr *device.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestValidationBeforeNetwork(t *testing.T) {
	dev := devicetest.New()
	defer dev.Close()
	c := newClient(dev.URL())
	ctx := context.Background()

	calls := []error{
		c.SetChannel(ctx, 32, 0, 1),
		c.SetChannel(ctx, 0, 512, 1),
		c.SetChannel(ctx, 0, 0, 256),
		c.SetStatusLedBrightness(ctx, -1),
		c.LoadConfig(ctx, 5),
		c.SetBuffer(ctx, -1, codec.Buffer{}),
		c.SetPartyMode(ctx, device.PartyMode{Enabled: true, Buffer: 0, Channel: 600}),
	}
	for i, err := range calls {
		var verr *device.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("call %d: expected ValidationError, got %v", i, err)
		}
	}
	_, err := c.DmxBuffer(ctx, 40)
	var verr *device.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("DmxBuffer: expected ValidationError, got %v", err)
	}

	for _, path := range []string{"/dmxBuffer/set.json", "/config/statusLeds/brightness/set.json", "/config/load.json", "/config/partyMode/set.json"} {
		if n := len(dev.Requests(path)); n != 0 {
			t.Fatalf("%s: %d requests reached the device", path, n)
		}
	}
}

func TestSetChannel_Query(t *testing.T) {
	dev := devicetest.New()
	defer dev.Close()

	if err := newClient(dev.URL()).SetChannel(context.Background(), 3, 17, 200); err != nil {
		t.Fatalf("SetChannel err=%v", err)
	}
	reqs := dev.Requests("/dmxBuffer/set.json")
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	q := reqs[0]
	if q.Get("buffer") != "3" || q.Get("channel") != "17" || q.Get("value") != "200" {
		t.Fatalf("unexpected query %v", q)
	}
	if dev.Buffer(3)[17] != 200 {
		t.Fatalf("device did not apply the write")
	}
}

func TestSetBuffer_DataSurvivesQueryEncoding(t *testing.T) {
	dev := devicetest.New()
	defer dev.Close()

	var b codec.Buffer
	for i := range b {
		b[i] = uint8(i * 31)
	}
	if err := newClient(dev.URL()).SetBuffer(context.Background(), 7, b); err != nil {
		t.Fatalf("SetBuffer err=%v", err)
	}
	if dev.Buffer(7) != b {
		t.Fatalf("device buffer differs from the written one")
	}
}

func TestSetWireless_Query(t *testing.T) {
	dev := devicetest.New()
	defer dev.Close()

	w := device.WirelessConfig{Role: 2, Channel: 76, Address: 1, Compress: true, DataRate: 1, TxPower: 3}
	if err := newClient(dev.URL()).SetWireless(context.Background(), w); err != nil {
		t.Fatalf("SetWireless err=%v", err)
	}
	if dev.Wireless() != w {
		t.Fatalf("device wireless=%+v want %+v", dev.Wireless(), w)
	}
}

func TestSetPartyMode(t *testing.T) {
	dev := devicetest.New()
	defer dev.Close()
	c := newClient(dev.URL())

	if err := c.SetPartyMode(context.Background(), device.PartyMode{Enabled: true, Buffer: 2, Channel: 9}); err != nil {
		t.Fatalf("enable err=%v", err)
	}
	if p := dev.PartyMode(); !p.Enabled || p.Buffer != 2 || p.Channel != 9 {
		t.Fatalf("unexpected party mode %+v", p)
	}

	if err := c.SetPartyMode(context.Background(), device.PartyMode{}); err != nil {
		t.Fatalf("disable err=%v", err)
	}
	reqs := dev.Requests("/config/partyMode/set.json")
	if q := reqs[len(reqs)-1]; q.Get("enabled") != "0" || q.Has("buffer") {
		t.Fatalf("unexpected disable query %v", q)
	}
}

func TestSpectrum(t *testing.T) {
	dev := devicetest.New()
	defer dev.Close()
	var s codec.Spectrum
	s[10] = 99
	dev.SetSpectrum(s)

	got, err := newClient(dev.URL()).Spectrum(context.Background())
	if err != nil {
		t.Fatalf("Spectrum err=%v", err)
	}
	if got[10] != 99 {
		t.Fatalf("sample 10=%d", got[10])
	}
}
