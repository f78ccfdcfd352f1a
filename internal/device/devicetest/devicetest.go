// Package devicetest provides an in-process fake of the DMX interface HTTP
// endpoints for tests.
package devicetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"

	"dmxsync/internal/codec"
	"dmxsync/internal/device"
	"github.com/gorilla/mux"
)

// Device is a fake device backed by an httptest server.
type Device struct {
	Server *httptest.Server

	mu         sync.Mutex
	buffers    map[int]codec.Buffer
	overview   device.Overview
	ioBoards   device.IoBoards
	statusLeds device.StatusLeds
	wireless   device.WirelessConfig
	log        []device.LogEntry
	spectrum   codec.Spectrum
	partyMode  device.PartyMode
	requests   map[string][]url.Values
	failures   map[string]int
	raw        map[string]string
	hold       map[string]chan struct{}
}

// New starts a fake device. Call Close when done.
func New() *Device {
	d := &Device{
		buffers:  map[int]codec.Buffer{},
		overview: device.Overview{BoardName: "fake", OwnIP: "169.254.0.1", StatusLedBrightness: 20},
		requests: map[string][]url.Values{},
		failures: map[string]int{},
		raw:      map[string]string{},
		hold:     map[string]chan struct{}{},
	}
	d.Server = httptest.NewServer(d.router())
	return d
}

// Close shuts the server down.
func (d *Device) Close() {
	d.mu.Lock()
	for _, ch := range d.hold {
		close(ch)
	}
	d.hold = map[string]chan struct{}{}
	d.mu.Unlock()
	d.Server.Close()
}

// URL is the base URL to configure the client with.
func (d *Device) URL() string {
	return d.Server.URL
}

func (d *Device) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(d.middleware)

	r.HandleFunc("/overview/get.json", d.serveJSON(func() interface{} { return d.overview })).Methods("GET")
	r.HandleFunc("/overview/ioBoards/get.json", d.serveJSON(func() interface{} { return d.ioBoards })).Methods("GET")
	r.HandleFunc("/overview/statusleds/get.json", d.serveJSON(func() interface{} { return d.statusLeds })).Methods("GET")
	r.HandleFunc("/config/wireless/get.json", d.serveJSON(func() interface{} { return d.wireless })).Methods("GET")
	r.HandleFunc("/log/get.json", d.serveJSON(func() interface{} {
		return map[string]interface{}{"log": d.log}
	})).Methods("GET")
	r.HandleFunc("/config/wireless/spectrum/get.json", d.serveJSON(func() interface{} {
		return map[string]string{"spectrum": codec.EncodeSpectrum(d.spectrum)}
	})).Methods("GET")
	r.HandleFunc("/dmxBuffer/{index:[0-9]{2}}/get.json", d.handleBufferGet).Methods("GET")

	r.HandleFunc("/dmxBuffer/set.json", d.handleBufferSet).Methods("GET")
	r.HandleFunc("/config/statusLeds/brightness/set.json", d.handleBrightness).Methods("GET")
	r.HandleFunc("/config/wireless/set.json", d.handleWirelessSet).Methods("GET")
	r.HandleFunc("/config/partyMode/set.json", d.handlePartyMode).Methods("GET")
	for _, action := range []string{"set", "load", "save", "enable", "disable"} {
		r.HandleFunc("/config/"+action+".json", d.ack).Methods("GET")
	}
	return r
}

func (d *Device) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		d.mu.Lock()
		d.requests[path] = append(d.requests[path], r.URL.Query())
		hold := d.hold[path]
		fail := d.failures[path] > 0
		if fail {
			d.failures[path]--
		}
		raw, hasRaw := d.raw[path]
		d.mu.Unlock()

		if hold != nil {
			<-hold
		}
		if fail {
			http.Error(w, "injected failure", http.StatusInternalServerError)
			return
		}
		if hasRaw {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(raw))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (d *Device) serveJSON(value func() interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		v := value()
		d.mu.Unlock()
		writeJSON(w, v)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (d *Device) ack(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]bool{"ok": true})
}

func (d *Device) handleBufferGet(w http.ResponseWriter, r *http.Request) {
	index, _ := strconv.Atoi(mux.Vars(r)["index"])
	d.mu.Lock()
	b := d.buffers[index]
	d.mu.Unlock()
	writeJSON(w, map[string]string{"value": codec.EncodeBuffer(b)})
}

func (d *Device) handleBufferSet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	index, err := strconv.Atoi(q.Get("buffer"))
	if err != nil {
		http.Error(w, "bad buffer", http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if data := q.Get("data"); data != "" {
		b, err := codec.DecodeBuffer(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d.buffers[index] = b
		writeJSON(w, map[string]bool{"ok": true})
		return
	}

	channel, err1 := strconv.Atoi(q.Get("channel"))
	value, err2 := strconv.Atoi(q.Get("value"))
	if err1 != nil || err2 != nil || channel < 0 || channel >= codec.BufferSize {
		http.Error(w, "bad channel", http.StatusBadRequest)
		return
	}
	b := d.buffers[index]
	b[channel] = uint8(value)
	d.buffers[index] = b
	writeJSON(w, map[string]bool{"ok": true})
}

func (d *Device) handleBrightness(w http.ResponseWriter, r *http.Request) {
	v, err := strconv.Atoi(r.URL.Query().Get("value"))
	if err != nil {
		http.Error(w, "bad value", http.StatusBadRequest)
		return
	}
	d.mu.Lock()
	d.overview.StatusLedBrightness = v
	d.mu.Unlock()
	writeJSON(w, map[string]bool{"ok": true})
}

func (d *Device) handleWirelessSet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	atoi := func(k string) int { v, _ := strconv.Atoi(q.Get(k)); return v }
	d.mu.Lock()
	d.wireless = device.WirelessConfig{
		Role:     atoi("role"),
		Channel:  atoi("channel"),
		Address:  atoi("address"),
		Compress: q.Get("compress") == "true",
		Sparse:   q.Get("sparse") == "true",
		DataRate: atoi("rate"),
		TxPower:  atoi("power"),
	}
	d.mu.Unlock()
	writeJSON(w, map[string]bool{"ok": true})
}

func (d *Device) handlePartyMode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	buffer, _ := strconv.Atoi(q.Get("buffer"))
	channel, _ := strconv.Atoi(q.Get("offset"))
	d.mu.Lock()
	d.partyMode = device.PartyMode{Enabled: q.Get("enabled") == "1", Buffer: buffer, Channel: channel}
	d.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// Requests returns the query of every request received on path, in order.
func (d *Device) Requests(path string) []url.Values {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]url.Values, len(d.requests[path]))
	copy(out, d.requests[path])
	return out
}

// FailNext makes the next n requests on path answer 500.
func (d *Device) FailNext(path string, n int) {
	d.mu.Lock()
	d.failures[path] += n
	d.mu.Unlock()
}

// SetRaw makes path answer body verbatim until cleared with an empty body.
func (d *Device) SetRaw(path, body string) {
	d.mu.Lock()
	if body == "" {
		delete(d.raw, path)
	} else {
		d.raw[path] = body
	}
	d.mu.Unlock()
}

// Hold blocks requests on path until the returned func is called.
func (d *Device) Hold(path string) (release func()) {
	ch := make(chan struct{})
	d.mu.Lock()
	d.hold[path] = ch
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.hold[path] == ch {
				delete(d.hold, path)
				close(ch)
			}
			d.mu.Unlock()
		})
	}
}

func (d *Device) SetBuffer(index int, b codec.Buffer) {
	d.mu.Lock()
	d.buffers[index] = b
	d.mu.Unlock()
}

func (d *Device) Buffer(index int) codec.Buffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffers[index]
}

func (d *Device) SetOverview(o device.Overview) {
	d.mu.Lock()
	d.overview = o
	d.mu.Unlock()
}

func (d *Device) Overview() device.Overview {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overview
}

func (d *Device) SetIoBoards(b device.IoBoards) {
	d.mu.Lock()
	d.ioBoards = b
	d.mu.Unlock()
}

func (d *Device) SetStatusLeds(l device.StatusLeds) {
	d.mu.Lock()
	d.statusLeds = l
	d.mu.Unlock()
}

func (d *Device) SetWireless(w device.WirelessConfig) {
	d.mu.Lock()
	d.wireless = w
	d.mu.Unlock()
}

func (d *Device) Wireless() device.WirelessConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wireless
}

func (d *Device) SetLog(entries []device.LogEntry) {
	d.mu.Lock()
	d.log = entries
	d.mu.Unlock()
}

func (d *Device) SetSpectrum(s codec.Spectrum) {
	d.mu.Lock()
	d.spectrum = s
	d.mu.Unlock()
}

func (d *Device) PartyMode() device.PartyMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.partyMode
}
