// Package codec converts DMX buffers and spectrum scans to and from the wire
// representation used by the device: snappy block compression followed by
// standard base64.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"
)

// Error is returned when a wire payload cannot be turned back into bytes.
type Error struct {
	Stage string // Stage is "base64", "snappy" or "length".
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("codec: %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Encode compresses raw and returns it as base64 text.
// The output only depends on the input bytes.
func Encode(raw []byte) string {
	return base64.StdEncoding.EncodeToString(snappy.Encode(nil, raw))
}

// Decode reverses Encode.
func Decode(text string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, &Error{Stage: "base64", Err: err}
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, &Error{Stage: "snappy", Err: err}
	}
	return raw, nil
}

// EncodeBuffer returns the wire form of a DMX buffer.
func EncodeBuffer(b Buffer) string {
	return Encode(b[:])
}

// DecodeBuffer parses the wire form of a DMX buffer.
// Payloads that do not decompress to exactly BufferSize bytes are rejected.
func DecodeBuffer(text string) (Buffer, error) {
	var b Buffer
	raw, err := Decode(text)
	if err != nil {
		return b, err
	}
	if len(raw) != BufferSize {
		return b, &Error{Stage: "length", Err: fmt.Errorf("got %d bytes, want %d", len(raw), BufferSize)}
	}
	copy(b[:], raw)
	return b, nil
}

// EncodeSpectrum returns the wire form of a spectrum scan.
func EncodeSpectrum(s Spectrum) string {
	raw := make([]byte, 2*SpectrumSize)
	for i, v := range s {
		binary.LittleEndian.PutUint16(raw[2*i:], v)
	}
	return Encode(raw)
}

// DecodeSpectrum parses a spectrum scan: little-endian uint16 samples.
func DecodeSpectrum(text string) (Spectrum, error) {
	var s Spectrum
	raw, err := Decode(text)
	if err != nil {
		return s, err
	}
	if len(raw) != 2*SpectrumSize {
		return s, &Error{Stage: "length", Err: fmt.Errorf("got %d bytes, want %d", len(raw), 2*SpectrumSize)}
	}
	for i := range s {
		s[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return s, nil
}
