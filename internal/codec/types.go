package codec

// BufferSize is the number of channels in one DMX buffer.
const BufferSize = 512

// SpectrumSize is the number of samples in a spectrum scan (2400..2516 MHz).
const SpectrumSize = 117

// SpectrumBaseMHz is the frequency of the first spectrum sample.
const SpectrumBaseMHz = 2400

// Buffer wraps the 512 byte array of one DMX buffer.
type Buffer [BufferSize]byte

// Filled returns a buffer with every channel set to value.
func Filled(value uint8) Buffer {
	var b Buffer
	for i := range b {
		b[i] = value
	}
	return b
}

// Spectrum holds one sample per MHz, starting at SpectrumBaseMHz.
type Spectrum [SpectrumSize]uint16

// Frequency returns the frequency in MHz of sample i.
func (s Spectrum) Frequency(i int) int {
	return SpectrumBaseMHz + i
}
