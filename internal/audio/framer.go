package audio

import (
	"encoding/binary"
	"iter"
)

const pcmScale = 0x7FFF

// Framer converts a normalized float signal into fixed-size PCM16LE frames,
// the way a capture client packages microphone audio for the relay.
type Framer struct {
	SampleRate   int
	FrameSamples int
}

// NewFramer returns a framer emitting frames of frameMS milliseconds.
func NewFramer(sampleRate, frameMS int) Framer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	n := sampleRate * frameMS / 1000
	if n <= 0 {
		n = 1
	}
	return Framer{SampleRate: sampleRate, FrameSamples: n}
}

// Frames lazily converts src into binary frames. Samples are clamped to
// [-1, 1]. Only full frames are emitted while src produces samples; a trailing
// partial frame is emitted when src ends. Each yielded slice is freshly
// allocated and owned by the consumer. The returned sequence pulls from src,
// so it is as restartable as src is.
func (f Framer) Frames(src iter.Seq[float32]) iter.Seq[[]byte] {
	size := f.FrameSamples
	if size <= 0 {
		size = 1
	}
	return func(yield func([]byte) bool) {
		frame := make([]byte, 0, size*2)
		for s := range src {
			frame = binary.LittleEndian.AppendUint16(frame, uint16(PCM16(s)))
			if len(frame) == size*2 {
				if !yield(frame) {
					return
				}
				frame = make([]byte, 0, size*2)
			}
		}
		if len(frame) > 0 {
			yield(frame)
		}
	}
}

// PCM16 converts one normalized sample.
func PCM16(s float32) int16 {
	switch {
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	case s != s:
		s = 0
	}
	return int16(s * pcmScale)
}

// SamplesFromPCM16LE yields normalized samples from PCM16LE bytes. A dangling
// odd byte is ignored.
func SamplesFromPCM16LE(pcm []byte) iter.Seq[float32] {
	return func(yield func(float32) bool) {
		for i := 0; i+1 < len(pcm); i += 2 {
			v := int16(binary.LittleEndian.Uint16(pcm[i:]))
			if !yield(float32(v) / pcmScale) {
				return
			}
		}
	}
}
