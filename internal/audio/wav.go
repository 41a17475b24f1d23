package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	DefaultSampleRate = 16000
	bitsPerSample     = 16
	formatPCM         = 1
)

// Clip is mono PCM16LE audio with its sample rate.
type Clip struct {
	PCM        []byte
	SampleRate int
}

// DurationMS returns the clip length in milliseconds.
func (c Clip) DurationMS() int {
	if c.SampleRate <= 0 {
		return 0
	}
	return len(c.PCM) / 2 * 1000 / c.SampleRate
}

// EncodeWAV wraps mono PCM16LE samples in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	if err := WriteWAV(&buf, pcm, sampleRate, 1); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAV writes interleaved PCM16LE samples with the given channel count as
// a canonical 44-byte-header WAV stream.
func WriteWAV(out io.Writer, pcm []byte, sampleRate, channels int) error {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		return fmt.Errorf("wav: invalid channel count %d", channels)
	}
	blockAlign := channels * bitsPerSample / 8
	if len(pcm)%blockAlign != 0 {
		return fmt.Errorf("wav: pcm length %d is not a multiple of block size %d", len(pcm), blockAlign)
	}

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], formatPCM)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := out.Write(header); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

// DecodeWAV extracts PCM16 samples from a WAV container. Multi-channel audio
// is downmixed to mono by averaging.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 12 {
		return Clip{}, errors.New("wav: too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, errors.New("wav: unsupported header")
	}

	var (
		haveFmt    bool
		format     uint16
		channels   int
		sampleRate int
		bits       uint16
		pcm        []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return Clip{}, errors.New("wav: invalid chunk size")
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return Clip{}, errors.New("wav: invalid fmt chunk")
			}
			format = binary.LittleEndian.Uint16(chunk[0:2])
			channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bits = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			pcm = chunk
		}
		off += size + size%2
	}

	switch {
	case !haveFmt:
		return Clip{}, errors.New("wav: fmt chunk missing")
	case len(pcm) == 0:
		return Clip{}, errors.New("wav: data chunk missing")
	case format != formatPCM:
		return Clip{}, fmt.Errorf("wav: unsupported audio format %d", format)
	case bits != bitsPerSample:
		return Clip{}, fmt.Errorf("wav: unsupported bits per sample %d", bits)
	case channels == 0:
		return Clip{}, errors.New("wav: zero channels")
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	if channels == 1 {
		out := make([]byte, len(pcm)-len(pcm)%2)
		copy(out, pcm)
		return Clip{PCM: out, SampleRate: sampleRate}, nil
	}

	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	if frames == 0 {
		return Clip{}, errors.New("wav: data shorter than one frame")
	}
	mono := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		base := i * frameBytes
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(int16(binary.LittleEndian.Uint16(pcm[base+ch*2:])))
		}
		binary.LittleEndian.PutUint16(mono[i*2:], uint16(int16(sum/channels)))
	}
	return Clip{PCM: mono, SampleRate: sampleRate}, nil
}

// Silence returns ms milliseconds of zeroed mono PCM16LE samples.
func Silence(ms, sampleRate int) []byte {
	if ms <= 0 {
		return nil
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return make([]byte, sampleRate*ms/1000*2)
}
