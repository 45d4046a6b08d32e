package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// WhisperSampleRate is the rate the engine expects its input in.
const WhisperSampleRate = 16000

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
)

type Format struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// PCM is decoded audio mixed down to one channel, scaled to [-1, 1].
type PCM struct {
	Format  Format
	Samples []float32
}

// Duration of the decoded audio.
func (p PCM) Duration() float64 {
	if p.Format.SampleRate == 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.Format.SampleRate)
}

// CheckWhisperFormat reports why f is not 16 kHz mono, or nil.
func CheckWhisperFormat(f Format) error {
	if f.SampleRate != WhisperSampleRate {
		return fmt.Errorf("sample rate %d Hz, expected %d Hz", f.SampleRate, WhisperSampleRate)
	}
	if f.Channels != 1 {
		return fmt.Errorf("%d channels, expected mono", f.Channels)
	}
	return nil
}

// Inspect reads only the header of the WAV file at path.
func Inspect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	format, _, _, err := readHeader(f)
	return format, err
}

func ReadWAV(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	format, dataOffset, dataSize, err := readHeader(f)
	if err != nil {
		return PCM{}, err
	}

	if _, err := f.Seek(dataOffset, io.SeekStart); err != nil {
		return PCM{}, fmt.Errorf("seek wav data offset: %w", err)
	}

	data := make([]byte, dataSize)
	n, err := io.ReadFull(f, data)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return PCM{}, fmt.Errorf("read wav data: %w", err)
	}

	samples, err := decodeMono(data[:n], format)
	if err != nil {
		return PCM{}, err
	}
	return PCM{Format: format, Samples: samples}, nil
}

func readHeader(f io.ReadSeeker) (Format, int64, uint32, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Format{}, 0, 0, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		return Format{}, 0, 0, fmt.Errorf("read wav header: %w", err)
	}

	if string(header[:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return Format{}, 0, 0, ErrInvalidWAV
	}

	var (
		format     Format
		dataOffset int64
		dataSize   uint32
		hasFmt     bool
		hasData    bool
	)

	for !hasData || !hasFmt {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(f, chunkHeader); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return Format{}, 0, 0, fmt.Errorf("read wav chunk header: %w", err)
		}

		chunkID := string(chunkHeader[:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		chunkStart, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return Format{}, 0, 0, fmt.Errorf("seek wav chunk start: %w", err)
		}

		skip := int64(chunkSize)
		if chunkSize%2 != 0 {
			skip++
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return Format{}, 0, 0, ErrInvalidWAV
			}
			buf := make([]byte, 16)
			if _, err := io.ReadFull(f, buf); err != nil {
				return Format{}, 0, 0, fmt.Errorf("read wav fmt chunk: %w", err)
			}
			format = Format{
				AudioFormat:   binary.LittleEndian.Uint16(buf[0:2]),
				Channels:      binary.LittleEndian.Uint16(buf[2:4]),
				SampleRate:    binary.LittleEndian.Uint32(buf[4:8]),
				BitsPerSample: binary.LittleEndian.Uint16(buf[14:16]),
			}
			hasFmt = true
		case "data":
			dataOffset = chunkStart
			dataSize = chunkSize
			hasData = true
		}

		if _, err := f.Seek(chunkStart+skip, io.SeekStart); err != nil {
			return Format{}, 0, 0, fmt.Errorf("seek past wav chunk %s: %w", chunkID, err)
		}
	}

	if !hasFmt || !hasData {
		return Format{}, 0, 0, ErrInvalidWAV
	}
	if format.Channels == 0 {
		return Format{}, 0, 0, ErrInvalidWAV
	}
	if err := validateFormat(format.AudioFormat, format.BitsPerSample); err != nil {
		return Format{}, 0, 0, err
	}

	return format, dataOffset, dataSize, nil
}

func validateFormat(audioFormat, bitsPerSample uint16) error {
	switch audioFormat {
	case 1:
		switch bitsPerSample {
		case 8, 16, 24, 32:
			return nil
		}
	case 3:
		switch bitsPerSample {
		case 32, 64:
			return nil
		}
	}
	return ErrUnsupportedWAV
}

// decodeMono averages interleaved channels into one.
func decodeMono(data []byte, format Format) ([]float32, error) {
	bytesPerSample := int(format.BitsPerSample / 8)
	frameSize := bytesPerSample * int(format.Channels)
	if frameSize <= 0 {
		return nil, ErrUnsupportedWAV
	}

	frames := len(data) / frameSize
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		frame := data[i*frameSize : (i+1)*frameSize]
		var sum float64
		for ch := 0; ch < int(format.Channels); ch++ {
			value, err := decodeSample(frame[ch*bytesPerSample:(ch+1)*bytesPerSample], format.AudioFormat, format.BitsPerSample)
			if err != nil {
				return nil, err
			}
			sum += value
		}
		out[i] = float32(sum / float64(format.Channels))
	}
	return out, nil
}

func decodeSample(sample []byte, audioFormat, bitsPerSample uint16) (float64, error) {
	if audioFormat == 3 {
		switch bitsPerSample {
		case 32:
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(sample))), nil
		case 64:
			return math.Float64frombits(binary.LittleEndian.Uint64(sample)), nil
		default:
			return 0, ErrUnsupportedWAV
		}
	}

	switch bitsPerSample {
	case 8:
		return (float64(sample[0]) - 128.0) / 128.0, nil
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(sample))) / 32768.0, nil
	case 24:
		v := int32(sample[0]) | int32(sample[1])<<8 | int32(sample[2])<<16
		if v&0x800000 != 0 {
			v |= ^0xFFFFFF
		}
		return float64(v) / 8388608.0, nil
	case 32:
		return float64(int32(binary.LittleEndian.Uint32(sample))) / 2147483648.0, nil
	default:
		return 0, ErrUnsupportedWAV
	}
}
