package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

const readChunk = 16 * 1024

// PCMStream turns a source of 16-bit stereo PCM into fixed-size frames at the
// target rate. The final partial frame is padded with silence.
type PCMStream struct {
	src       io.Reader
	resampler *Resampler
	frameSize int

	buf      []byte // resampled bytes not yet handed out
	leftover []byte // source bytes that did not fill a whole stereo frame
	eof      bool
}

// NewPCMStream wraps src, which yields 16-bit little-endian stereo PCM at
// srcRate, and emits frames of frameSize bytes at DiscordFormat.
func NewPCMStream(src io.Reader, srcRate, frameSize int) (*PCMStream, error) {
	if frameSize <= 0 || frameSize%DiscordFormat.BytesPerFrame() != 0 {
		return nil, fmt.Errorf("audio: frame size %d is not a whole number of stereo frames", frameSize)
	}
	return &PCMStream{
		src:       src,
		resampler: NewResampler(srcRate, DiscordFormat.SampleRate),
		frameSize: frameSize,
	}, nil
}

// DecodeMP3 returns a PCMStream over an MP3 clip, resampled to 48 kHz stereo.
func DecodeMP3(clip io.Reader, frameSize int) (*PCMStream, error) {
	dec, err := mp3.NewDecoder(clip)
	if err != nil {
		return nil, fmt.Errorf("audio: decode mp3: %w", err)
	}
	// go-mp3 always yields 16-bit stereo at the stream's own rate.
	return NewPCMStream(dec, dec.SampleRate(), frameSize)
}

// NextFrame returns the next frameSize bytes of PCM. It returns io.EOF once the
// source is exhausted and every buffered sample has been delivered.
func (s *PCMStream) NextFrame() ([]byte, error) {
	for len(s.buf) < s.frameSize && !s.eof {
		if err := s.fill(); err != nil {
			return nil, err
		}
	}
	if len(s.buf) == 0 {
		return nil, io.EOF
	}

	frame := make([]byte, s.frameSize)
	n := copy(frame, s.buf)
	s.buf = s.buf[n:]
	return frame, nil
}

func (s *PCMStream) fill() error {
	chunk := make([]byte, readChunk)
	n, err := s.src.Read(chunk)
	if n > 0 {
		data := append(s.leftover, chunk[:n]...)
		whole := len(data) - len(data)%4
		s.leftover = append([]byte(nil), data[whole:]...)
		s.buf = append(s.buf, s.resampler.Process(data[:whole])...)
	}
	if errors.Is(err, io.EOF) {
		s.eof = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("audio: read pcm: %w", err)
	}
	return nil
}
