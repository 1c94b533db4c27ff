package discord

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// Discord voice carries 48 kHz stereo Opus in 20 ms frames.
const (
	opusSampleRate = 48000
	opusChannels   = 2

	// opusFrameSize is samples per channel in one 20 ms frame (960).
	opusFrameSize = opusSampleRate / 50

	// opusFrameBytes is one frame of interleaved 16-bit PCM (3840).
	opusFrameBytes = opusFrameSize * opusChannels * 2

	// trailingSilence frames end every clip so the receiving side does not
	// interpolate past the last sound.
	trailingSilence = 5
)

// opusSilence is the Opus packet for one frame of silence.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

// opusEncoder turns PCM frames into Opus packets for one playback. It reuses
// its sample buffer and is not safe for concurrent use.
type opusEncoder struct {
	enc     *gopus.Encoder
	samples []int16
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc, samples: make([]int16, opusFrameSize*opusChannels)}, nil
}

// encode encodes one full frame of little-endian PCM.
func (e *opusEncoder) encode(frame []byte) ([]byte, error) {
	if len(frame) != opusFrameBytes {
		return nil, fmt.Errorf("discord: opus encode: frame is %d bytes, want %d", len(frame), opusFrameBytes)
	}
	for i := range e.samples {
		e.samples[i] = int16(binary.LittleEndian.Uint16(frame[2*i:]))
	}
	packet, err := e.enc.Encode(e.samples, opusFrameSize, opusFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return packet, nil
}
