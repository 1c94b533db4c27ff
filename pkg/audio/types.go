package audio

import "fmt"

// Format describes the sample rate and channel count of 16-bit PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// Discord voice expects 48 kHz stereo.
var DiscordFormat = Format{SampleRate: 48000, Channels: 2}

// BytesPerFrame returns the size of one interleaved sample frame in bytes.
func (f Format) BytesPerFrame() int {
	return f.Channels * 2
}

// String returns a human-readable form, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
