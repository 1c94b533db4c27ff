package audio

import "log/slog"

// Resampler converts a continuous stream of 16-bit interleaved stereo PCM from
// one sample rate to another using linear interpolation. Unlike a one-shot
// conversion it carries the last sample frame and the fractional read position
// across calls, so chunk boundaries do not click or drift.
//
// Create one per stream; not designed for shared use across goroutines.
type Resampler struct {
	src, dst int
	step     float64

	pos    float64 // read position relative to the start of the working buffer
	last   [2]int16
	primed bool
}

// NewResampler returns a Resampler from srcRate to dstRate. Non-positive rates
// produce a pass-through resampler.
func NewResampler(srcRate, dstRate int) *Resampler {
	r := &Resampler{src: srcRate, dst: dstRate}
	if srcRate > 0 && dstRate > 0 {
		r.step = float64(srcRate) / float64(dstRate)
	}
	return r
}

// Passthrough reports whether Process returns its input unchanged.
func (r *Resampler) Passthrough() bool {
	return r.step == 0 || r.src == r.dst
}

// Process resamples one chunk. pcm must hold whole stereo frames (a multiple
// of 4 bytes); a trailing partial frame is ignored.
func (r *Resampler) Process(pcm []byte) []byte {
	if r.Passthrough() {
		return pcm
	}
	if rem := len(pcm) % 4; rem != 0 {
		slog.Debug("resampler: dropping partial stereo frame", "bytes", rem)
		pcm = pcm[:len(pcm)-rem]
	}

	frames := make([][2]int16, 0, len(pcm)/4+1)
	if r.primed {
		frames = append(frames, r.last)
	}
	for i := 0; i+3 < len(pcm); i += 4 {
		frames = append(frames, [2]int16{
			int16(pcm[i]) | int16(pcm[i+1])<<8,
			int16(pcm[i+2]) | int16(pcm[i+3])<<8,
		})
	}
	n := len(frames)
	if n < 2 {
		if n == 1 {
			r.last, r.primed = frames[0], true
		}
		return nil
	}

	out := make([]byte, 0, int(float64(n)/r.step+1)*4)
	for r.pos+1 < float64(n) {
		idx := int(r.pos)
		frac := r.pos - float64(idx)
		a, b := frames[idx], frames[idx+1]
		l := int16(float64(a[0])*(1-frac) + float64(b[0])*frac)
		rr := int16(float64(a[1])*(1-frac) + float64(b[1])*frac)
		out = append(out, byte(l), byte(l>>8), byte(rr), byte(rr>>8))
		r.pos += r.step
	}

	r.pos -= float64(n - 1)
	r.last, r.primed = frames[n-1], true
	return out
}
