// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a metered speech synthesis service (e.g., ElevenLabs)
// behind two capabilities: enumerating the voice catalogue and turning a piece
// of text into an encoded audio clip. The voice catalogue and the clip cache
// depend only on this interface, so they can be exercised without the live
// service.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue.
	//
	// Returns an error if the provider cannot be reached or if ctx is cancelled
	// before the list is retrieved.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// Synthesize renders text with the given voice and returns the complete
	// encoded clip (MP3 for the bundled providers). The call blocks until the
	// whole clip is available or ctx is cancelled.
	//
	// Failures are reported as *ProviderError.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) ([]byte, error)
}

// ErrEmptyAudio is wrapped into a [ProviderError] when synthesis finished
// without producing any audio.
var ErrEmptyAudio = errors.New("tts: provider returned no audio")

// ProviderError reports a failed call to a TTS backend. Callers match it with
// errors.As to tell synthesis failures apart from platform or input errors.
type ProviderError struct {
	// Provider is the backend name (e.g. "elevenlabs").
	Provider string

	// Op is the failed operation ("synthesize", "list voices").
	Op string

	// Err is the underlying cause.
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// WrapError returns err wrapped in a *ProviderError unless it already is one.
// A nil err stays nil.
func WrapError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, Op: op, Err: err}
}
