package tts

// CategoryPremade is the catalogue category of the provider's built-in voices.
// Voice catalogues built for chat use skip these.
const CategoryPremade = "premade"

// VoiceProfile describes a single voice offered by a TTS provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes. The "category" key
	// carries the provider's catalogue category (e.g. "premade", "cloned").
	Metadata map[string]string
}

// Category returns the catalogue category recorded in Metadata, or "".
func (v VoiceProfile) Category() string {
	if v.Metadata == nil {
		return ""
	}
	return v.Metadata["category"]
}

// VoiceSettings tunes a single synthesis request. Zero values select the
// provider defaults.
type VoiceSettings struct {
	// Stability in the range [0, 1]. Lower values are more expressive.
	Stability float64

	// SimilarityBoost in the range [0, 1].
	SimilarityBoost float64
}
