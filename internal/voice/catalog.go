// Package voice turns chat text into a concrete synthesis voice and an
// immutable request.
//
// A [Catalog] is built once at startup from the TTS provider's voice list and
// is read-only afterwards. Text either names a voice explicitly with a leading
// prefix ("crystal: hello", "crystal; hello", "crystal hello") or gets one
// picked deterministically from the message identity, so replaying the same
// message always produces the same voice.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"github.com/cespare/xxhash/v2"

	"github.com/MrWong99/echovox/pkg/provider/tts"
)

// ErrNoVoices is returned when the provider offers no usable voices.
var ErrNoVoices = errors.New("voice: no usable voices in catalog")

// suggestThreshold is the minimum Jaro-Winkler similarity for a suggestion.
const suggestThreshold = 0.85

// Voice is a named synthesis voice.
type Voice struct {
	// Name is the lowercase lookup key.
	Name string

	// Handle is the provider's opaque voice identifier.
	Handle string

	// Profile is the full provider profile, passed back on synthesis.
	Profile tts.VoiceProfile
}

// Resolution is the outcome of [Catalog.Resolve].
type Resolution struct {
	Voice Voice

	// Text is the input with any voice prefix removed and surrounding
	// whitespace trimmed.
	Text string

	// Explicit is true when the text named the voice.
	Explicit bool

	// Hint carries a "did you mean" voice name when the text started with an
	// unknown "word:" prefix. Advisory only.
	Hint string
}

// VoiceLister is the part of a TTS provider the catalog needs.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]tts.VoiceProfile, error)
}

// Catalog is an ordered, read-only set of voices keyed by lowercase name.
// It is safe for concurrent use.
type Catalog struct {
	voices []Voice
	index  map[string]int
}

// NewCatalog builds a catalog from provider profiles, skipping the provider's
// premade voices and unnamed entries. A later profile with the same name
// replaces the earlier one's handle but keeps its position.
func NewCatalog(profiles []tts.VoiceProfile) *Catalog {
	c := &Catalog{index: make(map[string]int, len(profiles))}
	for _, p := range profiles {
		if p.Category() == tts.CategoryPremade {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			continue
		}
		v := Voice{Name: name, Handle: p.ID, Profile: p}
		if i, ok := c.index[name]; ok {
			c.voices[i] = v
			continue
		}
		c.index[name] = len(c.voices)
		c.voices = append(c.voices, v)
	}
	return c
}

// LoadCatalog fetches the provider's voices once and builds the catalog.
func LoadCatalog(ctx context.Context, lister VoiceLister) (*Catalog, error) {
	profiles, err := lister.ListVoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("voice: list voices: %w", err)
	}
	c := NewCatalog(profiles)
	if c.Len() == 0 {
		return nil, ErrNoVoices
	}
	slog.Info("voice catalog loaded", "voices", c.Len(), "names", strings.Join(c.Names(), ", "))
	return c, nil
}

// Len returns the number of voices.
func (c *Catalog) Len() int { return len(c.voices) }

// Names returns the voice names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.voices))
	for i, v := range c.voices {
		names[i] = v.Name
	}
	return names
}

// Lookup returns the voice called name (case-insensitive).
func (c *Catalog) Lookup(name string) (Voice, bool) {
	i, ok := c.index[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Voice{}, false
	}
	return c.voices[i], true
}

// Resolve picks the voice for text. An explicit prefix wins; otherwise the
// voice is chosen from seed, which must be derived from the message identity
// (see [Seed]) so that the choice is reproducible. Resolve on an empty catalog
// returns a zero Voice.
func (c *Catalog) Resolve(text string, seed uint64) Resolution {
	text = strings.TrimSpace(text)
	for _, v := range c.voices {
		if rest, ok := stripPrefix(text, v.Name); ok {
			return Resolution{Voice: v, Text: rest, Explicit: true}
		}
	}

	res := Resolution{Text: text}
	if len(c.voices) > 0 {
		res.Voice = c.voices[pick(seed, len(c.voices))]
	}
	if word, ok := labelWord(text); ok {
		if s, ok := c.Suggest(word); ok {
			res.Hint = s
		}
	}
	return res
}

// Suggest returns the closest voice name to word when it is similar enough.
func (c *Catalog) Suggest(word string) (string, bool) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return "", false
	}
	best, bestScore := "", 0.0
	for _, v := range c.voices {
		if score := matchr.JaroWinkler(word, v.Name, false); score > bestScore {
			best, bestScore = v.Name, score
		}
	}
	if bestScore < suggestThreshold || best == word {
		return "", false
	}
	return best, true
}

// Seed derives the selection seed from a message identifier. Decimal ids
// (Discord snowflakes) map to their numeric value; anything else is hashed.
func Seed(messageID string) uint64 {
	if n, err := strconv.ParseUint(messageID, 10, 64); err == nil {
		return n
	}
	return xxhash.Sum64String(messageID)
}

func pick(seed uint64, n int) int {
	return rand.New(rand.NewPCG(seed, seed)).IntN(n)
}

// stripPrefix reports whether text starts with name followed by ':' or ';'
// or whitespace, and returns the trimmed remainder.
func stripPrefix(text, name string) (string, bool) {
	if len(text) <= len(name) || !strings.EqualFold(text[:len(name)], name) {
		return "", false
	}
	rest := text[len(name):]
	r, size := utf8.DecodeRuneInString(rest)
	switch {
	case r == ':' || r == ';':
		return strings.TrimSpace(rest[size:]), true
	case unicode.IsSpace(r):
		return strings.TrimSpace(rest), true
	}
	return "", false
}

// labelWord extracts "word" from text shaped like "word: ...".
func labelWord(text string) (string, bool) {
	i := strings.IndexByte(text, ':')
	if i <= 0 || i > 32 {
		return "", false
	}
	word := text[:i]
	if strings.IndexFunc(word, unicode.IsSpace) >= 0 {
		return "", false
	}
	return word, true
}
