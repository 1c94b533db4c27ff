package voice

import (
	"errors"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Defaults for [Builder].
const (
	DefaultMaxLength = 420
	DefaultUnitCost  = 0.0002 // USD per character
)

var (
	// ErrTooLong is returned when the text to speak exceeds the length ceiling.
	ErrTooLong = errors.New("voice: text too long")

	// ErrEmptyText is returned when nothing is left to speak after the voice
	// prefix has been removed.
	ErrEmptyText = errors.New("voice: nothing to say")
)

// Request is an immutable synthesis request derived from one chat message.
type Request struct {
	// RawText is the message text after the command prefix was removed.
	RawText string `json:"raw_text"`

	SenderID  string `json:"sender_id"`
	MessageID string `json:"message_id"`

	// Voice is the name of the resolved voice; VoiceHandle the provider id.
	Voice       string `json:"voice"`
	VoiceHandle string `json:"voice_handle"`
	Explicit    bool   `json:"explicit"`

	// Text is what gets spoken.
	Text string `json:"text"`

	// Prompt is set for generated answers and holds the question that was asked.
	Prompt string `json:"prompt,omitempty"`

	EstimatedCost float64 `json:"estimated_cost"`

	// Hint is an advisory "did you mean" voice name. Not persisted.
	Hint string `json:"-"`
}

// Builder validates text and turns it into a [Request].
type Builder struct {
	Catalog   *Catalog
	MaxLength int
	UnitCost  float64
}

// Build resolves the voice for text and validates what remains. text must
// already have the command prefix removed.
func (b Builder) Build(text, senderID, messageID string) (Request, error) {
	if b.Catalog == nil || b.Catalog.Len() == 0 {
		return Request{}, ErrNoVoices
	}
	res := b.Catalog.Resolve(text, Seed(messageID))
	if res.Text == "" {
		return Request{}, ErrEmptyText
	}
	if utf8.RuneCountInString(res.Text) > b.maxLength() {
		return Request{}, ErrTooLong
	}
	return Request{
		RawText:       text,
		SenderID:      senderID,
		MessageID:     messageID,
		Voice:         res.Voice.Name,
		VoiceHandle:   res.Voice.Handle,
		Explicit:      res.Explicit,
		Text:          res.Text,
		EstimatedCost: EstimateCost(res.Text, b.unitCost()),
		Hint:          res.Hint,
	}, nil
}

// WithAnswer returns a copy of req that speaks answer instead of req.Text.
// The question moves to Prompt. Answers longer than the ceiling are cut at
// the last word boundary that fits.
func (b Builder) WithAnswer(req Request, answer string) (Request, error) {
	answer = Truncate(strings.TrimSpace(answer), b.maxLength())
	if answer == "" {
		return Request{}, ErrEmptyText
	}
	out := req
	out.Prompt = req.Text
	out.Text = answer
	out.EstimatedCost = EstimateCost(answer, b.unitCost())
	return out, nil
}

func (b Builder) maxLength() int {
	if b.MaxLength > 0 {
		return b.MaxLength
	}
	return DefaultMaxLength
}

func (b Builder) unitCost() float64 {
	if b.UnitCost > 0 {
		return b.UnitCost
	}
	return DefaultUnitCost
}

// EstimateCost returns the display cost of speaking text at unit USD per
// character, rounded to 8 decimal places.
func EstimateCost(text string, unit float64) float64 {
	cost := float64(utf8.RuneCountInString(text)) * unit
	return math.Round(cost*1e8) / 1e8
}

// Truncate shortens text to at most max runes, preferring to cut at
// whitespace.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)[:max]
	cut := len(runes)
	for i := len(runes) - 1; i > max/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimSpace(string(runes[:cut]))
}
