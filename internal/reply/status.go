package reply

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the content of the status embed.
type Status struct {
	// Text is the embed description: the spoken text, or the failure.
	Text string

	Voice  string
	Random bool

	// Author wrote the original message; Requester triggered a replay.
	// Requester is empty for first runs.
	Author    string
	Requester string

	Cost    float64
	Cached  bool
	Elapsed time.Duration

	// Hint is a suggested voice name for a misspelled prefix.
	Hint string

	Color int
}

// Footer renders the embed footer line.
func (s Status) Footer() string {
	var b strings.Builder
	b.WriteString("- ")
	b.WriteString(s.Voice)
	if s.Random {
		b.WriteString(" (random)")
	}
	fmt.Fprintf(&b, " (by @%s)", s.Author)
	if s.Requester != "" {
		fmt.Fprintf(&b, " (🔄 by @%s)", s.Requester)
	}
	if s.Cached {
		b.WriteString(" cost: $0 (cached!)")
	} else {
		b.WriteString(" cost: $" + strconv.FormatFloat(s.Cost, 'f', -1, 64))
	}
	if s.Elapsed > 0 {
		fmt.Fprintf(&b, " in %.2fs", s.Elapsed.Seconds())
	}
	if s.Hint != "" {
		fmt.Fprintf(&b, " (did you mean %q?)", s.Hint)
	}
	return b.String()
}
