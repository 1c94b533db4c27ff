// Package reply tracks the visible progress of one request on the message
// that triggered it: reaction markers on the message and a status embed in
// the channel.
//
// A [Lifecycle] moves strictly forward through its stages. Calls made out of
// order return [ErrTransition] and change nothing, so the markers on a
// message always reflect a single consistent run.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Reaction markers.
const (
	MarkerPending = "⏳"
	MarkerReplay  = "🔄"
	MarkerPlaying = "🔊"
	MarkerSuccess = "✅"
	MarkerFailure = "❌"
)

// Embed colours.
const (
	ColorQueued  = 0x808080
	ColorPlaying = 0x007fcd
	ColorSuccess = 0x00ff00
	ColorFailure = 0xff0000
)

// ErrTransition is returned for a stage change that is not allowed from the
// current stage.
var ErrTransition = errors.New("reply: invalid stage transition")

// Stage is a step of the lifecycle.
type Stage int

const (
	Created Stage = iota
	Pending
	Ready
	Working
	Playing
	Succeeded
	Failed
)

func (s Stage) String() string {
	switch s {
	case Created:
		return "created"
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Working:
		return "working"
	case Playing:
		return "playing"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "stage(" + strconv.Itoa(int(s)) + ")"
	}
}

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool { return s == Succeeded || s == Failed }

// Surface is where a lifecycle becomes visible. Implementations talk to the
// chat platform.
type Surface interface {
	// AddMarker reacts to the originating message.
	AddMarker(ctx context.Context, marker string) error

	// RemoveMarker removes the bot's own reaction. Removing a marker that is
	// not present is not an error.
	RemoveMarker(ctx context.Context, marker string) error

	// Publish shows st. The first call creates the status message, later
	// calls edit it.
	Publish(ctx context.Context, st Status) error

	// Notify posts a short plain-text message in the channel.
	Notify(ctx context.Context, text string) error
}

// PlayInfo is what the cache reported for the clip about to play.
type PlayInfo struct {
	Elapsed time.Duration
	Cost    float64
	Cached  bool
}

// Lifecycle drives one run of a request. It is safe for concurrent use.
type Lifecycle struct {
	surface Surface
	mention string

	mu       sync.Mutex
	stage    Stage
	status   Status
	attached bool
}

// New creates a lifecycle on surface. mention addresses the requester in
// failure notices (e.g. "<@123>").
func New(surface Surface, mention string) *Lifecycle {
	return &Lifecycle{surface: surface, mention: mention}
}

// Stage returns the current stage.
func (l *Lifecycle) Stage() Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stage
}

// Status returns the last published status.
func (l *Lifecycle) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Begin marks the request as pending. On a replay it first clears the
// markers the earlier run left on the message.
func (l *Lifecycle) Begin(ctx context.Context, replay bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.advance(Created, Pending); err != nil {
		return err
	}
	var errs []error
	if replay {
		for _, m := range []string{MarkerSuccess, MarkerFailure, MarkerPending, MarkerPlaying} {
			errs = append(errs, l.surface.RemoveMarker(ctx, m))
		}
	}
	errs = append(errs, l.surface.AddMarker(ctx, MarkerPending))
	return errors.Join(errs...)
}

// Attach publishes the initial status and offers the replay marker.
func (l *Lifecycle) Attach(ctx context.Context, st Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.advance(Pending, Ready); err != nil {
		return err
	}
	st.Color = ColorQueued
	l.status = st
	l.attached = true
	return errors.Join(
		l.surface.Publish(ctx, l.status),
		l.surface.AddMarker(ctx, MarkerReplay),
	)
}

// Working marks that the connection and clip are being prepared.
func (l *Lifecycle) Working(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.advance(Ready, Working)
}

// Playing records the clip details and shows that audio is playing.
func (l *Lifecycle) Playing(ctx context.Context, info PlayInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.advance(Working, Playing); err != nil {
		return err
	}
	l.status.Cost = info.Cost
	l.status.Cached = info.Cached
	l.status.Elapsed = info.Elapsed
	l.status.Color = ColorPlaying
	return errors.Join(
		l.surface.Publish(ctx, l.status),
		l.surface.RemoveMarker(ctx, MarkerPending),
		l.surface.AddMarker(ctx, MarkerPlaying),
	)
}

// Succeed marks the clip as fully played.
func (l *Lifecycle) Succeed(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.advance(Playing, Succeeded); err != nil {
		return err
	}
	l.status.Color = ColorSuccess
	return errors.Join(
		l.surface.Publish(ctx, l.status),
		l.surface.RemoveMarker(ctx, MarkerPlaying),
		l.surface.AddMarker(ctx, MarkerSuccess),
	)
}

// Fail ends the run with reason. It is allowed from every non-terminal
// stage; before Attach there is no status to update, so only the marker and
// the notice are shown.
func (l *Lifecycle) Fail(ctx context.Context, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	from := l.stage
	if from.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, from, Failed)
	}
	l.stage = Failed

	var errs []error
	if l.attached {
		l.status.Color = ColorFailure
		l.status.Text = "Failed! " + reason
		errs = append(errs, l.surface.Publish(ctx, l.status))
	}
	switch from {
	case Pending, Ready, Working:
		errs = append(errs, l.surface.RemoveMarker(ctx, MarkerPending))
	case Playing:
		errs = append(errs, l.surface.RemoveMarker(ctx, MarkerPlaying))
	}
	errs = append(errs, l.surface.AddMarker(ctx, MarkerFailure))
	errs = append(errs, l.surface.Notify(ctx, strings.TrimSpace(l.mention+" "+reason)))
	return errors.Join(errs...)
}

func (l *Lifecycle) advance(from, to Stage) error {
	if l.stage != from {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, l.stage, to)
	}
	l.stage = to
	return nil
}
