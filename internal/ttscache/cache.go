// Package ttscache stores synthesized clips on disk keyed by message identity.
//
// Every clip lives at <dir>/<key>.mp3 next to a <key>.json sidecar holding the
// request that produced it. A clip is written once and never changed, so a
// replay of the same message is free. Concurrent misses for one key are
// collapsed into a single provider call.
package ttscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/echovox/internal/voice"
	"github.com/MrWong99/echovox/pkg/provider/tts"
)

const (
	clipExt    = ".mp3"
	sidecarExt = ".json"
)

// ErrInvalidKey is returned for keys that are not safe file names.
var ErrInvalidKey = errors.New("ttscache: invalid key")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// SynthesizeFunc produces the encoded clip for a cache miss.
type SynthesizeFunc func(ctx context.Context) ([]byte, error)

// Entry describes a cached clip.
type Entry struct {
	Key     string
	Path    string
	Request voice.Request

	// Elapsed is the synthesis time; zero for hits.
	Elapsed time.Duration

	// Cost is what this call spent; zero for hits and collapsed followers.
	Cost float64

	Cached bool
}

// Stats summarises the cache contents.
type Stats struct {
	Clips int
	Bytes int64

	// Spend is the sum of estimated costs recorded in the sidecars.
	Spend float64
}

// Observer receives cache outcomes. It is optional.
type Observer interface {
	CacheResult(ctx context.Context, hit bool)
	SynthesisDone(ctx context.Context, elapsed time.Duration, err error)
}

// Cache is a directory of clips. It is safe for concurrent use.
type Cache struct {
	dir      string
	group    singleflight.Group
	observer Observer
}

// Option configures a Cache.
type Option func(*Cache)

// WithObserver reports hits, misses and synthesis timing to o.
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// New opens (and creates if needed) the cache directory.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("ttscache: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ttscache: create dir: %w", err)
	}
	c := &Cache{dir: dir}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns the clip path for key without checking that it exists.
func (c *Cache) Path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(c.dir, key+clipExt), nil
}

// Has reports whether a clip for key exists.
func (c *Cache) Has(key string) bool {
	p, err := c.Path(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Lookup returns the cached entry for key. The request is read from the
// sidecar when present.
func (c *Cache) Lookup(key string) (Entry, bool) {
	p, err := c.Path(key)
	if err != nil {
		return Entry{}, false
	}
	if _, err := os.Stat(p); err != nil {
		return Entry{}, false
	}
	e := Entry{Key: key, Path: p, Cached: true}
	if req, err := c.readSidecar(key); err == nil {
		e.Request = req
	} else if !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("ttscache: unreadable sidecar", "key", key, "err", err)
	}
	return e, true
}

// GetOrCreate returns the clip for key, synthesizing it on a miss. Hits cost
// nothing. Concurrent misses share a single synthesize call; only the caller
// whose call ran sees the cost.
func (c *Cache) GetOrCreate(ctx context.Context, key string, req voice.Request, synthesize SynthesizeFunc) (Entry, error) {
	p, err := c.Path(key)
	if err != nil {
		return Entry{}, err
	}
	if e, ok := c.Lookup(key); ok {
		if e.Request.MessageID == "" {
			e.Request = req
		}
		c.reportHit(ctx, true)
		return e, nil
	}

	leader := false
	v, err, _ := c.group.Do(key, func() (any, error) {
		leader = true
		// Another flight may have finished between Lookup and Do.
		if e, ok := c.Lookup(key); ok {
			return e, nil
		}
		c.reportHit(ctx, false)

		start := time.Now()
		clip, err := synthesize(ctx)
		elapsed := time.Since(start)
		if err == nil && len(clip) == 0 {
			err = tts.ErrEmptyAudio
		}
		if c.observer != nil {
			c.observer.SynthesisDone(ctx, elapsed, err)
		}
		if err != nil {
			return nil, tts.WrapError("ttscache", "synthesize", err)
		}

		if err := writeAtomic(p, clip); err != nil {
			return nil, err
		}
		if err := c.writeSidecar(key, req); err != nil {
			slog.Warn("ttscache: sidecar not written", "key", key, "err", err)
		}
		slog.Debug("ttscache: stored clip", "key", key, "bytes", len(clip), "elapsed", elapsed)
		return Entry{
			Key:     key,
			Path:    p,
			Request: req,
			Elapsed: elapsed,
			Cost:    req.EstimatedCost,
		}, nil
	})
	if err != nil {
		return Entry{}, err
	}

	e := v.(Entry)
	if !leader {
		e.Cost = 0
		e.Elapsed = 0
		e.Cached = true
		c.reportHit(ctx, true)
	}
	return e, nil
}

// Stats walks the cache directory.
func (c *Cache) Stats() (Stats, error) {
	var st Stats
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return st, fmt.Errorf("ttscache: read dir: %w", err)
	}
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, clipExt) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		st.Clips++
		st.Bytes += info.Size()
		if req, err := c.readSidecar(strings.TrimSuffix(name, clipExt)); err == nil {
			st.Spend += req.EstimatedCost
		}
	}
	return st, nil
}

func (c *Cache) reportHit(ctx context.Context, hit bool) {
	if c.observer != nil {
		c.observer.CacheResult(ctx, hit)
	}
}

func (c *Cache) sidecarPath(key string) string {
	return filepath.Join(c.dir, key+sidecarExt)
}

func (c *Cache) readSidecar(key string) (voice.Request, error) {
	var req voice.Request
	data, err := os.ReadFile(c.sidecarPath(key))
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("ttscache: decode sidecar: %w", err)
	}
	return req, nil
}

func (c *Cache) writeSidecar(key string, req voice.Request) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(c.sidecarPath(key), data)
}

// writeAtomic writes data to a temp file in the target directory, syncs it
// and renames it into place. Readers never observe a partial file.
func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("ttscache: create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("ttscache: write: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("ttscache: sync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("ttscache: close: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("ttscache: rename: %w", err)
	}
	return nil
}
