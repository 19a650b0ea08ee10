// Package storage names recordings and persists the most recent one.
package storage

import (
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// StampLayout is fixed width, so lexical order matches chronological order.
const StampLayout = "20060102T150405.000000000Z"

// Namer hands out recording destinations derived from the wall clock.
type Namer struct {
	dir string
	ext string
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewNamer returns a namer producing <dir>/<UTC timestamp>.<ext>.
func NewNamer(dir, ext string) *Namer {
	return &Namer{
		dir: dir,
		ext: strings.TrimPrefix(ext, "."),
		now: time.Now,
	}
}

// Next returns a destination that sorts after every previous one, even when
// the clock stands still or steps backwards.
func (n *Namer) Next() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	stamp := n.now().UTC().Round(0)
	if !stamp.After(n.last) {
		stamp = n.last.Add(time.Nanosecond)
	}
	n.last = stamp

	name := stamp.Format(StampLayout)
	if n.ext != "" {
		name += "." + n.ext
	}
	return filepath.Join(n.dir, name)
}

// ParseStamp recovers the capture time from a destination produced by Next.
func ParseStamp(dest string) (time.Time, bool) {
	base := filepath.Base(dest)
	if i := strings.IndexByte(base, 'Z'); i >= 0 {
		base = base[:i+1]
	}
	t, err := time.Parse(StampLayout, base)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
