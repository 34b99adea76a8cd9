// Package canvas holds the authoritative raster built from admitted draw
// events, and encodes it for late joiners and for persistence.
package canvas

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"drawing-board/internal/clock"
)

// Compositor owns the shared raster. Apply and Capture are safe for
// concurrent use; event ordering is the caller's responsibility.
type Compositor struct {
	maxSize float64
	clock   clock.Clock

	mu        sync.Mutex
	img       *image.RGBA
	revision  uint64
	mutatedAt time.Time
	snapshot  *Snapshot
	raster    raster

	persistMu sync.Mutex
	persisted uint64
}

func New(size int, maxBrushSize float64, clk clock.Clock) *Compositor {
	if clk == nil {
		clk = clock.Real()
	}
	return &Compositor{
		maxSize:   maxBrushSize,
		clock:     clk,
		img:       image.NewRGBA(image.Rect(0, 0, size, size)),
		mutatedAt: clk.Now(),
	}
}

// Validate reports whether ev could be applied, without applying it.
func (c *Compositor) Validate(ev DrawEvent) error {
	return ev.Validate(c.img.Bounds(), c.maxSize)
}

// Apply validates ev and blends it into the raster.
func (c *Compositor) Apply(ev DrawEvent) error {
	if err := c.Validate(ev); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.raster.blend(c.img, ev); err != nil {
		return err
	}
	c.revision++
	c.mutatedAt = c.clock.Now()
	return nil
}

// Revision counts the mutations applied so far.
func (c *Compositor) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// Capture returns a snapshot of the raster as of now. While nothing has
// been drawn since the previous capture the same snapshot is returned,
// so its encoding is shared.
func (c *Compositor) Capture() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot != nil && c.snapshot.revision == c.revision {
		return c.snapshot
	}

	clone := image.NewRGBA(c.img.Bounds())
	copy(clone.Pix, c.img.Pix)

	c.snapshot = &Snapshot{
		revision: c.revision,
		modTime:  c.mutatedAt,
		img:      clone,
	}
	return c.snapshot
}

// Snapshot is an immutable copy of the raster, PNG-encoded on first use.
type Snapshot struct {
	revision uint64
	modTime  time.Time

	once sync.Once
	img  *image.RGBA
	data []byte
	etag string
	err  error
}

func (s *Snapshot) Revision() uint64 { return s.revision }

// ModTime is when the raster last changed before the capture.
func (s *Snapshot) ModTime() time.Time { return s.modTime }

func (s *Snapshot) encode() {
	var buf bytes.Buffer
	if err := png.Encode(&buf, s.img); err != nil {
		s.err = err
		return
	}

	sum := blake3.Sum256(buf.Bytes())
	s.data = buf.Bytes()
	s.etag = `"` + hex.EncodeToString(sum[:16]) + `"`
	s.img = nil
}

// Bytes returns the PNG encoding.
func (s *Snapshot) Bytes() ([]byte, error) {
	s.once.Do(s.encode)
	return s.data, s.err
}

// ETag is a strong validator derived from the PNG bytes.
func (s *Snapshot) ETag() (string, error) {
	s.once.Do(s.encode)
	return s.etag, s.err
}

// DataURL renders the snapshot the way browsers load it into an <img>.
func (s *Snapshot) DataURL() (string, error) {
	b, err := s.Bytes()
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b), nil
}
