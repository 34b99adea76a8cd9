package canvas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/draw"
	"image/png"
	"log/slog"
	"time"

	"drawing-board/internal/store"
)

var (
	ErrDecode  = errors.New("decode persisted canvas")
	ErrPersist = errors.New("persist canvas")
)

// Load paints the persisted image onto the raster. An empty store leaves
// the canvas blank; an undecodable image is an error the caller must not
// ignore.
func (c *Compositor) Load(ctx context.Context, st store.Store) error {
	data, err := st.Load(ctx)
	if errors.Is(err, store.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load canvas: %w", err)
	}

	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	c.mu.Lock()
	draw.Draw(c.img, c.img.Bounds(), src, src.Bounds().Min, draw.Over)
	c.revision++
	c.mutatedAt = c.clock.Now()
	rev := c.revision
	c.mu.Unlock()

	c.persistMu.Lock()
	c.persisted = rev
	c.persistMu.Unlock()
	return nil
}

// Persist encodes the current raster and writes it to st. Only the raster
// copy happens under the raster lock, so live drawing is never held up by
// encoding or I/O. Nothing is written when the store already holds the
// current revision.
func (c *Compositor) Persist(ctx context.Context, st store.Store) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	snap := c.Capture()
	if snap.Revision() == c.persisted {
		return nil
	}

	data, err := snap.Bytes()
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersist, err)
	}
	if err := st.Save(ctx, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	c.persisted = snap.Revision()
	return nil
}

// Autosave persists on every interval tick until ctx is done. Failures
// are logged and retried on the next tick.
func (c *Compositor) Autosave(ctx context.Context, logger *slog.Logger, st store.Store, interval, timeout time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				saveCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				start := time.Now()
				if err := c.Persist(saveCtx, st); err != nil {
					logger.Error("autosave failed", slog.Any("err", err))
					return
				}
				logger.Debug("autosave", slog.Duration("took", time.Since(start)))
			}()
		}
	}
}
