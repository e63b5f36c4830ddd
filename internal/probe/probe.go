// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package probe answers the question "what is on this capture input right
// now" without opening a streaming session. Missing signal is an
// operational state, never an error: on any failure Probe returns
// Capabilities with HasSignal=false and lets the supervisor retry.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vladimirvivien/go4vl/device"

	"github.com/ManuGH/camcore/internal/config"
	"github.com/ManuGH/camcore/internal/log"
)

// Capabilities is the probe result for one capture input.
type Capabilities struct {
	HasSignal   bool
	Width       int
	Height      int
	Framerate   int
	PixelFormat string // fourcc tag, e.g. "UYVY"
}

func (c Capabilities) String() string {
	if !c.HasSignal {
		return "no-signal"
	}
	return fmt.Sprintf("%dx%d@%d %s", c.Width, c.Height, c.Framerate, c.PixelFormat)
}

// SameMode reports whether two probe results describe the same capture
// mode. A mode change on a streaming camera forces a pipeline rebuild.
func (c Capabilities) SameMode(o Capabilities) bool {
	return c.Width == o.Width && c.Height == o.Height && c.Framerate == o.Framerate
}

// Prober queries V4L2 devices with a bounded per-call timeout.
type Prober struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a Prober. A zero timeout falls back to 500ms.
func New(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Prober{
		timeout: timeout,
		logger:  log.WithComponent("probe"),
	}
}

// Probe returns the current capabilities of the camera's input. Safe to
// call while another component holds a streaming handle on the device:
// only format queries are issued, no buffers are negotiated.
func (p *Prober) Probe(ctx context.Context, cam config.Camera) Capabilities {
	caps, err := p.bounded(ctx, func() (Capabilities, error) {
		if cam.IsBridge() {
			return bridgeCapabilities(cam.Subdev)
		}
		return nodeCapabilities(cam.Device)
	})
	if err != nil {
		p.logger.Debug().
			Str(log.FieldDevice, cam.Device).
			Err(err).
			Msg("probe failed, treating as no signal")
		return Capabilities{}
	}
	return caps
}

// bounded runs fn on its own goroutine and abandons it when the probe
// timeout or ctx expires. Abandoned ioctls finish on their own; the
// result is discarded.
func (p *Prober) bounded(ctx context.Context, fn func() (Capabilities, error)) (Capabilities, error) {
	type result struct {
		caps Capabilities
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		caps, err := fn()
		ch <- result{caps, err}
	}()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.caps, r.err
	case <-timer.C:
		return Capabilities{}, fmt.Errorf("probe timeout after %s", p.timeout)
	case <-ctx.Done():
		return Capabilities{}, ctx.Err()
	}
}

// nodeCapabilities reads the negotiated format of a plain capture node.
// Width/height of zero means the input has no signal.
func nodeCapabilities(path string) (Capabilities, error) {
	dev, err := device.Open(path)
	if err != nil {
		return Capabilities{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer dev.Close()

	pix, err := dev.GetPixFormat()
	if err != nil {
		return Capabilities{}, fmt.Errorf("get format %s: %w", path, err)
	}
	if pix.Width == 0 || pix.Height == 0 {
		return Capabilities{}, nil
	}

	fps, err := dev.GetFrameRate()
	if err != nil || fps == 0 {
		fps = 30
	}
	return Capabilities{
		HasSignal:   true,
		Width:       int(pix.Width),
		Height:      int(pix.Height),
		Framerate:   int(fps),
		PixelFormat: fourccString(pix.PixelFormat),
	}, nil
}

// bridgeCapabilities queries DV timings on the bridge sub-device. The
// bridge reports the HDMI source's actual mode regardless of what the
// capture node currently has negotiated.
func bridgeCapabilities(subdev string) (Capabilities, error) {
	t, err := queryDVTimings(subdev)
	if err != nil {
		// ENOLINK and friends mean "nothing plugged in".
		return Capabilities{}, nil
	}
	return Capabilities{
		HasSignal:   true,
		Width:       t.Width,
		Height:      t.Height,
		Framerate:   t.Framerate(),
		PixelFormat: "UYVY",
	}, nil
}

// fourccString renders a V4L2 pixel format tag as its four-character code.
func fourccString(f uint32) string {
	b := []byte{
		byte(f),
		byte(f >> 8),
		byte(f >> 16),
		byte(f >> 24),
	}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '?'
		}
	}
	return string(b)
}
