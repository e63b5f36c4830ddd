// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"context"
	"fmt"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"github.com/ManuGH/camcore/internal/config"
	"github.com/ManuGH/camcore/internal/log"
)

// bridgeDrivers enumerates the HDMI-over-MIPI bridge chips that require
// the active-format handshake before the first capture. Matching is by
// driver name as reported in the sub-device's sysfs node name prefix.
var bridgeDrivers = map[string]struct{}{
	"tc358743":  {}, // Toshiba HDMI to CSI-2
	"lt6911uxc": {}, // Lontium HDMI 2.0 to MIPI
	"lt6911uxe": {},
	"it6616":    {},
}

// KnownBridgeDriver reports whether the given driver name is in the
// bridge table.
func KnownBridgeDriver(name string) bool {
	_, ok := bridgeDrivers[name]
	return ok
}

// InitializeBridge performs the vendor handshake on a bridge camera:
// measure the incoming HDMI mode on the sub-device, program it as the
// active format, and align the capture node's pixel format with it.
// Idempotent; re-running with an unchanged source programs identical
// timings. Returns the resulting capabilities.
func (p *Prober) InitializeBridge(ctx context.Context, cam config.Camera) (Capabilities, error) {
	if !cam.IsBridge() {
		return Capabilities{}, fmt.Errorf("camera %s has no bridge sub-device", cam.ID)
	}

	logger := p.logger.With().
		Str(log.FieldCamera, cam.ID).
		Str(log.FieldDevice, cam.Subdev).
		Logger()

	caps, err := p.bounded(ctx, func() (Capabilities, error) {
		timings, err := queryDVTimings(cam.Subdev)
		if err != nil {
			// No source connected: operational, not an error.
			return Capabilities{}, nil
		}
		if err := setDVTimings(cam.Subdev, timings); err != nil {
			return Capabilities{}, fmt.Errorf("program bridge timings: %w", err)
		}
		if err := alignCaptureFormat(cam.Device, timings); err != nil {
			return Capabilities{}, fmt.Errorf("align capture format: %w", err)
		}
		return Capabilities{
			HasSignal:   true,
			Width:       timings.Width,
			Height:      timings.Height,
			Framerate:   timings.Framerate(),
			PixelFormat: "UYVY",
		}, nil
	})
	if err != nil {
		return Capabilities{}, err
	}

	logger.Info().
		Str(log.FieldResolution, caps.String()).
		Msg("bridge initialized")
	return caps, nil
}

// alignCaptureFormat pushes the bridge's measured geometry down to the
// capture node so the first buffer negotiation matches the source.
func alignCaptureFormat(path string, t DVTimings) error {
	dev, err := device.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer dev.Close()

	pix, err := dev.GetPixFormat()
	if err != nil {
		return fmt.Errorf("get format %s: %w", path, err)
	}
	if int(pix.Width) == t.Width && int(pix.Height) == t.Height {
		return nil
	}
	pix.Width = uint32(t.Width)
	pix.Height = uint32(t.Height)
	pix.Field = v4l2.FieldNone
	if err := dev.SetPixFormat(pix); err != nil {
		return fmt.Errorf("set format %s: %w", path, err)
	}
	return nil
}
