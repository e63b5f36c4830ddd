// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Camera is one capture input. The record is immutable after load; the
// ingest supervisor holds the authoritative map keyed by ID.
type Camera struct {
	ID               string `yaml:"id"`
	Device           string `yaml:"device"`            // V4L2 node, e.g. /dev/video60
	Subdev           string `yaml:"subdev,omitempty"`  // bridge sub-device, e.g. /dev/v4l-subdev2
	PreviewBitrateK  int    `yaml:"previewBitrateK"`   // kbit/s on the broker branch
	RecordBitrateK   int    `yaml:"recordBitrateK"`    // kbit/s on the valve branch (Variant B)
	DefaultWidth     int    `yaml:"defaultWidth"`
	DefaultHeight    int    `yaml:"defaultHeight"`
	DefaultFramerate int    `yaml:"defaultFramerate"`
	Enabled          bool   `yaml:"enabled"`
}

// IsBridge reports whether the camera captures through an HDMI-over-MIPI
// bridge that needs the active-format handshake before streaming.
func (c Camera) IsBridge() bool {
	return c.Subdev != ""
}

type cameraFile struct {
	Cameras []Camera `yaml:"cameras"`
}

// LoadCameras reads and validates the YAML camera table.
func LoadCameras(path string) ([]Camera, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-controlled path
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var f cameraFile
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(f.Cameras))
	devices := make(map[string]string, len(f.Cameras))
	for i, cam := range f.Cameras {
		if cam.ID == "" {
			return nil, fmt.Errorf("camera %d: missing id", i)
		}
		if strings.ContainsAny(cam.ID, "/\\ ") {
			return nil, fmt.Errorf("camera %q: id must not contain path separators or spaces", cam.ID)
		}
		if cam.Device == "" {
			return nil, fmt.Errorf("camera %q: missing device", cam.ID)
		}
		if _, dup := seen[cam.ID]; dup {
			return nil, fmt.Errorf("duplicate camera id %q", cam.ID)
		}
		seen[cam.ID] = struct{}{}
		if owner, dup := devices[cam.Device]; dup {
			return nil, fmt.Errorf("device %s claimed by both %q and %q", cam.Device, owner, cam.ID)
		}
		devices[cam.Device] = cam.ID

		if cam.PreviewBitrateK <= 0 {
			f.Cameras[i].PreviewBitrateK = 4000
		}
		if cam.RecordBitrateK <= 0 {
			f.Cameras[i].RecordBitrateK = 12000
		}
		if cam.DefaultFramerate <= 0 {
			f.Cameras[i].DefaultFramerate = 30
		}
	}
	return f.Cameras, nil
}
