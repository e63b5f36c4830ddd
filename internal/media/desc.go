// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media builds and runs the GStreamer graphs of the capture
// core: per-camera ingest graphs that encode once on the Rockchip MPP
// encoder and publish to the broker, and subscriber graphs that remux
// broker streams into fragmented MP4 files without re-encoding.
package media

import (
	"fmt"
	"strings"
)

// Element names referenced after parse.
const (
	ValveElement = "recvalve"
	SinkElement  = "brokersink"
	FileElement  = "recfile"
)

// Encoder contract: H.264 without B-frames so browsers can negotiate the
// preview over low-latency WebRTC, hardware quantization mode with the
// fixed QP window, one keyframe every two seconds.
const (
	qpInit = 26
	qpMin  = 10
	qpMax  = 51

	gopSeconds = 2

	fragmentMillis = 1000
)

// Description is a parse-ready graph description.
type Description struct {
	Name     string // camera or recording identifier, used for logging
	Launch   string // gst-launch syntax
	HasValve bool   // true only for the tee-with-valve ingest variant
}

// EncodeParams carries the negotiated capture mode and target bitrates
// into graph construction.
type EncodeParams struct {
	Device      string
	Width       int
	Height      int
	Framerate   int
	PixelFormat string // fourcc as negotiated by the probe
	BitrateKbps int
}

func (p EncodeParams) gop() int {
	fps := p.Framerate
	if fps <= 0 {
		fps = 30
	}
	return gopSeconds * fps
}

func (p EncodeParams) format() string {
	if p.PixelFormat == "" {
		return "UYVY"
	}
	return strings.TrimRight(p.PixelFormat, "?")
}

// capture renders the shared front half of both ingest variants:
// capture, format tag, convert, hardware encode, parse.
func (p EncodeParams) capture() string {
	return fmt.Sprintf(
		"v4l2src device=%s io-mode=dmabuf "+
			"! video/x-raw,format=%s,width=%d,height=%d,framerate=%d/1 "+
			"! videoconvert "+
			"! mpph264enc rc-mode=vbr bps=%d qp-init=%d qp-min=%d qp-max=%d gop=%d profile=baseline "+
			"! h264parse config-interval=-1",
		p.Device, p.format(), p.Width, p.Height, p.Framerate,
		p.BitrateKbps*1000, qpInit, qpMin, qpMax, p.gop(),
	)
}

// Preview builds the preview-only ingest graph (Variant A): every
// consumer, including recorders, subscribes through the broker.
func Preview(name string, p EncodeParams, publishURL string) Description {
	launch := fmt.Sprintf(
		"%s ! rtspclientsink name=%s location=%s protocols=tcp latency=0",
		p.capture(), SinkElement, publishURL,
	)
	return Description{Name: name, Launch: launch}
}

// TeeWithValve builds the in-pipeline recording variant (Variant B):
// one encoder copy, a broker branch and a file branch gated by a valve.
// The valve is built closed (drop=true); GStreamer's default is
// drop=false, so the property is always set explicitly.
func TeeWithValve(name string, p EncodeParams, publishURL, filePath string) Description {
	launch := fmt.Sprintf(
		"%s ! tee name=t "+
			"t. ! queue ! rtspclientsink name=%s location=%s protocols=tcp latency=0 "+
			"t. ! queue ! valve name=%s drop=true "+
			"! h264parse ! mp4mux fragment-duration=%d "+
			"! filesink name=%s location=%s",
		p.capture(), SinkElement, publishURL,
		ValveElement, fragmentMillis, FileElement, filePath,
	)
	return Description{Name: name, Launch: launch, HasValve: true}
}

// Subscriber builds a recorder graph pulling an already-encoded stream
// from the broker and remuxing it to fragmented MP4. No decode, no
// re-encode.
func Subscriber(name string, streamURL, filePath string) Description {
	launch := fmt.Sprintf(
		"rtspsrc location=%s protocols=tcp latency=0 "+
			"! rtph264depay ! h264parse "+
			"! mp4mux fragment-duration=%d streamable=true "+
			"! filesink name=%s location=%s sync=false",
		streamURL, fragmentMillis, FileElement, filePath,
	)
	return Description{Name: name, Launch: launch}
}
