// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config holds the immutable runtime configuration of the capture
// core. Values come from the environment plus a YAML camera table; after
// FromEnv returns, nothing in AppConfig is mutated again.
package config

import (
	"fmt"
	"time"
)

// ServerConfig holds HTTP server settings for the control API.
type ServerConfig struct {
	ListenAddr      string
	MetricsAddr     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// BrokerConfig describes the embedded media broker the core publishes to.
type BrokerConfig struct {
	// RTSPBase is the RTSP endpoint recorders pull from, e.g. "rtsp://127.0.0.1:8554".
	RTSPBase string
	// PublishBase is the endpoint pipelines publish to. Usually equal to RTSPBase.
	PublishBase string
	// HealthURL is an optional HTTP endpoint probed before first publish.
	HealthURL string
}

// IngestConfig holds ingest supervisor tunables.
type IngestConfig struct {
	HealthInterval   time.Duration // health loop period
	ProbeTimeout     time.Duration // per-probe upper bound
	StartTimeout     time.Duration // pipeline running confirmation
	StopTimeout      time.Duration // EOS drain before force NULL
	SettleDelay      time.Duration // wait after bridge re-init before start
	StopStagger      time.Duration // delay between stops in StopAll
	MaxRetries       int
	RecordingVariant string // "subscriber" or "valve"
}

// RecorderConfig holds recording session tunables.
type RecorderConfig struct {
	Root              string // recordings filesystem root
	StartThreshold    uint64 // minimum free bytes to start a session
	HardStopThreshold uint64 // free bytes under which an active session is stopped
	StallInterval     time.Duration
	StallStrikes      int
	StopTimeout       time.Duration
	JournalPath       string // sqlite session journal; empty disables
}

// EventsConfig holds event bus tunables.
type EventsConfig struct {
	ReplaySize        int
	HeartbeatInterval time.Duration
}

// AppConfig is the root configuration object passed into each component
// at construction time. There is no global config singleton.
type AppConfig struct {
	Server   ServerConfig
	Broker   BrokerConfig
	Ingest   IngestConfig
	Recorder RecorderConfig
	Events   EventsConfig
	Cameras  []Camera
}

const (
	defaultStartThreshold    = 5 << 30 // 5 GiB
	defaultHardStopThreshold = 1 << 30 // 1 GiB
)

// FromEnv assembles the full configuration from the environment and the
// camera table referenced by CAMCORE_CAMERAS (default ./cameras.yaml).
func FromEnv() (AppConfig, error) {
	cfg := AppConfig{
		Server: ServerConfig{
			ListenAddr:      ParseString("CAMCORE_LISTEN", ":8088"),
			MetricsAddr:     ParseString("CAMCORE_METRICS_LISTEN", ":9090"),
			ReadTimeout:     ParseDuration("CAMCORE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    ParseDuration("CAMCORE_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: ParseDuration("CAMCORE_SHUTDOWN_TIMEOUT", 20*time.Second),
		},
		Broker: BrokerConfig{
			RTSPBase:    ParseString("CAMCORE_BROKER_RTSP", "rtsp://127.0.0.1:8554"),
			PublishBase: ParseString("CAMCORE_BROKER_PUBLISH", ""),
			HealthURL:   ParseString("CAMCORE_BROKER_HEALTH", ""),
		},
		Ingest: IngestConfig{
			HealthInterval:   ParseDuration("CAMCORE_HEALTH_INTERVAL", 5*time.Second),
			ProbeTimeout:     ParseDuration("CAMCORE_PROBE_TIMEOUT", 500*time.Millisecond),
			StartTimeout:     ParseDuration("CAMCORE_START_TIMEOUT", time.Second),
			StopTimeout:      ParseDuration("CAMCORE_STOP_TIMEOUT", 10*time.Second),
			SettleDelay:      ParseDuration("CAMCORE_SETTLE_DELAY", 300*time.Millisecond),
			StopStagger:      ParseDuration("CAMCORE_STOP_STAGGER", 200*time.Millisecond),
			MaxRetries:       ParseInt("CAMCORE_MAX_RETRIES", 3),
			RecordingVariant: ParseString("CAMCORE_RECORDING_VARIANT", "subscriber"),
		},
		Recorder: RecorderConfig{
			Root:              ParseString("CAMCORE_RECORDINGS_ROOT", "/var/lib/camcore/recordings"),
			StartThreshold:    uint64(ParseInt64("CAMCORE_DISK_START_THRESHOLD", defaultStartThreshold)),
			HardStopThreshold: uint64(ParseInt64("CAMCORE_DISK_HARDSTOP_THRESHOLD", defaultHardStopThreshold)),
			StallInterval:     ParseDuration("CAMCORE_STALL_INTERVAL", 5*time.Second),
			StallStrikes:      ParseInt("CAMCORE_STALL_STRIKES", 3),
			StopTimeout:       ParseDuration("CAMCORE_RECORDER_STOP_TIMEOUT", 10*time.Second),
			JournalPath:       ParseString("CAMCORE_JOURNAL_PATH", ""),
		},
		Events: EventsConfig{
			ReplaySize:        ParseInt("CAMCORE_REPLAY_SIZE", 100),
			HeartbeatInterval: ParseDuration("CAMCORE_HEARTBEAT_INTERVAL", 30*time.Second),
		},
	}

	if cfg.Broker.PublishBase == "" {
		cfg.Broker.PublishBase = cfg.Broker.RTSPBase
	}

	camerasPath := ParseString("CAMCORE_CAMERAS", "cameras.yaml")
	cams, err := LoadCameras(camerasPath)
	if err != nil {
		return AppConfig{}, fmt.Errorf("load camera table: %w", err)
	}
	cfg.Cameras = cams

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency. Camera entries are validated by
// LoadCameras already.
func (c AppConfig) Validate() error {
	if c.Recorder.StartThreshold < c.Recorder.HardStopThreshold {
		return fmt.Errorf("disk start threshold %d below hard-stop threshold %d",
			c.Recorder.StartThreshold, c.Recorder.HardStopThreshold)
	}
	if c.Events.ReplaySize <= 0 {
		return fmt.Errorf("replay buffer size must be positive, got %d", c.Events.ReplaySize)
	}
	switch c.Ingest.RecordingVariant {
	case "subscriber", "valve":
	default:
		return fmt.Errorf("unknown recording variant %q", c.Ingest.RecordingVariant)
	}
	return nil
}

// CameraByID returns the camera record with the given identifier.
func (c AppConfig) CameraByID(id string) (Camera, bool) {
	for _, cam := range c.Cameras {
		if cam.ID == id {
			return cam, true
		}
	}
	return Camera{}, false
}
