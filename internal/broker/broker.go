// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package broker models the external media broker the core publishes
// to. The broker republishes each camera's encoded output over
// low-latency WebRTC and standard RTSP; the core only needs stable path
// construction and an optional reachability check.
package broker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuGH/camcore/internal/config"
	"github.com/ManuGH/camcore/internal/core"
)

// Client builds publish/subscribe URLs and probes broker liveness.
type Client struct {
	publishBase string
	readBase    string
	healthURL   string
	httpClient  *http.Client
}

// New creates a Client from broker configuration.
func New(cfg config.BrokerConfig) *Client {
	return &Client{
		publishBase: strings.TrimRight(cfg.PublishBase, "/"),
		readBase:    strings.TrimRight(cfg.RTSPBase, "/"),
		healthURL:   cfg.HealthURL,
		httpClient:  &http.Client{Timeout: 2 * time.Second},
	}
}

// PublishURL is where a camera's ingest graph publishes. The path equals
// the camera's stable identifier.
func (c *Client) PublishURL(cameraID string) string {
	return fmt.Sprintf("%s/%s", c.publishBase, cameraID)
}

// ReadURL is where subscriber recorders pull the same stream.
func (c *Client) ReadURL(cameraID string) string {
	return fmt.Sprintf("%s/%s", c.readBase, cameraID)
}

// Check verifies the broker is reachable. When a health URL is
// configured it is queried over HTTP; otherwise a TCP dial against the
// RTSP listener suffices.
func (c *Client) Check(ctx context.Context) error {
	if c.healthURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
		if err != nil {
			return core.E(core.KindBrokerUnreachable, "invalid health URL", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return core.E(core.KindBrokerUnreachable, "health check failed", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return core.Ef(core.KindBrokerUnreachable, "health check returned %d", resp.StatusCode)
		}
		return nil
	}

	u, err := url.Parse(c.readBase)
	if err != nil {
		return core.E(core.KindBrokerUnreachable, "invalid RTSP base", err)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "554")
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return core.E(core.KindBrokerUnreachable, "RTSP listener unreachable", err)
	}
	return conn.Close()
}
