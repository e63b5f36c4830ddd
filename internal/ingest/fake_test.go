// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ingest

import (
	"context"
	"sync"

	"github.com/ManuGH/camcore/internal/config"
	"github.com/ManuGH/camcore/internal/media"
	"github.com/ManuGH/camcore/internal/probe"
)

// fakeProber serves scripted capabilities per camera.
type fakeProber struct {
	mu          sync.Mutex
	caps        map[string]probe.Capabilities
	bridgeErr   error
	bridgeCalls int
}

func newFakeProber() *fakeProber {
	return &fakeProber{caps: make(map[string]probe.Capabilities)}
}

func (f *fakeProber) set(cameraID string, caps probe.Capabilities) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caps[cameraID] = caps
}

func (f *fakeProber) Probe(_ context.Context, cam config.Camera) probe.Capabilities {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps[cam.ID]
}

func (f *fakeProber) InitializeBridge(_ context.Context, cam config.Camera) (probe.Capabilities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bridgeCalls++
	if f.bridgeErr != nil {
		return probe.Capabilities{}, f.bridgeErr
	}
	return f.caps[cam.ID], nil
}

// fakeGraph is a scriptable media.Graph.
type fakeGraph struct {
	mu        sync.Mutex
	startErr  error
	started   bool
	stopped   bool
	valveOpen bool
	closed    bool
	msgs      chan media.Message
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{msgs: make(chan media.Message, 8)}
}

func (g *fakeGraph) Start(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.startErr != nil {
		return g.startErr
	}
	g.started = true
	return nil
}

func (g *fakeGraph) Stop(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	if !g.closed {
		g.closed = true
		close(g.msgs)
	}
	return nil
}

func (g *fakeGraph) SetValve(open bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.valveOpen = open
	return nil
}

func (g *fakeGraph) Messages() <-chan media.Message {
	return g.msgs
}

// fail injects a fatal runtime notification.
func (g *fakeGraph) fail(err error) {
	g.msgs <- media.Message{Kind: media.MsgError, Err: err}
}

func (g *fakeGraph) isStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

func (g *fakeGraph) isValveOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.valveOpen
}

// fakeFactory hands out graphs from a queue; when the queue is empty a
// healthy graph is minted. Every built description is recorded.
type fakeFactory struct {
	mu    sync.Mutex
	queue []*fakeGraph
	made  []*fakeGraph
	built []media.Description
	err   error
}

func (f *fakeFactory) factory(desc media.Description) (media.Graph, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.built = append(f.built, desc)
	var g *fakeGraph
	if len(f.queue) > 0 {
		g = f.queue[0]
		f.queue = f.queue[1:]
	} else {
		g = newFakeGraph()
	}
	f.made = append(f.made, g)
	return g, nil
}

func (f *fakeFactory) enqueue(g *fakeGraph) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, g)
}

func (f *fakeFactory) builtCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func (f *fakeFactory) builtAt(i int) media.Description {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[i]
}

func (f *fakeFactory) madeAt(i int) *fakeGraph {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.made[i]
}
