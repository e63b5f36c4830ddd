// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import (
	"context"
	"sync"

	"github.com/ManuGH/camcore/internal/ingest"
	"github.com/ManuGH/camcore/internal/media"
)

// fakeStreams simulates the ingest supervisor surface.
type fakeStreams struct {
	mu      sync.Mutex
	status  []ingest.Status
	opened  map[string]string
	closed  []string
	openErr error
}

func newFakeStreams(streaming ...string) *fakeStreams {
	f := &fakeStreams{opened: make(map[string]string)}
	for _, cam := range streaming {
		f.status = append(f.status, ingest.Status{Camera: cam, State: ingest.StateStreaming})
	}
	return f
}

func (f *fakeStreams) Status() []ingest.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ingest.Status(nil), f.status...)
}

func (f *fakeStreams) OpenValve(_ context.Context, cameraID, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened[cameraID] = path
	return nil
}

func (f *fakeStreams) CloseValve(_ context.Context, cameraID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := f.opened[cameraID]
	delete(f.opened, cameraID)
	f.closed = append(f.closed, cameraID)
	return path, nil
}

// fakeBroker answers URL construction and scripted reachability.
type fakeBroker struct {
	checkErr error
}

func (f *fakeBroker) ReadURL(cameraID string) string {
	return "rtsp://127.0.0.1:8554/" + cameraID
}

func (f *fakeBroker) Check(context.Context) error {
	return f.checkErr
}

// fakeGraph is a scriptable media.Graph.
type fakeGraph struct {
	mu       sync.Mutex
	startErr error
	stopped  bool
	closed   bool
	msgs     chan media.Message
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{msgs: make(chan media.Message, 8)}
}

func (g *fakeGraph) Start(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.startErr
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

func (g *fakeGraph) SetValve(bool) error { return media.ErrNoValve }

func (g *fakeGraph) Messages() <-chan media.Message { return g.msgs }

func (g *fakeGraph) fail(err error) {
	g.msgs <- media.Message{Kind: media.MsgError, Err: err}
}

func (g *fakeGraph) isStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

// fakeFactory hands out graphs from a queue, minting healthy ones when
// the queue runs dry.
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
