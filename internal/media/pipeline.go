// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build cgo

package media

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/rs/zerolog"

	"github.com/ManuGH/camcore/internal/log"
)

var gstInitOnce sync.Once

// initGst initializes the GStreamer library exactly once per process.
func initGst() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

// gstGraph runs one parsed GStreamer pipeline. All bus messages are
// consumed on a dedicated watch goroutine; handlers stay small so the
// single process-wide dispatch loop is never blocked.
type gstGraph struct {
	name     string
	hasValve bool
	pipeline *gst.Pipeline

	running atomic.Bool
	started atomic.Bool
	msgCh   chan Message
	eosSeen chan struct{}
	stopCh  chan struct{}
	stopped sync.Once

	logger zerolog.Logger
}

// NewGraph parses and realizes a Description. The graph is left in NULL
// state; call Start to run it.
func NewGraph(desc Description) (Graph, error) {
	initGst()

	pipeline, err := gst.NewPipelineFromString(desc.Launch)
	if err != nil {
		return nil, fmt.Errorf("parse graph %s: %w", desc.Name, err)
	}
	return &gstGraph{
		name:     desc.Name,
		hasValve: desc.HasValve,
		pipeline: pipeline,
		msgCh:    make(chan Message, 16),
		eosSeen:  make(chan struct{}),
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("media").With().Str("graph", desc.Name).Logger(),
	}, nil
}

// Start transitions the graph to PLAYING and blocks until the transition
// is confirmed on the bus, a fatal error arrives, or ctx expires.
func (g *gstGraph) Start(ctx context.Context) error {
	if err := g.pipeline.SetState(gst.StatePlaying); err != nil {
		g.forceNull()
		return fmt.Errorf("graph %s: set playing: %w", g.name, err)
	}

	bus := g.pipeline.GetPipelineBus()
	if bus == nil {
		g.forceNull()
		return fmt.Errorf("graph %s: no pipeline bus", g.name)
	}

	for {
		select {
		case <-ctx.Done():
			g.forceNull()
			return fmt.Errorf("graph %s: start: %w", g.name, ctx.Err())
		default:
		}

		msg := bus.TimedPop(gst.ClockTime(50 * time.Millisecond))
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageAsyncDone:
			return g.confirmRunning()
		case gst.MessageStateChanged:
			// Live sources skip preroll; confirm on the top-level
			// pipeline reaching PLAYING instead.
			if msg.Source() == g.pipeline.GetName() {
				_, newState := msg.ParseStateChanged()
				if newState == gst.StatePlaying {
					return g.confirmRunning()
				}
			}
		case gst.MessageError:
			gerr := msg.ParseError()
			g.forceNull()
			return fmt.Errorf("graph %s: %s", g.name, gerr.Error())
		}
	}
}

func (g *gstGraph) confirmRunning() error {
	g.running.Store(true)
	g.started.Store(true)
	go g.watch()
	g.logger.Debug().Msg("graph running")
	return nil
}

// watch owns the bus after Start and forwards notifications.
func (g *gstGraph) watch() {
	defer close(g.msgCh)

	bus := g.pipeline.GetPipelineBus()
	for {
		select {
		case <-g.stopCh:
			return
		default:
		}

		msg := bus.TimedPop(gst.ClockTime(100 * time.Millisecond))
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			g.running.Store(false)
			g.deliver(Message{Kind: MsgEOS})
			close(g.eosSeen)
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			err := fmt.Errorf("graph %s: %s", g.name, gerr.Error())
			g.running.Store(false)
			g.logger.Error().Err(err).Msg("graph error")
			g.deliver(Message{Kind: MsgError, Err: err})
			g.forceNull()
			return
		case gst.MessageWarning:
			gwarn := msg.ParseWarning()
			if gwarn != nil {
				g.deliver(Message{Kind: MsgWarning, Err: fmt.Errorf("graph %s: %s", g.name, gwarn.Error())})
			}
		}
	}
}

func (g *gstGraph) deliver(m Message) {
	select {
	case g.msgCh <- m:
	default:
		// The owner stopped draining; it is tearing the graph down.
	}
}

// Stop drains the graph with EOS, bounded by ctx, then forces NULL.
func (g *gstGraph) Stop(ctx context.Context) error {
	var err error
	g.stopped.Do(func() {
		if g.running.Load() {
			g.pipeline.SendEvent(gst.NewEOSEvent())
			select {
			case <-g.eosSeen:
			case <-ctx.Done():
				g.logger.Warn().Msg("EOS drain timed out, forcing NULL")
				err = ctx.Err()
			}
		}
		close(g.stopCh)
		g.forceNull()
		if !g.started.Load() {
			// watch never ran, nobody else will close the channel.
			close(g.msgCh)
		}
	})
	return err
}

// SetValve toggles the recording branch. Opening starts file growth,
// closing finalizes the file.
func (g *gstGraph) SetValve(open bool) error {
	if !g.hasValve {
		return ErrNoValve
	}
	elem, err := g.pipeline.GetElementByName(ValveElement)
	if err != nil {
		return fmt.Errorf("graph %s: valve lookup: %w", g.name, err)
	}
	if err := elem.SetProperty("drop", !open); err != nil {
		return fmt.Errorf("graph %s: valve drop=%v: %w", g.name, !open, err)
	}
	g.logger.Info().Bool("open", open).Msg("valve toggled")
	return nil
}

// Messages returns the notification channel fed by watch.
func (g *gstGraph) Messages() <-chan Message {
	return g.msgCh
}

func (g *gstGraph) forceNull() {
	g.running.Store(false)
	if g.pipeline != nil {
		_ = g.pipeline.SetState(gst.StateNull)
	}
}
