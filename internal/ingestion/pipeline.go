// Package ingestion turns transport events into stored samples.
//
// A Pipeline is a two-state machine (Disconnected, Connected) driven by a
// single goroutine. It decodes and validates each message, stamps the
// receipt time and writes the sample to the store. Bad messages are
// discarded and counted; nothing a publisher sends can stop the pipeline.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/xtxerr/meteo/internal/errors"
	"github.com/xtxerr/meteo/internal/logging"
	"github.com/xtxerr/meteo/internal/storage/types"
	"github.com/xtxerr/meteo/internal/validation"
)

// State is the pipeline's view of the transport session.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// DiscardReason says why a message did not become a sample.
type DiscardReason string

const (
	ReasonDecode       DiscardReason = "decode"
	ReasonValidation   DiscardReason = "validation"
	ReasonInternal     DiscardReason = "internal"
	ReasonDisconnected DiscardReason = "disconnected"
)

// Reasons lists every discard reason.
var Reasons = []DiscardReason{ReasonDecode, ReasonValidation, ReasonInternal, ReasonDisconnected}

// Store is the write side of the bounded store.
type Store interface {
	Write(sample types.Sample)
}

// Observer receives pipeline outcomes, e.g. for metrics.
// Calls happen on the pipeline goroutine and must not block.
type Observer interface {
	SampleStored(sample types.Sample)
	MessageDiscarded(reason DiscardReason)
	ConnectivityChanged(connected bool)
}

// Options configures a Pipeline.
type Options struct {
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// Observer is notified of every outcome. Optional.
	Observer Observer

	// Logger defaults to the "ingestion" component logger.
	Logger *slog.Logger
}

// Pipeline is the single writer of the bounded store.
type Pipeline struct {
	store    Store
	conn     *Connectivity
	clock    func() time.Time
	observer Observer
	logger   *slog.Logger

	state     atomic.Int32
	lastStamp time.Time

	// Statistics
	received  atomic.Int64
	stored    atomic.Int64
	discarded [4]atomic.Int64
}

// Stats holds pipeline counters.
type Stats struct {
	State    State
	Received int64
	Stored   int64

	DiscardedDecode       int64
	DiscardedValidation   int64
	DiscardedInternal     int64
	DiscardedDisconnected int64
}

// Discarded returns the total number of discarded messages.
func (s Stats) Discarded() int64 {
	return s.DiscardedDecode + s.DiscardedValidation + s.DiscardedInternal + s.DiscardedDisconnected
}

// New creates a pipeline writing to store and owning conn.
func New(store Store, conn *Connectivity, opts Options) *Pipeline {
	if conn == nil {
		conn = NewConnectivity()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("ingestion")
	}

	return &Pipeline{
		store:    store,
		conn:     conn,
		clock:    opts.Clock,
		observer: opts.Observer,
		logger:   opts.Logger,
	}
}

// Run handles events until ctx is done or events is closed.
// It returns ctx.Err() on cancellation and nil when events is closed.
func (p *Pipeline) Run(ctx context.Context, events <-chan Event) error {
	p.logger.Debug("pipeline started")
	defer p.logger.Debug("pipeline stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.Handle(ev)
		}
	}
}

// Handle processes one event. Calls must be sequential.
func (p *Pipeline) Handle(ev Event) {
	switch ev.Kind {
	case EventConnected:
		p.onConnected()
	case EventDisconnected:
		p.onDisconnected(ev.Err)
	case EventMessage:
		p.onMessage(ev.Topic, ev.Payload)
	default:
		p.logger.Warn("unknown event ignored", "kind", int(ev.Kind))
	}
}

// State returns the current state. Safe from any goroutine.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Connectivity returns the flag owned by this pipeline.
func (p *Pipeline) Connectivity() *Connectivity {
	return p.conn
}

// Stats returns current counters. Safe from any goroutine.
func (p *Pipeline) Stats() Stats {
	return Stats{
		State:                 p.State(),
		Received:              p.received.Load(),
		Stored:                p.stored.Load(),
		DiscardedDecode:       p.discarded[0].Load(),
		DiscardedValidation:   p.discarded[1].Load(),
		DiscardedInternal:     p.discarded[2].Load(),
		DiscardedDisconnected: p.discarded[3].Load(),
	}
}

func (p *Pipeline) onConnected() {
	p.state.Store(int32(StateConnected))
	if p.conn.set(true, p.clock()) {
		p.logger.Info("upstream connected")
		if p.observer != nil {
			p.observer.ConnectivityChanged(true)
		}
	}
}

func (p *Pipeline) onDisconnected(cause error) {
	p.state.Store(int32(StateDisconnected))
	if p.conn.set(false, p.clock()) {
		p.logger.Warn("upstream disconnected", "error", cause)
		if p.observer != nil {
			p.observer.ConnectivityChanged(false)
		}
		return
	}
	if cause != nil {
		p.logger.Debug("connect attempt failed", "error", cause)
	}
}

func (p *Pipeline) onMessage(topic string, data []byte) {
	p.received.Add(1)

	if p.State() != StateConnected {
		p.logger.Debug("message while disconnected discarded", "topic", topic)
		p.discard(ReasonDisconnected)
		return
	}

	sample, ok := p.ingest(topic, data)
	if !ok {
		return
	}
	p.stored.Add(1)

	if p.observer != nil {
		p.notifyStored(sample)
	}
}

// ingest decodes, validates, stamps and writes one payload. It reports
// whether the sample reached the store; every other outcome is counted
// as a discard.
func (p *Pipeline) ingest(topic string, data []byte) (sample types.Sample, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("internal fault processing message",
				"topic", topic,
				"panic", r,
				"stack", string(debug.Stack()))
			p.discard(ReasonInternal)
			ok = false
		}
	}()

	sample, err := Decode(data)
	if err == nil {
		err = validation.ValidateSample(&sample)
	}

	switch {
	case err == nil:
	case errors.IsDecode(err):
		p.logger.Warn("malformed payload discarded", "topic", topic, "error", err)
		p.discard(ReasonDecode)
		return sample, false
	case errors.IsValidation(err):
		p.logger.Warn("invalid sample discarded", "topic", topic, "error", err)
		p.discard(ReasonValidation)
		return sample, false
	default:
		p.logger.Error("unexpected error processing message", "topic", topic, "error", err)
		p.discard(ReasonInternal)
		return sample, false
	}

	sample.ReceivedAt = p.stamp()
	p.store.Write(sample)
	return sample, true
}

// notifyStored reports a stored sample. A panicking observer is logged;
// the sample stays stored and counted as such.
func (p *Pipeline) notifyStored(sample types.Sample) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("observer fault after store",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	p.observer.SampleStored(sample)
}

// stamp returns the receipt time, never earlier than the previous one.
func (p *Pipeline) stamp() time.Time {
	now := p.clock().UTC()
	if now.Before(p.lastStamp) {
		now = p.lastStamp
	}
	p.lastStamp = now
	return now
}

func (p *Pipeline) discard(reason DiscardReason) {
	switch reason {
	case ReasonDecode:
		p.discarded[0].Add(1)
	case ReasonValidation:
		p.discarded[1].Add(1)
	case ReasonInternal:
		p.discarded[2].Add(1)
	case ReasonDisconnected:
		p.discarded[3].Add(1)
	}

	if p.observer != nil {
		p.observer.MessageDiscarded(reason)
	}
}
