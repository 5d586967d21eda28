package events

import (
	"context"
	"sync/atomic"
	"time"

	"gopkg.in/tomb.v2"

	"go-hotspot/log"
)

const deliverTimeout = 5 * time.Second

// Dispatcher buffers published events and fans them out to sinks from a
// single goroutine. When the buffer is full new events are dropped.
type Dispatcher struct {
	tomb    tomb.Tomb
	queue   chan Event
	sinks   []Sink
	logger  *log.Logger
	dropped atomic.Int64
}

func NewDispatcher(logger *log.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	d := &Dispatcher{
		queue:  make(chan Event, buffer),
		sinks:  sinks,
		logger: logger.Named("events"),
	}
	d.tomb.Go(d.loop)
	return d
}

func (d *Dispatcher) Publish(_ context.Context, e Event) {
	select {
	case d.queue <- e:
	default:
		n := d.dropped.Add(1)
		d.logger.Warnw("event buffer full, dropping event", "kind", e.Kind, "tenant", e.TenantID, "dropped_total", n)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) Kill() {
	d.tomb.Kill(nil)
}

func (d *Dispatcher) Wait() error {
	return d.tomb.Wait()
}

func (d *Dispatcher) loop() error {
	for {
		select {
		case <-d.tomb.Dying():
			d.drain()
			return nil
		case e := <-d.queue:
			d.deliver(e)
		}
	}
}

// drain flushes what is already buffered on shutdown.
func (d *Dispatcher) drain() {
	for {
		select {
		case e := <-d.queue:
			d.deliver(e)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(e Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		if err := s.Deliver(ctx, e); err != nil {
			d.logger.Warnw("event delivery failed", "sink", s.Name(), "kind", e.Kind, "err", err)
		}
		cancel()
	}
}
