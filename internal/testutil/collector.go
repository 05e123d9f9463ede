package testutil

import "github.com/inkflow-ai/inkflow/core"

// Collector records every event a run emits so tests can assert on
// ordering, type counts, and payload content after the run returns.
// Example:
//
//	var c testutil.Collector
//	res, err := e.Run(ctx, req, c.Sink())
//	assert.Len(t, c.OfType(core.EventComplete), 1)
//
// Collector is not safe for concurrent use; runs deliver events from a
// single goroutine, which is the only writer tests need.
type Collector struct {
	Events []core.Event
}

// Sink returns an EventSink that appends to the collector.
func (c *Collector) Sink() core.EventSink {
	return func(ev core.Event) { c.Events = append(c.Events, ev) }
}

// OfType returns the collected events of the given type in emission order.
func (c *Collector) OfType(t core.EventType) []core.Event {
	var out []core.Event
	for _, ev := range c.Events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// HasNotice reports whether a log event with the given notice was emitted.
func (c *Collector) HasNotice(notice string) bool {
	for _, ev := range c.OfType(core.EventLog) {
		if ev.Payload["notice"] == notice {
			return true
		}
	}
	return false
}
