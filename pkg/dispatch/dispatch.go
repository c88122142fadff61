// Package dispatch interprets a parsed request header and routes it to
// fetch, describe-schema, stats, or quit, producing the wire response
// segments the connection state machine writes back to the client.
package dispatch

import (
	"github.com/cachegrid/rowcache/pkg/conn"
	"github.com/cachegrid/rowcache/pkg/metrics"
	"github.com/cachegrid/rowcache/pkg/table"
	"github.com/cachegrid/rowcache/pkg/wire"
)

// Dispatcher routes requests against a fixed, configuration-time table
// registry. It implements conn.Dispatcher.
type Dispatcher struct {
	registry    *table.Registry
	schemaJSON  []byte
	onQuit      func()
	loopBackend string
}

// New builds a dispatcher over registry. schemaJSON is computed once
// at startup (see BuildSchema) and returned verbatim on action 'D'.
// onQuit is invoked once, synchronously, the first time a quit request
// is dispatched; the server wires it to schedule an orderly shutdown.
// loopBackend names the event loop readiness backend in use ("epoll",
// "kqueue"); it is surfaced verbatim in the stats response for
// operational diagnosis.
func New(registry *table.Registry, schemaJSON []byte, onQuit func(), loopBackend string) *Dispatcher {
	return &Dispatcher{registry: registry, schemaJSON: schemaJSON, onQuit: onQuit, loopBackend: loopBackend}
}

// Dispatch implements conn.Dispatcher.
func (d *Dispatcher) Dispatch(h wire.Header, key []byte, discarding bool) conn.Response {
	switch h.Action {
	case wire.ActionFetch:
		return d.dispatchFetch(h, key, discarding)
	case wire.ActionSchema:
		metrics.RequestsTotal.WithLabelValues("schema", "ok").Inc()
		return framedResponse(d.schemaJSON)
	case wire.ActionStats:
		metrics.RequestsTotal.WithLabelValues("stats", "ok").Inc()
		return framedResponse(BuildStats(d.registry, d.loopBackend))
	case wire.ActionQuit:
		metrics.RequestsTotal.WithLabelValues("quit", "ok").Inc()
		if d.onQuit != nil {
			d.onQuit()
		}
		return framedResponse([]byte(`{"BYE":true}`))
	default:
		metrics.RequestsTotal.WithLabelValues("unknown", "error").Inc()
		return missResponse()
	}
}

func (d *Dispatcher) dispatchFetch(h wire.Header, key []byte, discarding bool) conn.Response {
	if discarding || h.KeyLen == 0 {
		metrics.RequestsTotal.WithLabelValues("fetch", "miss").Inc()
		return missResponse()
	}

	tbl, ok := d.registry.Lookup(h.TableID)
	if !ok {
		metrics.RequestsTotal.WithLabelValues("fetch", "error").Inc()
		return missResponse()
	}

	if int(h.IndexID) >= len(tbl.Indexes) {
		metrics.RequestsTotal.WithLabelValues("fetch", "error").Inc()
		return missResponse()
	}

	snap := tbl.Current()
	idx := snap.Indexes[h.IndexID]
	res, hit := idx.Lookup(key)
	if !hit {
		metrics.RequestsTotal.WithLabelValues("fetch", "miss").Inc()
		return missResponse()
	}

	metrics.RequestsTotal.WithLabelValues("fetch", "hit").Inc()
	// Zero-copy: res.Frame already is len_be(4) || payload, stored
	// directly in the snapshot's arena.
	return conn.Response{Segments: [][]byte{res.Frame}}
}

func missResponse() conn.Response {
	return conn.Response{Segments: [][]byte{wire.MissResponse[:]}}
}

func framedResponse(payload []byte) conn.Response {
	header := make([]byte, 4)
	wire.FrameLength(len(payload), header)
	return conn.Response{Segments: [][]byte{header, payload}}
}
