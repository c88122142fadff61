// Package server wires together the listener, event loop, connection
// pool, dispatcher, table registry, reload scheduler, and metrics
// collector into one running cache process. It is the single place
// that owns the two-thread split the rest of the packages assume: the
// serving thread (event loop + connections) and the loader thread
// (scheduler + database adapter).
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cachegrid/rowcache/pkg/config"
	"github.com/cachegrid/rowcache/pkg/conn"
	"github.com/cachegrid/rowcache/pkg/dispatch"
	"github.com/cachegrid/rowcache/pkg/eventloop"
	"github.com/cachegrid/rowcache/pkg/listener"
	"github.com/cachegrid/rowcache/pkg/log"
	"github.com/cachegrid/rowcache/pkg/loader"
	"github.com/cachegrid/rowcache/pkg/metrics"
	"github.com/cachegrid/rowcache/pkg/scheduler"
	"github.com/cachegrid/rowcache/pkg/source"
	"github.com/cachegrid/rowcache/pkg/table"
)

// Server owns every long-lived component of one cache process.
type Server struct {
	cfg      *config.Config
	registry *table.Registry
	listener *listener.Listener
	loop     eventloop.Loop
	conns    conn.FreeList
	sched    *scheduler.Scheduler
	metricsC *metrics.Collector

	stopRequested chan struct{}
	quitTimer     *time.Timer
}

// New builds every component from cfg and adapter but does not start
// accepting connections; call Run for that.
func New(cfg *config.Config, adapter source.DatabaseAdapter) (*Server, error) {
	tables := make([]*table.Table, 0, len(cfg.Tables))
	for _, ts := range cfg.Tables {
		indexes := make([]table.IndexConfig, 0, len(ts.Indexes))
		for _, is := range ts.Indexes {
			indexes = append(indexes, table.IndexConfig{
				ID:     is.ID,
				Column: is.Column,
				Type:   indexTypeFromString(is.Type),
			})
		}
		tables = append(tables, table.New(ts.ID, ts.Name, ts.RefreshPeriod, indexes))
	}
	registry := table.NewRegistry(tables)

	lst, err := listener.Bind(listener.Config{
		UnixPath: cfg.Socket.UnixPath,
		TCPHost:  cfg.Socket.TCPHost,
		TCPPort:  cfg.Socket.TCPPort,
	})
	if err != nil {
		return nil, fmt.Errorf("bind listener: %w", err)
	}

	loop, err := eventloop.New()
	if err != nil {
		lst.Close()
		return nil, fmt.Errorf("create event loop: %w", err)
	}

	s := &Server{
		cfg:           cfg,
		registry:      registry,
		listener:      lst,
		loop:          loop,
		stopRequested: make(chan struct{}),
	}

	schemaJSON := dispatch.BuildSchema(tables)
	d := dispatch.New(registry, schemaJSON, s.scheduleQuit, loop.Name())

	for _, fd := range lst.FDs() {
		fd := fd
		if err := loop.Attach(fd, eventloop.Read, func(_ int, _ eventloop.Events) {
			s.acceptOn(fd, conn.Dispatcher(d))
		}); err != nil {
			s.Close()
			return nil, fmt.Errorf("attach listener fd: %w", err)
		}
	}

	jobs := make([]scheduler.TableJob, 0, len(tables))
	for i, t := range tables {
		jobs = append(jobs, scheduler.TableJob{
			Table:   t,
			Options: loader.Options{Descriptor: descriptorFor(cfg.Tables[i]), StripNull: cfg.StripNull},
		})
	}
	s.sched = scheduler.New(jobs, adapter, cfg.SchedulerPeriod)
	s.metricsC = metrics.NewCollector(registry)

	return s, nil
}

func descriptorFor(ts config.TableSpec) source.TableDescriptor {
	return source.TableDescriptor{
		Name:            ts.Name,
		SelectStatement: ts.SelectStatement,
	}
}

func indexTypeFromString(s string) table.IndexType {
	if s == "string" {
		return table.IndexTypeString
	}
	return table.IndexTypeInt
}

func (s *Server) acceptOn(fd int, d conn.Dispatcher) {
	s.listener.Accept(fd, func(clientFD int) {
		c := s.conns.Get(clientFD, d)
		metrics.ConnectionsAcceptedTotal.Inc()
		metrics.ConnectionsActive.Inc()
		err := s.loop.Attach(clientFD, eventloop.Read, func(_ int, ev eventloop.Events) {
			s.onConnEvent(c, ev)
		})
		if err != nil {
			log.WithComponent("server").Warn().Msgf("attach conn fd=%d: %v", clientFD, err)
			s.conns.Put(c)
			metrics.ConnectionsActive.Dec()
		}
	})
}

func (s *Server) onConnEvent(c *conn.Conn, ev eventloop.Events) {
	if ev&eventloop.Read != 0 {
		if !c.OnReadable() {
			s.closeConn(c)
			return
		}
	}
	if c.HasPendingWrite() {
		done, err := c.Flush()
		if err != nil {
			s.closeConn(c)
			return
		}
		if !done {
			_ = s.loop.Modify(c.FD(), eventloop.Read|eventloop.Write)
			return
		}
	}
	_ = s.loop.Modify(c.FD(), eventloop.Read)
}

func (s *Server) closeConn(c *conn.Conn) {
	_ = s.loop.Detach(c.FD())
	s.conns.Put(c)
	metrics.ConnectionsActive.Dec()
}

// scheduleQuit is wired as the dispatcher's onQuit callback: it arms a
// one-shot stop ~1s after a quit request, giving the loop time to
// flush the {"BYE":true} reply before the process exits.
func (s *Server) scheduleQuit() {
	if s.quitTimer != nil {
		return
	}
	s.quitTimer = time.AfterFunc(time.Second, func() {
		close(s.stopRequested)
		s.loop.Stop()
	})
}

// Run starts the reload scheduler, the metrics collector, and the
// event loop, blocking until Stop is called or a quit request fires.
// It returns once the loop has fully drained.
func (s *Server) Run(_ context.Context) error {
	s.sched.Start()
	s.metricsC.Start(30 * time.Second)

	if s.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}
		go func() { _ = metricsSrv.ListenAndServe() }()
		defer metricsSrv.Close()
	}

	stopSignals := notifySignals(s.Stop)
	defer stopSignals()

	err := s.loop.Run()
	s.sched.Stop()
	s.metricsC.Stop()
	return err
}

// Stop requests an orderly shutdown: the scheduler drains its current
// burst, the event loop exits after its current turn, and sockets are
// closed.
func (s *Server) Stop() {
	select {
	case <-s.stopRequested:
	default:
		close(s.stopRequested)
	}
	s.loop.Stop()
}

// Close releases every bound resource. Safe to call after Run returns.
func (s *Server) Close() {
	s.listener.Close()
	_ = s.loop.Close()
}
