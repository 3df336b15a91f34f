// Package engine implements the top-level library surface:
// a bounded-LRU registry of live Processes, the shared Channel, and
// idempotent launch/shutdown. Rather than a single-shot executor, it
// is a long-lived registry of independently running Processes.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mbflow/wfengine/internal/action"
	"github.com/mbflow/wfengine/internal/channel"
	"github.com/mbflow/wfengine/internal/config"
	"github.com/mbflow/wfengine/internal/dispatcher"
	"github.com/mbflow/wfengine/internal/domain"
	"github.com/mbflow/wfengine/internal/graph"
	"github.com/mbflow/wfengine/internal/metrics"
	"github.com/mbflow/wfengine/internal/obslog"
	"github.com/mbflow/wfengine/internal/process"
	"github.com/mbflow/wfengine/internal/store"
	"github.com/mbflow/wfengine/internal/store/bunstore"
	"github.com/mbflow/wfengine/internal/trace"
	"github.com/mbflow/wfengine/internal/wfcontext"
)

// DefaultProcessCapacity is the default bound on live, tracked processes.
const DefaultProcessCapacity = 2048

// Config tunes an Engine instance.
type Config struct {
	ProcessCapacity int
	EventsCapacity  int
	LogsCapacity    int
	WorkerPoolSize  int
	Logger          zerolog.Logger
	Registry        *action.Registry // nil uses action.NewRegistry()

	// Store is the persistence collaborator. Nil disables persistence
	// entirely (no batchers are started); pass memorystore.New() for
	// tests/local use or bunstore.New(dsn) for Postgres.
	Store store.Store
	// Metrics accumulates node/workflow counters. Nil disables
	// metrics collection.
	Metrics *metrics.Collector
	// Tracer records a per-process debug event trace. Nil disables
	// tracing.
	Tracer *trace.Recorder
}

// Engine is the library entry point: it owns the shared Channel and
// the registry of live Processes, and coordinates graceful shutdown
// across all of them.
type Engine struct {
	cfg      Config
	bus      *channel.Channel
	registry *action.Registry
	procs    *processLRU
	log      zerolog.Logger

	metrics *metrics.Collector
	tracer  *trace.Recorder

	eventsBatcher *store.Batcher
	logsBatcher   *store.Batcher

	launchOnce   sync.Once
	launched     atomic.Bool
	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	cleanupCh   chan string
	cleanupDone chan struct{}
}

// New builds an Engine. Call Launch before building any processes.
func New(cfg Config) *Engine {
	reg := cfg.Registry
	if reg == nil {
		reg = action.NewRegistry()
	}
	e := &Engine{
		cfg:        cfg,
		bus:        channel.New(cfg.EventsCapacity, cfg.LogsCapacity, cfg.Logger),
		registry:   reg,
		procs:      newProcessLRU(cfg.ProcessCapacity),
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		shutdownCh: make(chan struct{}),
		cleanupCh:  make(chan string, DefaultProcessCapacity),
	}
	if cfg.Store != nil {
		e.eventsBatcher = store.NewBatcher(cfg.Store, store.CollectionEvents, 0, 0, cfg.Logger)
		e.logsBatcher = store.NewBatcher(cfg.Store, store.CollectionLogs, 0, 0, cfg.Logger)
	}
	return e
}

// NewFromEnv builds an Engine from the WFENGINE_* environment
// tunables: the log level feeds obslog, and a non-empty database DSN
// wires the Postgres-backed store as the persistence collaborator.
func NewFromEnv() *Engine {
	c := config.Load()
	cfg := Config{
		ProcessCapacity: c.ProcessCapacity,
		EventsCapacity:  c.EventsCapacity,
		LogsCapacity:    c.LogsCapacity,
		WorkerPoolSize:  c.WorkerPoolSize,
		Logger:          obslog.New(c.LogLevel),
	}
	if c.DatabaseDSN != "" {
		cfg.Store = bunstore.New(c.DatabaseDSN)
	}
	return New(cfg)
}

// Launch starts the Channel's dispatch loop, the process-cleanup task,
// and, when a Store is configured, the events/logs persistence
// batchers. Idempotent.
func (e *Engine) Launch() {
	e.launchOnce.Do(func() {
		e.launched.Store(true)
		e.bus.Run()
		e.cleanupDone = make(chan struct{})
		e.bus.OnEvent("*", "", true, func(msg channel.EventMessage) {
			e.observeEvent(msg)
			e.observeTrace(msg)
			evt, ok := msg.Payload.(domain.WorkflowEvent)
			if !ok {
				return
			}
			switch evt.Kind {
			case domain.WorkflowSucceeded, domain.WorkflowFailed, domain.WorkflowAborted:
				select {
				case e.cleanupCh <- msg.PID:
				default:
				}
			}
		})
		go e.runCleanup()

		if e.eventsBatcher != nil {
			e.bus.OnEvent("*", "", true, func(msg channel.EventMessage) {
				e.eventsBatcher.Enqueue(eventToItem(msg))
			})
			go e.eventsBatcher.Run(context.Background())
		}
		if e.logsBatcher != nil {
			e.bus.OnLog("*", "", true, func(msg channel.LogMessage) {
				e.logsBatcher.Enqueue(logToItem(msg))
			})
			go e.logsBatcher.Run(context.Background())
		}
	})
}

// observeEvent updates the metrics Collector, when one is configured,
// from the node/workflow events flowing over the bus. Routing
// through the bus rather than calling the Collector directly from the
// Dispatcher keeps metrics collection an optional, loosely-coupled
// observer exactly like everything else subscribed to the Channel.
func (e *Engine) observeEvent(msg channel.EventMessage) {
	if e.metrics == nil {
		return
	}
	p, ok := e.procs.Get(msg.PID)
	wid := msg.PID
	if ok {
		wid = p.WID()
	}
	switch payload := msg.Payload.(type) {
	case domain.NodeEvent:
		switch payload.Kind {
		case domain.NodeRunning:
			e.metrics.RecordNodeRun(msg.NID)
		case domain.NodeSucceeded:
			e.metrics.RecordNodeSucceeded(msg.NID)
		case domain.NodeRetry:
			e.metrics.RecordNodeRetried(msg.NID)
		case domain.NodeSkipped:
			e.metrics.RecordNodeSkipped(msg.NID)
		case domain.NodeError:
			e.metrics.RecordNodeFailed(msg.NID)
		}
	case domain.WorkflowEvent:
		switch payload.Kind {
		case domain.WorkflowStart:
			e.metrics.RecordWorkflowStarted(wid)
		case domain.WorkflowSucceeded:
			e.metrics.RecordWorkflowSucceeded(wid)
		case domain.WorkflowFailed:
			e.metrics.RecordWorkflowFailed(wid)
		case domain.WorkflowAborted:
			e.metrics.RecordWorkflowAborted(wid)
		}
	}
}

// observeTrace appends the node/workflow event to the Tracer, when one
// is configured. Same routing as observeEvent: a loosely-coupled bus
// subscriber rather than a direct call from the Dispatcher.
func (e *Engine) observeTrace(msg channel.EventMessage) {
	if e.tracer == nil {
		return
	}
	p, ok := e.procs.Get(msg.PID)
	wid := msg.PID
	if ok {
		wid = p.WID()
	}
	switch payload := msg.Payload.(type) {
	case domain.NodeEvent:
		var err error
		if payload.Error != "" {
			err = errors.New(payload.Error)
		}
		e.tracer.Record(msg.PID, wid, msg.NID, string(payload.Kind), "", nil, err)
	case domain.WorkflowEvent:
		var err error
		if payload.Error != "" {
			err = errors.New(payload.Error)
		}
		data := map[string]any{"node_ids": payload.NodeIDs}
		e.tracer.Record(msg.PID, wid, "", string(payload.Kind), payload.Reason, data, err)
	}
}

func eventToItem(msg channel.EventMessage) store.Item {
	item := store.Item{ID: uuid.NewString(), PID: msg.PID, NID: msg.NID, CreatedAt: time.Now()}
	switch payload := msg.Payload.(type) {
	case domain.NodeEvent:
		item.Kind = string(payload.Kind)
		item.Data = map[string]any{"kind": payload.Kind, "error": payload.Error, "error_is_failure": payload.ErrorIsFailure}
	case domain.WorkflowEvent:
		item.Kind = string(payload.Kind)
		item.Data = map[string]any{"kind": payload.Kind, "node_ids": payload.NodeIDs, "error": payload.Error, "reason": payload.Reason}
	}
	return item
}

func logToItem(msg channel.LogMessage) store.Item {
	return store.Item{
		ID:        uuid.NewString(),
		PID:       msg.PID,
		NID:       msg.NID,
		CreatedAt: time.Now(),
		Data:      map[string]any{"content": msg.Content, "unix": msg.Unix},
	}
}

func (e *Engine) runCleanup() {
	defer close(e.cleanupDone)
	for {
		select {
		case <-e.shutdownCh:
			return
		case pid := <-e.cleanupCh:
			e.procs.Remove(pid)
			if e.tracer != nil {
				e.tracer.Forget(pid)
			}
		}
	}
}

// Shutdown raises the shutdown signal, aborts every tracked process,
// stops the Channel, and flushes the persistence batchers (if any).
// Idempotent.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		close(e.shutdownCh)
		for _, p := range e.procs.All() {
			p.Abort()
		}
		e.bus.Shutdown()
		// The batchers' Run loops only exist after Launch; stopping one
		// that never ran would wait forever on its drain.
		if e.launched.Load() {
			if e.eventsBatcher != nil {
				e.eventsBatcher.Stop()
			}
			if e.logsBatcher != nil {
				e.logsBatcher.Stop()
			}
		}
	})
}

// BuildWorkflowProcess parses and validates modelJSON, wires a fresh
// Context + Dispatcher, and registers the resulting Process under a
// new process id.
func (e *Engine) BuildWorkflowProcess(modelJSON []byte) (*process.Process, error) {
	model, err := domain.ParseWorkflowModel(modelJSON)
	if err != nil {
		return nil, err
	}
	return e.BuildWorkflowProcessFromModel(model)
}

// BuildWorkflowProcessFromModel is the same as BuildWorkflowProcess but
// takes an already-parsed model, for callers that build one
// programmatically instead of from raw JSON.
func (e *Engine) BuildWorkflowProcessFromModel(model *domain.WorkflowModel) (*process.Process, error) {
	wf, err := graph.Construct(model)
	if err != nil {
		return nil, err
	}

	pid := uuid.NewString()
	wctx := wfcontext.New(pid, model.Env, e.bus, e.log)

	d, err := dispatcher.New(pid, wf, wctx, e.registry, e.bus, e.cfg.WorkerPoolSize, e.log)
	if err != nil {
		return nil, err
	}

	p := process.New(pid, model.ID, d, wctx, e.bus)
	e.procs.Put(pid, p)
	return p, nil
}

// Stop aborts a tracked process by id, if present.
func (e *Engine) Stop(pid string) {
	if p, ok := e.procs.Get(pid); ok {
		p.Abort()
	}
}

// GetProcess returns a tracked process by id.
func (e *Engine) GetProcess(pid string) (*process.Process, bool) {
	return e.procs.Get(pid)
}

// Channel returns the shared event bus, for external subscriptions.
func (e *Engine) Channel() *channel.Channel {
	return e.bus
}

// Trace returns a snapshot of a process's recorded debug events, when a
// Tracer is configured, and whether anything has been recorded for it.
func (e *Engine) Trace(pid string) ([]trace.Event, bool) {
	if e.tracer == nil {
		return nil, false
	}
	return e.tracer.Trace(pid)
}
