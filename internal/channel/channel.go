// Package channel implements the engine-wide pub/sub event bus:
// two broadcast queues (events, logs) with drop-oldest overflow, four
// handler registries (events/logs x sync/async), and glob-filtered
// subscriptions on (pid, nid).
//
// The handler registries follow an observer-manager pattern: a
// mutex-guarded slice of handlers, cloned out before invocation so a
// publish never holds the lock during a subscriber callback. This one
// adds the bounded-queue, glob-filtered, sync+async broadcast model a
// direct-call observer manager doesn't itself need.
package channel

import (
	"path"
	"sync"

	"github.com/rs/zerolog"
)

// Default broadcast queue capacities.
const (
	DefaultEventsCapacity = 2048
	DefaultLogsCapacity   = 4096
)

// EventMessage is one workflow- or node-level event broadcast on the
// channel.
type EventMessage struct {
	PID     string
	NID     string // empty for workflow-level events
	Payload any    // domain.WorkflowEvent or domain.NodeEvent
}

// LogMessage is one log line emitted via Context.EmitLog.
type LogMessage struct {
	PID     string
	NID     string
	Content string
	Unix    int64 // milliseconds since epoch
}

// EventHandler observes EventMessages matching its subscription
// filter.
type EventHandler func(msg EventMessage)

// LogHandler observes LogMessages matching its subscription filter.
type LogHandler func(msg LogMessage)

type eventSub struct {
	pidPattern string
	nidPattern string
	handler    EventHandler
}

type logSub struct {
	pidPattern string
	nidPattern string
	handler    LogHandler
}

func matches(pattern, s string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, s)
	return err == nil && ok
}

// dropOldestQueue is a bounded FIFO that never blocks a producer: when
// full, the oldest undelivered message is discarded to make room for
// the new one.
type dropOldestQueue[T any] struct {
	mu  sync.Mutex
	buf chan T
}

func newDropOldestQueue[T any](capacity int) *dropOldestQueue[T] {
	return &dropOldestQueue[T]{buf: make(chan T, capacity)}
}

func (q *dropOldestQueue[T]) push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case q.buf <- v:
		return
	default:
	}
	// Full: drop the oldest, then retry once.
	select {
	case <-q.buf:
	default:
	}
	select {
	case q.buf <- v:
	default:
	}
}

// Channel is the shared, engine-owned event bus for external
// subscriptions. It outlives any single Process.
type Channel struct {
	events *dropOldestQueue[EventMessage]
	logs   *dropOldestQueue[LogMessage]

	regMu       sync.Mutex
	eventsSync  []eventSub
	eventsAsync []eventSub
	logsSync    []logSub
	logsAsync   []logSub

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	loopDone     chan struct{}

	log zerolog.Logger
}

// New creates a Channel with the given queue capacities. Pass 0 to use
// the package defaults.
func New(eventsCapacity, logsCapacity int, logger zerolog.Logger) *Channel {
	if eventsCapacity <= 0 {
		eventsCapacity = DefaultEventsCapacity
	}
	if logsCapacity <= 0 {
		logsCapacity = DefaultLogsCapacity
	}
	return &Channel{
		events:     newDropOldestQueue[EventMessage](eventsCapacity),
		logs:       newDropOldestQueue[LogMessage](logsCapacity),
		shutdownCh: make(chan struct{}),
		loopDone:   make(chan struct{}),
		log:        logger,
	}
}

// OnEvent registers a handler for events matching (pidPattern,
// nidPattern); async handlers are invoked on a spawned goroutine per
// message rather than inline in the dispatch loop.
func (c *Channel) OnEvent(pidPattern, nidPattern string, async bool, handler EventHandler) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	sub := eventSub{pidPattern: pidPattern, nidPattern: nidPattern, handler: handler}
	if async {
		c.eventsAsync = append(c.eventsAsync, sub)
	} else {
		c.eventsSync = append(c.eventsSync, sub)
	}
}

// OnLog registers a handler for logs matching (pidPattern, nidPattern).
func (c *Channel) OnLog(pidPattern, nidPattern string, async bool, handler LogHandler) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	sub := logSub{pidPattern: pidPattern, nidPattern: nidPattern, handler: handler}
	if async {
		c.logsAsync = append(c.logsAsync, sub)
	} else {
		c.logsSync = append(c.logsSync, sub)
	}
}

// PublishEvent enqueues an event message. Never blocks.
func (c *Channel) PublishEvent(pid, nid string, payload any) {
	c.events.push(EventMessage{PID: pid, NID: nid, Payload: payload})
}

// PublishLog enqueues a log message, timestamped now. Satisfies
// wfcontext.LogSink. Never blocks.
func (c *Channel) PublishLog(pid, nid, content string) {
	c.logs.push(LogMessage{PID: pid, NID: nid, Content: content, Unix: nowMillis()})
}

// Run starts the dispatch loop on a new goroutine. Call once per
// Channel lifetime (typically from Engine.Launch).
func (c *Channel) Run() {
	go c.loop()
}

func (c *Channel) loop() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.shutdownCh:
			// Shutdown exits without draining pending messages.
			return
		case msg := <-c.events.buf:
			c.deliverEvent(msg)
		case msg := <-c.logs.buf:
			c.deliverLog(msg)
		}
	}
}

func (c *Channel) deliverEvent(msg EventMessage) {
	c.regMu.Lock()
	syncSubs := append([]eventSub(nil), c.eventsSync...)
	asyncSubs := append([]eventSub(nil), c.eventsAsync...)
	c.regMu.Unlock()

	for _, sub := range syncSubs {
		if matches(sub.pidPattern, msg.PID) && matches(sub.nidPattern, msg.NID) {
			sub.handler(msg)
		}
	}

	if len(asyncSubs) == 0 {
		return
	}
	go func() {
		for _, sub := range asyncSubs {
			if matches(sub.pidPattern, msg.PID) && matches(sub.nidPattern, msg.NID) {
				sub.handler(msg)
			}
		}
	}()
}

func (c *Channel) deliverLog(msg LogMessage) {
	c.regMu.Lock()
	syncSubs := append([]logSub(nil), c.logsSync...)
	asyncSubs := append([]logSub(nil), c.logsAsync...)
	c.regMu.Unlock()

	for _, sub := range syncSubs {
		if matches(sub.pidPattern, msg.PID) && matches(sub.nidPattern, msg.NID) {
			sub.handler(msg)
		}
	}

	if len(asyncSubs) == 0 {
		return
	}
	go func() {
		for _, sub := range asyncSubs {
			if matches(sub.pidPattern, msg.PID) && matches(sub.nidPattern, msg.NID) {
				sub.handler(msg)
			}
		}
	}()
}

// Shutdown asserts the channel's shutdown signal, stopping the dispatch
// loop. Idempotent.
func (c *Channel) Shutdown() {
	c.shutdownOnce.Do(func() {
		close(c.shutdownCh)
	})
}

// WaitStopped blocks until the dispatch loop has exited.
func (c *Channel) WaitStopped() {
	<-c.loopDone
}
