// Package store defines the persistence collaborator: the narrow
// collection interface the core engine persists through. The core
// never depends on a concrete database; Engine only ever talks to this
// interface, so embedders can swap store/memorystore.Store (tests, local
// development) for store/bunstore.Store (Postgres) without touching
// the Dispatcher, Channel, or Context.
//
// Collections are named "workflows", "procs", "nodes", "events",
// "logs". The high-volume "events" and "logs" collections are written
// through a Batcher (batcher.go) rather than directly: writes accept
// into a local channel drained by a background goroutine that flushes
// at 1,000 items or every few seconds, whichever comes first.
package store

import (
	"context"
	"time"
)

// Collection names.
const (
	CollectionWorkflows = "workflows"
	CollectionProcs     = "procs"
	CollectionNodes     = "nodes"
	CollectionEvents    = "events"
	CollectionLogs      = "logs"
)

// Item is one persisted record. Not every field is meaningful for
// every collection: PID/NID are empty for a "workflows" item, for
// instance. Data carries the collection-specific payload (the engine
// never needs to know its shape beyond JSON-marshalling it).
type Item struct {
	ID         string
	Collection string
	WID        string // workflow definition id
	PID        string // process id
	NID        string // node id, where applicable
	Kind       string // event/log kind discriminator
	Data       map[string]any
	CreatedAt  time.Time
}

// Predicate filters Query results. Implementations are free to push
// simple predicates (equality on PID/NID/Kind) down to the backing
// store; memorystore.Store and bunstore.Store both just apply Predicate
// in-process since "the core does not require transactions" and query
// volume here is operational, not hot-path.
type Predicate func(Item) bool

// Page is one page of Query results.
type Page struct {
	Items      []Item
	NextOffset int
	HasMore    bool
}

// Store is the collection interface every persistence collaborator
// implements.
type Store interface {
	Exists(ctx context.Context, collection, id string) (bool, error)
	Find(ctx context.Context, collection, id string) (Item, error)
	Query(ctx context.Context, collection string, pred Predicate, offset, limit int) (Page, error)
	Create(ctx context.Context, collection string, item Item) error
	Update(ctx context.Context, collection string, item Item) error
	Delete(ctx context.Context, collection, id string) error
}

// ErrNotFound is returned by Find/Update/Delete for a missing id.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "store: item not found" }
