// Package bunstore implements store.Store against Postgres using
// github.com/uptrace/bun, github.com/uptrace/bun/dialect/pgdialect and
// github.com/uptrace/bun/driver/pgdriver: sql.OpenDB with
// pgdriver.NewConnector, bun.NewDB(pgdialect.New()), and
// NewCreateTable().IfNotExists(). Rather than one table per domain
// type, it keeps a single "items" table keyed by (collection, id),
// since store.Item is already collection-tagged.
package bunstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/mbflow/wfengine/internal/store"
)

// itemRow is the bun model backing the "items" table. Data is stored
// as jsonb; bun marshals/unmarshals map[string]any automatically.
type itemRow struct {
	bun.BaseModel `bun:"table:items,alias:i"`

	ID         string         `bun:"id,pk"`
	Collection string         `bun:"collection,pk"`
	WID        string         `bun:"wid"`
	PID        string         `bun:"pid"`
	NID        string         `bun:"nid"`
	Kind       string         `bun:"kind"`
	Data       map[string]any `bun:"data,type:jsonb"`
	CreatedAt  time.Time      `bun:"created_at"`
}

func (r *itemRow) toItem() store.Item {
	return store.Item{
		ID:         r.ID,
		Collection: r.Collection,
		WID:        r.WID,
		PID:        r.PID,
		NID:        r.NID,
		Kind:       r.Kind,
		Data:       r.Data,
		CreatedAt:  r.CreatedAt,
	}
}

func fromItem(item store.Item) *itemRow {
	return &itemRow{
		ID:         item.ID,
		Collection: item.Collection,
		WID:        item.WID,
		PID:        item.PID,
		NID:        item.NID,
		Kind:       item.Kind,
		Data:       item.Data,
		CreatedAt:  item.CreatedAt,
	}
}

// Store is a Postgres-backed store.Store.
type Store struct {
	db *bun.DB
}

// New opens a connection pool against dsn (a "postgres://..." URL) and
// wraps it as a bun.DB with the pgdialect dialect.
func New(dsn string) *Store {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return &Store{db: bun.NewDB(sqldb, pgdialect.New())}
}

// NewFromDB wraps an already-open *bun.DB, for callers that want to
// share a connection pool or attach bun query hooks themselves.
func NewFromDB(db *bun.DB) *Store {
	return &Store{db: db}
}

// InitSchema creates the "items" table if it does not already exist.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().Model((*itemRow)(nil)).IfNotExists().Exec(ctx)
	return err
}

// Exists reports whether id is present in collection.
func (s *Store) Exists(ctx context.Context, collection, id string) (bool, error) {
	return s.db.NewSelect().Model((*itemRow)(nil)).
		Where("collection = ?", collection).Where("id = ?", id).Exists(ctx)
}

// Find returns one item by id.
func (s *Store) Find(ctx context.Context, collection, id string) (store.Item, error) {
	row := new(itemRow)
	err := s.db.NewSelect().Model(row).
		Where("collection = ?", collection).Where("id = ?", id).Scan(ctx)
	if err == sql.ErrNoRows {
		return store.Item{}, store.ErrNotFound
	}
	if err != nil {
		return store.Item{}, err
	}
	return row.toItem(), nil
}

// Query fetches every item in collection, applies pred in process
// (bun has no portable way to push an arbitrary Go predicate into
// SQL), and returns one page. Paging volume here is operational, not
// hot-path, and does not require transactions.
func (s *Store) Query(ctx context.Context, collection string, pred store.Predicate, offset, limit int) (store.Page, error) {
	var rows []itemRow
	if err := s.db.NewSelect().Model(&rows).
		Where("collection = ?", collection).Order("created_at ASC").Scan(ctx); err != nil {
		return store.Page{}, err
	}

	var matched []store.Item
	for i := range rows {
		item := rows[i].toItem()
		if pred == nil || pred(item) {
			matched = append(matched, item)
		}
	}

	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return store.Page{
		Items:      matched[offset:end],
		NextOffset: end,
		HasMore:    end < len(matched),
	}, nil
}

// Create inserts item, upserting on (collection, id) conflict.
func (s *Store) Create(ctx context.Context, collection string, item store.Item) error {
	item.Collection = collection
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	_, err := s.db.NewInsert().Model(fromItem(item)).
		On("CONFLICT (collection, id) DO UPDATE").Exec(ctx)
	return err
}

// Update overwrites an existing item.
func (s *Store) Update(ctx context.Context, collection string, item store.Item) error {
	item.Collection = collection
	res, err := s.db.NewUpdate().Model(fromItem(item)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Delete removes an item by id.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.NewDelete().Model((*itemRow)(nil)).
		Where("collection = ?", collection).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
