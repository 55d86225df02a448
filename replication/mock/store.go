package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alpacahq/peersync/models"
	"github.com/alpacahq/peersync/store"
)

// Store is an in-memory stand-in for store.Postgres.
// Committed mutations are reported to the function set with OnChange the way the
// change capture trigger would report them: origin from the row, or the given origin
// for deletes, and nothing for updates that keep version and origin.
type Store struct {
	self string

	mu       sync.Mutex
	records  map[string]models.Record
	onChange func(models.ChangeEvent)
	err      error
	puts     int
}

func NewStore(self string) *Store {
	return &Store{self: self, records: map[string]models.Record{}}
}

// OnChange sets the function receiving the change events of committed mutations.
func (s *Store) OnChange(fn func(models.ChangeEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// FailWith makes every following InTx call return err. nil restores normal behavior.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Puts returns the number of committed PutRecord calls.
func (s *Store) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// Seed stores r as is without producing a change event.
func (s *Store) Seed(r models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = r
}

func (s *Store) Get(_ context.Context, id string) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return models.Record{}, store.ErrNotFound
	}
	return r, nil
}

func (s *Store) List(_ context.Context) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Create(_ context.Context, username, email string) (models.Record, error) {
	now := time.Now()
	r := models.Record{
		ID: uuid.NewString(), Username: username, Email: email,
		Version: 1, Origin: s.self, NeedsSync: true, CreatedAt: now, UpdatedAt: now,
	}
	s.mu.Lock()
	s.records[r.ID] = r
	notify := s.onChange
	s.mu.Unlock()

	s.notify(notify, write{op: models.OpInsert, record: r, origin: s.self})
	return r, nil
}

func (s *Store) Update(_ context.Context, id string, patch models.RecordPatch) (models.Record, error) {
	if patch.Empty() {
		return models.Record{}, store.ErrNoChanges
	}
	s.mu.Lock()
	old, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return models.Record{}, store.ErrNotFound
	}
	r := patch.Apply(old)
	r.Version++
	r.Origin = s.self
	r.NeedsSync = true
	r.UpdatedAt = time.Now()
	s.records[id] = r
	notify := s.onChange
	s.mu.Unlock()

	s.notify(notify, write{op: models.OpUpdate, record: r, old: &old, origin: s.self})
	return r, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.InTx(ctx, func(tx store.Tx) error {
		deleted, err := tx.DeleteRecord(ctx, id, s.self)
		if err != nil {
			return err
		}
		if !deleted {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *Store) GetUnsynced(_ context.Context) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Record
	for _, r := range s.records {
		if r.NeedsSync {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) CountUnsynced(ctx context.Context) (int64, error) {
	out, err := s.GetUnsynced(ctx)
	return int64(len(out)), err
}

func (s *Store) MarkSynced(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	r.NeedsSync = false
	r.LastSyncedAt = &now
	s.records[id] = r
	return nil
}

// Ping fails with the error set by FailWith.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// InTx runs fn holding the store lock. Staged writes are discarded when fn fails.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return s.err
	}
	t := &tx{s: s}
	if err := fn(t); err != nil {
		s.mu.Unlock()
		return err
	}
	for _, w := range t.writes {
		if w.op == models.OpDelete {
			delete(s.records, w.record.ID)
		} else {
			s.records[w.record.ID] = w.record
			s.puts++
		}
	}
	notify := s.onChange
	s.mu.Unlock()

	s.notify(notify, t.writes...)
	return nil
}

func (s *Store) notify(fn func(models.ChangeEvent), writes ...write) {
	if fn == nil {
		return
	}
	for _, w := range writes {
		if ev, ok := w.event(); ok {
			fn(ev)
		}
	}
}

type write struct {
	op     models.Operation
	record models.Record
	old    *models.Record
	origin string
}

func (w write) event() (models.ChangeEvent, bool) {
	if w.op == models.OpUpdate && w.old != nil &&
		w.old.Version == w.record.Version && w.old.Origin == w.record.Origin {
		return models.ChangeEvent{}, false
	}
	return models.NewChangeEvent(w.op, w.record, w.old, w.origin, time.Now()), true
}

type tx struct {
	s      *Store
	writes []write
}

func (t *tx) current(id string) (models.Record, bool) {
	for i := len(t.writes) - 1; i >= 0; i-- {
		if t.writes[i].record.ID == id {
			return t.writes[i].record, t.writes[i].op != models.OpDelete
		}
	}
	r, ok := t.s.records[id]
	return r, ok
}

func (t *tx) LockRecord(_ context.Context, id string) (models.Record, bool, error) {
	r, ok := t.current(id)
	return r, ok, nil
}

func (t *tx) PutRecord(_ context.Context, r models.Record) error {
	old, found := t.current(r.ID)
	w := write{op: models.OpInsert, record: r, origin: r.Origin}
	if found {
		w.op = models.OpUpdate
		w.old = &old
		w.record.NeedsSync = old.NeedsSync
		w.record.LastSyncedAt = old.LastSyncedAt
	}
	t.writes = append(t.writes, w)
	return nil
}

func (t *tx) DeleteRecord(_ context.Context, id, origin string) (bool, error) {
	old, found := t.current(id)
	if !found {
		return false, nil
	}
	t.writes = append(t.writes, write{op: models.OpDelete, record: old, old: &old, origin: origin})
	return true, nil
}
