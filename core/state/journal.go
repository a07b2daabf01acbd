package state

import (
	"errors"
	"sync"

	"crowdsale/storage"
)

type dirtyEntry struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key  string
	prev *dirtyEntry
}

// overlay buffers writes above the database. Every write is journaled so a
// failed call can be unwound to a snapshot before anything reaches disk.
type overlay struct {
	mu      sync.RWMutex
	db      storage.Database
	dirty   map[string]*dirtyEntry
	journal []journalEntry
}

func newOverlay(db storage.Database) *overlay {
	return &overlay{db: db, dirty: make(map[string]*dirtyEntry)}
}

func (o *overlay) get(key []byte) ([]byte, error) {
	o.mu.RLock()
	entry, ok := o.dirty[string(key)]
	o.mu.RUnlock()
	if ok {
		if entry.deleted {
			return nil, nil
		}
		return append([]byte(nil), entry.value...), nil
	}
	value, err := o.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (o *overlay) set(key []byte, entry *dirtyEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := string(key)
	o.journal = append(o.journal, journalEntry{key: k, prev: o.dirty[k]})
	o.dirty[k] = entry
}

func (o *overlay) put(key, value []byte) {
	o.set(key, &dirtyEntry{value: append([]byte(nil), value...)})
}

func (o *overlay) delete(key []byte) {
	o.set(key, &dirtyEntry{deleted: true})
}

func (o *overlay) snapshot() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.journal)
}

func (o *overlay) revert(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id < 0 {
		id = 0
	}
	for i := len(o.journal) - 1; i >= id; i-- {
		entry := o.journal[i]
		if entry.prev == nil {
			delete(o.dirty, entry.key)
		} else {
			o.dirty[entry.key] = entry.prev
		}
	}
	if id < len(o.journal) {
		o.journal = o.journal[:id]
	}
}

func (o *overlay) pending() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.dirty)
}

// commit flushes the dirty set in one batch.
func (o *overlay) commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.dirty) == 0 {
		o.journal = nil
		return nil
	}
	batch := o.db.NewBatch()
	for key, entry := range o.dirty {
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	if err := batch.Write(); err != nil {
		return err
	}
	o.dirty = make(map[string]*dirtyEntry)
	o.journal = nil
	return nil
}

func (o *overlay) discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dirty = make(map[string]*dirtyEntry)
	o.journal = nil
}
