package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// MemoryBackend keeps documents in process. Records are held as encoded BSON
// so callers never share mutable state with the store.
type MemoryBackend struct {
	mu        sync.Mutex
	data      map[string]map[string][]byte
	listeners map[string]map[*memoryListener]struct{}
	closed    bool
}

type memoryListener struct {
	filter Filter
	sub    *subscription
}

// NewMemoryBackend returns an empty in-process store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:      make(map[string]map[string][]byte),
		listeners: make(map[string]map[*memoryListener]struct{}),
	}
}

func (m *MemoryBackend) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}

	stored := cloneDoc(doc)
	id, _ := stored["_id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	coll := m.collection(collection)
	if _, exists := coll[id]; exists {
		return "", ErrAlreadyExists
	}
	stored["_id"] = id
	if err := m.store(coll, id, stored); err != nil {
		return "", err
	}
	m.notify(collection, nil, stored)
	return id, nil
}

func (m *MemoryBackend) Update(ctx context.Context, collection, id string, fields Fields, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	coll := m.collection(collection)
	before, err := m.load(coll, id)
	if err != nil {
		return err
	}
	after := applyFields(before, id, fields, merge)
	if err := m.store(coll, id, after); err != nil {
		return err
	}
	m.notify(collection, before, after)
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	coll := m.collection(collection)
	before, err := m.load(coll, id)
	if err != nil {
		return err
	}
	delete(coll, id)
	m.notify(collection, before, nil)
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, collection, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	doc, err := m.load(m.collection(collection), id)
	if err != nil {
		return nil, err
	}
	delete(doc, revField)
	return doc, nil
}

func (m *MemoryBackend) Find(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.findLocked(collection, filter)
}

func (m *MemoryBackend) Watch(ctx context.Context, collection string, filter Filter, onChange func([]Document)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	// A failed first read must not leave a listener registered.
	snapshot, err := m.findLocked(collection, filter)
	if err != nil {
		return nil, err
	}

	l := &memoryListener{filter: filter}
	l.sub = newSubscription(ctx, onChange, func() {
		m.mu.Lock()
		delete(m.listeners[collection], l)
		m.mu.Unlock()
	})
	if m.listeners[collection] == nil {
		m.listeners[collection] = make(map[*memoryListener]struct{})
	}
	m.listeners[collection][l] = struct{}{}
	l.sub.push(snapshot)
	return l.sub, nil
}

// Atomic runs fn outside the lock and commits only if the record's revision
// is unchanged.
func (m *MemoryBackend) Atomic(ctx context.Context, collection, id string, fn MutateFunc) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	current, err := m.load(m.collection(collection), id)
	m.mu.Unlock()
	if err != nil && err != ErrNotFound {
		return err
	}

	var rev interface{}
	var view Document
	if current != nil {
		rev = current[revField]
		view = cloneDoc(current)
		delete(view, revField)
	}
	fields, err := fn(view)
	if err != nil {
		return err
	}
	if fields == nil {
		return nil
	}
	if current == nil {
		return ErrNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	coll := m.collection(collection)
	latest, err := m.load(coll, id)
	if err != nil {
		return ErrConflict
	}
	if latest[revField] != rev {
		return ErrConflict
	}
	after := applyFields(latest, id, fields, true)
	if err := m.store(coll, id, after); err != nil {
		return err
	}
	m.notify(collection, latest, after)
	return nil
}

// Close ends every live subscription.
func (m *MemoryBackend) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	var subs []*subscription
	for _, ls := range m.listeners {
		for l := range ls {
			subs = append(subs, l.sub)
		}
	}
	m.listeners = make(map[string]map[*memoryListener]struct{})
	m.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}

func (m *MemoryBackend) collection(name string) map[string][]byte {
	coll, ok := m.data[name]
	if !ok {
		coll = make(map[string][]byte)
		m.data[name] = coll
	}
	return coll
}

func (m *MemoryBackend) load(coll map[string][]byte, id string) (Document, error) {
	raw, ok := coll[id]
	if !ok {
		return nil, ErrNotFound
	}
	var doc Document
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("corrupt record %s: %w", id, err)
	}
	return doc, nil
}

func (m *MemoryBackend) store(coll map[string][]byte, id string, doc Document) error {
	doc[revField] = uuid.NewString()
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", id, err)
	}
	coll[id] = raw
	return nil
}

func (m *MemoryBackend) findLocked(collection string, filter Filter) ([]Document, error) {
	coll := m.collection(collection)
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, err := m.load(coll, id)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(doc) {
			continue
		}
		delete(doc, revField)
		out = append(out, doc)
	}
	return out, nil
}

// notify must be called with m.mu held so snapshots are queued in commit order.
func (m *MemoryBackend) notify(collection string, before, after Document) {
	for l := range m.listeners[collection] {
		if !l.filter.Matches(before) && !l.filter.Matches(after) {
			continue
		}
		snapshot, err := m.findLocked(collection, l.filter)
		if err != nil {
			go l.sub.fail(err)
			continue
		}
		l.sub.push(snapshot)
	}
}

func applyFields(base Document, id string, fields Fields, merge bool) Document {
	out := Document{}
	if merge {
		for k, v := range base {
			out[k] = v
		}
	}
	for k, v := range fields {
		if k == "_id" || k == revField {
			continue
		}
		out[k] = v
	}
	out["_id"] = id
	return out
}

func cloneDoc(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
