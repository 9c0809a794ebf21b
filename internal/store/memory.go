package store

import (
	"context"
	"strings"
	"sync"
)

// Memory is the in-process backend used by tests and single-node deployments.
// Watchers receive the newest snapshot for their key; intermediate snapshots
// may be coalesced away, which matches the delivery contract (every event
// carries the full document, so only the latest one matters).
type Memory struct {
	mu       sync.RWMutex
	docs     map[string]map[string]any
	watchers map[string]map[*memoryWatcher]struct{}
}

type memoryWatcher struct {
	ch chan Event
}

func NewMemory() *Memory {
	return &Memory{
		docs:     map[string]map[string]any{},
		watchers: map[string]map[*memoryWatcher]struct{}{},
	}
}

func (m *Memory) Put(_ context.Context, key string, doc map[string]any) error {
	m.mu.Lock()
	m.docs[key] = CloneDoc(doc)
	snapshot := CloneDoc(m.docs[key])
	m.notifyLocked(key, snapshot)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Update(_ context.Context, key string, fields map[string]any) error {
	m.mu.Lock()
	doc, ok := m.docs[key]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	ApplyFields(doc, fields)
	snapshot := CloneDoc(doc)
	m.notifyLocked(key, snapshot)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (map[string]any, error) {
	m.mu.RLock()
	doc, ok := m.docs[key]
	if !ok {
		m.mu.RUnlock()
		return nil, ErrNotFound
	}
	out := CloneDoc(doc)
	m.mu.RUnlock()
	return out, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	if _, ok := m.docs[key]; ok {
		delete(m.docs, key)
		m.notifyLocked(key, nil)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) (map[string]map[string]any, error) {
	m.mu.RLock()
	out := map[string]map[string]any{}
	for key, doc := range m.docs {
		if strings.HasPrefix(key, prefix) {
			out[key] = CloneDoc(doc)
		}
	}
	m.mu.RUnlock()
	return out, nil
}

func (m *Memory) Subscribe(ctx context.Context, key string) (<-chan Event, error) {
	w := &memoryWatcher{ch: make(chan Event, 1)}

	m.mu.Lock()
	if m.watchers[key] == nil {
		m.watchers[key] = map[*memoryWatcher]struct{}{}
	}
	m.watchers[key][w] = struct{}{}
	// Initial snapshot so a late subscriber sees current state immediately.
	w.emit(Event{Key: key, Doc: CloneDoc(m.docs[key])})
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers[key], w)
		if len(m.watchers[key]) == 0 {
			delete(m.watchers, key)
		}
		m.mu.Unlock()
		close(w.ch)
	}()

	return w.ch, nil
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) notifyLocked(key string, snapshot map[string]any) {
	for w := range m.watchers[key] {
		w.emit(Event{Key: key, Doc: snapshot})
	}
}

// emit keeps only the newest snapshot: if the buffer is full the stale
// event is dropped in favour of the incoming one.
func (w *memoryWatcher) emit(ev Event) {
	for {
		select {
		case w.ch <- ev:
			return
		default:
			select {
			case <-w.ch:
			default:
			}
		}
	}
}
