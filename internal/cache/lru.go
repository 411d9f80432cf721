package cache

import (
	"container/list"
	"sync"
)

type entry struct {
	data     []byte
	checksum string
	expires  int64
}

type lruItem struct {
	key string
	entry
}

// lru is a small thread-safe LRU used in front of the database table.
type lru struct {
	mu      sync.Mutex
	maxLen  int
	order   *list.List
	entries map[string]*list.Element
}

func newLRU(maxLen int) *lru {
	return &lru{
		maxLen:  maxLen,
		order:   list.New(),
		entries: make(map[string]*list.Element, maxLen),
	}
}

func (l *lru) get(key string) (entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.entries[key]
	if !ok {
		return entry{}, false
	}
	l.order.MoveToFront(el)
	return el.Value.(*lruItem).entry, true
}

func (l *lru) set(key string, e entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.entries[key]; ok {
		el.Value.(*lruItem).entry = e
		l.order.MoveToFront(el)
		return
	}
	if l.order.Len() >= l.maxLen {
		oldest := l.order.Back()
		if oldest != nil {
			l.order.Remove(oldest)
			delete(l.entries, oldest.Value.(*lruItem).key)
		}
	}
	l.entries[key] = l.order.PushFront(&lruItem{key: key, entry: e})
}

func (l *lru) delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.entries[key]; ok {
		l.order.Remove(el)
		delete(l.entries, key)
	}
}

func (l *lru) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order.Init()
	l.entries = make(map[string]*list.Element, l.maxLen)
}
