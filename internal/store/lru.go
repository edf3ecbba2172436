package store

import (
	"container/list"

	"github.com/okaneo/gridview/internal/fingerprint"
)

// victim is a cache entry selected for eviction.
type victim struct {
	key  fingerprint.Key
	size int64
}

// lruList tracks cache entries in least-recently-used order. It is not
// safe for concurrent use; the Store's mutex guards it.
type lruList struct {
	list  *list.List
	items map[fingerprint.Key]*list.Element
}

type lruEntry struct {
	key  fingerprint.Key
	size int64
}

func newLRUList() *lruList {
	return &lruList{
		list:  list.New(),
		items: make(map[fingerprint.Key]*list.Element),
	}
}

// add records key as most recently used and returns the change in total size.
func (l *lruList) add(key fingerprint.Key, size int64) int64 {
	if elem, ok := l.items[key]; ok {
		l.list.MoveToFront(elem)
		ent := elem.Value.(*lruEntry)
		diff := size - ent.size
		ent.size = size
		return diff
	}
	l.items[key] = l.list.PushFront(&lruEntry{key: key, size: size})
	return size
}

// touch marks key as most recently used.
func (l *lruList) touch(key fingerprint.Key) {
	if elem, ok := l.items[key]; ok {
		l.list.MoveToFront(elem)
	}
}

// size returns the recorded byte size of key, if present.
func (l *lruList) size(key fingerprint.Key) (int64, bool) {
	elem, ok := l.items[key]
	if !ok {
		return 0, false
	}
	return elem.Value.(*lruEntry).size, true
}

func (l *lruList) remove(key fingerprint.Key) {
	if elem, ok := l.items[key]; ok {
		l.list.Remove(elem)
		delete(l.items, key)
	}
}

func (l *lruList) len() int { return l.list.Len() }

func (l *lruList) keys() []fingerprint.Key {
	out := make([]fingerprint.Key, 0, len(l.items))
	for elem := l.list.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(*lruEntry).key)
	}
	return out
}

// victims selects least-recently-used entries to bring current down to
// target, walking from the cold end and skipping entries the caller must
// not evict (pinned or in-flight).
func (l *lruList) victims(current, target int64, skip func(fingerprint.Key) bool) []victim {
	var out []victim
	size := current
	for elem := l.list.Back(); size > target && elem != nil; elem = elem.Prev() {
		ent := elem.Value.(*lruEntry)
		if skip != nil && skip(ent.key) {
			continue
		}
		out = append(out, victim{key: ent.key, size: ent.size})
		size -= ent.size
	}
	return out
}
