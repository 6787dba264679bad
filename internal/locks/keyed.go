package locks

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// KeyedMutex serializes writers per organization within one process. Cross
// replica serialization is layered on top with the redis Locker when one is
// configured.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[snowflake.ID]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[snowflake.ID]*entry)}
}

// Lock blocks until the organization's mutex is held and returns the unlock
// function. Entries are reference counted so the map does not grow with
// every org ever written.
func (k *KeyedMutex) Lock(orgID snowflake.ID) func() {
	k.mu.Lock()
	e, ok := k.entries[orgID]
	if !ok {
		e = &entry{}
		k.entries[orgID] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, orgID)
		}
		k.mu.Unlock()
	}
}
