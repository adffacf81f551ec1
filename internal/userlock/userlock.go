// Package userlock serializes mutations to a single user's subscription
// row within one process. Different users never contend; the arena keeps
// one mutex per user id instead of a global lock. Cross-process safety
// still comes from the row-level transaction around each mutation.
package userlock

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

type Arena struct {
	mu    sync.Mutex
	locks map[snowflake.ID]*sync.Mutex
}

func NewArena() *Arena {
	return &Arena{locks: make(map[snowflake.ID]*sync.Mutex)}
}

// Lock acquires the per-user mutex and returns its release func.
func (a *Arena) Lock(userID snowflake.ID) func() {
	a.mu.Lock()
	lock, ok := a.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[userID] = lock
	}
	a.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

var Module = fx.Module("userlock",
	fx.Provide(NewArena),
)
