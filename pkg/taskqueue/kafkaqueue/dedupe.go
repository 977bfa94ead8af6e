package kafkaqueue

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// payloadDedupe remembers recently seen payload hashes so consumer group
// replays do not run the same task twice.
type payloadDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[uint64, struct{}]
}

func newPayloadDedupe(size int) *payloadDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[uint64, struct{}](size)
	return &payloadDedupe{lru: c}
}

// duplicate reports whether this exact payload was seen recently and
// records it otherwise.
func (d *payloadDedupe) duplicate(payload []byte) bool {
	h := xxhash.Sum64(payload)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.lru.Get(h); ok {
		return true
	}
	d.lru.Add(h, struct{}{})
	return false
}
