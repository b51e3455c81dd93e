// Package content buffers page content collected during a run, keyed by task id.
package content

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMaxTasks = 64

// Item is one piece of collected content
type Item struct {
	Source    string    `json:"source"` // url or selector it was taken from
	Content   string    `json:"content"`
	Collected time.Time `json:"collected"`
}

// Owner identifies the claim a session holds on a task's bucket
type Owner uint64

type bucket struct {
	owner Owner
	items []Item
}

// Buffer holds collected items per task. The least recently used task is
// evicted once MaxTasks distinct tasks are buffered. Each bucket belongs to
// the owner that last claimed the task, so a replaced session can neither
// write into nor release its successor's content.
type Buffer struct {
	mu       sync.Mutex
	tasks    *lru.Cache[string, *bucket]
	maxItems int
	next     Owner
}

// NewBuffer creates a buffer for up to maxTasks tasks holding up to maxItems items each.
// Non-positive values fall back to defaults.
func NewBuffer(maxTasks, maxItems int) *Buffer {
	if maxTasks <= 0 {
		maxTasks = defaultMaxTasks
	}
	// lru.New only errors on non-positive size which we guard above.
	cache, _ := lru.New[string, *bucket](maxTasks)
	return &Buffer{tasks: cache, maxItems: maxItems}
}

// Claim starts an empty bucket for the task and returns its new owner.
// Items added under an earlier owner of the same task are dropped.
func (b *Buffer) Claim(taskID string) Owner {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	b.tasks.Add(taskID, &bucket{owner: b.next})
	return b.next
}

// Add appends an item to the task's bucket, dropping the oldest item past the
// per-task limit. It reports false when owner no longer holds the task, either
// because it was claimed again or because it was released or evicted.
func (b *Buffer) Add(taskID string, owner Owner, source, content string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	bk, ok := b.tasks.Get(taskID)
	if !ok || bk.owner != owner {
		return false
	}

	bk.items = append(bk.items, Item{Source: source, Content: content, Collected: time.Now()})
	if b.maxItems > 0 && len(bk.items) > b.maxItems {
		bk.items = bk.items[len(bk.items)-b.maxItems:]
	}
	return true
}

// Items returns a copy of the task's buffered items
func (b *Buffer) Items(taskID string) []Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	bk, ok := b.tasks.Peek(taskID)
	if !ok || len(bk.items) == 0 {
		return nil
	}
	return append([]Item(nil), bk.items...)
}

// Release drops the task's content if owner still holds it
func (b *Buffer) Release(taskID string, owner Owner) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bk, ok := b.tasks.Peek(taskID); ok && bk.owner == owner {
		b.tasks.Remove(taskID)
	}
}

// Tasks reports how many tasks currently hold content
func (b *Buffer) Tasks() int {
	return b.tasks.Len()
}
