// ABOUTME: Tests for the seen-set used to suppress duplicate timeline events.
// ABOUTME: Validates lifetime retention, size-cap eviction, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet_Seen_NotMarked(t *testing.T) {
	s := NewSet(100)

	assert.False(t, s.Seen("never-seen-key"))
}

func TestSet_Seen_Marked(t *testing.T) {
	s := NewSet(100)

	s.Mark("my-key")

	assert.True(t, s.Seen("my-key"))
}

func TestSet_CheckAndMark_FirstTime(t *testing.T) {
	s := NewSet(100)

	assert.False(t, s.CheckAndMark("event-1"))
	assert.True(t, s.Seen("event-1"))
}

func TestSet_CheckAndMark_Duplicate(t *testing.T) {
	s := NewSet(100)

	assert.False(t, s.CheckAndMark("event-1"))
	assert.True(t, s.CheckAndMark("event-1"))
	assert.True(t, s.CheckAndMark("event-1"))
}

func TestSet_NoExpiry(t *testing.T) {
	s := NewSet(100)

	// Keys stay marked: a duplicate must be suppressed no matter how much
	// later it arrives, as long as the process lives.
	s.Mark("event-1")
	for i := 0; i < 1000; i++ {
		s.Mark(fmt.Sprintf("filler-%d", i%50))
	}
	assert.True(t, s.Seen("event-1"))
}

func TestSet_EvictsOldestAtCap(t *testing.T) {
	s := NewSet(3)

	s.Mark("a")
	s.Mark("b")
	s.Mark("c")
	s.Mark("d")

	assert.False(t, s.Seen("a"))
	assert.True(t, s.Seen("b"))
	assert.True(t, s.Seen("c"))
	assert.True(t, s.Seen("d"))
	assert.Equal(t, 3, s.Len())
}

func TestSet_MarkExistingDoesNotGrow(t *testing.T) {
	s := NewSet(3)

	s.Mark("a")
	s.Mark("a")
	s.Mark("a")

	assert.Equal(t, 1, s.Len())
}

func TestSet_DefaultLimit(t *testing.T) {
	s := NewSet(0)

	for i := 0; i < 100; i++ {
		s.Mark(fmt.Sprintf("key-%d", i))
	}
	assert.Equal(t, 100, s.Len())
}

func TestSet_ConcurrentAccess(t *testing.T) {
	s := NewSet(1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0

	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if !s.CheckAndMark(fmt.Sprintf("key-%d", i)) {
					mu.Lock()
					firsts++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// Each distinct key must be "new" for exactly one goroutine.
	assert.Equal(t, 100, firsts)
	assert.Equal(t, 100, s.Len())
}
