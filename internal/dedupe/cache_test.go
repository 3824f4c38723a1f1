package dedupe

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlreadySeenMarksAndReportsDuplicates(t *testing.T) {
	c := New(10)

	assert.False(t, c.AlreadySeen("fp-1"))
	assert.True(t, c.AlreadySeen("fp-1"))
	assert.True(t, c.Seen("fp-1"))
	assert.False(t, c.Seen("fp-2"))
}

func TestCacheEvictsOldestOnOverflow(t *testing.T) {
	c := New(3)

	c.Remember("a")
	c.Remember("b")
	c.Remember("c")
	assert.Equal(t, 3, c.Len())

	c.Remember("d")
	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("a"))
	assert.True(t, c.Seen("b"))
	assert.True(t, c.Seen("c"))
	assert.True(t, c.Seen("d"))
}

func TestReinsertingExistingKeyDoesNotRefreshPosition(t *testing.T) {
	c := New(3)

	c.Remember("a")
	c.Remember("b")
	c.Remember("c")

	// Re-inserting "a" must not move it to the back: the next eviction
	// should still take "a", not "b".
	c.Remember("a")
	c.Remember("d")

	assert.False(t, c.Seen("a"))
	assert.True(t, c.Seen("b"))
	assert.True(t, c.Seen("c"))
	assert.True(t, c.Seen("d"))
}

func TestCacheDefaultCapacity(t *testing.T) {
	c := New(0)
	assert.Equal(t, DefaultCapacity, c.capacity)
}

func TestCacheNeverExceedsCapacityUnderLoad(t *testing.T) {
	c := New(100)
	for i := 0; i < 1000; i++ {
		c.AlreadySeen(fmt.Sprintf("fp-%d", i))
		assert.LessOrEqual(t, c.Len(), 100)
	}
}
