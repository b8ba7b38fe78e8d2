package buffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/beacon/agent/internal/clientreport"
	"github.com/obsidianstack/beacon/pkg/types"
)

func errs(n int) []types.Item {
	out := make([]types.Item, n)
	for i := range out {
		out[i] = types.NewError(fmt.Sprintf("e%d", i))
	}
	return out
}

func message(it types.Item) string { return it.(*types.Error).Message }

func TestPush_DropNewestKeepsOldest(t *testing.T) {
	rec := clientreport.New()
	b := New(types.CategoryError, Config{Capacity: 3}, rec, nil)

	items := errs(4)
	for i, it := range items {
		want := Accepted
		if i == 3 {
			want = Dropped
		}
		assert.Equal(t, want, b.Push(it), "push %d", i)
	}

	assert.Equal(t, 3, b.Len())
	assert.EqualValues(t, 1, b.Dropped())
	assert.EqualValues(t, 1, rec.Total(types.ReasonBufferOverflow, types.CategoryError))

	got := b.Drain(10)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"e0", "e1", "e2"}, []string{message(got[0]), message(got[1]), message(got[2])})
}

func TestPush_DropOldestEvicts(t *testing.T) {
	rec := clientreport.New()
	b := New(types.CategoryError, Config{Capacity: 2, Overflow: DropOldest}, rec, nil)

	for _, it := range errs(3) {
		assert.Equal(t, Accepted, b.Push(it))
	}
	assert.Equal(t, 2, b.Len())
	assert.EqualValues(t, 1, rec.Total(types.ReasonBufferOverflow, types.CategoryError))

	got := b.Drain(2)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", message(got[0]))
	assert.Equal(t, "e2", message(got[1]))
}

func TestDrain_FIFOAndBounds(t *testing.T) {
	b := New(types.CategoryError, Config{Capacity: 10}, nil, nil)
	for _, it := range errs(5) {
		b.Push(it)
	}

	assert.Nil(t, b.Drain(0))
	first := b.Drain(2)
	require.Len(t, first, 2)
	assert.Equal(t, "e0", message(first[0]))
	assert.Equal(t, 3, b.Len())

	rest := b.Drain(100)
	require.Len(t, rest, 3)
	assert.Equal(t, "e2", message(rest[0]))
	assert.Empty(t, b.Drain(1))
}

func TestDrain_BatchesLogs(t *testing.T) {
	b := New(types.CategoryLog, Config{Capacity: 100, BatchSize: 4}, nil, nil)
	require.True(t, b.Batching())
	for i := 0; i < 10; i++ {
		b.Push(types.NewLogEvent(types.LevelInfo, fmt.Sprintf("l%d", i)))
	}

	got := b.Drain(2)
	require.Len(t, got, 2)
	first := got[0].(*types.LogBatch)
	second := got[1].(*types.LogBatch)
	assert.Len(t, first.Items, 4)
	assert.Len(t, second.Items, 4)
	assert.Equal(t, "l0", first.Items[0].Body)
	assert.Equal(t, "l4", second.Items[0].Body)
	assert.Equal(t, 2, b.Len())

	last := b.Drain(5)
	require.Len(t, last, 1)
	assert.Len(t, last[0].(*types.LogBatch).Items, 2)
}

func TestPush_Notifies(t *testing.T) {
	notify := make(chan struct{}, 1)
	b := New(types.CategoryError, Config{Capacity: 1}, nil, notify)

	b.Push(types.NewError("a"))
	select {
	case <-notify:
	default:
		t.Fatal("expected notify signal after accepted push")
	}

	// A rejected push leaves nothing new to drain.
	b.Push(types.NewError("b"))
	select {
	case <-notify:
		t.Fatal("unexpected notify after dropped push")
	default:
	}
}

func TestPush_ConcurrentNeverExceedsCapacity(t *testing.T) {
	rec := clientreport.New()
	b := New(types.CategoryError, Config{Capacity: 50}, rec, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, it := range errs(25) {
				b.Push(it)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, b.Len())
	assert.EqualValues(t, 150, rec.Total(types.ReasonBufferOverflow, types.CategoryError))
	assert.EqualValues(t, 150, b.Dropped())
}

func TestNew_PanicsOnBadConfig(t *testing.T) {
	assert.Panics(t, func() { New(types.CategoryError, Config{}, nil, nil) })
	assert.Panics(t, func() { New(types.CategoryError, Config{Capacity: 1, Overflow: "random"}, nil, nil) })
}
