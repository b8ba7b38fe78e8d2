package buffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/beacon/pkg/types"
)

func defaultConfigs() map[types.Category]Config {
	return map[types.Category]Config{
		types.CategoryError:       {Capacity: 10},
		types.CategoryCheckIn:     {Capacity: 10},
		types.CategoryTransaction: {Capacity: 10},
		types.CategoryLog:         {Capacity: 10, BatchSize: 5},
	}
}

func TestSet_RoutesByCategory(t *testing.T) {
	s, err := NewSet(defaultConfigs(), nil)
	require.NoError(t, err)
	require.True(t, s.Empty())

	now := time.Now()
	for _, it := range []types.Item{
		types.NewError("boom"),
		types.NewCheckIn("job", types.CheckInInProgress),
		types.NewTransaction("GET /", now, now),
		types.NewLogEvent(types.LevelInfo, "hello"),
		&types.LogBatch{Items: []*types.LogEvent{
			types.NewLogEvent(types.LevelInfo, "a"),
			types.NewLogEvent(types.LevelInfo, "b"),
		}},
	} {
		out, err := s.Push(it)
		require.NoError(t, err)
		assert.Equal(t, Accepted, out)
	}

	assert.Equal(t, map[types.Category]int{
		types.CategoryError:       1,
		types.CategoryCheckIn:     1,
		types.CategoryTransaction: 1,
		types.CategoryLog:         3,
	}, s.Len())
	assert.False(t, s.Empty())
	assert.Nil(t, s.Get(types.CategoryClientReport))

	select {
	case <-s.Notify():
	default:
		t.Fatal("expected a pending notify signal")
	}
}

func TestSet_PushNil(t *testing.T) {
	s, err := NewSet(defaultConfigs(), nil)
	require.NoError(t, err)
	_, err = s.Push(nil)
	require.Error(t, err)
}

func TestNewSet_Validation(t *testing.T) {
	cfgs := defaultConfigs()
	delete(cfgs, types.CategoryLog)
	_, err := NewSet(cfgs, nil)
	require.Error(t, err)

	cfgs = defaultConfigs()
	cfgs[types.CategoryError] = Config{Capacity: 0}
	_, err = NewSet(cfgs, nil)
	require.Error(t, err)

	cfgs = defaultConfigs()
	cfgs[types.CategoryError] = Config{Capacity: 1, Overflow: "sometimes"}
	_, err = NewSet(cfgs, nil)
	require.Error(t, err)
}
