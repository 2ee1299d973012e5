package calllog

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySink_RecentNewestFirst(t *testing.T) {
	sink := NewMemorySink(0)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, sink.Append(ctx, Record{ChannelID: fmt.Sprintf("ch-%d", i), Outcome: OutcomeFinished}))
	}

	recent, err := sink.Recent(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "ch-4", recent[0].ChannelID)
	assert.Equal(t, "ch-3", recent[1].ChannelID)

	recent, err = sink.Recent(ctx, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestMemorySink_Bounded(t *testing.T) {
	sink := NewMemorySink(2)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, sink.Append(ctx, Record{ChannelID: id}))
	}

	records := sink.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[0].ChannelID)
	assert.Equal(t, "c", records[1].ChannelID)
}

func TestMemorySink_ConcurrentAppends(t *testing.T) {
	sink := NewMemorySink(0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = sink.Append(context.Background(), Record{ChannelID: fmt.Sprintf("ch-%d", i)})
		}(i)
	}
	wg.Wait()

	assert.Len(t, sink.Records(), 100)
}
