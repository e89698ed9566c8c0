package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

func TestQueueHandsItemsToWaitingConsumer(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	got := make(chan crawler.QueueItem, 1)
	go func() {
		item, err := q.Dequeue(context.Background())
		if err == nil {
			got <- item
		}
	}()

	id := uuid.New()
	item := crawler.QueueItem{JobID: id.String(), Request: crawler.CrawlRequest{JobID: id, RootURL: "https://acme.test/"}}
	require.NoError(t, q.Enqueue(context.Background(), item))

	select {
	case received := <-got:
		require.Equal(t, item, received)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return the job")
	}
}

func TestQueueHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueue(1).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), crawler.QueueItem{JobID: "primed"}))
	require.Equal(t, 1, full.Len())
	require.ErrorIs(t, full.Enqueue(ctx, crawler.QueueItem{JobID: "late"}), context.Canceled)
}

func TestQueueCloseDrainsThenReportsClosed(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "pending"}))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "rejected"}), crawler.ErrQueueClosed)

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "pending", item.JobID)

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, crawler.ErrQueueClosed)
}
