package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/board-archiver/internal/archive"
)

var _ archive.Publisher = (*Publisher)(nil)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New(0)
	id1, err := pub.Publish(context.Background(), "archived", archive.ArchivedEvent{Board: "g", Thread: 1})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "archived", archive.ArchivedEvent{Board: "g", Thread: 2})
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, archive.ArchivedEvent{Board: "g", Thread: 2}, msgs[1].Payload)

	msgs[0].Topic = "modified"
	assert.Equal(t, "archived", pub.Messages()[0].Topic, "Messages returns a copy")
}

func TestPublisherLimit(t *testing.T) {
	t.Parallel()

	pub := New(2)
	for i := 0; i < 5; i++ {
		_, err := pub.Publish(context.Background(), "t", i)
		require.NoError(t, err)
	}
	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, 3, msgs[0].Payload)
	assert.Equal(t, 4, msgs[1].Payload)
}
