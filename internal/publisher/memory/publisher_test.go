package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

func TestPublisherRecords(t *testing.T) {
	t.Parallel()

	pub := New()
	id, err := pub.Publish(context.Background(), monitor.TopicPageChanged, monitor.ChangeEvent{Company: "Acme"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	id, err = pub.Publish(context.Background(), monitor.TopicPageChanged, monitor.ChangeEvent{Company: "Globex"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "Globex", msgs[1].Payload.(monitor.ChangeEvent).Company)

	msgs[0].Event = "mutated"
	require.Equal(t, monitor.TopicPageChanged, pub.Messages()[0].Event)
}
