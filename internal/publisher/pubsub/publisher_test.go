package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const project = "catalog-test"

func newFakeClient(t *testing.T, topics ...string) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, project, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	for _, topic := range topics {
		_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{
			Name: "projects/" + project + "/topics/" + topic,
		})
		require.NoError(t, err)
	}
	return srv, client
}

func TestPublisherPublishesJSONWithEventAttribute(t *testing.T) {
	srv, client := newFakeClient(t, "crawl-events")
	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(context.Background(), "crawl-events", map[string]any{
		"event": "crawl_finished",
		"items": 12,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var body map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	assert.Equal(t, "crawl_finished", body["event"])
	assert.InDelta(t, 12, body["items"], 0)
	assert.Equal(t, "crawl_finished", msgs[0].Attributes["event"])
	assert.Equal(t, "application/json", msgs[0].Attributes["content_type"])
}

func TestPublisherReusesTopicPublisher(t *testing.T) {
	_, client := newFakeClient(t, "a")
	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })

	first, err := pub.publisher("a")
	require.NoError(t, err)
	second, err := pub.publisher("a")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestPublisherRejectsAfterClose(t *testing.T) {
	_, client := newFakeClient(t, "a")
	pub := New(client)
	require.NoError(t, pub.Close())

	_, err := pub.Publish(context.Background(), "a", "x")
	require.Error(t, err)
}

func TestPublisherValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "a", "x")
	require.Error(t, err)
	_, err = New(nil).Publish(context.Background(), "", "x")
	require.Error(t, err)
}

func TestAttributes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, map[string]string{"content_type": "application/json"}, attributes("plain"))
	assert.Equal(t, "import_finished", attributes(map[string]any{"event": "import_finished"})["event"])
}
