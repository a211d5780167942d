package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	q := NewRedis(nil, "queue")
	assert.Equal(t, "queue:build", q.Key(JobBuild))
}

func TestEnqueueRejectsUnencodablePayload(t *testing.T) {
	q := NewRedis(nil, "queue")
	_, err := q.Enqueue(context.Background(), JobBuild, make(chan int))
	assert.Error(t, err)
}

func TestEnqueuePushesEnvelope(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedis(client, "queue")
	q.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	id, err := q.Enqueue(context.Background(), JobBuild, map[string]string{"deploymentId": "d1"})
	require.NoError(t, err)

	raw, err := client.RPop(context.Background(), q.Key(JobBuild)).Bytes()
	require.NoError(t, err)

	var job Job
	require.NoError(t, json.Unmarshal(raw, &job))
	assert.Equal(t, id, job.ID)
	assert.Equal(t, JobBuild, job.Name)
	assert.JSONEq(t, `{"deploymentId":"d1"}`, string(job.Payload))
}
