package redis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishJSONToStream_ReadLatest(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	_, err := PublishJSONToStream(ctx, client, "loadshed:notifications", 0, map[string]string{"level": "warning"})
	require.NoError(t, err)
	_, err = PublishJSONToStream(ctx, client, "loadshed:notifications", 0, map[string]string{"level": "success"})
	require.NoError(t, err)

	msgs, err := ReadLatest(ctx, client, "loadshed:notifications", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &payload))
	assert.Equal(t, "success", payload["level"])
}

func TestStringify(t *testing.T) {
	cases := map[string]interface{}{
		"abc":     "abc",
		"42":      42,
		"7":       int64(7),
		"0.5":     0.5,
		"true":    true,
		`{"a":1}`: map[string]int{"a": 1},
	}
	for want, in := range cases {
		got, err := stringify(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
