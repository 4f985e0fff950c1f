package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestControlFrames(t *testing.T) {
	t.Parallel()

	sub, err := NewSubscribeFrame("properties:list", map[string]string{"userId": "u1"})
	require.NoError(t, err)
	raw, err := json.Marshal(sub)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"subscribe","queryPath":"properties:list","args":{"userId":"u1"}}`, string(raw))

	raw, err = json.Marshal(NewUnsubscribeFrame("properties:list"))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"unsubscribe","queryPath":"properties:list"}`, string(raw))
}

func TestParsePushFrame(t *testing.T) {
	t.Parallel()

	frame, err := ParsePushFrame([]byte(`{"queryPath":"tenants:list","value":[{"_id":"t1"}]}`))
	require.NoError(t, err)
	require.Equal(t, "tenants:list", frame.QueryPath)
	require.JSONEq(t, `[{"_id":"t1"}]`, string(frame.Value))

	frame, err = ParsePushFrame([]byte(`{"queryPath":"users:current","value":null}`))
	require.NoError(t, err)
	require.Equal(t, "null", string(frame.Value))

	for _, bad := range []string{`{"value":1}`, `{"queryPath":"x"}`, `{"queryPath":3,"value":1}`, `nope`} {
		_, err := ParsePushFrame([]byte(bad))
		require.Error(t, err, bad)
	}
}

func TestMillisJSON(t *testing.T) {
	t.Parallel()

	m := NewMillis(time.UnixMilli(1_650_000_000_000))
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	require.Equal(t, "1650000000000", string(raw))

	raw, err = json.Marshal(Millis{})
	require.NoError(t, err)
	require.Equal(t, "null", string(raw))

	var back Millis
	require.NoError(t, json.Unmarshal([]byte("1650000000000.75"), &back))
	require.Equal(t, int64(1_650_000_000_000), back.UnixMilli())

	require.NoError(t, json.Unmarshal([]byte("null"), &back))
	require.True(t, back.IsZero())

	require.Error(t, json.Unmarshal([]byte(`"2022-04-15T05:20:00Z"`), &back))
}
