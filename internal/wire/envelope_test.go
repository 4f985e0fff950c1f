package wire

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// successEnvelope wraps an encoded value the way the backend does.
func successEnvelope(t *testing.T, value any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"status": "success", "value": value})
	require.NoError(t, err)
	return raw
}

func TestEncodeRequest(t *testing.T) {
	t.Parallel()

	body, err := EncodeRequest("properties:list", map[string]any{"userId": "u1"})
	require.NoError(t, err)
	require.JSONEq(t, `{"path":"properties:list","args":{"userId":"u1"},"format":"json"}`, string(body))

	body, err = EncodeRequest("users:current", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"path":"users:current","args":{},"format":"json"}`, string(body))
}

func TestEncodeRequestRejectsNonObjectArgs(t *testing.T) {
	t.Parallel()

	for _, args := range []any{[]string{"a"}, "x", 42, func() {}} {
		_, err := EncodeRequest("p:q", args)
		var encErr *EncodingError
		require.ErrorAs(t, err, &encErr)
	}

	_, err := EncodeRequest("  ", nil)
	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	type args struct {
		UserID string `json:"userId"`
		Since  Millis `json:"since"`
	}
	since := MillisFromInt(1_700_000_000_123)
	body, err := EncodeRequest("tenants:list", args{UserID: "u1", Since: since})
	require.NoError(t, err)

	var req struct {
		Args args `json:"args"`
	}
	require.NoError(t, json.Unmarshal(body, &req))
	require.Equal(t, since.UnixMilli(), req.Args.Since.UnixMilli())

	n, err := Decode[int](successEnvelope(t, 42))
	require.NoError(t, err)
	require.Equal(t, 42, n)

	s, err := Decode[string](successEnvelope(t, "hello"))
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	m, err := Decode[map[string]any](successEnvelope(t, map[string]any{"a": "b", "n": 1.5}))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": "b", "n": 1.5}, m)

	ts, err := Decode[time.Time](successEnvelope(t, int64(1_700_000_000_123)))
	require.NoError(t, err)
	require.Equal(t, int64(1_700_000_000_123), ts.UnixMilli())

	type withDate struct {
		CreatedAt Millis `json:"createdAt"`
	}
	wd, err := Decode[withDate](successEnvelope(t, map[string]any{"createdAt": 1_700_000_000_123.0}))
	require.NoError(t, err)
	require.Equal(t, int64(1_700_000_000_123), wd.CreatedAt.UnixMilli())
}

func TestDecodeRejectsISODates(t *testing.T) {
	t.Parallel()

	_, err := Decode[time.Time](successEnvelope(t, "2024-01-01T00:00:00Z"))
	var decErr *DecodingError
	require.ErrorAs(t, err, &decErr)
}

func TestDecodeErrorMessagePriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "error.message",
			body: `{"status":"error","error":{"message":"from error.message","data":"ignored"},"message":"ignored"}`,
			want: "from error.message",
		},
		{
			name: "top-level message",
			body: `{"status":"error","message":"from message","error":{"data":"ignored"}}`,
			want: "from message",
		},
		{
			name: "error as string",
			body: `{"status":"Error","error":"from error string"}`,
			want: "from error string",
		},
		{
			name: "error.data string",
			body: `{"status":"ERROR","error":{"data":"from error.data"}}`,
			want: "from error.data",
		},
		{
			name: "error.data object",
			body: `{"status":"error","error":{"data":{"code":"E1"}}}`,
			want: `{"code":"E1"}`,
		},
		{
			name: "nothing",
			body: `{"status":"error"}`,
			want: unknownServerErrorMessage,
		},
		{
			name: "wrong types everywhere",
			body: `{"status":"error","error":42,"message":false}`,
			want: unknownServerErrorMessage,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.NotPanics(t, func() {
				_, err := Decode[map[string]any]([]byte(tt.body))
				var serverErr *ServerError
				require.ErrorAs(t, err, &serverErr)
				require.Equal(t, tt.want, serverErr.Message)
			})
		})
	}
}

func TestDecodeMissingValue(t *testing.T) {
	t.Parallel()

	_, err := Decode[string]([]byte(`{"status":"success"}`))
	require.ErrorIs(t, err, ErrInvalidResponse)

	_, err = Decode[NoContent]([]byte(`{"status":"success"}`))
	require.NoError(t, err)

	_, err = Decode[NoContent]([]byte(`{"status":"success","value":"id123"}`))
	require.NoError(t, err)
}

func TestDecodeNullValueIsPresent(t *testing.T) {
	t.Parallel()

	type user struct {
		ID string `json:"_id"`
	}
	u, err := Decode[*user]([]byte(`{"status":"success","value":null}`))
	require.NoError(t, err)
	require.Nil(t, u)
}

func TestDecodeWrapsDecodeFailures(t *testing.T) {
	t.Parallel()

	for _, body := range []string{``, `not json`, `[1,2]`, `null`, `{"value":"str"}`} {
		_, err := Decode[int]([]byte(body))
		var decErr *DecodingError
		require.ErrorAs(t, err, &decErr, body)
		require.NotNil(t, errors.Unwrap(err), body)
	}
}

func TestDecodeToleratesOddStatus(t *testing.T) {
	t.Parallel()

	n, err := Decode[int]([]byte(`{"status":7,"value":3,"extra":{"x":1}}`))
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestExtractErrorMessage(t *testing.T) {
	t.Parallel()

	msg, ok := ExtractErrorMessage([]byte(`{"message":"db unavailable"}`))
	require.True(t, ok)
	require.Equal(t, "db unavailable", msg)

	_, ok = ExtractErrorMessage(nil)
	require.False(t, ok)

	_, ok = ExtractErrorMessage([]byte(`{"value":1}`))
	require.False(t, ok)
}

func TestUserMessage(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", UserMessage(nil))
	require.Equal(t, "boom", UserMessage(&ServerError{Message: "boom"}))
	require.Equal(t, "HTTP error 502", UserMessage(&HTTPError{Status: 502}))
	require.Equal(t, notAuthenticatedMessage, UserMessage(ErrNotAuthenticated))
	require.Equal(t, technicalErrorMessage, UserMessage(&DecodingError{Cause: errors.New("x")}))
	require.Equal(t, technicalErrorMessage, UserMessage(ErrInvalidResponse))
}

func TestDecodeRejectsBareTimeFields(t *testing.T) {
	t.Parallel()

	type event struct {
		At time.Time `json:"at"`
	}
	type nested struct {
		Events []event `json:"events"`
	}

	var decErr *DecodingError
	_, err := Decode[*time.Time](successEnvelope(t, 1_700_000_000_000))
	require.ErrorAs(t, err, &decErr)
	require.ErrorContains(t, err, "wire.Millis")

	_, err = Decode[[]time.Time](successEnvelope(t, []any{1_700_000_000_000}))
	require.ErrorAs(t, err, &decErr)
	_, err = Decode[[]time.Time](successEnvelope(t, []any{"2023-11-14T22:13:20Z"}))
	require.ErrorAs(t, err, &decErr)

	_, err = Decode[event](successEnvelope(t, map[string]any{"at": 1_700_000_000_000}))
	require.ErrorAs(t, err, &decErr)
	_, err = Decode[map[string]time.Time](successEnvelope(t, map[string]any{"a": 1}))
	require.ErrorAs(t, err, &decErr)
	_, err = DecodeValue[nested](json.RawMessage(`{"events":[]}`))
	require.ErrorAs(t, err, &decErr)
}

func TestDecodeAcceptsMillisShapes(t *testing.T) {
	t.Parallel()

	type event struct {
		At   Millis            `json:"at"`
		Prev *Millis           `json:"prev"`
		Raw  json.RawMessage   `json:"raw"`
		Any  map[string]any    `json:"any"`
		Tags map[string]Millis `json:"tags"`
		at   time.Time
	}

	got, err := Decode[[]event](successEnvelope(t, []any{map[string]any{
		"at":   1_700_000_000_000,
		"prev": 1_600_000_000_000,
		"tags": map[string]any{"due": 1_800_000_000_000},
	}}))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(1_700_000_000_000), got[0].At.UnixMilli())
	require.Equal(t, int64(1_600_000_000_000), got[0].Prev.UnixMilli())
	require.Equal(t, int64(1_800_000_000_000), got[0].Tags["due"].UnixMilli())
	require.True(t, got[0].at.IsZero())

	top, err := Decode[time.Time](successEnvelope(t, 1_700_000_000_000))
	require.NoError(t, err)
	require.Equal(t, int64(1_700_000_000_000), top.UnixMilli())
}

func TestMillisJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    int64
		zero    bool
		wantErr bool
	}{
		{in: `1700000000123`, want: 1_700_000_000_123},
		{in: `1700000000123.9`, want: 1_700_000_000_123},
		{in: `-1000`, want: -1000},
		{in: `null`, zero: true},
		{in: `"2024-01-01T00:00:00Z"`, wantErr: true},
		{in: `1e19`, wantErr: true},
		{in: `-1e19`, wantErr: true},
		{in: `9223372036854775808`, wantErr: true},
		{in: `true`, wantErr: true},
	}
	for _, tt := range tests {
		var m Millis
		err := json.Unmarshal([]byte(tt.in), &m)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		if tt.zero {
			require.True(t, m.IsZero(), tt.in)
			continue
		}
		require.Equal(t, tt.want, m.UnixMilli(), tt.in)
	}

	raw, err := json.Marshal(MillisFromInt(42))
	require.NoError(t, err)
	require.Equal(t, "42", string(raw))
	raw, err = json.Marshal(Millis{})
	require.NoError(t, err)
	require.Equal(t, "null", string(raw))
}
