// SPDX-License-Identifier: MIT

package rtmp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeConnectCommand(t *testing.T) {
	payload, err := EncodeAMF("connect", float64(1), map[string]any{
		"app":            "live",
		"tcUrl":          "rtmp://localhost:1935/live",
		"flashVer":       "FMLE/3.0",
		"objectEncoding": float64(0),
	})
	require.NoError(t, err)

	values, err := DecodeAMF(payload)
	require.NoError(t, err)
	require.Len(t, values, 3)

	assert.Equal(t, "connect", values[0])
	assert.Equal(t, float64(1), values[1])

	obj, ok := values[2].(map[string]any)
	require.True(t, ok, "third value must decode as object")
	assert.Equal(t, "live", obj["app"])
	assert.Equal(t, "rtmp://localhost:1935/live", obj["tcUrl"])
	assert.Equal(t, float64(0), obj["objectEncoding"])
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  any
	}{
		{name: "number", value: float64(42.5), want: float64(42.5)},
		{name: "negative number", value: float64(-1), want: float64(-1)},
		{name: "int widens to number", value: 7, want: float64(7)},
		{name: "bool true", value: true, want: true},
		{name: "bool false", value: false, want: false},
		{name: "string", value: "hello", want: "hello"},
		{name: "empty string", value: "", want: ""},
		{name: "null", value: nil, want: nil},
		{
			name:  "strict array",
			value: []any{float64(1), "two", nil},
			want:  []any{float64(1), "two", nil},
		},
		{
			name:  "nested object",
			value: map[string]any{"outer": map[string]any{"inner": float64(3)}},
			want:  map[string]any{"outer": map[string]any{"inner": float64(3)}},
		},
		{
			name:  "ecma array",
			value: ECMAArray{"duration": float64(0), "encoder": "obs"},
			want:  ECMAArray{"duration": float64(0), "encoder": "obs"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := EncodeAMF(tt.value)
			require.NoError(t, err)

			values, err := DecodeAMF(payload)
			require.NoError(t, err)
			require.Len(t, values, 1)
			assert.Equal(t, tt.want, values[0])
		})
	}
}

func TestLongStringRoundTrip(t *testing.T) {
	long := strings.Repeat("x", 70_000)
	payload, err := EncodeAMF(long)
	require.NoError(t, err)
	assert.Equal(t, byte(amf0LongString), payload[0])

	values, err := DecodeAMF(payload)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, long, values[0])
}

func TestDecodeUndefinedAsNil(t *testing.T) {
	values, err := DecodeAMF([]byte{amf0Undefined})
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Nil(t, values[0])
}

func TestDecodeRejectsUnsupportedMarker(t *testing.T) {
	_, err := DecodeAMF([]byte{0x07, 0x00, 0x01}) // reference type
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported marker")
}

func TestDecodeRejectsTruncatedString(t *testing.T) {
	payload, err := EncodeAMF("stream-key")
	require.NoError(t, err)

	_, err = DecodeAMF(payload[:len(payload)-3])
	require.Error(t, err)
}

func TestEncodeRejectsUnsupportedType(t *testing.T) {
	_, err := EncodeAMF(struct{ X int }{X: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}

func TestMetadataKeepsECMAArrayMarker(t *testing.T) {
	payload, err := EncodeAMF("onMetaData", ECMAArray{
		"width":     float64(1920),
		"height":    float64(1080),
		"framerate": float64(60),
	})
	require.NoError(t, err)

	values, err := DecodeAMF(payload)
	require.NoError(t, err)
	require.Len(t, values, 2)

	meta, ok := values[1].(ECMAArray)
	require.True(t, ok, "metadata must stay an ECMA array through a round trip")
	assert.Equal(t, float64(1920), meta["width"])

	again, err := EncodeAMF(values...)
	require.NoError(t, err)
	assert.Equal(t, payload, again)
}
