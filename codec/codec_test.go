package codec

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvlite/kvlite/kit/errors"
)

func TestEncode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{
			name:  "string",
			value: "hello",
			want:  `"hello"`,
		},
		{
			name:  "number",
			value: 42,
			want:  `42`,
		},
		{
			name:  "bool",
			value: true,
			want:  `true`,
		},
		{
			name:  "object",
			value: map[string]interface{}{"name": "alice"},
			want:  `{"name":"alice"}`,
		},
		{
			name:  "array",
			value: []int{1, 2, 3},
			want:  `[1,2,3]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value)
			require.NoError(t, err)
			require.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestEncodeRejectsNil(t *testing.T) {
	t.Parallel()

	_, err := Encode(nil)
	require.Error(t, err)
	require.Equal(t, errors.EInvalid, errors.ErrorCode(err))
}

func TestEncodeRejectsUnencodable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value interface{}
	}{
		{name: "channel", value: make(chan int)},
		{name: "func", value: func() {}},
		{name: "NaN", value: math.NaN()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.value)
			require.Error(t, err)
			require.Equal(t, errors.EInvalid, errors.ErrorCode(err))
		})
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	raw, err := Encode(map[string]interface{}{"name": "alice", "age": 42})
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, Decode(raw, &got))
	require.Equal(t, map[string]interface{}{
		"name": "alice",
		"age":  json.Number("42"),
	}, got)
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	var out interface{}
	err := Decode([]byte(`{"name":`), &out)
	require.Error(t, err)
	require.Equal(t, errors.EKV, errors.ErrorCode(err))

	// the cause is preserved for diagnosis
	var kerr *errors.Error
	require.ErrorAs(t, err, &kerr)
	require.Error(t, kerr.Err)
}

func TestValid(t *testing.T) {
	t.Parallel()

	require.True(t, Valid([]byte(`{"a":1}`)))
	require.False(t, Valid([]byte(`{"a":`)))
}
