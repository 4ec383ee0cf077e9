package netclient

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type item struct {
	ID string `json:"id"`
}

func TestDecodeListBareArray(t *testing.T) {
	got, err := DecodeList[item](json.RawMessage(`[{"id":"a"},{"id":"b"}]`))
	require.NoError(t, err)
	require.Equal(t, []item{{ID: "a"}, {ID: "b"}}, got)

	got, err = DecodeList[item](json.RawMessage(`  [ ]`))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDecodeListDataWrapper(t *testing.T) {
	got, err := DecodeList[item](json.RawMessage(`{"data":[{"id":"x"}],"page":1}`))
	require.NoError(t, err)
	require.Equal(t, []item{{ID: "x"}}, got)
}

func TestDecodeListSchemaErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		raw      string
		typ      string
		keyCount int
	}{
		{"object without data", `{"items":[],"page":1}`, "object", 2},
		{"data is not an array", `{"data":{"a":1}}`, "object", 1},
		{"string payload", `"oops"`, "string", 0},
		{"number payload", `42`, "number", 0},
		{"boolean payload", `true`, "boolean", 0},
		{"null payload", `null`, "null", 0},
		{"empty payload", ``, "empty", 0},
		{"keys capped at eight", `{"a":1,"b":2,"c":3,"d":4,"e":5,"f":6,"g":7,"h":8,"i":9,"j":10}`, "object", 8},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeList[item](json.RawMessage(tc.raw))
			var se *SchemaError
			require.ErrorAs(t, err, &se)
			require.Equal(t, tc.typ, se.PayloadType)
			require.Len(t, se.PayloadKeys, tc.keyCount)
		})
	}
}

func TestDecodeListMalformedElements(t *testing.T) {
	// A list whose elements do not match T is a decode error, not a
	// schema mismatch: the outer shape was fine.
	_, err := DecodeList[item](json.RawMessage(`[{"id":5}]`))
	require.Error(t, err)
	var se *SchemaError
	require.False(t, errors.As(err, &se))
}
