package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_UnmarshalEncodings(t *testing.T) {
	t.Parallel()
	cases := map[string]ID{
		`"c1"`:                                    "c1",
		`" c1 "`:                                  "c1",
		`"65A1B2C3D4E5F60718293A4B"`:              "65a1b2c3d4e5f60718293a4b",
		`{"$oid":"65a1b2c3d4e5f60718293a4b"}`:     "65a1b2c3d4e5f60718293a4b",
		`{"oid":"u7"}`:                            "u7",
		`{"_id":"u7","name":"Dana"}`:              "u7",
		`{"_id":{"$oid":"65a1b2c3d4e5f60718293a4b"}}`: "65a1b2c3d4e5f60718293a4b",
		`{"id":42}`:                               "42",
		`42`:                                      "42",
		`null`:                                    "",
		`[1,2]`:                                   "",
	}
	for raw, want := range cases {
		var got ID
		require.NoError(t, json.Unmarshal([]byte(raw), &got), raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestID_EqualAcrossEncodings(t *testing.T) {
	t.Parallel()
	var a, b struct {
		Sender ID `json:"sender"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"sender":"65a1b2c3d4e5f60718293a4b"}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"sender":{"_id":{"$oid":"65A1B2C3D4E5F60718293A4B"}}}`), &b))
	assert.Equal(t, a.Sender, b.Sender)
}

func TestCanonicalID_GenericValues(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ID("7"), CanonicalID(float64(7)))
	assert.Equal(t, ID("x"), CanonicalID(map[string]any{"oid": "x"}))
	assert.Equal(t, ID(""), CanonicalID(nil))
	assert.Equal(t, ID("n1"), CanonicalID(json.RawMessage(`{"id":"n1"}`)))
}
