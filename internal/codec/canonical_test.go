package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalKeyOrderIndependence(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": 1, "y": 2}}
	b := map[string]any{"c": map[string]any{"y": 2, "z": 1}, "a": 2, "b": 1}

	ca, err := Canonical(a)
	require.NoError(t, err)
	cb, err := Canonical(b)
	require.NoError(t, err)

	assert.Equal(t, ca, cb)
	assert.Equal(t, `{"a":2,"b":1,"c":{"y":2,"z":1}}`, string(ca))
}

func TestCanonicalNoWhitespace(t *testing.T) {
	out, err := Canonical(map[string]any{"x": []any{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, `{"x":[1,2,3]}`, string(out))
}

func TestCanonicalRejectsNonFinite(t *testing.T) {
	_, err := Canonical(map[string]any{"x": math.NaN()})
	assert.Error(t, err)

	_, err = Canonical(map[string]any{"x": math.Inf(1)})
	assert.Error(t, err)
}

func TestCanonicalNonASCIIPassthrough(t *testing.T) {
	out, err := Canonical(map[string]any{"name": "日本語"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "日本語")
}

func TestB64URoundTrip(t *testing.T) {
	data := []byte{0, 1, 2, 3, 250, 251, 252, 253, 254, 255}
	encoded := B64U(data)
	assert.NotContains(t, encoded, "=")

	decoded, err := B64UDecode(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestB64UDecodeTogleratesMissingPadding(t *testing.T) {
	decoded, err := B64UDecode("Zm9vYmFy")
	require.NoError(t, err)
	assert.Equal(t, []byte("foobar"), decoded)

	decoded, err = B64UDecode("Zm9v")
	require.NoError(t, err)
	assert.Equal(t, []byte("foo"), decoded)
}
