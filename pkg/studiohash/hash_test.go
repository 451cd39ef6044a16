package studiohash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStableJSON_KeyOrderInvariant(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2, "c": map[string]interface{}{"z": 1, "y": 2}}
	b := map[string]interface{}{"c": map[string]interface{}{"y": 2, "z": 1}, "a": 2, "b": 1}

	jsonA, err := StableJSON(a)
	require.NoError(t, err)
	jsonB, err := StableJSON(b)
	require.NoError(t, err)

	assert.Equal(t, string(jsonA), string(jsonB))
}

func TestStableJSON_ArrayOrderMatters(t *testing.T) {
	a := map[string]interface{}{"items": []interface{}{1, 2, 3}}
	b := map[string]interface{}{"items": []interface{}{3, 2, 1}}

	jsonA, _ := StableJSON(a)
	jsonB, _ := StableJSON(b)
	assert.NotEqual(t, string(jsonA), string(jsonB))
}

func TestDigest_Deterministic(t *testing.T) {
	d1 := Digest([]byte("hello"))
	d2 := Digest([]byte("hello"))
	assert.Equal(t, d1, d2)
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", d1.String())
}

func TestNewID_HasPrefix(t *testing.T) {
	id := NewID("run")
	assert.Contains(t, id, "run_")
}
