package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type memBackend map[string]string

func (m memBackend) Lookup(ref string) (string, bool, error) {
	v, ok := m[ref]
	return v, ok, nil
}

func TestStore_NoBackend_Unavailable(t *testing.T) {
	s := New(nil)
	assert.False(t, s.IsAvailable())

	_, err := s.GetSecret("openai-key")
	assert.Error(t, err)
}

func TestStore_WithBackend(t *testing.T) {
	s := New(memBackend{"openai-key": "sk-test"})
	assert.True(t, s.IsAvailable())

	v, err := s.GetSecret("openai-key")
	assert.NoError(t, err)
	assert.Equal(t, "sk-test", v)

	_, err = s.GetSecret("missing")
	assert.Error(t, err)
}
