package common

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWipeByteArray(t *testing.T) {
	buf := []byte("system prompt")
	WipeByteArray(buf)
	assert.Equal(t, make([]byte, len(buf)), buf)

	assert.NotPanics(t, func() { WipeByteArray(nil) })
}

func TestGenerateRandByteArray(t *testing.T) {
	a := GenerateRandByteArray(24)
	b := GenerateRandByteArray(24)
	require.Len(t, a, 24)
	assert.NotEqual(t, a, b)
}

func TestReadRandom(t *testing.T) {
	t.Run("reads exactly size bytes", func(t *testing.T) {
		src := bytes.NewReader([]byte{1, 2, 3, 4, 5, 6})
		got, err := ReadRandom(src, 4)
		require.NoError(t, err)
		require.Equal(t, []byte{1, 2, 3, 4}, got)
	})

	t.Run("short source fails", func(t *testing.T) {
		_, err := ReadRandom(strings.NewReader("ab"), 4)
		require.Error(t, err)
	})
}
