package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogBufferKeepsMostRecentBytes(t *testing.T) {
	buf := NewLogBuffer(8)

	buf.Write([]byte("abc"))
	assert.Equal(t, "abc", string(buf.Bytes()))
	assert.Equal(t, 3, buf.Len())

	buf.Write([]byte("defgh"))
	assert.Equal(t, "abcdefgh", string(buf.Bytes()))

	buf.Write([]byte("ij"))
	assert.Equal(t, "cdefghij", string(buf.Bytes()))
	assert.Equal(t, 8, buf.Len())

	// reading does not consume
	assert.Equal(t, "cdefghij", string(buf.Bytes()))
}

func TestLogBufferOversizedWrite(t *testing.T) {
	buf := NewLogBuffer(4)

	n, err := buf.Write([]byte("0123456789"))
	assert.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "6789", string(buf.Bytes()))

	buf.Write([]byte("ab"))
	assert.Equal(t, "89ab", string(buf.Bytes()))
}
