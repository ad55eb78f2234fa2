package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunnerPassesStdin(t *testing.T) {
	if !Available("cat") {
		t.Skip("cat not available")
	}

	r := NewExecRunner("", time.Second)
	out, err := r.Run(context.Background(), "cat", nil, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestExecRunnerTimeout(t *testing.T) {
	if !Available("sleep") {
		t.Skip("sleep not available")
	}

	r := NewExecRunner("", 50*time.Millisecond)
	_, err := r.Run(context.Background(), "sleep", []string{"5"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestExecRunnerMissingProgram(t *testing.T) {
	r := NewExecRunner(":99", time.Second)
	_, err := r.Run(context.Background(), "definitely-not-a-real-binary-xyz", nil, nil)
	assert.Error(t, err)
}
