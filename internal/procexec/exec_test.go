package procexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSuccess(t *testing.T) {
	res, err := Run(context.Background(), []string{"/bin/echo", "hello", "world"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	require.NotEmpty(t, res.Tail)
	assert.Contains(t, res.Tail[len(res.Tail)-1], "hello world")
}

func TestRunNonZeroExit(t *testing.T) {
	_, err := Run(context.Background(), []string{"/bin/sh", "-c", "exit 7"}, Options{})
	require.Error(t, err)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 7, exitErr.ExitCode)
}

func TestRunStallTriggersWatchdog(t *testing.T) {
	_, err := Run(context.Background(), []string{"/bin/sleep", "2"}, Options{IdleTimeout: 10 * time.Millisecond})
	require.Error(t, err)
}

func TestRunScriptStrictMode(t *testing.T) {
	res, err := RunScript(context.Background(), Options{}, "test-script", "echo inner-output")
	require.NoError(t, err)
	require.NotEmpty(t, res.Tail)
	assert.Contains(t, res.Tail[len(res.Tail)-1], "inner-output")
}

func TestRunScriptFailsUnderStrictMode(t *testing.T) {
	_, err := RunScript(context.Background(), Options{}, "test-script", "false\necho unreachable")
	require.Error(t, err)
}
