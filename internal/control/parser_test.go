package control

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidVmStepStarted(t *testing.T) {
	msg, err := ParseVMMessage(`{"type":"step_started","id":42}`)
	require.NoError(t, err)
	assert.Equal(t, NewStepStartedMessage(42), msg)
}

func TestParseValidVmOutput(t *testing.T) {
	msg, err := ParseVMMessage(`{"type":"output","id":1,"stream":"stderr","data":"error!\n"}`)
	require.NoError(t, err)
	assert.Equal(t, NewOutputMessage(1, StreamStderr, "error!\n"), msg)
}

func TestParseValidVmStepCompleted(t *testing.T) {
	msg, err := ParseVMMessage(`{"type":"step_completed","id":42,"exit_code":1}`)
	require.NoError(t, err)
	assert.Equal(t, NewStepCompletedMessage(42, 1), msg)
}

func TestParseMalformedJsonReturnsError(t *testing.T) {
	_, err := ParseVMMessage("not valid json {{{")
	require.Error(t, err)
	assert.IsType(t, &MalformedJsonError{}, err)
}

func TestParseUnknownTypeReturnsError(t *testing.T) {
	_, err := ParseVMMessage(`{"type":"unknown_thing","id":1}`)
	require.Error(t, err)
	assert.IsType(t, &UnknownMessageTypeError{}, err)
}

func TestParseOversizedMessageRejected(t *testing.T) {
	line := strings.Repeat("x", MaxMessageSize+1)
	_, err := ParseVMMessage(line)
	require.Error(t, err)
	assert.IsType(t, &OversizedMessageError{}, err)
}

func TestParseValidHostExec(t *testing.T) {
	msg, err := ParseHostMessage(`{"type":"exec","id":1,"command":"ls -la","cwd":"/tmp"}`)
	require.NoError(t, err)
	assert.Equal(t, NewExecMessage(1, "ls -la", nil, "/tmp"), msg)
}

func TestParseValidHostCancel(t *testing.T) {
	msg, err := ParseHostMessage(`{"type":"cancel","id":1}`)
	require.NoError(t, err)
	assert.Equal(t, NewCancelMessage(1), msg)
}

func TestTruncateForDisplayShortLine(t *testing.T) {
	assert.Equal(t, "hello", truncateForDisplay("hello"))
}

func TestTruncateForDisplayLongLine(t *testing.T) {
	long := strings.Repeat("a", 300)
	result := truncateForDisplay(long)
	assert.Less(t, len(result), 300)
	assert.True(t, strings.HasSuffix(result, "..."))
}
